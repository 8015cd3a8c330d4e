// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package merge implements the three-way, NodeID-keyed merge engine:
// given base/ours/theirs changesets, it walks the union of every NodeID
// present in any of the three manifests and applies a fixed decision
// table to each, producing either a clean merged changeset or a set of
// first-class conflicts (a merge conflict is a result value, not an
// error).
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

// ConflictInfo describes one NodeID whose state could not be reconciled
// automatically. Path is resolved ours-first-then-theirs. OursPath and
// TheirsPath are populated (and may differ from Path and each other) when
// the two sides renamed the same NodeID divergently; for ordinary content
// conflicts they equal Path.
type ConflictInfo struct {
	NodeID     nodeid.NodeID
	Path       string
	OursPath   string
	TheirsPath string
	BaseOID    oid.OID
	OursOID    oid.OID
	TheirsOID  oid.OID
}

// Result is the outcome of a Merge call: either Conflicts is empty and
// Manifest/ChangesetID are valid (the "Clean" variant), or Conflicts is
// non-empty and neither Manifest nor ChangesetID were written.
type Result struct {
	Conflicts   []ConflictInfo
	Manifest    *object.Manifest
	ChangesetID oid.OID
}

// Clean reports whether the merge produced no conflicts.
func (r *Result) Clean() bool { return len(r.Conflicts) == 0 }

type nodeEntry struct {
	path string
	e    object.Entry
}

func indexByNodeID(m *object.Manifest) map[nodeid.NodeID]nodeEntry {
	out := make(map[nodeid.NodeID]nodeEntry)
	if m == nil {
		return out
	}
	_ = m.ForEach(func(path string, e object.Entry) error {
		out[e.NodeID] = nodeEntry{path: path, e: e}
		return nil
	})
	return out
}

// Merge runs the three-way merge of base, ours and theirs (base may be nil
// for a root merge with no common ancestor, treated as an empty manifest)
// and, if clean, writes the merged manifest and a new changeset with
// parents [ours, theirs] into store.
func Merge(ctx context.Context, store *backend.Database, base, ours, theirs *object.Changeset, message string, author object.Signature) (*Result, error) {
	baseManifest, err := rootOf(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("merge: load base manifest: %w", err)
	}
	oursManifest, err := rootOf(ctx, ours)
	if err != nil {
		return nil, fmt.Errorf("merge: load ours manifest: %w", err)
	}
	theirsManifest, err := rootOf(ctx, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: load theirs manifest: %w", err)
	}

	baseByNode := indexByNodeID(baseManifest)
	oursByNode := indexByNodeID(oursManifest)
	theirsByNode := indexByNodeID(theirsManifest)

	nodes := make(map[nodeid.NodeID]struct{})
	for n := range baseByNode {
		nodes[n] = struct{}{}
	}
	for n := range oursByNode {
		nodes[n] = struct{}{}
	}
	for n := range theirsByNode {
		nodes[n] = struct{}{}
	}

	merged := object.NewManifest()
	changes := make(map[nodeid.NodeID]object.FileChange)
	var conflicts []ConflictInfo

	for n := range nodes {
		b, bOK := baseByNode[n]
		o, oOK := oursByNode[n]
		t, tOK := theirsByNode[n]

		switch {
		case oOK && tOK && o.e.OID == t.e.OID:
			// ours and theirs agree on content. Still a conflict if they
			// disagree on path: a pure rename divergence rather than the
			// "unchanged" case.
			if o.path != t.path {
				conflicts = append(conflicts, ConflictInfo{
					NodeID: n, Path: o.path, OursPath: o.path, TheirsPath: t.path,
					BaseOID: b.e.OID, OursOID: o.e.OID, TheirsOID: t.e.OID,
				})
				continue
			}
			merged.Set(o.path, o.e)
			switch {
			case !bOK:
				changes[n] = object.FileChange{Kind: object.Added, Path: o.path, OID: o.e.OID, Permissions: o.e.Permissions}
			case b.e.OID != o.e.OID:
				changes[n] = object.FileChange{Kind: object.Modified, Path: o.path, OID: o.e.OID, Permissions: o.e.Permissions}
			}
		case bOK && oOK && tOK:
			// both present, content differs between ours and theirs
			baseEqOurs := b.e.OID == o.e.OID
			baseEqTheirs := b.e.OID == t.e.OID
			switch {
			case baseEqOurs && !baseEqTheirs:
				merged.Set(t.path, t.e)
				changes[n] = object.FileChange{Kind: object.Modified, Path: t.path, OID: t.e.OID, Permissions: t.e.Permissions}
			case !baseEqOurs && baseEqTheirs:
				merged.Set(o.path, o.e)
				changes[n] = object.FileChange{Kind: object.Modified, Path: o.path, OID: o.e.OID, Permissions: o.e.Permissions}
			default:
				conflicts = append(conflicts, ConflictInfo{
					NodeID: n, Path: resolvePath(o, oOK, t, tOK), OursPath: o.path, TheirsPath: t.path,
					BaseOID: b.e.OID, OursOID: o.e.OID, TheirsOID: t.e.OID,
				})
			}
		case !bOK && oOK && !tOK:
			merged.Set(o.path, o.e)
			changes[n] = object.FileChange{Kind: object.Added, Path: o.path, OID: o.e.OID, Permissions: o.e.Permissions}
		case !bOK && !oOK && tOK:
			merged.Set(t.path, t.e)
			changes[n] = object.FileChange{Kind: object.Added, Path: t.path, OID: t.e.OID, Permissions: t.e.Permissions}
		case bOK && !oOK && !tOK:
			changes[n] = object.FileChange{Kind: object.Deleted, Path: b.path}
		case !bOK && oOK && tOK:
			// add/add, different content (equal-content case handled above)
			conflicts = append(conflicts, ConflictInfo{
				NodeID: n, Path: resolvePath(o, oOK, t, tOK), OursPath: o.path, TheirsPath: t.path,
				OursOID: o.e.OID, TheirsOID: t.e.OID,
			})
		case bOK && oOK && !tOK:
			conflicts = append(conflicts, ConflictInfo{
				NodeID: n, Path: resolvePath(o, oOK, t, tOK), OursPath: o.path,
				BaseOID: b.e.OID, OursOID: o.e.OID,
			})
		case bOK && !oOK && tOK:
			conflicts = append(conflicts, ConflictInfo{
				NodeID: n, Path: resolvePath(o, oOK, t, tOK), TheirsPath: t.path,
				BaseOID: b.e.OID, TheirsOID: t.e.OID,
			})
		}
	}

	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
		return &Result{Conflicts: conflicts}, nil
	}

	manifestOID, err := store.WriteObject(merged)
	if err != nil {
		return nil, fmt.Errorf("merge: write manifest: %w", err)
	}
	cs := object.NewChangeset()
	cs.Parents = []oid.OID{ours.Hash(), theirs.Hash()}
	cs.RootManifest = manifestOID
	cs.Changes = changes
	cs.Message = message
	cs.Author = author
	csOID, err := store.WriteObject(cs)
	if err != nil {
		return nil, fmt.Errorf("merge: write changeset: %w", err)
	}
	return &Result{Manifest: merged, ChangesetID: csOID}, nil
}

func resolvePath(o nodeEntry, oOK bool, t nodeEntry, tOK bool) string {
	if oOK {
		return o.path
	}
	if tOK {
		return t.path
	}
	return ""
}

func rootOf(ctx context.Context, cs *object.Changeset) (*object.Manifest, error) {
	if cs == nil {
		return object.NewManifest(), nil
	}
	return cs.Root(ctx)
}
