// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package wind

import (
	"context"
	"fmt"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/object"
)

// Commit builds a new changeset from the current path index state: the
// root manifest is the full set of entries
// currently in the index, and Changes records how each NodeID's entry
// moved relative to the current branch's head.
func (r *Repository) Commit(ctx context.Context, message string) (oid.OID, error) {
	head, err := r.refs.HEAD()
	if err != nil {
		return oid.Zero, err
	}

	var parent *object.Manifest
	var parents []oid.OID
	if !head.Head.IsZero() {
		parents = []oid.OID{head.Head}
		cs, err := r.store.Changeset(ctx, head.Head)
		if err != nil {
			return oid.Zero, err
		}
		parent, err = cs.Root(ctx)
		if err != nil {
			return oid.Zero, err
		}
	} else {
		parent = object.NewManifest()
	}

	entries, err := r.index.ListAll()
	if err != nil {
		return oid.Zero, err
	}

	manifest := object.NewManifest()
	changes := make(map[nodeid.NodeID]object.FileChange)
	seen := make(map[string]bool)
	for _, e := range entries {
		nid := e.NodeID()
		entry := object.Entry{NodeID: nid, OID: e.OID(), Permissions: e.Permissions}
		manifest.Set(e.Path, entry)
		seen[e.Path] = true

		old, existed := parent.Get(e.Path)
		switch {
		case !existed:
			changes[nid] = object.FileChange{Kind: object.Added, Path: e.Path, OID: entry.OID, Permissions: entry.Permissions}
		case old.OID != entry.OID || old.Permissions != entry.Permissions:
			changes[nid] = object.FileChange{Kind: object.Modified, Path: e.Path, OID: entry.OID, Permissions: entry.Permissions}
		}
	}
	_ = parent.ForEach(func(path string, e object.Entry) error {
		if !seen[path] {
			changes[e.NodeID] = object.FileChange{Kind: object.Deleted, Path: path}
		}
		return nil
	})

	if len(changes) == 0 && !head.Head.IsZero() {
		return oid.Zero, fmt.Errorf("wind: nothing to commit")
	}

	manifestOID, err := r.store.WriteObject(manifest)
	if err != nil {
		return oid.Zero, err
	}
	cs := object.NewChangeset()
	cs.Parents = parents
	cs.RootManifest = manifestOID
	cs.Changes = changes
	cs.Message = message
	cs.Author = r.author()
	csOID, err := r.store.WriteObject(cs)
	if err != nil {
		return oid.Zero, err
	}

	oldHead := head.Head
	if err := r.refs.UpdateHead(head, csOID); err != nil {
		return oid.Zero, err
	}
	if err := r.reflog.Append(head.ID, oldHead, csOID, fmt.Sprintf("commit: %s", cs.Subject())); err != nil {
		return oid.Zero, err
	}
	return csOID, nil
}
