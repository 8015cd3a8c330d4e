// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"

	"github.com/windvcs/wind/modules/chunk"
	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

// Importer walks a Git repository's history and replays it as a sequence
// of changesets, allocating or reusing NodeIDs via the bridge's path
// mapping so that a file renamed in Git is recognised as the same logical
// file on the engine side too.
type Importer struct {
	store   *backend.Database
	chunks  *chunkstore.Store
	mapping *Mapping
	chunker *chunk.Chunker
}

func NewImporter(store *backend.Database, chunks *chunkstore.Store, mapping *Mapping) *Importer {
	return &Importer{store: store, chunks: chunks, mapping: mapping, chunker: chunk.New(0, 0, 0)}
}

// Import replays every commit reachable from gitRef (e.g. "refs/heads/main")
// in the repository at gitDir, oldest first, and returns the OID of the
// changeset corresponding to the ref's tip.
func (im *Importer) Import(ctx context.Context, gitDir, gitRef string) (oid.OID, error) {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return oid.Zero, fmt.Errorf("gitbridge: open %s: %w", gitDir, err)
	}
	ref, err := repo.Reference(plumbing.ReferenceName(gitRef), true)
	if err != nil {
		return oid.Zero, fmt.Errorf("gitbridge: resolve %s: %w", gitRef, err)
	}

	commits, err := commitsOldestFirst(repo, ref.Hash())
	if err != nil {
		return oid.Zero, err
	}

	var tip oid.OID
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return oid.Zero, err
		}
		sha := c.Hash.String()
		if existing, ok, err := im.mapping.OIDForSHA(sha); err != nil {
			return oid.Zero, err
		} else if ok {
			tip = existing
			continue
		}
		id, err := im.importCommit(ctx, repo, c)
		if err != nil {
			return oid.Zero, fmt.Errorf("gitbridge: import commit %s: %w", sha, err)
		}
		tip = id
	}
	return tip, nil
}

// commitsOldestFirst returns every commit reachable from head in
// topological order, parents always before children, via an iterative
// post-order DFS over the parent edges. A changeset can't be built until
// its parents already have OIDs, and committer-time ordering isn't
// enough: clock skew can put a child before its parent.
func commitsOldestFirst(repo *git.Repository, head plumbing.Hash) ([]*gitobject.Commit, error) {
	type frame struct {
		c    *gitobject.Commit
		next int // index of the next parent to descend into
	}
	var out []*gitobject.Commit
	visited := make(map[plumbing.Hash]bool)
	root, err := repo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: load commit %s: %w", head, err)
	}
	visited[head] = true
	stack := []frame{{c: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.c.ParentHashes) {
			ph := top.c.ParentHashes[top.next]
			top.next++
			if visited[ph] {
				continue
			}
			visited[ph] = true
			pc, err := repo.CommitObject(ph)
			if err != nil {
				return nil, fmt.Errorf("gitbridge: load commit %s: %w", ph, err)
			}
			stack = append(stack, frame{c: pc})
			continue
		}
		out = append(out, top.c)
		stack = stack[:len(stack)-1]
	}
	return out, nil
}

func (im *Importer) importCommit(ctx context.Context, repo *git.Repository, c *gitobject.Commit) (oid.OID, error) {
	tree, err := c.Tree()
	if err != nil {
		return oid.Zero, fmt.Errorf("load tree: %w", err)
	}

	var parentManifest *object.Manifest
	var parentChangesetOIDs []oid.OID
	for _, ph := range c.ParentHashes {
		pid, ok, err := im.mapping.OIDForSHA(ph.String())
		if err != nil {
			return oid.Zero, err
		}
		if !ok {
			continue // parent wasn't imported (shallow clone); treated as a root edge
		}
		parentChangesetOIDs = append(parentChangesetOIDs, pid)
		if parentManifest == nil {
			pcs, _, err := im.store.ReadObject(pid)
			if err != nil {
				return oid.Zero, err
			}
			parentManifest, err = pcs.(*object.Changeset).Root(ctx)
			if err != nil {
				return oid.Zero, err
			}
		}
	}
	if parentManifest == nil {
		parentManifest = object.NewManifest()
	}

	// First pass: read every blob in the new tree and note which paths are
	// genuinely new (not present in the first parent's tree at all), since
	// those are the rename candidates when diffing against the first
	// parent.
	newFiles := make(map[string]treeFileEntry)
	seen := make(map[string]bool)
	walker := tree.Files()
	for {
		f, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return oid.Zero, fmt.Errorf("walk tree: %w", err)
		}
		seen[f.Name] = true
		blobOID, err := im.importBlob(f)
		if err != nil {
			return oid.Zero, err
		}
		perm := uint32(0o100644)
		if f.Mode == filemode.Executable {
			perm = 0o100755
		}
		newFiles[f.Name] = treeFileEntry{oid: blobOID, perm: perm}
	}

	var deletedPaths []string
	_ = parentManifest.ForEach(func(path string, e object.Entry) error {
		if !seen[path] {
			deletedPaths = append(deletedPaths, path)
		}
		return nil
	})

	var addedPaths []string
	for path := range newFiles {
		if _, ok := parentManifest.Get(path); !ok {
			addedPaths = append(addedPaths, path)
		}
	}

	renames, remainingDeleted, remainingAdded := detectRenames(parentManifest, deletedPaths, newFiles, addedPaths)

	manifest := parentManifest.Clone()
	changes := make(map[nodeid.NodeID]object.FileChange)
	sha := c.Hash.String()
	when := c.Committer.When.Unix()

	for _, r := range renames {
		manifest.Remove(r.from)
		manifest.Set(r.to, object.Entry{NodeID: r.nid, OID: r.oid, Permissions: r.perm})
		changes[r.nid] = object.FileChange{Kind: object.Renamed, Path: r.to, OldPath: r.from, OID: r.oid, Permissions: r.perm}
		if err := im.mapping.RecordPath(r.nid, r.to, sha, when); err != nil {
			return oid.Zero, err
		}
	}
	for _, path := range remainingDeleted {
		e, _ := parentManifest.Get(path)
		manifest.Remove(path)
		changes[e.NodeID] = object.FileChange{Kind: object.Deleted, Path: path}
		if err := im.mapping.UnbindPath(path); err != nil {
			return oid.Zero, err
		}
	}
	for _, path := range remainingAdded {
		f := newFiles[path]
		nid, _, err := im.resolveNodeID(path)
		if err != nil {
			return oid.Zero, err
		}
		manifest.Set(path, object.Entry{NodeID: nid, OID: f.oid, Permissions: f.perm})
		changes[nid] = object.FileChange{Kind: object.Added, Path: path, OID: f.oid, Permissions: f.perm}
		if err := im.mapping.RecordPath(nid, path, sha, when); err != nil {
			return oid.Zero, err
		}
	}
	// Paths present in both trees: unchanged, or modified in place.
	for path, f := range newFiles {
		existing, hadEntry := parentManifest.Get(path)
		if !hadEntry {
			continue // handled above as added/renamed
		}
		if existing.OID == f.oid && existing.Permissions == f.perm {
			continue
		}
		nid := existing.NodeID
		manifest.Set(path, object.Entry{NodeID: nid, OID: f.oid, Permissions: f.perm})
		changes[nid] = object.FileChange{Kind: object.Modified, Path: path, OID: f.oid, Permissions: f.perm}
	}

	manifestOID, err := im.store.WriteObject(manifest)
	if err != nil {
		return oid.Zero, err
	}

	cs := object.NewChangeset()
	cs.Parents = parentChangesetOIDs
	cs.RootManifest = manifestOID
	cs.Changes = changes
	cs.Message = c.Message
	cs.Author = object.Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When}
	csOID, err := im.store.WriteObject(cs)
	if err != nil {
		return oid.Zero, err
	}
	if err := im.mapping.MapCommit(c.Hash.String(), csOID); err != nil {
		return oid.Zero, err
	}
	return csOID, nil
}

// resolveNodeID returns the NodeID already bound to path by an earlier
// import, or allocates a fresh bridge counter id and reports it as new so
// the caller records the binding.
func (im *Importer) resolveNodeID(path string) (nodeid.NodeID, bool, error) {
	if nid, ok, err := im.mapping.NodeIDForPath(path); err != nil {
		return nodeid.Nil, false, err
	} else if ok {
		return nid, false, nil
	}
	nid, err := im.mapping.NextNodeID()
	if err != nil {
		return nodeid.Nil, false, err
	}
	return nid, true, nil
}

func (im *Importer) importBlob(f *gitobject.File) (oid.OID, error) {
	r, err := f.Reader()
	if err != nil {
		return oid.Zero, fmt.Errorf("open blob %s: %w", f.Name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return oid.Zero, fmt.Errorf("read blob %s: %w", f.Name, err)
	}

	var blob *object.Blob
	if len(data) >= object.ChunkedThreshold && im.chunks != nil {
		pieces := im.chunker.Split(data)
		oids := make([]oid.OID, len(pieces))
		for i, p := range pieces {
			if err := im.chunks.WriteChunk(p); err != nil {
				return oid.Zero, err
			}
			oids[i] = p.OID
		}
		blob = object.NewChunkedBlob(oids)
	} else {
		blob = object.NewBlob(data)
	}
	return im.store.WriteObject(blob)
}
