// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

// Exporter replays a changeset's full reachable history onto a Git
// repository, creating one commit per changeset (parents first) and
// leaving gitRef pointing at the result.
type Exporter struct {
	store   *backend.Database
	chunks  *chunkstore.Store
	mapping *Mapping
}

func NewExporter(store *backend.Database, chunks *chunkstore.Store, mapping *Mapping) *Exporter {
	return &Exporter{store: store, chunks: chunks, mapping: mapping}
}

// Export writes every changeset reachable from tip whose mapped commit isn't
// already present there, oldest first, into the Git repository at gitDir (created if it
// doesn't exist), then updates gitRef to the tip's commit and checks out
// the resulting worktree.
func (ex *Exporter) Export(ctx context.Context, tip oid.OID, gitDir, gitRef string) error {
	repo, wtFS, err := openWorktreeRepo(gitDir)
	if err != nil {
		return err
	}

	tipSHA, err := ex.exportChangeset(ctx, repo, tip)
	if err != nil {
		return err
	}

	refName := plumbing.ReferenceName(gitRef)
	return ex.updateGitBranch(repo, wtFS, refName, tipSHA)
}

// exportChangeset writes the commit for id, first exporting every not-yet-
// mapped parent (all of them, not just the first: a merge changeset's
// second parent must resolve to a real commit too). The walk is an
// iterative post-order DFS over parent edges so a long history doesn't
// recurse one frame per changeset.
func (ex *Exporter) exportChangeset(ctx context.Context, repo *git.Repository, id oid.OID) (plumbing.Hash, error) {
	type frame struct {
		c    *object.Changeset
		next int
	}
	load := func(o oid.OID) (*object.Changeset, error) {
		v, _, err := ex.store.ReadObject(o)
		if err != nil {
			return nil, fmt.Errorf("gitbridge: read %s: %w", o, err)
		}
		c, ok := v.(*object.Changeset)
		if !ok {
			return nil, fmt.Errorf("gitbridge: %s is not a changeset", o)
		}
		return c, nil
	}

	// A mapping only short-circuits when its commit exists in repo; one
	// recorded against another Git repository (e.g. the import source) does not.
	if sha, mapped, err := ex.mapping.SHAForOID(id); err != nil {
		return plumbing.ZeroHash, err
	} else if mapped && repo.Storer.HasEncodedObject(plumbing.NewHash(sha)) == nil {
		return plumbing.NewHash(sha), nil
	}
	root, err := load(id)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	shaOf := make(map[oid.OID]plumbing.Hash)
	queued := map[oid.OID]bool{id: true}
	stack := []frame{{c: root}}
	var tipSHA plumbing.Hash
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return plumbing.ZeroHash, err
		}
		top := &stack[len(stack)-1]
		if top.next < len(top.c.Parents) {
			p := top.c.Parents[top.next]
			top.next++
			if queued[p] {
				continue
			}
			queued[p] = true
			if sha, mapped, err := ex.mapping.SHAForOID(p); err != nil {
				return plumbing.ZeroHash, err
			} else if mapped && repo.Storer.HasEncodedObject(plumbing.NewHash(sha)) == nil {
				shaOf[p] = plumbing.NewHash(sha)
				continue
			}
			pc, err := load(p)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			stack = append(stack, frame{c: pc})
			continue
		}

		c := top.c
		stack = stack[:len(stack)-1]
		manifest, err := c.Root(ctx)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("gitbridge: load root manifest for %s: %w", c.Hash(), err)
		}
		treeHash, err := ex.writeTree(ctx, repo, manifest)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("gitbridge: build tree for %s: %w", c.Hash(), err)
		}
		parents := make([]plumbing.Hash, 0, len(c.Parents))
		for _, p := range c.Parents {
			sha, ok := shaOf[p]
			if !ok {
				return plumbing.ZeroHash, fmt.Errorf("gitbridge: parent %s of %s exported out of order", p, c.Hash())
			}
			parents = append(parents, sha)
		}
		commitHash, err := ex.writeCommit(repo, c, treeHash, parents)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("gitbridge: build commit for %s: %w", c.Hash(), err)
		}
		if err := ex.mapping.MapCommit(commitHash.String(), c.Hash()); err != nil {
			return plumbing.ZeroHash, err
		}
		shaOf[c.Hash()] = commitHash
		tipSHA = commitHash
	}
	return tipSHA, nil
}

// openWorktreeRepo opens (or initialises) a non-bare Git repository at
// gitDir using an explicit billy filesystem for both the worktree and the
// ".git" metadata store, rather than go-git's PlainOpen/PlainInit
// convenience wrappers, so the worktree filesystem handle is available to
// updateGitBranch for the force checkout.
func openWorktreeRepo(gitDir string) (*git.Repository, billy.Filesystem, error) {
	wtFS := osfs.New(gitDir)
	dotGitFS, err := wtFS.Chroot(".git")
	if err != nil {
		return nil, nil, fmt.Errorf("gitbridge: chroot .git under %s: %w", gitDir, err)
	}
	storer := filesystem.NewStorage(dotGitFS, cache.NewObjectLRUDefault())

	repo, err := git.Open(storer, wtFS)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.Init(storer, wtFS)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("gitbridge: open/init %s: %w", gitDir, err)
	}
	return repo, wtFS, nil
}

// updateGitBranch moves refName to head and force-checks-out the worktree,
// removing untracked files.
func (ex *Exporter) updateGitBranch(repo *git.Repository, wtFS billy.Filesystem, refName plumbing.ReferenceName, head plumbing.Hash) error {
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, head)); err != nil {
		return fmt.Errorf("gitbridge: update ref %s: %w", refName, err)
	}
	if wtFS == nil {
		return nil // bare repository: nothing to check out
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitbridge: open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName, Force: true}); err != nil {
		return fmt.Errorf("gitbridge: checkout %s: %w", refName, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("gitbridge: clean worktree: %w", err)
	}
	return nil
}

// treeNode is one level of the in-memory tree being assembled bottom-up
// from a flat path→Entry manifest before encoding into Git tree objects.
type treeNode struct {
	files map[string]object.Entry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode { return &treeNode{files: map[string]object.Entry{}, dirs: map[string]*treeNode{}} }

func (ex *Exporter) writeTree(ctx context.Context, repo *git.Repository, m *object.Manifest) (plumbing.Hash, error) {
	root := newTreeNode()
	_ = m.ForEach(func(path string, e object.Entry) error {
		// Engine and Git metadata paths never cross the bridge.
		if path == ".git" || path == ".wind" ||
			strings.HasPrefix(path, ".git/") || strings.HasPrefix(path, ".wind/") {
			return nil
		}
		parts := strings.Split(path, "/")
		n := root
		for _, d := range parts[:len(parts)-1] {
			child, ok := n.dirs[d]
			if !ok {
				child = newTreeNode()
				n.dirs[d] = child
			}
			n = child
		}
		n.files[parts[len(parts)-1]] = e
		return nil
	})
	return ex.writeTreeNode(ctx, repo, root)
}

func (ex *Exporter) writeTreeNode(ctx context.Context, repo *git.Repository, n *treeNode) (plumbing.Hash, error) {
	var entries []gitobject.TreeEntry
	for name, e := range n.files {
		data, err := ex.blobContent(ctx, e.OID)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		blobHash, err := writeEncodedObject(repo, plumbing.BlobObject, data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mode := filemode.Regular
		if e.IsExecutable() {
			mode = filemode.Executable
		}
		entries = append(entries, gitobject.TreeEntry{Name: name, Mode: mode, Hash: blobHash})
	}
	for name, child := range n.dirs {
		childHash, err := ex.writeTreeNode(ctx, repo, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, gitobject.TreeEntry{Name: name, Mode: filemode.Dir, Hash: childHash})
	}
	sort.Slice(entries, func(i, j int) bool { return treeEntryKey(entries[i]) < treeEntryKey(entries[j]) })

	tree := &gitobject.Tree{Entries: entries}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

// treeEntryKey sorts the way Git compares tree entries: directories sort as
// though their name carried a trailing slash.
func treeEntryKey(e gitobject.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (ex *Exporter) blobContent(ctx context.Context, id oid.OID) ([]byte, error) {
	blob, err := ex.store.Blob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !blob.IsChunked() {
		return blob.Data, nil
	}
	if ex.chunks == nil {
		return nil, fmt.Errorf("gitbridge: chunked blob %s but no chunk store configured", id)
	}
	var buf bytes.Buffer
	for _, c := range blob.Chunks {
		data, err := ex.chunks.ReadChunk(c)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (ex *Exporter) writeCommit(repo *git.Repository, c *object.Changeset, treeHash plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	sig := gitobject.Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When}
	if sig.Email == "" {
		sig.Email = "unknown@localhost"
	}
	commit := &gitobject.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      c.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

func writeEncodedObject(repo *git.Repository, typ plumbing.ObjectType, data []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(typ)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}
