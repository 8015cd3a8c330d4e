// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package wind is the unified repository façade: it wires the object
// store, path index, working copy, refs, reflog and merge engine together
// behind init/open, status/add/commit, checkout/merge/log, branches and
// the Git bridge's import/export.
package wind

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/merge"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/pathindex"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/config"
	"github.com/windvcs/wind/modules/wind/object"
	"github.com/windvcs/wind/modules/wind/reflog"
	"github.com/windvcs/wind/modules/wind/refs"
	"github.com/windvcs/wind/modules/workingcopy"
)

const (
	chunksDirName = "chunks"
	indexFileName = "index.db"
	defaultBranch = "main"
)

// ErrAmbiguousRevision is returned by ResolveRevision when a prefix matches
// more than one object.
type ErrAmbiguousRevision struct {
	Prefix  string
	Matches []oid.OID
}

func (e *ErrAmbiguousRevision) Error() string {
	return fmt.Sprintf("wind: ambiguous revision %q (%d candidates)", e.Prefix, len(e.Matches))
}

// ErrUnknownRevision is returned by ResolveRevision when a prefix matches
// nothing.
type ErrUnknownRevision struct{ Prefix string }

func (e *ErrUnknownRevision) Error() string {
	return fmt.Sprintf("wind: unknown revision %q", e.Prefix)
}

// ErrNotAnEngineRepo is returned by Open when root carries no metadata
// directory.
type ErrNotAnEngineRepo struct{ Root string }

func (e *ErrNotAnEngineRepo) Error() string {
	return fmt.Sprintf("wind: %s is not a wind repository (no metadata directory)", e.Root)
}

// Repository is one opened working copy: its metadata store plus the
// branch and working-tree state layered on top of it.
type Repository struct {
	root     string
	metaDir  string
	cfg      *config.Config
	store    *backend.Database
	chunks   *chunkstore.Store
	index    *pathindex.Index
	wc       *workingcopy.WorkingCopy
	refs     *refs.Store
	reflog   *reflog.Store
	log      *logrus.Entry
}

// Init creates a new repository rooted at root, with metadata under
// root/<metaDirName> ("." + config.ConfigFileName's sibling ".wind" by
// default), and an empty "main" branch as HEAD.
func Init(root, metaDirName string) (*Repository, error) {
	if metaDirName == "" {
		metaDirName = workingcopy.DefaultMetaDirName
	}
	metaDir := filepath.Join(root, metaDirName)
	if _, err := os.Stat(metaDir); err == nil {
		return nil, fmt.Errorf("wind: %s already exists", metaDir)
	}
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("wind: create %s: %w", metaDir, err)
	}

	cfg := config.Default()
	if err := config.Save(metaDir, cfg); err != nil {
		return nil, err
	}

	r, err := open(root, metaDir, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.refs.Init(); err != nil {
		return nil, err
	}
	b, err := r.refs.Create(defaultBranch, oid.Zero)
	if err != nil {
		return nil, err
	}
	if err := r.refs.SetHEAD(b.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository rooted at root.
func Open(root, metaDirName string) (*Repository, error) {
	if metaDirName == "" {
		metaDirName = workingcopy.DefaultMetaDirName
	}
	metaDir := filepath.Join(root, metaDirName)
	if fi, err := os.Stat(metaDir); err != nil || !fi.IsDir() {
		return nil, &ErrNotAnEngineRepo{Root: root}
	}
	cfg, err := config.Load(metaDir)
	if err != nil {
		return nil, err
	}
	return open(root, metaDir, cfg)
}

func open(root, metaDir string, cfg *config.Config) (*Repository, error) {
	store, err := backend.Open(metaDir)
	if err != nil {
		return nil, err
	}
	chunks, err := chunkstore.New(filepath.Join(metaDir, chunksDirName))
	if err != nil {
		return nil, err
	}
	index, err := pathindex.Open(filepath.Join(metaDir, indexFileName))
	if err != nil {
		// The working tree and object store are still intact; only the stat
		// cache is unusable.
		return nil, fmt.Errorf("wind: open path index (delete %s to rebuild it from a fresh scan): %w",
			filepath.Join(metaDir, indexFileName), err)
	}
	r := &Repository{
		root:    root,
		metaDir: metaDir,
		cfg:     cfg,
		store:   store,
		chunks:  chunks,
		index:   index,
		refs:    refs.NewStore(metaDir),
		reflog:  reflog.NewStore(metaDir),
		log:     logrus.WithField("component", "wind"),
	}
	r.wc = workingcopy.New(root, filepath.Base(metaDir), store, chunks, index)
	return r, nil
}

// Close releases the repository's open handles (object cache, sqlite
// connection).
func (r *Repository) Close() {
	r.store.Close()
	_ = r.index.Close()
}

func (r *Repository) author() object.Signature {
	return object.Signature{Name: r.cfg.User.Name, Email: r.cfg.User.Email, When: time.Now()}
}

// Status reports the working tree's difference from the path index.
func (r *Repository) Status() (*workingcopy.Status, error) {
	return r.wc.Scan()
}

// Add stages paths for the next commit. A directory path stages every
// non-ignored regular file beneath it.
func (r *Repository) Add(paths ...string) error {
	for _, p := range paths {
		if _, _, err := r.wc.AddFile(p); err != nil {
			return fmt.Errorf("wind: add %s: %w", p, err)
		}
	}
	return nil
}

// Remove unstages path.
func (r *Repository) Remove(path string) error {
	return r.wc.RemoveFile(path)
}

// Branches lists every branch.
func (r *Repository) Branches() ([]*refs.Branch, error) {
	return r.refs.List()
}

// CreateBranch records a new branch named name pointing at head's current
// commit; the new branch does not become HEAD.
func (r *Repository) CreateBranch(name string) (*refs.Branch, error) {
	head, err := r.refs.HEAD()
	if err != nil {
		return nil, err
	}
	b, err := r.refs.Create(name, head.Head)
	if err != nil {
		return nil, err
	}
	if err := r.reflog.Append(b.ID, oid.Zero, head.Head, fmt.Sprintf("branch: created from %s", head.Name)); err != nil {
		return nil, err
	}
	return b, nil
}

// ReflogFor returns branchName's head-move history, oldest first.
func (r *Repository) ReflogFor(branchName string) ([]reflog.Entry, error) {
	b, err := r.refs.ByName(branchName)
	if err != nil {
		return nil, err
	}
	return r.reflog.For(b.ID)
}

// ResolveRevision resolves a (possibly abbreviated) hex OID prefix to the
// single object it names.
func (r *Repository) ResolveRevision(prefix string) (oid.OID, error) {
	if id, err := oid.NewEx(prefix); err == nil {
		return id, nil
	}
	matches, err := r.store.Search(prefix)
	if err != nil {
		return oid.Zero, err
	}
	switch len(matches) {
	case 0:
		return oid.Zero, &ErrUnknownRevision{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		return oid.Zero, &ErrAmbiguousRevision{Prefix: prefix, Matches: matches}
	}
}

// Log walks HEAD's history newest first in topological order (a merge's
// parents never precede it), up to limit changesets (0 means unbounded).
func (r *Repository) Log(ctx context.Context, limit int) ([]*object.Changeset, error) {
	head, err := r.refs.HEAD()
	if err != nil {
		return nil, err
	}
	if head.Head.IsZero() {
		return nil, nil
	}
	cs, err := r.store.Changeset(ctx, head.Head)
	if err != nil {
		return nil, err
	}
	it := object.NewTopoOrderIter(cs, nil, nil)
	defer it.Close()
	var out []*object.Changeset
	for limit == 0 || len(out) < limit {
		c, err := it.Next(ctx)
		if err != nil {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// Merge merges otherBranch into the current branch.
func (r *Repository) Merge(ctx context.Context, otherBranch string) (*merge.Result, error) {
	head, err := r.refs.HEAD()
	if err != nil {
		return nil, err
	}
	other, err := r.refs.ByName(otherBranch)
	if err != nil {
		return nil, err
	}

	ours, err := r.store.Changeset(ctx, head.Head)
	if err != nil {
		return nil, err
	}
	theirs, err := r.store.Changeset(ctx, other.Head)
	if err != nil {
		return nil, err
	}
	base, _, err := merge.FindMergeBase(ctx, ours, theirs)
	if err != nil {
		return nil, err
	}

	result, err := merge.Merge(ctx, r.store, base, ours, theirs, fmt.Sprintf("Merge branch '%s'", otherBranch), r.author())
	if err != nil {
		return nil, err
	}
	if !result.Clean() {
		return result, nil
	}
	if err := r.refs.UpdateHead(head, result.ChangesetID); err != nil {
		return nil, err
	}
	if err := r.reflog.Append(head.ID, ours.Hash(), result.ChangesetID, fmt.Sprintf("merge %s", otherBranch)); err != nil {
		return nil, err
	}
	return result, nil
}
