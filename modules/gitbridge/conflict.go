// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// Stage is one side of an unmerged Git index entry.
type Stage struct {
	Hash plumbing.Hash
	Mode filemode.FileMode
}

// IndexConflict is one unmerged path in a Git index: up to three stages
// (base, ours, theirs), any of which may be absent on an add/add or
// delete/modify conflict.
type IndexConflict struct {
	Path   string
	Base   *Stage
	Ours   *Stage
	Theirs *Stage
}

// ReadConflicts inspects the Git index at gitDir and returns one
// IndexConflict per path left unmerged (git index stages 1-3), the set an
// interrupted `git merge` or a failed import leaves behind.
func ReadConflicts(gitDir string) ([]IndexConflict, error) {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: open %s: %w", gitDir, err)
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("gitbridge: read index: %w", err)
	}

	byPath := make(map[string]*IndexConflict)
	var order []string
	for _, e := range idx.Entries {
		// index.Merged and index.AncestorMode share the value 1 in this
		// package; a normal (non-conflicted) entry decodes with the zero
		// Stage, so that's what distinguishes it from a base/ancestor
		// conflict stage, not equality with index.Merged.
		s := &Stage{Hash: e.Hash, Mode: e.Mode}
		switch e.Stage {
		case index.AncestorMode:
			byPathEntry(byPath, &order, e.Name).Base = s
		case index.OurMode:
			byPathEntry(byPath, &order, e.Name).Ours = s
		case index.TheirMode:
			byPathEntry(byPath, &order, e.Name).Theirs = s
		}
	}

	out := make([]IndexConflict, 0, len(order))
	for _, p := range order {
		out = append(out, *byPath[p])
	}
	return out, nil
}

// byPathEntry returns (creating and recording the visit order on first use)
// the IndexConflict accumulating path's stages.
func byPathEntry(byPath map[string]*IndexConflict, order *[]string, path string) *IndexConflict {
	c, ok := byPath[path]
	if !ok {
		c = &IndexConflict{Path: path}
		byPath[path] = c
		*order = append(*order, path)
	}
	return c
}

// StageContents reads the blob behind each of c's stages as text. Base may
// be empty alongside hasBase=false when the three-way ancestor is missing
// (add/add conflicts have no stage 1).
func StageContents(gitDir string, c IndexConflict) (base, ours, theirs string, hasBase bool, err error) {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return "", "", "", false, fmt.Errorf("gitbridge: open %s: %w", gitDir, err)
	}
	read := func(s *Stage) (string, error) {
		if s == nil {
			return "", nil
		}
		blob, err := repo.BlobObject(s.Hash)
		if err != nil {
			return "", fmt.Errorf("gitbridge: read blob %s: %w", s.Hash, err)
		}
		r, err := blob.Reader()
		if err != nil {
			return "", err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if base, err = read(c.Base); err != nil {
		return "", "", "", false, err
	}
	if ours, err = read(c.Ours); err != nil {
		return "", "", "", false, err
	}
	if theirs, err = read(c.Theirs); err != nil {
		return "", "", "", false, err
	}
	return base, ours, theirs, c.Base != nil, nil
}

// ResolveWithContent writes content to path in the worktree, stores it as a
// Git blob, and stages the path as resolved: the write-and-add half of the
// conflict resolver.
func ResolveWithContent(gitDir, path string, content []byte) error {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return fmt.Errorf("gitbridge: open %s: %w", gitDir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitbridge: open worktree: %w", err)
	}
	f, err := wt.Filesystem.Create(path)
	if err != nil {
		return fmt.Errorf("gitbridge: write %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("gitbridge: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	hash, err := writeEncodedObject(repo, plumbing.BlobObject, content)
	if err != nil {
		return err
	}
	return ResolveWithBlob(gitDir, path, hash, filemode.Regular)
}

// ResolveWithBlob stages path as resolved at the given Git blob hash and
// mode, clearing its conflict stages.
func ResolveWithBlob(gitDir, path string, hash plumbing.Hash, mode filemode.FileMode) error {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return fmt.Errorf("gitbridge: open %s: %w", gitDir, err)
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("gitbridge: read index: %w", err)
	}

	filtered := idx.Entries[:0]
	for _, e := range idx.Entries {
		if e.Name != path {
			filtered = append(filtered, e)
		}
	}
	idx.Entries = filtered
	idx.Entries = append(idx.Entries, &index.Entry{
		// Stage left at its zero value: index.Merged is numerically equal to
		// index.AncestorMode (1) in this package, so an explicit Merged
		// assignment would decode back as a conflicted base stage. The zero
		// value is what a normal, non-conflicted entry actually carries.
		Name: path,
		Hash: hash,
		Mode: mode,
	})
	return repo.Storer.SetIndex(idx)
}
