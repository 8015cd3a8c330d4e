// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package wind

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/windvcs/wind/modules/gitbridge"
	"github.com/windvcs/wind/modules/merge"
	"github.com/windvcs/wind/modules/oid"
)

const gitbridgeDBName = "gitbridge.db"

func (r *Repository) openMapping() (*gitbridge.Mapping, error) {
	return gitbridge.Open(filepath.Join(r.metaDir, gitbridgeDBName))
}

// ImportGit replays gitRef's history from the Git repository at gitDir into
// branchName, creating the branch if it doesn't exist yet.
func (r *Repository) ImportGit(ctx context.Context, gitDir, gitRef, branchName string) (oid.OID, error) {
	mapping, err := r.openMapping()
	if err != nil {
		return oid.Zero, err
	}
	defer mapping.Close()

	im := gitbridge.NewImporter(r.store, r.chunks, mapping)
	tip, err := im.Import(ctx, gitDir, gitRef)
	if err != nil {
		return oid.Zero, err
	}

	b, err := r.refs.ByName(branchName)
	if err != nil {
		b, err = r.refs.Create(branchName, tip)
		if err != nil {
			return oid.Zero, err
		}
		if err := r.reflog.Append(b.ID, oid.Zero, tip, fmt.Sprintf("import_git %s %s (create)", gitDir, gitRef)); err != nil {
			return oid.Zero, err
		}
		return tip, nil
	}
	old := b.Head
	if err := r.refs.UpdateHead(b, tip); err != nil {
		return oid.Zero, err
	}
	if err := r.reflog.Append(b.ID, old, tip, fmt.Sprintf("import_git %s %s", gitDir, gitRef)); err != nil {
		return oid.Zero, err
	}
	return tip, nil
}

// ExportGit writes branchName's history onto the Git repository at gitDir,
// updating gitRef to match.
func (r *Repository) ExportGit(ctx context.Context, branchName, gitDir, gitRef string) error {
	b, err := r.refs.ByName(branchName)
	if err != nil {
		return err
	}
	if b.Head.IsZero() {
		return fmt.Errorf("wind: branch %q has no commits to export", branchName)
	}

	mapping, err := r.openMapping()
	if err != nil {
		return err
	}
	defer mapping.Close()

	ex := gitbridge.NewExporter(r.store, r.chunks, mapping)
	return ex.Export(ctx, b.Head, gitDir, gitRef)
}

// SyncWithGit imports gitRef from gitDir and fast-forwards or merges it
// into branchName, the two-way counterpart of ExportGit.
func (r *Repository) SyncWithGit(ctx context.Context, gitDir, gitRef, branchName string) error {
	mapping, err := r.openMapping()
	if err != nil {
		return err
	}
	defer mapping.Close()

	im := gitbridge.NewImporter(r.store, r.chunks, mapping)
	incoming, err := im.Import(ctx, gitDir, gitRef)
	if err != nil {
		return err
	}

	b, err := r.refs.ByName(branchName)
	if err != nil {
		b, err = r.refs.Create(branchName, incoming)
		if err != nil {
			return err
		}
		return r.refs.SetHEAD(b.ID)
	}
	if b.Head.IsZero() || b.Head == incoming {
		old := b.Head
		if err := r.refs.UpdateHead(b, incoming); err != nil {
			return err
		}
		return r.reflog.Append(b.ID, old, incoming, "sync_with_git: fast-forward")
	}

	ours, err := r.store.Changeset(ctx, b.Head)
	if err != nil {
		return err
	}
	theirs, err := r.store.Changeset(ctx, incoming)
	if err != nil {
		return err
	}
	base, _, err := merge.FindMergeBase(ctx, ours, theirs)
	if err != nil {
		return err
	}
	result, err := merge.Merge(ctx, r.store, base, ours, theirs, fmt.Sprintf("Merge %s from git", gitRef), r.author())
	if err != nil {
		return err
	}
	if !result.Clean() {
		return fmt.Errorf("wind: sync_with_git: %d conflicts merging %s into %s", len(result.Conflicts), gitRef, branchName)
	}
	old := b.Head
	if err := r.refs.UpdateHead(b, result.ChangesetID); err != nil {
		return err
	}
	return r.reflog.Append(b.ID, old, result.ChangesetID, fmt.Sprintf("sync_with_git: merge %s", gitRef))
}
