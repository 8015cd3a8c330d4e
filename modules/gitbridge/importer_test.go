// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/gitbridge"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

func sig() *gitobject.Signature {
	return &gitobject.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0)}
}

func setupImporter(t *testing.T) (*gitbridge.Importer, *backend.Database) {
	t.Helper()
	meta := filepath.Join(t.TempDir(), ".wind")
	require.NoError(t, os.MkdirAll(meta, 0o755))
	store, err := backend.Open(meta)
	require.NoError(t, err)
	chunks, err := chunkstore.New(filepath.Join(meta, "chunks"))
	require.NoError(t, err)
	mapping, err := gitbridge.Open(filepath.Join(meta, "gitbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mapping.Close() })

	return gitbridge.NewImporter(store, chunks, mapping), store
}

func TestImport_SimpleHistory(t *testing.T) {
	gitDir := t.TempDir()
	repo, err := git.PlainInit(gitDir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "a.txt"), []byte("hello"), 0o644))
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	_, err = wt.Commit("first commit", &git.CommitOptions{Author: sig(), Committer: sig()})
	require.NoError(t, err)

	importer, store := setupImporter(t)
	tip, err := importer.Import(context.Background(), gitDir, "refs/heads/master")
	require.NoError(t, err)
	require.False(t, tip.IsZero())

	cs, err := store.Changeset(context.Background(), tip)
	require.NoError(t, err)
	m, err := cs.Root(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	e, ok := m.Get("a.txt")
	require.True(t, ok)
	require.False(t, e.NodeID.IsNil())
}

func TestImport_DetectsRenameAcrossCommits(t *testing.T) {
	gitDir := t.TempDir()
	repo, err := git.PlainInit(gitDir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "old.txt"), []byte("unchanging content"), 0o644))
	_, err = wt.Add("old.txt")
	require.NoError(t, err)
	_, err = wt.Commit("add old.txt", &git.CommitOptions{Author: sig(), Committer: sig()})
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(gitDir, "old.txt"), filepath.Join(gitDir, "new.txt")))
	_, err = wt.Add("old.txt")
	require.NoError(t, err)
	_, err = wt.Add("new.txt")
	require.NoError(t, err)
	_, err = wt.Commit("rename old.txt to new.txt", &git.CommitOptions{Author: sig(), Committer: sig()})
	require.NoError(t, err)

	importer, store := setupImporter(t)
	tip, err := importer.Import(context.Background(), gitDir, "refs/heads/master")
	require.NoError(t, err)

	cs, err := store.Changeset(context.Background(), tip)
	require.NoError(t, err)

	var renameChange *object.FileChange
	for _, ch := range cs.Changes {
		ch := ch
		if ch.Kind == object.Renamed {
			renameChange = &ch
		}
	}
	require.NotNil(t, renameChange, "expected a Renamed change in the second commit")
	require.Equal(t, "old.txt", renameChange.OldPath)
	require.Equal(t, "new.txt", renameChange.Path)

	m, err := cs.Root(context.Background())
	require.NoError(t, err)
	_, hasOld := m.Get("old.txt")
	require.False(t, hasOld)
	newEntry, hasNew := m.Get("new.txt")
	require.True(t, hasNew)

	parent, err := cs.FirstParent(context.Background())
	require.NoError(t, err)
	parentManifest, err := parent.Root(context.Background())
	require.NoError(t, err)
	oldEntry, ok := parentManifest.Get("old.txt")
	require.True(t, ok)
	require.Equal(t, oldEntry.NodeID, newEntry.NodeID, "rename must preserve the NodeID")
}

func TestImport_IsIdempotentOnAlreadyImportedRef(t *testing.T) {
	gitDir := t.TempDir()
	repo, err := git.PlainInit(gitDir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "a.txt"), []byte("hello"), 0o644))
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	_, err = wt.Commit("first commit", &git.CommitOptions{Author: sig(), Committer: sig()})
	require.NoError(t, err)

	importer, _ := setupImporter(t)
	ctx := context.Background()
	first, err := importer.Import(ctx, gitDir, "refs/heads/master")
	require.NoError(t, err)

	second, err := importer.Import(ctx, gitDir, "refs/heads/master")
	require.NoError(t, err)
	require.Equal(t, first, second)
}
