// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/gitbridge"
	"github.com/windvcs/wind/modules/wind/backend"
)

// Importing a native Git repository's history and exporting it back
// into a fresh directory reproduces the same tree content, and the
// exported repository's worktree is materialised on disk by the force
// checkout.
func TestGitRoundtrip(t *testing.T) {
	srcDir := t.TempDir()
	repo, err := git.PlainInit(srcDir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "t.txt"), []byte("Test"), 0o644))
	_, err = wt.Add("t.txt")
	require.NoError(t, err)
	_, err = wt.Commit("add t.txt", &git.CommitOptions{Author: sig(), Committer: sig()})
	require.NoError(t, err)

	meta := filepath.Join(t.TempDir(), ".wind")
	require.NoError(t, os.MkdirAll(meta, 0o755))
	store, err := backend.Open(meta)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	chunks, err := chunkstore.New(filepath.Join(meta, "chunks"))
	require.NoError(t, err)
	mapping, err := gitbridge.Open(filepath.Join(meta, "gitbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mapping.Close() })

	ctx := context.Background()
	importer := gitbridge.NewImporter(store, chunks, mapping)
	tip, err := importer.Import(ctx, srcDir, "refs/heads/master")
	require.NoError(t, err)

	dstDir := t.TempDir()
	exporter := gitbridge.NewExporter(store, chunks, mapping)
	require.NoError(t, exporter.Export(ctx, tip, dstDir, "refs/heads/master"))

	out, err := git.PlainOpen(dstDir)
	require.NoError(t, err)
	head, err := out.Reference(plumbing.ReferenceName("refs/heads/master"), true)
	require.NoError(t, err)
	commit, err := out.CommitObject(head.Hash())
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)
	entry, err := tree.FindEntry("t.txt")
	require.NoError(t, err)
	require.Equal(t, filemode.Regular, entry.Mode)

	file, err := tree.File("t.txt")
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	require.Equal(t, "Test", content)

	data, err := os.ReadFile(filepath.Join(dstDir, "t.txt"))
	require.NoError(t, err)
	require.Equal(t, "Test", string(data))
}
