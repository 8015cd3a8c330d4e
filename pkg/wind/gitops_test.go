// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package wind_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// A native Git repository with one commit adding t.txt can be imported
// into an engine repository and exported back out, reproducing the same
// file under a fresh Git ref.
func TestImportExportGit(t *testing.T) {
	gitDir := t.TempDir()
	gitRepo, err := git.PlainInit(gitDir, false)
	require.NoError(t, err)
	wt, err := gitRepo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "t.txt"), []byte("Test"), 0o644))
	_, err = wt.Add("t.txt")
	require.NoError(t, err)
	sig := &gitobject.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0)}
	_, err = wt.Commit("add t.txt", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	r, _ := initRepo(t)
	ctx := context.Background()
	tip, err := r.ImportGit(ctx, gitDir, "refs/heads/master", "imported")
	require.NoError(t, err)
	require.False(t, tip.IsZero())

	exportDir := t.TempDir()
	require.NoError(t, r.ExportGit(ctx, "imported", exportDir, "refs/heads/master"))

	data, err := os.ReadFile(filepath.Join(exportDir, "t.txt"))
	require.NoError(t, err)
	require.Equal(t, "Test", string(data))
}
