// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package workingcopy_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/pathindex"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/workingcopy"
)

func newWC(t *testing.T) (*workingcopy.WorkingCopy, string) {
	t.Helper()
	root := t.TempDir()
	meta := filepath.Join(root, ".wind")
	require.NoError(t, os.MkdirAll(meta, 0o755))

	store, err := backend.Open(meta)
	require.NoError(t, err)
	chunks, err := chunkstore.New(filepath.Join(meta, "chunks"))
	require.NoError(t, err)
	index, err := pathindex.Open(filepath.Join(meta, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	return workingcopy.New(root, ".wind", store, chunks, index), root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func changesByKind(s *workingcopy.Status, k workingcopy.ChangeKind) []workingcopy.Change {
	var out []workingcopy.Change
	for _, c := range s.Changes {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

func TestScan_ReportsUntracked(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")

	status, err := wc.Scan()
	require.NoError(t, err)
	require.Len(t, status.Changes, 1)
	require.Equal(t, workingcopy.Untracked, status.Changes[0].Kind)
	require.Equal(t, "a.txt", status.Changes[0].Path)
}

func TestScan_CleanAfterAdd(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")

	_, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	status, err := wc.Scan()
	require.NoError(t, err)
	require.Empty(t, status.Changes)
}

func TestScan_ModifiedAfterContentChange(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")
	_, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "hello, world")
	status, err := wc.Scan()
	require.NoError(t, err)
	mods := changesByKind(status, workingcopy.Modified)
	require.Len(t, mods, 1)
	require.Equal(t, "a.txt", mods[0].Path)
}

func TestScan_DeletedAfterRemoval(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")
	_, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	status, err := wc.Scan()
	require.NoError(t, err)
	dels := changesByKind(status, workingcopy.Deleted)
	require.Len(t, dels, 1)
	require.Equal(t, "a.txt", dels[0].Path)
}

func TestScan_DetectsRenameByContent(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "same content")
	nid, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")))
	status, err := wc.Scan()
	require.NoError(t, err)

	renames := changesByKind(status, workingcopy.Renamed)
	require.Len(t, renames, 1)
	require.Equal(t, "a.txt", renames[0].OldPath)
	require.Equal(t, "b.txt", renames[0].Path)
	require.Equal(t, nid, renames[0].NodeID)
	require.Empty(t, changesByKind(status, workingcopy.Untracked))
	require.Empty(t, changesByKind(status, workingcopy.Deleted))
}

// Two candidate targets with identical content: the deleted path pairs with
// the candidate at the smallest edit distance, and the loser stays
// untracked.
func TestScan_RenameTieBreaksByEditDistance(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "report.txt", "identical bytes")
	nid, _, err := wc.AddFile("report.txt")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "report.txt")))
	writeFile(t, root, "report2.txt", "identical bytes")
	writeFile(t, root, "unrelated.txt", "identical bytes")

	status, err := wc.Scan()
	require.NoError(t, err)

	renames := changesByKind(status, workingcopy.Renamed)
	require.Len(t, renames, 1)
	require.Equal(t, "report.txt", renames[0].OldPath)
	require.Equal(t, "report2.txt", renames[0].Path)
	require.Equal(t, nid, renames[0].NodeID)

	untracked := changesByKind(status, workingcopy.Untracked)
	require.Len(t, untracked, 1)
	require.Equal(t, "unrelated.txt", untracked[0].Path)
	require.Empty(t, changesByKind(status, workingcopy.Deleted))
}

func TestScan_UntrackedDistinctFromModified(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "tracked.txt", "v1")
	_, _, err := wc.AddFile("tracked.txt")
	require.NoError(t, err)

	writeFile(t, root, "tracked.txt", "v2")
	writeFile(t, root, "new.txt", "brand new")

	status, err := wc.Scan()
	require.NoError(t, err)

	mods := changesByKind(status, workingcopy.Modified)
	require.Len(t, mods, 1)
	require.Equal(t, "tracked.txt", mods[0].Path)

	untracked := changesByKind(status, workingcopy.Untracked)
	require.Len(t, untracked, 1)
	require.Equal(t, "new.txt", untracked[0].Path)
}

func TestScan_TouchWithoutContentChangeIsClean(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")
	_, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	// Bump mtime without changing content: forces a rehash that should
	// find identical content and refresh the stat cache silently.
	future := filepath.Join(root, "a.txt")
	when := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(future, when, when))

	status, err := wc.Scan()
	require.NoError(t, err)
	require.Empty(t, status.Changes)
}

func TestRemoveFile_DropsIndexEntry(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, "a.txt", "hello")
	_, _, err := wc.AddFile("a.txt")
	require.NoError(t, err)

	require.NoError(t, wc.RemoveFile("a.txt"))

	status, err := wc.Scan()
	require.NoError(t, err)
	untracked := changesByKind(status, workingcopy.Untracked)
	require.Len(t, untracked, 1)
	require.Equal(t, "a.txt", untracked[0].Path)
}

func TestScan_HonorsWindIgnore(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, ".windignore", "ignored/\n*.log\n")
	writeFile(t, root, "ignored/secret.txt", "shh")
	writeFile(t, root, "app.log", "noisy")
	writeFile(t, root, "keep.txt", "kept")

	status, err := wc.Scan()
	require.NoError(t, err)

	var paths []string
	for _, c := range status.Changes {
		paths = append(paths, c.Path)
	}
	require.Contains(t, paths, "keep.txt")
	require.NotContains(t, paths, "app.log")
	require.NotContains(t, paths, "ignored/secret.txt")
}

func TestScan_NestedIgnoreCascades(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, ".windignore", "*.tmp\n")
	writeFile(t, root, "sub/.windignore", "local.txt\n")
	writeFile(t, root, "sub/local.txt", "skip me")
	writeFile(t, root, "sub/file.tmp", "skip me too")
	writeFile(t, root, "sub/keep.txt", "keep me")

	status, err := wc.Scan()
	require.NoError(t, err)

	var paths []string
	for _, c := range status.Changes {
		paths = append(paths, c.Path)
	}
	require.Contains(t, paths, "sub/keep.txt")
	require.NotContains(t, paths, "sub/local.txt")
	require.NotContains(t, paths, "sub/file.tmp")
}

func TestAddFile_RecursesIntoDirectory(t *testing.T) {
	wc, root := newWC(t)
	writeFile(t, root, ".windignore", "*.log\n")
	writeFile(t, root, "dir/a.txt", "alpha")
	writeFile(t, root, "dir/sub/b.txt", "beta")
	writeFile(t, root, "dir/noisy.log", "skip me")

	nid, id, err := wc.AddFile("dir")
	require.NoError(t, err)
	require.True(t, nid.IsNil())
	require.True(t, id.IsZero())

	status, err := wc.Scan()
	require.NoError(t, err)
	// Everything under dir is now tracked and clean; only the ignore file
	// itself is left untracked (noisy.log is ignored on both sides).
	untracked := changesByKind(status, workingcopy.Untracked)
	require.Len(t, untracked, 1)
	require.Equal(t, ".windignore", untracked[0].Path)
	require.Empty(t, changesByKind(status, workingcopy.Modified))
	require.Empty(t, changesByKind(status, workingcopy.Deleted))
}

func TestAddFile_ChunksLargeContent(t *testing.T) {
	wc, root := newWC(t)
	big := make([]byte, 600*1024)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644))

	nid, id, err := wc.AddFile("big.bin")
	require.NoError(t, err)
	require.False(t, nid.IsNil())
	require.False(t, id.IsZero())

	status, err := wc.Scan()
	require.NoError(t, err)
	require.Empty(t, status.Changes)
}
