// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pathindex_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/pathindex"
)

func open(t *testing.T) *pathindex.Index {
	t.Helper()
	ix, err := pathindex.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestUpsertAndLookup(t *testing.T) {
	ix := open(t)
	nid := nodeid.NewEngine()
	id := oid.Of([]byte("content"))

	require.NoError(t, ix.Upsert("a.txt", nid, id, 100, 7, 0o644))

	e, ok, err := ix.Lookup("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nid, e.NodeID())
	require.Equal(t, id, e.OID())
	require.EqualValues(t, 100, e.Mtime)
	require.EqualValues(t, 7, e.Size)
	require.EqualValues(t, 0o644, e.Permissions)
}

func TestLookup_Missing(t *testing.T) {
	ix := open(t)
	_, ok, err := ix.Lookup("nope.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsert_OverwritesOnSamePath(t *testing.T) {
	ix := open(t)
	nid := nodeid.NewEngine()
	id1 := oid.Of([]byte("v1"))
	id2 := oid.Of([]byte("v2"))

	require.NoError(t, ix.Upsert("a.txt", nid, id1, 1, 1, 0o644))
	require.NoError(t, ix.Upsert("a.txt", nid, id2, 2, 2, 0o644))

	e, ok, err := ix.Lookup("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id2, e.OID())
	require.EqualValues(t, 2, e.Mtime)
}

func TestRemove(t *testing.T) {
	ix := open(t)
	nid := nodeid.NewEngine()
	require.NoError(t, ix.Upsert("a.txt", nid, oid.Of([]byte("x")), 1, 1, 0o644))
	require.NoError(t, ix.Remove("a.txt"))

	_, ok, err := ix.Lookup("a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLookupByNodeID(t *testing.T) {
	ix := open(t)
	nid := nodeid.NewEngine()
	require.NoError(t, ix.Upsert("a.txt", nid, oid.Of([]byte("a")), 1, 1, 0o644))

	entries, err := ix.LookupByNodeID(nid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Path)
}

func TestListAll(t *testing.T) {
	ix := open(t)
	require.NoError(t, ix.Upsert("a.txt", nodeid.NewEngine(), oid.Of([]byte("a")), 1, 1, 0o644))
	require.NoError(t, ix.Upsert("b.txt", nodeid.NewEngine(), oid.Of([]byte("b")), 1, 1, 0o644))

	all, err := ix.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestClear(t *testing.T) {
	ix := open(t)
	require.NoError(t, ix.Upsert("a.txt", nodeid.NewEngine(), oid.Of([]byte("a")), 1, 1, 0o644))
	require.NoError(t, ix.Clear())

	all, err := ix.ListAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	ix, err := pathindex.Open(path)
	require.NoError(t, err)
	nid := nodeid.NewEngine()
	require.NoError(t, ix.Upsert("a.txt", nid, oid.Of([]byte("a")), 1, 1, 0o644))
	require.NoError(t, ix.Close())

	reopened, err := pathindex.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	e, ok, err := reopened.Lookup("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nid, e.NodeID())
}
