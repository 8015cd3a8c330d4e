// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package merge_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/merge"
	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

func newStore(t *testing.T) *backend.Database {
	t.Helper()
	store, err := backend.Open(filepath.Join(t.TempDir(), ".wind"))
	require.NoError(t, err)
	return store
}

func blob(t *testing.T, store *backend.Database, content string) oid.OID {
	t.Helper()
	id, err := store.WriteObject(object.NewBlob([]byte(content)))
	require.NoError(t, err)
	return id
}

func sig() object.Signature {
	return object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0).UTC()}
}

// commit writes a manifest and changeset with the given parents and
// entries, returning the fully-resolved (backend-attached) Changeset.
func commit(t *testing.T, store *backend.Database, parents []oid.OID, entries map[string]object.Entry) *object.Changeset {
	t.Helper()
	m := object.NewManifest()
	for path, e := range entries {
		m.Set(path, e)
	}
	mOID, err := store.WriteObject(m)
	require.NoError(t, err)

	cs := object.NewChangeset()
	cs.Parents = parents
	cs.RootManifest = mOID
	cs.Message = "test commit"
	cs.Author = sig()
	csOID, err := store.WriteObject(cs)
	require.NoError(t, err)

	loaded, err := store.Changeset(context.Background(), csOID)
	require.NoError(t, err)
	return loaded
}

func TestMerge_CleanDisjointAdds(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nOurs := nodeid.NewEngine()
	nTheirs := nodeid.NewEngine()
	contentA := blob(t, store, "a")
	contentB := blob(t, store, "b")

	base := commit(t, store, nil, nil)
	ours := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{
		"a.txt": {NodeID: nOurs, OID: contentA, Permissions: 0o100644},
	})
	theirs := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{
		"b.txt": {NodeID: nTheirs, OID: contentB, Permissions: 0o100644},
	})

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.Equal(t, 2, result.Manifest.Len())

	e, ok := result.Manifest.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, contentA, e.OID)
	e, ok = result.Manifest.Get("b.txt")
	require.True(t, ok)
	require.Equal(t, contentB, e.OID)
}

func TestMerge_OursOnlyModified_TakesOurs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nid := nodeid.NewEngine()
	v1 := blob(t, store, "v1")
	v2 := blob(t, store, "v2")

	base := commit(t, store, nil, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v1, Permissions: 0o100644}})
	ours := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v2, Permissions: 0o100644}})
	theirs := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v1, Permissions: 0o100644}})

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.True(t, result.Clean())
	e, ok := result.Manifest.Get("f.txt")
	require.True(t, ok)
	require.Equal(t, v2, e.OID)
}

func TestMerge_TheirsOnlyModified_TakesTheirs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nid := nodeid.NewEngine()
	v1 := blob(t, store, "v1")
	v2 := blob(t, store, "v2")

	base := commit(t, store, nil, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v1, Permissions: 0o100644}})
	ours := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v1, Permissions: 0o100644}})
	theirs := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v2, Permissions: 0o100644}})

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.True(t, result.Clean())
	e, ok := result.Manifest.Get("f.txt")
	require.True(t, ok)
	require.Equal(t, v2, e.OID)
}

func TestMerge_BothModifiedDifferently_Conflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nid := nodeid.NewEngine()
	v1 := blob(t, store, "v1")
	v2 := blob(t, store, "ours-version")
	v3 := blob(t, store, "theirs-version")

	base := commit(t, store, nil, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v1, Permissions: 0o100644}})
	ours := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v2, Permissions: 0o100644}})
	theirs := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"f.txt": {NodeID: nid, OID: v3, Permissions: 0o100644}})

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.False(t, result.Clean())
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	require.Equal(t, nid, c.NodeID)
	require.Equal(t, "f.txt", c.Path)
	require.Equal(t, v2, c.OursOID)
	require.Equal(t, v3, c.TheirsOID)
}

func TestMerge_DivergentRename_SameContentDifferentPath_Conflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nid := nodeid.NewEngine()
	content := blob(t, store, "shared content")

	base := commit(t, store, nil, map[string]object.Entry{"orig.txt": {NodeID: nid, OID: content, Permissions: 0o100644}})
	ours := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"ours-name.txt": {NodeID: nid, OID: content, Permissions: 0o100644}})
	theirs := commit(t, store, []oid.OID{base.Hash()}, map[string]object.Entry{"theirs-name.txt": {NodeID: nid, OID: content, Permissions: 0o100644}})

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.False(t, result.Clean())
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	require.Equal(t, "ours-name.txt", c.OursPath)
	require.Equal(t, "theirs-name.txt", c.TheirsPath)
}

func TestMerge_DeleteBothSidesAgree_NoConflict(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nid := nodeid.NewEngine()
	content := blob(t, store, "gone soon")

	base := commit(t, store, nil, map[string]object.Entry{"f.txt": {NodeID: nid, OID: content, Permissions: 0o100644}})
	ours := commit(t, store, []oid.OID{base.Hash()}, nil)
	theirs := commit(t, store, []oid.OID{base.Hash()}, nil)

	result, err := merge.Merge(ctx, store, base, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.Equal(t, 0, result.Manifest.Len())
}

func TestMerge_RootMerge_NilBase(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	nOurs := nodeid.NewEngine()
	nTheirs := nodeid.NewEngine()
	contentA := blob(t, store, "a")
	contentB := blob(t, store, "b")

	ours := commit(t, store, nil, map[string]object.Entry{"a.txt": {NodeID: nOurs, OID: contentA, Permissions: 0o100644}})
	theirs := commit(t, store, nil, map[string]object.Entry{"b.txt": {NodeID: nTheirs, OID: contentB, Permissions: 0o100644}})

	result, err := merge.Merge(ctx, store, nil, ours, theirs, "merge", sig())
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.Equal(t, 2, result.Manifest.Len())
}

func TestFindMergeBase_DirectAncestor(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := commit(t, store, nil, nil)
	child := commit(t, store, []oid.OID{base.Hash()}, nil)

	found, ok, err := merge.FindMergeBase(ctx, base, child)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Hash(), found.Hash())
}

func TestFindMergeBase_NoSharedHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Two roots with different content: two empty roots would encode to the
	// same changeset and therefore the same OID.
	a := commit(t, store, nil, nil)
	b := commit(t, store, nil, map[string]object.Entry{
		"b.txt": {NodeID: nodeid.NewEngine(), OID: blob(t, store, "b"), Permissions: 0o100644},
	})

	_, ok, err := merge.FindMergeBase(ctx, a, b)
	require.NoError(t, err)
	require.False(t, ok)
}
