// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

func newDatabase(t *testing.T) *backend.Database {
	t.Helper()
	db, err := backend.Open(filepath.Join(t.TempDir(), ".wind"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestWriteReadBlobRoundTrip(t *testing.T) {
	db := newDatabase(t)
	id, err := db.WriteObject(object.NewBlob([]byte("hello backend")))
	require.NoError(t, err)
	require.False(t, id.IsZero())

	blob, err := db.Blob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello backend"), blob.Data)
}

func TestWriteObject_IdempotentSameContent(t *testing.T) {
	db := newDatabase(t)
	id1, err := db.WriteObject(object.NewBlob([]byte("same")))
	require.NoError(t, err)
	id2, err := db.WriteObject(object.NewBlob([]byte("same")))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestHasObject(t *testing.T) {
	db := newDatabase(t)
	require.False(t, db.HasObject(oid.Of([]byte("never written"))))
	id, err := db.WriteObject(object.NewBlob([]byte("present")))
	require.NoError(t, err)
	require.True(t, db.HasObject(id))
}

func TestReadObject_MissingErrors(t *testing.T) {
	db := newDatabase(t)
	_, _, err := db.ReadObject(oid.Of([]byte("nope")))
	require.Error(t, err)
}

func TestSearch_ResolvesByPrefix(t *testing.T) {
	db := newDatabase(t)
	id, err := db.WriteObject(object.NewBlob([]byte("findme")))
	require.NoError(t, err)

	matches, err := db.Search(id.String()[:8])
	require.NoError(t, err)
	require.Contains(t, matches, id)
}

func TestSearch_NoMatchReturnsEmpty(t *testing.T) {
	db := newDatabase(t)
	matches, err := db.Search("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestPack_MovesLooseObjectsIntoPackIndex(t *testing.T) {
	db := newDatabase(t)
	ids := make([]oid.OID, 0, 3)
	for _, s := range []string{"one", "two", "three"} {
		id, err := db.WriteObject(object.NewBlob([]byte(s)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	name, err := db.Pack(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, name)

	for _, id := range ids {
		require.True(t, db.HasObject(id))
		blob, err := db.Blob(context.Background(), id)
		require.NoError(t, err)
		require.NotEmpty(t, blob.Data)
	}
}

func TestPack_NoLooseObjectsIsNoop(t *testing.T) {
	db := newDatabase(t)
	name, err := db.Pack(context.Background())
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestManifestAndChangesetRoundTrip(t *testing.T) {
	db := newDatabase(t)
	m := object.NewManifest()
	mOID, err := db.WriteObject(m)
	require.NoError(t, err)

	got, err := db.Manifest(context.Background(), mOID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Len())

	cs := object.NewChangeset()
	cs.RootManifest = mOID
	cs.Message = "root"
	csOID, err := db.WriteObject(cs)
	require.NoError(t, err)

	loaded, err := db.Changeset(context.Background(), csOID)
	require.NoError(t, err)
	require.Equal(t, "root", loaded.Message)
	require.True(t, loaded.IsRoot())
}
