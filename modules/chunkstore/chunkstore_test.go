// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package chunkstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/chunk"
	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/oid"
)

func newChunk(data []byte) chunk.Chunk {
	return chunk.Chunk{OID: oid.Of(data), Data: data, Length: len(data)}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	c := newChunk([]byte("hello content-defined world"))
	require.NoError(t, store.WriteChunk(c))

	got, err := store.ReadChunk(c.OID)
	require.NoError(t, err)
	require.Equal(t, c.Data, got)
}

func TestHasChunk(t *testing.T) {
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	c := newChunk([]byte("present"))
	require.False(t, store.HasChunk(c.OID))
	require.NoError(t, store.WriteChunk(c))
	require.True(t, store.HasChunk(c.OID))
}

func TestWriteChunk_IdempotentOnSecondWrite(t *testing.T) {
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	c := newChunk([]byte("same chunk twice"))
	require.NoError(t, store.WriteChunk(c))
	require.NoError(t, store.WriteChunk(c))

	got, err := store.ReadChunk(c.OID)
	require.NoError(t, err)
	require.Equal(t, c.Data, got)
}

func TestReadChunk_MissingReturnsNoSuchObject(t *testing.T) {
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	_, err = store.ReadChunk(oid.Of([]byte("never written")))
	require.Error(t, err)
	require.True(t, oid.IsNoSuchObject(err))
}

func TestWriteChunk_EmptyData(t *testing.T) {
	store, err := chunkstore.New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	c := newChunk(nil)
	require.NoError(t, store.WriteChunk(c))
	got, err := store.ReadChunk(c.OID)
	require.NoError(t, err)
	require.Empty(t, got)
}
