// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package refs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/refs"
)

func newStore(t *testing.T) *refs.Store {
	t.Helper()
	s := refs.NewStore(t.TempDir())
	require.NoError(t, s.Init())
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	head := oid.Of([]byte("initial"))
	b, err := s.Create("main", head)
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)
	require.Equal(t, "main", b.Name)
	require.Equal(t, head, b.Head)

	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
	require.Equal(t, "main", got.Name)
	require.Equal(t, head, got.Head)
}

func TestGet_Missing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get("does-not-exist")
	require.Error(t, err)
	require.True(t, refs.IsErrBranchNotFound(err))
}

func TestByName(t *testing.T) {
	s := newStore(t)
	head := oid.Of([]byte("x"))
	b, err := s.Create("feature", head)
	require.NoError(t, err)

	got, err := s.ByName("feature")
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)

	_, err = s.ByName("nope")
	require.Error(t, err)
	require.True(t, refs.IsErrBranchNotFound(err))
}

func TestList(t *testing.T) {
	s := newStore(t)
	_, err := s.Create("main", oid.Of([]byte("a")))
	require.NoError(t, err)
	_, err = s.Create("dev", oid.Of([]byte("b")))
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUpdateHead(t *testing.T) {
	s := newStore(t)
	b, err := s.Create("main", oid.Of([]byte("v1")))
	require.NoError(t, err)

	newHead := oid.Of([]byte("v2"))
	require.NoError(t, s.UpdateHead(b, newHead))

	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, newHead, got.Head)
}

func TestSetHEADAndHEAD(t *testing.T) {
	s := newStore(t)
	b, err := s.Create("main", oid.Of([]byte("v1")))
	require.NoError(t, err)

	require.NoError(t, s.SetHEAD(b.ID))
	got, err := s.HEAD()
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
	require.Equal(t, "main", got.Name)
}
