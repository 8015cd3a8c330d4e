// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore implements the on-disk chunk store:
// zstd-compressed chunk bodies addressed by OID under a two-level fan-out
// directory, with a process-local existence cache short-circuiting repeat
// writes of the same chunk.
package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/modules/chunk"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/streamio"
)

// Store persists chunks under root/xx/yyyy… as zstd-compressed blobs.
type Store struct {
	root string
	log  *logrus.Entry

	mu   sync.RWMutex
	seen map[oid.OID]struct{}
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create root: %w", err)
	}
	return &Store{
		root: root,
		log:  logrus.WithField("component", "chunkstore"),
		seen: make(map[oid.OID]struct{}),
	}, nil
}

func (s *Store) path(o oid.OID) string {
	dir, name := o.FanOut()
	return filepath.Join(s.root, dir, name)
}

// HasChunk reports whether the chunk is already stored, checking the
// process-local set before falling back to a filesystem stat.
func (s *Store) HasChunk(o oid.OID) bool {
	s.mu.RLock()
	_, ok := s.seen[o]
	s.mu.RUnlock()
	if ok {
		return true
	}
	if _, err := os.Stat(s.path(o)); err == nil {
		s.mu.Lock()
		s.seen[o] = struct{}{}
		s.mu.Unlock()
		return true
	}
	return false
}

// WriteChunk stores c idempotently: if the chunk already exists, nothing is
// written.
func (s *Store) WriteChunk(c chunk.Chunk) error {
	if s.HasChunk(c.OID) {
		return nil
	}
	dir, _ := c.OID.FanOut()
	fullDir := filepath.Join(s.root, dir)
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return fmt.Errorf("chunkstore: mkdir %s: %w", fullDir, err)
	}
	tmp, err := os.CreateTemp(fullDir, "incoming-*")
	if err != nil {
		return fmt.Errorf("chunkstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()

	zw := streamio.GetZstdWriter(tmp)
	if _, err := zw.Write(c.Data); err != nil {
		streamio.PutZstdWriter(zw)
		_ = tmp.Close()
		return fmt.Errorf("chunkstore: compress chunk %s: %w", c.OID, err)
	}
	streamio.PutZstdWriter(zw)
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("chunkstore: close temp: %w", err)
	}
	dest := s.path(c.OID)
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("chunkstore: rename into place: %w", err)
	}
	succeeded = true
	s.mu.Lock()
	s.seen[c.OID] = struct{}{}
	s.mu.Unlock()
	s.log.WithField("oid", c.OID.Short()).Debug("wrote chunk")
	return nil
}

// ReadChunk returns the decompressed bytes of the chunk addressed by o.
func (s *Store) ReadChunk(o oid.OID) ([]byte, error) {
	f, err := os.Open(s.path(o))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oid.NoSuchObject(o)
		}
		return nil, fmt.Errorf("chunkstore: open %s: %w", o, err)
	}
	defer f.Close()
	zr, err := streamio.GetZstdReader(f)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: new zstd reader: %w", err)
	}
	defer streamio.PutZstdReader(zr)
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: decompress %s: %w", o, err)
	}
	return data, nil
}
