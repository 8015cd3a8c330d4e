// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package refs implements the Branch model and the HEAD
// pointer: a branch is {id, name, head changeset OID}, persisted one file
// per branch under "<meta>/refs/heads/<id>", addressed by a stable id
// rather than by name so a rename never invalidates anything pointing at
// the branch.
package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/windvcs/wind/modules/oid"
)

const headsDir = "refs/heads"

// ErrBranchNotFound is returned when a branch id or name has no ref file.
type ErrBranchNotFound struct{ Ref string }

func (e *ErrBranchNotFound) Error() string { return fmt.Sprintf("refs: branch %q not found", e.Ref) }

func IsErrBranchNotFound(err error) bool {
	_, ok := err.(*ErrBranchNotFound)
	return ok
}

// Branch is the persisted record at "refs/heads/<id>".
type Branch struct {
	ID   string  `toml:"id"`
	Name string  `toml:"name"`
	Head oid.OID `toml:"-"`
	// HeadHex mirrors Head in a TOML-friendly (string) form, since
	// BurntSushi/toml has no hook for oid.OID's own text marshalling; kept
	// in sync by syncHex before encoding and by parseBranch after decoding.
	HeadHex string `toml:"head"`
}

func newBranchID() string { return uuid.New().String() }

// NewBranch mints a fresh branch named name pointing at head.
func NewBranch(name string, head oid.OID) *Branch {
	return &Branch{ID: newBranchID(), Name: name, Head: head, HeadHex: head.String()}
}

func (b *Branch) syncHex() { b.HeadHex = b.Head.String() }

// Store manages the refs/heads/<id> files and the HEAD pointer under a
// repository's metadata directory.
type Store struct {
	root string // metadata directory root
}

func NewStore(metaDir string) *Store { return &Store{root: metaDir} }

func (s *Store) headsDir() string   { return filepath.Join(s.root, headsDir) }
func (s *Store) branchPath(id string) string {
	return filepath.Join(s.headsDir(), id)
}
func (s *Store) headPath() string { return filepath.Join(s.root, "HEAD") }

// Init creates the refs/heads directory if needed.
func (s *Store) Init() error {
	return os.MkdirAll(s.headsDir(), 0o755)
}

// Create persists a new branch and returns it.
func (s *Store) Create(name string, head oid.OID) (*Branch, error) {
	b := NewBranch(name, head)
	if err := s.write(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) write(b *Branch) error {
	b.syncHex()
	if err := os.MkdirAll(s.headsDir(), 0o755); err != nil {
		return fmt.Errorf("refs: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(s.headsDir(), "branch-tmp-*")
	if err != nil {
		return fmt.Errorf("refs: create temp: %w", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()
	enc := toml.NewEncoder(tmp)
	enc.Indent = ""
	if err := enc.Encode(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("refs: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.branchPath(b.ID)); err != nil {
		return fmt.Errorf("refs: rename into place: %w", err)
	}
	succeeded = true
	return nil
}

// Get loads the branch with the given id.
func (s *Store) Get(id string) (*Branch, error) {
	data, err := os.ReadFile(s.branchPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrBranchNotFound{Ref: id}
		}
		return nil, fmt.Errorf("refs: read %s: %w", id, err)
	}
	return parseBranch(id, data)
}

// ByName finds a branch by its user-facing name, scanning refs/heads.
func (s *Store) ByName(name string) (*Branch, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, &ErrBranchNotFound{Ref: name}
}

// List returns every branch under refs/heads.
func (s *Store) List() ([]*Branch, error) {
	entries, err := os.ReadDir(s.headsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("refs: list heads: %w", err)
	}
	var out []*Branch
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "branch-tmp-") {
			continue
		}
		b, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// UpdateHead moves b's head to newHead and persists it; callers append a
// reflog entry separately.
func (s *Store) UpdateHead(b *Branch, newHead oid.OID) error {
	b.Head = newHead
	return s.write(b)
}

// SetHEAD records the current branch id in the HEAD pointer file.
func (s *Store) SetHEAD(branchID string) error {
	tmp, err := os.CreateTemp(s.root, "HEAD-tmp-*")
	if err != nil {
		return fmt.Errorf("refs: create HEAD temp: %w", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.WriteString(branchID); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.headPath()); err != nil {
		return err
	}
	succeeded = true
	return nil
}

// HEAD returns the current branch.
func (s *Store) HEAD() (*Branch, error) {
	data, err := os.ReadFile(s.headPath())
	if err != nil {
		return nil, fmt.Errorf("refs: read HEAD: %w", err)
	}
	return s.Get(strings.TrimSpace(string(data)))
}

func parseBranch(id string, data []byte) (*Branch, error) {
	b := &Branch{ID: id}
	if _, err := toml.Decode(string(data), b); err != nil {
		return nil, fmt.Errorf("refs: decode %s: %w", id, err)
	}
	b.Head = oid.New(b.HeadHex)
	return b, nil
}
