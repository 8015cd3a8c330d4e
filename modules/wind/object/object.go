// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package object implements the three typed records persisted in the object
// store: Blob, Manifest and Changeset. Each is addressed
// by the BLAKE3 digest of its own canonical encoding (magic bytes included),
// not of its payload alone.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/windvcs/wind/modules/oid"
)

// ErrUnsupportedObject is returned by Decode when the magic bytes at the
// start of a stream don't match any known object type.
var ErrUnsupportedObject = errors.New("object: unsupported object type")

type Type int8

const (
	InvalidType   Type = 0
	BlobType      Type = 1
	ManifestType  Type = 2
	ChangesetType Type = 3
)

func (t Type) String() string {
	switch t {
	case BlobType:
		return "blob"
	case ManifestType:
		return "manifest"
	case ChangesetType:
		return "changeset"
	default:
		return "invalid"
	}
}

var (
	blobMagic      = [4]byte{'W', 'B', 0x00, 0x01}
	manifestMagic  = [4]byte{'W', 'M', 0x00, 0x01}
	changesetMagic = [4]byte{'W', 'C', 0x00, 0x01}
)

// Backend resolves an OID to the fully decoded object behind it; it is
// implemented by the object store so that Manifest/Changeset lookups that
// need to chase a reference (e.g. a changeset's parent) can do so lazily.
type Backend interface {
	Manifest(ctx context.Context, o oid.OID) (*Manifest, error)
	Changeset(ctx context.Context, o oid.OID) (*Changeset, error)
	Blob(ctx context.Context, o oid.OID) (*Blob, error)
}

// Encoder produces the canonical on-disk form of an object, magic bytes
// included. Hash(e) is always the object's OID.
type Encoder interface {
	Encode(w io.Writer) error
}

// Hash computes the OID an Encoder would be stored under.
func Hash(e Encoder) oid.OID {
	h := oid.NewHasher()
	if err := e.Encode(h); err != nil {
		return oid.Zero
	}
	return h.Sum()
}

// Decode reads a typed object from r (its object-store bytes, already
// decompressed) and dispatches on its magic prefix.
func Decode(r io.Reader, id oid.OID, b Backend) (any, Type, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, InvalidType, err
	}
	switch {
	case bytes.Equal(magic[:], manifestMagic[:]):
		m := &Manifest{hash: id, b: b}
		if err := m.decodeBody(r); err != nil {
			return nil, InvalidType, err
		}
		return m, ManifestType, nil
	case bytes.Equal(magic[:], changesetMagic[:]):
		c := &Changeset{hash: id, b: b}
		if err := c.decodeBody(r); err != nil {
			return nil, InvalidType, err
		}
		return c, ChangesetType, nil
	case bytes.Equal(magic[:], blobMagic[:]):
		blob, err := decodeBlobBody(r)
		return blob, BlobType, err
	default:
		return nil, InvalidType, fmt.Errorf("%w: magic %x", ErrUnsupportedObject, magic)
	}
}
