// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/windvcs/wind/modules/oid"
)

// blobLayout discriminates the two wire forms a Blob can take: small files
// are stored inline, large ones as a list of chunk-store references so that
// unchanged regions across revisions are never re-written.
type blobLayout uint8

const (
	layoutInline  blobLayout = 0
	layoutChunked blobLayout = 1
)

// ChunkedThreshold is the content size at or above which the working copy
// and the git importer build a chunk list (NewChunkedBlob) instead of an
// inline Blob; NewBlob itself always stores its bytes inline.
const ChunkedThreshold = 512 * 1024

// Blob is the content of a single file, addressed by the OID of its magic
// header plus body. Small blobs carry their bytes inline; blobs at or above
// ChunkedThreshold carry the ordered list of chunk OIDs produced by
// modules/chunk instead, and the caller is responsible for having written
// those chunks to a chunk store before the Blob itself is persisted.
type Blob struct {
	Hash   oid.OID
	Data   []byte
	Chunks []oid.OID
}

func NewBlob(data []byte) *Blob {
	b := &Blob{Data: data}
	b.Hash = Hash(&rawBlob{layout: layoutInline, data: data})
	return b
}

// NewChunkedBlob builds a Blob that references pre-stored chunks rather than
// carrying the content inline.
func NewChunkedBlob(chunkOIDs []oid.OID) *Blob {
	b := &Blob{Chunks: chunkOIDs}
	b.Hash = Hash(&rawBlob{layout: layoutChunked, chunks: chunkOIDs})
	return b
}

func (b *Blob) IsChunked() bool { return len(b.Chunks) > 0 }

// rawBlob implements Encoder for a Blob's wire form: magic, one layout byte,
// then either (len uint64, raw bytes) or (count uint64, count*OID).
type rawBlob struct {
	layout blobLayout
	data   []byte
	chunks []oid.OID
}

func (b *rawBlob) Encode(w io.Writer) error {
	if _, err := w.Write(blobMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(b.layout)}); err != nil {
		return err
	}
	switch b.layout {
	case layoutInline:
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b.data)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := w.Write(b.data)
		return err
	case layoutChunked:
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b.chunks)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		for _, c := range b.chunks {
			if _, err := w.Write(c[:]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("object: unknown blob layout %d", b.layout)
	}
}

func (b *Blob) Encode(w io.Writer) error {
	if b.IsChunked() {
		return (&rawBlob{layout: layoutChunked, chunks: b.Chunks}).Encode(w)
	}
	return (&rawBlob{layout: layoutInline, data: b.Data}).Encode(w)
}

func decodeBlobBody(r io.Reader) (*Blob, error) {
	var layoutByte [1]byte
	if _, err := io.ReadFull(r, layoutByte[:]); err != nil {
		return nil, err
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	switch blobLayout(layoutByte[0]) {
	case layoutInline:
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		blob := &Blob{Data: data}
		blob.Hash = Hash(&rawBlob{layout: layoutInline, data: data})
		return blob, nil
	case layoutChunked:
		chunks := make([]oid.OID, n)
		for i := range chunks {
			if _, err := io.ReadFull(r, chunks[i][:]); err != nil {
				return nil, err
			}
		}
		blob := &Blob{Chunks: chunks}
		blob.Hash = Hash(&rawBlob{layout: layoutChunked, chunks: chunks})
		return blob, nil
	default:
		return nil, fmt.Errorf("object: unknown blob layout %d", layoutByte[0])
	}
}

// HashFrom computes the OID an inline Blob holding r's full contents would
// have, without materialising a Blob value.
func HashFrom(r io.Reader) (oid.OID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return oid.Zero, err
	}
	return Hash(&rawBlob{layout: layoutInline, data: data}), nil
}
