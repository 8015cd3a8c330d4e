// Copyright (c) 2017- GitHub, Inc. and Git LFS contributors
// SPDX-License-Identifier: MIT

// Package pack implements the immutable packfile + index format: a pack
// is a sequence of zstd-compressed objects concatenated in
// write order, with a sibling index mapping OID to pack offset and length
// via a 256-entry fanout table and binary search.
package pack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/windvcs/wind/modules/oid"
)

var (
	packMagic  = [4]byte{'P', 'A', 'C', 'K'}
	indexMagic = [4]byte{0xff, 0x74, 0x4f, 0x63}
)

const (
	PackVersion  uint32 = 1
	IndexVersion uint32 = 1

	headerWidth = 8 // magic(4) + version(4)

	fanoutEntries = 256
	fanoutWidth   = fanoutEntries * 4

	offsetWidth = 8
	lengthWidth = 4
)

var (
	errNotFound       = errors.New("pack: object not found in index")
	errBadPackHeader  = errors.New("pack: bad pack header")
	errBadIndexHeader = errors.New("pack: bad index header")
)

// UnsupportedVersionErr indicates an index or pack whose version this
// package doesn't know how to decode.
type UnsupportedVersionErr struct{ Got uint32 }

func (u *UnsupportedVersionErr) Error() string {
	return fmt.Sprintf("pack: unsupported version: %d", u.Got)
}

// IsNotFound reports whether err is the "object absent from this index"
// sentinel, as opposed to a read/format error.
func IsNotFound(err error) bool { return errors.Is(err, errNotFound) }

// Entry describes one object as written into a pack: its OID, the byte
// offset of its (already compressed) body within the pack, and that body's
// length.
type Entry struct {
	OID    oid.OID
	Offset int64
	Length int64
}

// Writer accumulates entries into a single pack file plus its sibling
// index. Pack and index names are derived from the content hash of the
// concatenated pack payload, so Finish must be called after all
// entries are added.
type Writer struct {
	dir     string
	buf     *bytes.Buffer
	entries []Entry
}

// NewWriter begins a new pack rooted at dir (typically "<meta>/packs").
func NewWriter(dir string) *Writer {
	buf := &bytes.Buffer{}
	buf.Write(packMagic[:])
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], PackVersion)
	buf.Write(v[:])
	return &Writer{dir: dir, buf: buf}
}

// Add appends a single already-compressed object body to the pack and
// records its entry. body is written verbatim; callers are responsible for
// having zstd-compressed it beforehand (the pack format doesn't compress a
// second time).
func (w *Writer) Add(id oid.OID, body []byte) {
	offset := int64(w.buf.Len())
	w.buf.Write(body)
	w.entries = append(w.entries, Entry{OID: id, Offset: offset, Length: int64(len(body))})
}

// Len reports how many entries have been added so far.
func (w *Writer) Len() int { return len(w.entries) }

// Finish writes the pack and index files to disk and returns the hex
// content hash used to name both ("pack-<hex>.pack"/".idx"). Packs are
// immutable once Finish returns.
func (w *Writer) Finish() (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("pack: mkdir %s: %w", w.dir, err)
	}
	sum := oid.Of(w.buf.Bytes())
	name := sum.String()
	packPath := filepath.Join(w.dir, "pack-"+name+".pack")
	idxPath := filepath.Join(w.dir, "pack-"+name+".idx")

	if err := writeFileAtomic(w.dir, packPath, w.buf.Bytes()); err != nil {
		return "", err
	}
	idxBytes, err := buildIndex(w.entries)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(w.dir, idxPath, idxBytes); err != nil {
		return "", err
	}
	return name, nil
}

func writeFileAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "pack-tmp-*")
	if err != nil {
		return fmt.Errorf("pack: create temp: %w", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()
	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("pack: write %s: %w", tmpName, err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("pack: rename into place: %w", err)
	}
	succeeded = true
	return nil
}

// buildIndex serialises entries (sorted by OID ascending) into the on-disk
// index layout:
//
//	magic(4) version(4) fanout[256](4 each)
//	oid[n](32 each) offset[n](8 each) length[n](4 each)
//
// fanout[b] holds the number of entries whose OID's first byte is <= b,
// giving Lookup a binary-search window without scanning the whole table.
func buildIndex(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OID.Compare(sorted[j].OID) < 0 })

	var fanout [fanoutEntries]uint32
	for _, e := range sorted {
		b := e.OID[0]
		for i := int(b); i < fanoutEntries; i++ {
			fanout[i]++
		}
	}

	buf := &bytes.Buffer{}
	buf.Write(indexMagic[:])
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], IndexVersion)
	buf.Write(v[:])
	for _, f := range fanout {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], f)
		buf.Write(b[:])
	}
	for _, e := range sorted {
		buf.Write(e.OID[:])
	}
	for _, e := range sorted {
		var b [offsetWidth]byte
		binary.BigEndian.PutUint64(b[:], uint64(e.Offset))
		buf.Write(b[:])
	}
	for _, e := range sorted {
		var b [lengthWidth]byte
		binary.BigEndian.PutUint32(b[:], uint32(e.Length))
		buf.Write(b[:])
	}
	return buf.Bytes(), nil
}

// Index is a read-only, fully-buffered view of a pack index file.
type Index struct {
	PackPath string

	fanout [fanoutEntries]uint32
	total  int64
	oids   []byte // total*32
	offs   []byte // total*8
	lens   []byte // total*4
}

// OpenIndex loads idxPath into memory and binds it to packPath for reads.
func OpenIndex(idxPath, packPath string) (*Index, error) {
	data, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, fmt.Errorf("pack: read index %s: %w", idxPath, err)
	}
	if len(data) < headerWidth+fanoutWidth {
		return nil, errBadIndexHeader
	}
	if !bytes.Equal(data[:4], indexMagic[:]) {
		return nil, errBadIndexHeader
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != IndexVersion {
		return nil, &UnsupportedVersionErr{Got: version}
	}
	idx := &Index{PackPath: packPath}
	off := headerWidth
	for i := 0; i < fanoutEntries; i++ {
		idx.fanout[i] = binary.BigEndian.Uint32(data[off : off+4])
		off += 4
	}
	idx.total = int64(idx.fanout[fanoutEntries-1])
	oidsEnd := off + int(idx.total)*oid.DigestSize
	offsEnd := oidsEnd + int(idx.total)*offsetWidth
	lensEnd := offsEnd + int(idx.total)*lengthWidth
	if len(data) < lensEnd {
		return nil, errBadIndexHeader
	}
	idx.oids = data[off:oidsEnd]
	idx.offs = data[oidsEnd:offsEnd]
	idx.lens = data[offsEnd:lensEnd]
	return idx, nil
}

// Lookup returns the offset and length recorded for o, or IsNotFound(err)
// if o isn't present in this index.
func (idx *Index) Lookup(o oid.OID) (Entry, error) {
	var lo int64
	if o[0] > 0 {
		lo = int64(idx.fanout[o[0]-1])
	}
	hi := int64(idx.fanout[o[0]])
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(idx.oidAt(mid), o[:])
		switch {
		case cmp == 0:
			return Entry{
				OID:    o,
				Offset: int64(binary.BigEndian.Uint64(idx.offs[mid*offsetWidth : mid*offsetWidth+offsetWidth])),
				Length: int64(binary.BigEndian.Uint32(idx.lens[mid*lengthWidth : mid*lengthWidth+lengthWidth])),
			}, nil
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Entry{}, errNotFound
}

func (idx *Index) oidAt(i int64) []byte {
	return idx.oids[i*oid.DigestSize : (i+1)*oid.DigestSize]
}

// Entries returns every entry recorded in the index, in ascending OID order.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, idx.total)
	for i := int64(0); i < idx.total; i++ {
		out[i] = Entry{
			OID:    oid.FromBytes(idx.oidAt(i)),
			Offset: int64(binary.BigEndian.Uint64(idx.offs[i*offsetWidth : i*offsetWidth+offsetWidth])),
			Length: int64(binary.BigEndian.Uint32(idx.lens[i*lengthWidth : i*lengthWidth+lengthWidth])),
		}
	}
	return out
}

// ReadAt returns the raw (still compressed) body recorded at e within this
// index's pack file.
func (idx *Index) ReadAt(e Entry) ([]byte, error) {
	f, err := os.Open(idx.PackPath)
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", idx.PackPath, err)
	}
	defer f.Close()
	buf := make([]byte, e.Length)
	if _, err := f.ReadAt(buf, e.Offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("pack: read %s at %d: %w", idx.PackPath, e.Offset, err)
	}
	return buf, nil
}

// VerifyPackHeader sanity-checks a pack file's leading magic/version,
// surfacing errBadPackHeader rather than a confusing decode failure
// further downstream.
func VerifyPackHeader(r io.Reader) error {
	var hdr [headerWidth]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", errBadPackHeader, err)
	}
	if !bytes.Equal(hdr[:4], packMagic[:]) {
		return errBadPackHeader
	}
	version := binary.BigEndian.Uint32(hdr[4:8])
	if version != PackVersion {
		return &UnsupportedVersionErr{Got: version}
	}
	return nil
}
