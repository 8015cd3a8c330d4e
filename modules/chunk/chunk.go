// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package chunk implements content-defined chunking of file contents, so
// that a small edit inside a large file only invalidates the
// chunks around the edit instead of the whole file.
//
// The boundary function follows the FastCDC family: a rolling hash is fed
// one byte at a time and a chunk boundary is declared once the hash matches
// a zero mask, subject to the configured min/avg/max bounds. The rolling
// hash itself is github.com/kch42/buzhash's cyclic polynomial hash, which is
// cheap to update byte-by-byte and does not need to rehash the whole window
// on each step.
package chunk

import (
	"math/bits"

	"github.com/kch42/buzhash"
	"github.com/windvcs/wind/modules/oid"
)

const (
	DefaultMin = 4 * 1024
	DefaultAvg = 64 * 1024
	DefaultMax = 256 * 1024

	// windowSize is the number of trailing bytes the rolling hash considers
	// when deciding a boundary.
	windowSize = 64
)

// Chunk is one content-defined slice of a larger buffer.
type Chunk struct {
	OID    oid.OID
	Data   []byte
	Offset int64
	Length int
}

// Chunker splits byte buffers into chunks whose lengths lie in [Min, Max],
// averaging around Avg. The zero value uses the package defaults.
type Chunker struct {
	Min, Avg, Max int

	maskLow  uint32
	maskHigh uint32
}

// New constructs a Chunker with explicit bounds. Passing 0 for any bound
// substitutes the package default.
func New(min, avg, max int) *Chunker {
	if min <= 0 {
		min = DefaultMin
	}
	if avg <= 0 {
		avg = DefaultAvg
	}
	if max <= 0 {
		max = DefaultMax
	}
	c := &Chunker{Min: min, Avg: avg, Max: max}
	bits := bits.Len(uint(avg)) - 1
	if bits < 1 {
		bits = 1
	}
	// maskLow is used before the average size is reached (more bits, so
	// harder to satisfy, biasing toward longer chunks); maskHigh after
	// (fewer bits, so easier to satisfy, biasing toward shorter chunks).
	// This is the standard
	// FastCDC "normalized chunking" trick to tighten the size
	// distribution around Avg.
	c.maskLow = uint32(1)<<uint(bits+1) - 1
	c.maskHigh = uint32(1)<<uint(bits-1) - 1
	return c
}

// Split runs content-defined chunking over buf and returns the resulting
// chunks in order. For identical input bytes the returned sequence of
// (oid, offset, length) is identical regardless of call site. An empty
// buffer yields an empty slice.
func (c *Chunker) Split(buf []byte) []Chunk {
	if len(buf) == 0 {
		return nil
	}
	var chunks []Chunk
	start := 0
	for start < len(buf) {
		end := c.nextBoundary(buf, start)
		chunks = append(chunks, c.makeChunk(buf, start, end))
		start = end
	}
	return chunks
}

func (c *Chunker) makeChunk(buf []byte, start, end int) Chunk {
	data := buf[start:end]
	return Chunk{
		OID:    oid.Of(data),
		Data:   data,
		Offset: int64(start),
		Length: len(data),
	}
}

// nextBoundary returns the end offset (exclusive) of the chunk starting at
// start, scanning buf[start:] for the first position satisfying the rolling
// hash's boundary condition, never before Min bytes nor after Max.
func (c *Chunker) nextBoundary(buf []byte, start int) int {
	remaining := len(buf) - start
	if remaining <= c.Min {
		return len(buf)
	}
	max := c.Max
	if remaining < max {
		max = remaining
	}

	h := buzhash.NewBuzHash(uint32(windowSize))
	// Prime the hash window over the minimum run without testing for a
	// boundary; FastCDC never declares a chunk shorter than Min.
	primed := c.Min
	if primed > max {
		primed = max
	}
	for i := 0; i < primed; i++ {
		h.HashByte(buf[start+i])
	}
	for i := primed; i < max; i++ {
		sum := h.HashByte(buf[start+i])
		mask := c.maskHigh
		if i < c.Avg {
			mask = c.maskLow
		}
		if sum&mask == 0 {
			return start + i + 1
		}
	}
	return start + max
}
