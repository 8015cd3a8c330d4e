// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package oid implements the 32-byte BLAKE3 content identifier used to
// address every object and chunk in the store.
package oid

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"

	"github.com/zeebo/blake3"
)

const (
	// DigestSize is the length in bytes of an OID.
	DigestSize = 32
	// HexSize is the length of the hex-encoded representation of an OID.
	HexSize = DigestSize * 2
	// ShortSize is the number of hex characters used by String's short form.
	ShortSize = 16
)

// OID is a content-addressed object identifier: the BLAKE3 digest of an
// object's canonical encoding.
type OID [DigestSize]byte

// Zero is the OID with all bytes zero; it never addresses a real object.
var Zero OID

// New decodes a 64-character hex string into an OID. Malformed input yields
// the zero OID; callers that must distinguish malformed input use NewEx.
func New(s string) OID {
	var o OID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != DigestSize {
		return Zero
	}
	copy(o[:], b)
	return o
}

// NewEx decodes a 64-character hex string into an OID, rejecting any input
// whose length isn't exactly HexSize or that contains non-hex characters.
func NewEx(s string) (OID, error) {
	if !ValidHex(s) {
		return Zero, fmt.Errorf("oid: %q is not a valid object id", s)
	}
	return New(s), nil
}

// ValidHex reports whether s is a well-formed 64-character hex OID.
func ValidHex(s string) bool {
	if len(s) != HexSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// FromBytes wraps a 32-byte digest that was computed elsewhere (e.g. by a
// streaming Hasher) as an OID.
func FromBytes(b []byte) OID {
	var o OID
	copy(o[:], b)
	return o
}

func (o OID) IsZero() bool {
	return o == Zero
}

func (o OID) String() string {
	return hex.EncodeToString(o[:])
}

// Short returns the first ShortSize hex characters, for display purposes.
func (o OID) Short() string {
	s := o.String()
	if len(s) < ShortSize {
		return s
	}
	return s[:ShortSize]
}

// FanOut splits the hex representation into the two-level directory
// layout: the first two characters name a directory, the remaining 62
// name the file within it.
func (o OID) FanOut() (dir, name string) {
	s := o.String()
	return s[:2], s[2:]
}

func (o OID) Compare(other OID) int {
	return bytes.Compare(o[:], other[:])
}

func (o OID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *OID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, _ := hex.DecodeString(s)
	copy(o[:], raw)
	return nil
}

func (o OID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OID) UnmarshalText(text []byte) error {
	raw, _ := hex.DecodeString(string(text))
	copy(o[:], raw)
	return nil
}

// Sort sorts a slice of OIDs in ascending byte order.
func Sort(a []OID) {
	sort.Sort(Slice(a))
}

// Slice attaches sort.Interface to []OID.
type Slice []OID

func (s Slice) Len() int           { return len(s) }
func (s Slice) Less(i, j int) bool { return bytes.Compare(s[i][:], s[j][:]) < 0 }
func (s Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Hasher streams bytes into a BLAKE3 digest and yields the resulting OID.
type Hasher struct {
	hash.Hash
}

func NewHasher() Hasher {
	return Hasher{Hash: blake3.New()}
}

func (h Hasher) Sum() OID {
	return FromBytes(h.Hash.Sum(nil))
}

// Of is a convenience wrapper computing the OID of an in-memory buffer.
func Of(b []byte) OID {
	h := NewHasher()
	_, _ = h.Write(b)
	return h.Sum()
}
