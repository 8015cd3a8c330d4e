// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nodeid implements the stable per-file identity (NodeID) that
// survives renames, moves and content rewrites.
//
// A NodeID is either engine-assigned (a type-4 UUID, minted by the working
// copy when it discovers a new path) or bridge-assigned (an unsigned 64-bit
// counter, minted by the git importer so that imported history gets compact,
// monotonically increasing identities). Both forms round-trip through the
// same opaque string representation so the rest of the engine never needs to
// know which side minted a given id.
package nodeid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeID is an opaque, comparable, per-repository-unique file identity.
type NodeID struct {
	raw string
}

// Nil is the zero value; it never identifies a real file.
var Nil NodeID

const counterPrefix = "n:"

// NewEngine mints a fresh engine-assigned NodeID (a type-4 UUID), used by the
// working copy when it discovers an untracked path.
func NewEngine() NodeID {
	return NodeID{raw: uuid.New().String()}
}

// FromCounter wraps a bridge-assigned 64-bit counter value as a NodeID, used
// by the git importer when it allocates the next id for a newly added path.
func FromCounter(n uint64) NodeID {
	return NodeID{raw: counterPrefix + strconv.FormatUint(n, 10)}
}

// Parse recovers a NodeID from its opaque string form, as persisted in the
// path index or the bridge mapping database.
func Parse(s string) (NodeID, error) {
	if s == "" {
		return Nil, fmt.Errorf("nodeid: empty id")
	}
	if strings.HasPrefix(s, counterPrefix) {
		if _, err := strconv.ParseUint(s[len(counterPrefix):], 10, 64); err != nil {
			return Nil, fmt.Errorf("nodeid: malformed counter id %q: %w", s, err)
		}
		return NodeID{raw: s}, nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return Nil, fmt.Errorf("nodeid: malformed id %q: %w", s, err)
	}
	return NodeID{raw: s}, nil
}

func (n NodeID) String() string { return n.raw }

func (n NodeID) IsNil() bool { return n.raw == "" }

// IsCounter reports whether n was minted by the git bridge's counter rather
// than as an engine UUID.
func (n NodeID) IsCounter() bool {
	return strings.HasPrefix(n.raw, counterPrefix)
}

func (n NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.raw)
}

func (n *NodeID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*n = Nil
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
