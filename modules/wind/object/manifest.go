// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
)

// Entry is one row of a Manifest: the state of a single NodeID at a path.
type Entry struct {
	NodeID      nodeid.NodeID
	OID         oid.OID
	Permissions uint32
}

// IsExecutable reports whether any execute bit is set, the condition the
// exporter uses to choose Git mode 100755 over 100644.
func (e Entry) IsExecutable() bool {
	return e.Permissions&0o111 != 0
}

// Manifest is the ordered mapping path → Entry that a changeset's
// root_manifest_oid addresses. Entries always serialise in ascending
// lexicographic path order so that two manifests with the same contents
// produce the same OID.
type Manifest struct {
	hash oid.OID
	tm   *treemap.Map // string path -> Entry
	b    Backend
}

func NewManifest() *Manifest {
	return &Manifest{tm: treemap.NewWithStringComparator()}
}

// Hash returns the manifest's OID if it has already been written to the
// object store (zero otherwise; callers should write before relying on it).
func (m *Manifest) Hash() oid.OID { return m.hash }

func (m *Manifest) Set(path string, e Entry) {
	if m.tm == nil {
		m.tm = treemap.NewWithStringComparator()
	}
	m.tm.Put(path, e)
}

func (m *Manifest) Remove(path string) {
	if m.tm == nil {
		return
	}
	m.tm.Remove(path)
}

func (m *Manifest) Get(path string) (Entry, bool) {
	if m.tm == nil {
		return Entry{}, false
	}
	v, ok := m.tm.Get(path)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (m *Manifest) Len() int {
	if m.tm == nil {
		return 0
	}
	return m.tm.Size()
}

// Paths returns every path in ascending order.
func (m *Manifest) Paths() []string {
	if m.tm == nil {
		return nil
	}
	keys := m.tm.Keys()
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, k.(string))
	}
	sort.Strings(paths)
	return paths
}

// ForEach visits every (path, entry) pair in ascending path order.
func (m *Manifest) ForEach(fn func(path string, e Entry) error) error {
	for _, path := range m.Paths() {
		e, _ := m.Get(path)
		if err := fn(path, e); err != nil {
			return err
		}
	}
	return nil
}

// NodeIDs returns the set of NodeIDs present in the manifest.
func (m *Manifest) NodeIDs() map[nodeid.NodeID]string {
	out := make(map[nodeid.NodeID]string, m.Len())
	_ = m.ForEach(func(path string, e Entry) error {
		out[e.NodeID] = path
		return nil
	})
	return out
}

// Clone returns a deep copy safe to mutate independently.
func (m *Manifest) Clone() *Manifest {
	out := NewManifest()
	_ = m.ForEach(func(path string, e Entry) error {
		out.Set(path, e)
		return nil
	})
	return out
}

// Equal reports whether two manifests contain the same (path, entry) pairs.
func (m *Manifest) Equal(other *Manifest) bool {
	if m.Len() != other.Len() {
		return false
	}
	equal := true
	_ = m.ForEach(func(path string, e Entry) error {
		oe, ok := other.Get(path)
		if !ok || oe != e {
			equal = false
		}
		return nil
	})
	return equal
}

// Encode writes the manifest's canonical line-oriented form:
//
//	<permissions-octal> <node-id> <oid-hex> <path>\n
//
// one line per entry in ascending path order, which is both the wire format
// and the hash input.
func (m *Manifest) Encode(w io.Writer) error {
	if _, err := w.Write(manifestMagic[:]); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	err := m.ForEach(func(path string, e Entry) error {
		_, werr := fmt.Fprintf(bw, "%o %s %s %s\n", e.Permissions, e.NodeID.String(), e.OID.String(), path)
		return werr
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func (m *Manifest) decodeBody(r io.Reader) error {
	m.tm = treemap.NewWithStringComparator()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 4)
		if len(fields) != 4 {
			return fmt.Errorf("manifest: malformed entry line %q", line)
		}
		perm, err := strconv.ParseUint(fields[0], 8, 32)
		if err != nil {
			return fmt.Errorf("manifest: bad permissions in %q: %w", line, err)
		}
		nid, err := nodeid.Parse(fields[1])
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		id, err := oid.NewEx(fields[2])
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		m.tm.Put(fields[3], Entry{NodeID: nid, OID: id, Permissions: uint32(perm)})
	}
	return sc.Err()
}
