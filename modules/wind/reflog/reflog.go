// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package reflog implements the append-only branch-head history: every
// time a branch's
// head moves, an entry recording the old OID, the new OID, a timestamp and
// a short reason is appended to "<meta>/logs/heads/<id>". It is read-only
// from the unified repository's perspective; nothing ever rewrites or
// truncates an existing entry.
package reflog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/windvcs/wind/modules/oid"
)

// Entry is one reflog line: a branch head move.
type Entry struct {
	Old    oid.OID
	New    oid.OID
	When   time.Time
	Reason string
}

// Store appends to and reads "<meta>/logs/heads/<id>" files.
type Store struct {
	root string
}

func NewStore(metaDir string) *Store { return &Store{root: metaDir} }

func (s *Store) path(branchID string) string {
	return filepath.Join(s.root, "logs", "heads", branchID)
}

// Append records a single head move for branchID.
func (s *Store) Append(branchID string, old, new_ oid.OID, reason string) error {
	dir := filepath.Dir(s.path(branchID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reflog: mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(s.path(branchID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reflog: open %s: %w", branchID, err)
	}
	defer f.Close()
	line := fmt.Sprintf("%s %s %d %s\n", old.String(), new_.String(), time.Now().Unix(), escapeReason(reason))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog: append %s: %w", branchID, err)
	}
	return nil
}

func escapeReason(reason string) string {
	return strings.ReplaceAll(strings.ReplaceAll(reason, "\n", " "), "\t", " ")
}

// For returns the full history for branchID, oldest entry first.
func (s *Store) For(branchID string) ([]Entry, error) {
	f, err := os.Open(s.path(branchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reflog: open %s: %w", branchID, err)
	}
	defer f.Close()
	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 4)
		if len(fields) != 4 {
			continue
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Old:    oid.New(fields[0]),
			New:    oid.New(fields[1]),
			When:   time.Unix(ts, 0),
			Reason: fields[3],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
