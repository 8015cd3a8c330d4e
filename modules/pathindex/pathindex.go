// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pathindex implements the stat-cache path index:
// a sqlite-backed table mapping path to (NodeID, OID, mtime, size,
// permissions), with a secondary index on node_id so rename detection and
// "all entries for this logical file" lookups don't scan the table.
package pathindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
)

const schema = `
CREATE TABLE IF NOT EXISTS paths (
	path        TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL,
	oid         TEXT NOT NULL,
	mtime       INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	permissions INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_paths_node_id ON paths(node_id);
`

// Entry is one row of the path index.
type Entry struct {
	Path        string  `db:"path"`
	NodeIDRaw   string  `db:"node_id"`
	OIDHex      string  `db:"oid"`
	Mtime       int64   `db:"mtime"`
	Size        int64   `db:"size"`
	Permissions uint32  `db:"permissions"`
}

// NodeID decodes the entry's stored NodeID.
func (e Entry) NodeID() nodeid.NodeID {
	id, _ := nodeid.Parse(e.NodeIDRaw)
	return id
}

// OID decodes the entry's stored content OID.
func (e Entry) OID() oid.OID { return oid.New(e.OIDHex) }

// Index is the open stat-cache handle for one repository.
type Index struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open creates (if needed) and opens the sqlite database at path
// ("<meta>/index.db").
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pathindex: mkdir: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("pathindex: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline per process
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("pathindex: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("pathindex: init schema: %w", err)
	}
	return &Index{db: db, log: logrus.WithField("component", "pathindex")}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Upsert adds or updates the entry for path.
func (ix *Index) Upsert(path string, nid nodeid.NodeID, id oid.OID, mtime, size int64, perm uint32) error {
	_, err := ix.db.Exec(
		`INSERT INTO paths (path, node_id, oid, mtime, size, permissions)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET node_id=excluded.node_id, oid=excluded.oid,
		   mtime=excluded.mtime, size=excluded.size, permissions=excluded.permissions`,
		path, nid.String(), id.String(), mtime, size, perm,
	)
	if err != nil {
		return fmt.Errorf("pathindex: upsert %s: %w", path, err)
	}
	return nil
}

// Remove drops the entry at path, if any.
func (ix *Index) Remove(path string) error {
	if _, err := ix.db.Exec(`DELETE FROM paths WHERE path = ?`, path); err != nil {
		return fmt.Errorf("pathindex: remove %s: %w", path, err)
	}
	return nil
}

// Lookup returns the entry at path, if any.
func (ix *Index) Lookup(path string) (Entry, bool, error) {
	var e Entry
	err := ix.db.Get(&e, `SELECT path, node_id, oid, mtime, size, permissions FROM paths WHERE path = ?`, path)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("pathindex: lookup %s: %w", path, err)
	}
	return e, true, nil
}

// LookupByNodeID returns every entry currently carrying nid; the table
// keeps no history, since Upsert overwrites and Remove deletes rows. At a
// single snapshot there is at most one live entry per NodeID; callers
// building "current path for this NodeID" logic should take entries[0]
// when len==1.
func (ix *Index) LookupByNodeID(nid nodeid.NodeID) ([]Entry, error) {
	var out []Entry
	if err := ix.db.Select(&out, `SELECT path, node_id, oid, mtime, size, permissions FROM paths WHERE node_id = ?`, nid.String()); err != nil {
		return nil, fmt.Errorf("pathindex: lookup node %s: %w", nid, err)
	}
	return out, nil
}

// ListAll returns every entry in the index, in no particular order.
func (ix *Index) ListAll() ([]Entry, error) {
	var out []Entry
	if err := ix.db.Select(&out, `SELECT path, node_id, oid, mtime, size, permissions FROM paths`); err != nil {
		return nil, fmt.Errorf("pathindex: list all: %w", err)
	}
	return out, nil
}

// Clear removes every entry.
func (ix *Index) Clear() error {
	if _, err := ix.db.Exec(`DELETE FROM paths`); err != nil {
		return fmt.Errorf("pathindex: clear: %w", err)
	}
	return nil
}
