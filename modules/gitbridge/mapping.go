// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitbridge implements the bidirectional Git bridge: a SHA↔OID
// mapping database, a Git importer (commits → changesets) and a Git
// exporter (changesets → commits), both NodeID-aware so round-tripping
// through Git does not lose the engine's rename/identity tracking.
package gitbridge

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
CREATE TABLE IF NOT EXISTS sha_oid (
	sha TEXT PRIMARY KEY,
	oid TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sha_oid_oid ON sha_oid(oid);

CREATE TABLE IF NOT EXISTS node_path (
	node_id TEXT PRIMARY KEY,
	path    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_node_path_path ON node_path(path);

CREATE TABLE IF NOT EXISTS path_history (
	node_id    TEXT NOT NULL,
	path       TEXT NOT NULL,
	sha        TEXT NOT NULL,
	changed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_path_history_node_id ON path_history(node_id);

CREATE TABLE IF NOT EXISTS node_counter (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO node_counter (id, value) VALUES (1, 0);
`

// Mapping is the open handle to one repository's bridge database
// ("<meta>/gitbridge.db").
type Mapping struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open creates (if needed) and opens the bridge database at path.
func Open(path string) (*Mapping, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("gitbridge: mkdir: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("gitbridge: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("gitbridge: init schema: %w", err)
	}
	return &Mapping{db: db, log: logrus.WithField("component", "gitbridge")}, nil
}

func (m *Mapping) Close() error { return m.db.Close() }

// MapCommit records that git commit sha corresponds to changeset id,
// idempotently (re-importing an already-mapped commit is a no-op upsert).
func (m *Mapping) MapCommit(sha string, id oid.OID) error {
	_, err := m.db.Exec(
		`INSERT INTO sha_oid (sha, oid) VALUES (?, ?)
		 ON CONFLICT(sha) DO UPDATE SET oid=excluded.oid`,
		sha, id.String(),
	)
	if err != nil {
		return fmt.Errorf("gitbridge: map commit %s: %w", sha, err)
	}
	return nil
}

// OIDForSHA resolves a git commit SHA to its changeset OID, if imported.
func (m *Mapping) OIDForSHA(sha string) (oid.OID, bool, error) {
	var hex string
	err := m.db.Get(&hex, `SELECT oid FROM sha_oid WHERE sha = ?`, sha)
	if err == sql.ErrNoRows {
		return oid.Zero, false, nil
	}
	if err != nil {
		return oid.Zero, false, fmt.Errorf("gitbridge: lookup sha %s: %w", sha, err)
	}
	return oid.New(hex), true, nil
}

// SHAForOID resolves a changeset OID back to the git commit SHA it was
// imported from or last exported as.
func (m *Mapping) SHAForOID(id oid.OID) (string, bool, error) {
	var sha string
	err := m.db.Get(&sha, `SELECT sha FROM sha_oid WHERE oid = ?`, id.String())
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("gitbridge: lookup oid %s: %w", id, err)
	}
	return sha, true, nil
}

// NodeIDForPath returns the NodeID currently bound to path, if any. A path
// that has never been seen by the bridge has no NodeID yet; the importer
// allocates one and calls RecordPath.
func (m *Mapping) NodeIDForPath(path string) (nodeid.NodeID, bool, error) {
	var raw string
	err := m.db.Get(&raw, `SELECT node_id FROM node_path WHERE path = ?`, path)
	if err == sql.ErrNoRows {
		return nodeid.Nil, false, nil
	}
	if err != nil {
		return nodeid.Nil, false, fmt.Errorf("gitbridge: lookup path %s: %w", path, err)
	}
	id, err := nodeid.Parse(raw)
	if err != nil {
		return nodeid.Nil, false, fmt.Errorf("gitbridge: parse stored node id for %s: %w", path, err)
	}
	return id, true, nil
}

// RecordPath binds nid to path as of commit sha, updating the live
// node_path row and appending to path_history so the full chain of paths a
// NodeID has occupied can be reconstructed later.
func (m *Mapping) RecordPath(nid nodeid.NodeID, path, sha string, when int64) error {
	_, err := m.db.Exec(
		`INSERT INTO node_path (node_id, path) VALUES (?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET path=excluded.path`,
		nid.String(), path,
	)
	if err != nil {
		return fmt.Errorf("gitbridge: record path %s: %w", path, err)
	}
	_, err = m.db.Exec(
		`INSERT INTO path_history (node_id, path, sha, changed_at) VALUES (?, ?, ?, ?)`,
		nid.String(), path, sha, when,
	)
	if err != nil {
		return fmt.Errorf("gitbridge: append path history %s: %w", path, err)
	}
	return nil
}

// UnbindPath drops path's live node_path binding; path_history keeps the
// old rows. A path re-added after a delete gets a fresh NodeID rather than
// resurrecting the old identity.
func (m *Mapping) UnbindPath(path string) error {
	if _, err := m.db.Exec(`DELETE FROM node_path WHERE path = ?`, path); err != nil {
		return fmt.Errorf("gitbridge: unbind path %s: %w", path, err)
	}
	return nil
}

// PathHistoryEntry is one row of a NodeID's recorded path history.
type PathHistoryEntry struct {
	Path      string `db:"path"`
	SHA       string `db:"sha"`
	ChangedAt int64  `db:"changed_at"`
}

// NextNodeID allocates the next bridge-assigned counter id: the importer's
// NodeIDs are compact and monotonically increasing rather than engine
// UUIDs, so an imported repository's identities stay stable and orderable
// across re-imports.
func (m *Mapping) NextNodeID() (nodeid.NodeID, error) {
	var value uint64
	err := m.db.Get(&value, `UPDATE node_counter SET value = value + 1 WHERE id = 1 RETURNING value`)
	if err != nil {
		return nodeid.Nil, fmt.Errorf("gitbridge: allocate node id: %w", err)
	}
	return nodeid.FromCounter(value), nil
}

// PathHistory returns every path nid has occupied, oldest first.
func (m *Mapping) PathHistory(nid nodeid.NodeID) ([]PathHistoryEntry, error) {
	var out []PathHistoryEntry
	err := m.db.Select(&out,
		`SELECT path, sha, changed_at FROM path_history WHERE node_id = ? ORDER BY changed_at ASC`,
		nid.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: path history for %s: %w", nid, err)
	}
	return out, nil
}
