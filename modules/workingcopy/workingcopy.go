// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package workingcopy implements the tree scan, ignore rules and
// add/modify/delete/rename classification. It is the bridge
// between the filesystem and the path index: Scan reports what's changed
// since the index was last updated, and AddFile/RemoveFile mutate the
// index in response to a user's explicit "add"/"remove".
package workingcopy

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/windvcs/wind/modules/chunk"
	"github.com/windvcs/wind/modules/chunkstore"
	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/pathindex"
	"github.com/windvcs/wind/modules/wind/backend"
	"github.com/windvcs/wind/modules/wind/object"
)

// scanConcurrency bounds how many files are hashed in parallel during a
// single Scan. Rename detection needs a consistent snapshot, so the bound
// applies only to the hashing pass, never the walk.
const scanConcurrency = 8

const (
	// DefaultMetaDirName is the engine metadata directory's conventional
	// name; callers may pass a different one.
	DefaultMetaDirName = ".wind"
	gitDirName         = ".git"
)

// ChangeKind discriminates the four outcomes a scan can report for a path.
type ChangeKind uint8

const (
	Untracked ChangeKind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Untracked:
		return "untracked"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Change is one reported difference between the working tree and the path
// index.
type Change struct {
	Kind        ChangeKind
	Path        string
	OldPath     string // Renamed only
	NodeID      nodeid.NodeID
	OID         oid.OID
	Permissions uint32
}

// Status is the result of a scan, changes sorted by path for determinism.
type Status struct {
	Changes []Change
}

// WorkingCopy composes the path index and object store against one
// filesystem root: scanning, classification and index maintenance.
type WorkingCopy struct {
	root        string
	metaDirName string
	store       *backend.Database
	chunks      *chunkstore.Store
	index       *pathindex.Index
	chunker     *chunk.Chunker
	log         *logrus.Entry
}

// New builds a WorkingCopy rooted at root, with metaDirName (".wind" by
// default) and the git directory unconditionally excluded from scans.
func New(root, metaDirName string, store *backend.Database, chunks *chunkstore.Store, index *pathindex.Index) *WorkingCopy {
	if metaDirName == "" {
		metaDirName = DefaultMetaDirName
	}
	return &WorkingCopy{
		root:        root,
		metaDirName: metaDirName,
		store:       store,
		chunks:      chunks,
		index:       index,
		chunker:     chunk.New(0, 0, 0),
		log:         logrus.WithField("component", "workingcopy"),
	}
}

type pendingFile struct {
	Path string
	OID  oid.OID
	Perm uint32
	Size int64
}

// scanTarget is one regular file discovered during the (sequential)
// directory walk, queued for (parallel) classification.
type scanTarget struct {
	relPath string
	fi      fs.FileInfo
}

// Scan walks the working tree, classifying every path against the path
// index. The directory walk itself is sequential (it mutates
// the shared ignore cache and visited-path set), but once it has produced a
// consistent snapshot of "every file present right now", each file's
// stat-cache comparison and (if needed) content hash runs concurrently
// across a bounded pool of goroutines. Rename detection observes the
// fully-collected scanTarget snapshot, taken before any hashing begins,
// so a directory shifting mid-scan can't split one rename into a
// delete plus an add.
func (w *WorkingCopy) Scan() (*Status, error) {
	visited := make(map[string]bool)
	var targets []scanTarget
	ic := newIgnoreCache(w.root)

	if err := w.walk("", ic, visited, &targets); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var untracked []pendingFile
	var modified []Change
	g := new(errgroup.Group)
	g.SetLimit(scanConcurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			return w.classify(t.relPath, t.fi, &mu, &untracked, &modified)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	indexed, err := w.index.ListAll()
	if err != nil {
		return nil, err
	}
	var deletedCandidates []pathindex.Entry
	for _, e := range indexed {
		if !visited[e.Path] {
			deletedCandidates = append(deletedCandidates, e)
		}
	}

	renamed, remainingDeleted, remainingUntracked := detectRenames(deletedCandidates, untracked)

	var changes []Change
	changes = append(changes, modified...)
	changes = append(changes, renamed...)
	for _, e := range remainingDeleted {
		changes = append(changes, Change{Kind: Deleted, Path: e.Path, NodeID: e.NodeID(), OID: e.OID()})
	}
	for _, u := range remainingUntracked {
		changes = append(changes, Change{Kind: Untracked, Path: u.Path, NodeID: nodeid.NewEngine(), OID: u.OID, Permissions: u.Perm})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return &Status{Changes: changes}, nil
}

func (w *WorkingCopy) walk(relDir string, ic *ignoreCache, visited map[string]bool, targets *[]scanTarget) error {
	dir := filepath.Join(w.root, filepath.FromSlash(relDir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("workingcopy: read dir %s: %w", dir, err)
	}
	set := ic.forDir(relDir)
	for _, de := range entries {
		name := de.Name()
		if name == w.metaDirName || name == gitDirName {
			continue
		}
		relPath := name
		if relDir != "" {
			relPath = relDir + "/" + name
		}
		if de.IsDir() {
			if set.matches(relPath, true) {
				continue
			}
			if err := w.walk(relPath, ic, visited, targets); err != nil {
				return err
			}
			continue
		}
		if !de.Type().IsRegular() {
			continue
		}
		if set.matches(relPath, false) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			return fmt.Errorf("workingcopy: stat %s: %w", relPath, err)
		}
		visited[relPath] = true
		*targets = append(*targets, scanTarget{relPath: relPath, fi: fi})
	}
	return nil
}

// classify compares relPath's current stat/content against the path index
// and appends the resulting Untracked/Modified report under mu. Safe to
// call concurrently for distinct paths: mu only guards the shared output
// slices, and the path index itself tolerates concurrent readers (the
// single-writer discipline is about mutating upserts, not lookups).
func (w *WorkingCopy) classify(relPath string, fi fs.FileInfo, mu *sync.Mutex, untracked *[]pendingFile, modified *[]Change) error {
	entry, ok, err := w.index.Lookup(relPath)
	if err != nil {
		return err
	}
	mtime := fi.ModTime().Unix()
	size := fi.Size()
	perm := uint32(fi.Mode().Perm())

	if !ok {
		id, err := w.hashFile(relPath)
		if err != nil {
			return err
		}
		mu.Lock()
		*untracked = append(*untracked, pendingFile{Path: relPath, OID: id, Perm: perm, Size: size})
		mu.Unlock()
		return nil
	}
	// A file modified within the last second can be rewritten again in the
	// same second without its (mtime, size) changing, so such recent files
	// are always rehashed rather than trusted to the stat cache.
	racy := mtime >= time.Now().Unix()-1
	if entry.Mtime == mtime && entry.Size == size && !racy {
		return nil // stat cache hit: assumed unchanged
	}
	id, err := w.hashFile(relPath)
	if err != nil {
		return err
	}
	if id == entry.OID() {
		// Content unchanged despite a stat difference (e.g. touch); refresh
		// the cache so the next scan short-circuits again.
		return w.index.Upsert(relPath, entry.NodeID(), id, mtime, size, perm)
	}
	mu.Lock()
	*modified = append(*modified, Change{Kind: Modified, Path: relPath, NodeID: entry.NodeID(), OID: id, Permissions: perm})
	mu.Unlock()
	return nil
}

// hashFile computes the blob OID relPath's content would be stored under,
// matching AddFile's layout choice: inline below ChunkedThreshold, chunk
// list at or above it. The two must agree or a large file would compare
// unequal to its own index entry on every post-touch scan.
func (w *WorkingCopy) hashFile(relPath string) (oid.OID, error) {
	f, err := os.Open(filepath.Join(w.root, filepath.FromSlash(relPath)))
	if err != nil {
		return oid.Zero, fmt.Errorf("workingcopy: open %s: %w", relPath, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return oid.Zero, fmt.Errorf("workingcopy: stat %s: %w", relPath, err)
	}
	if fi.Size() < object.ChunkedThreshold {
		return object.HashFrom(f)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return oid.Zero, fmt.Errorf("workingcopy: read %s: %w", relPath, err)
	}
	chunks := w.chunker.Split(data)
	oids := make([]oid.OID, len(chunks))
	for i, c := range chunks {
		oids[i] = c.OID
	}
	return object.NewChunkedBlob(oids).Hash, nil
}

// AddFile writes path's content to the object store (chunked above
// object.ChunkedThreshold) and upserts the path index entry, assigning a
// fresh NodeID for a previously-untracked path or reusing the existing one.
// A directory argument adds every non-ignored regular file beneath it; the
// returned identity is the nil NodeID and zero OID in that case, since no
// single entry stands for the whole tree.
func (w *WorkingCopy) AddFile(relPath string) (nodeid.NodeID, oid.OID, error) {
	if relPath == "." {
		relPath = ""
	}
	full := filepath.Join(w.root, filepath.FromSlash(relPath))
	fi, err := os.Stat(full)
	if err != nil {
		return nodeid.Nil, oid.Zero, fmt.Errorf("workingcopy: stat %s: %w", relPath, err)
	}
	if fi.IsDir() {
		return nodeid.Nil, oid.Zero, w.addDir(relPath)
	}
	return w.addOne(relPath, fi)
}

// addDir walks relDir with the same ignore rules a scan applies and adds
// every regular file it finds.
func (w *WorkingCopy) addDir(relDir string) error {
	ic := newIgnoreCache(w.root)
	visited := make(map[string]bool)
	var targets []scanTarget
	if err := w.walk(relDir, ic, visited, &targets); err != nil {
		return err
	}
	for _, t := range targets {
		if _, _, err := w.addOne(t.relPath, t.fi); err != nil {
			return err
		}
	}
	return nil
}

func (w *WorkingCopy) addOne(relPath string, fi fs.FileInfo) (nodeid.NodeID, oid.OID, error) {
	full := filepath.Join(w.root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(full)
	if err != nil {
		return nodeid.Nil, oid.Zero, fmt.Errorf("workingcopy: read %s: %w", relPath, err)
	}

	var blob *object.Blob
	if len(data) >= object.ChunkedThreshold && w.chunks != nil {
		chunks := w.chunker.Split(data)
		oids := make([]oid.OID, len(chunks))
		for i, c := range chunks {
			if err := w.chunks.WriteChunk(c); err != nil {
				return nodeid.Nil, oid.Zero, err
			}
			oids[i] = c.OID
		}
		blob = object.NewChunkedBlob(oids)
	} else {
		blob = object.NewBlob(data)
	}
	id, err := w.store.WriteObject(blob)
	if err != nil {
		return nodeid.Nil, oid.Zero, err
	}

	entry, ok, err := w.index.Lookup(relPath)
	if err != nil {
		return nodeid.Nil, oid.Zero, err
	}
	nid := nodeid.NewEngine()
	if ok {
		nid = entry.NodeID()
	}
	perm := uint32(fi.Mode().Perm())
	if err := w.index.Upsert(relPath, nid, id, fi.ModTime().Unix(), fi.Size(), perm); err != nil {
		return nodeid.Nil, oid.Zero, err
	}
	w.log.WithField("path", relPath).WithField("oid", id.Short()).Debug("added file")
	return nid, id, nil
}

// RemoveFile drops path's index entry; the
// content stays in the object store (deduplication, not GC, owns cleanup).
func (w *WorkingCopy) RemoveFile(relPath string) error {
	return w.index.Remove(relPath)
}
