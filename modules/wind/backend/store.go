// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the content-addressed object store and the
// packfile batching on top of it: typed objects
// (Blob/Manifest/Changeset) are zstd-compressed and written loose under a
// two-level OID fan-out directory, with an optional Pack step that batches
// a set of loose objects into an immutable pack + index pair.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/streamio"
	"github.com/windvcs/wind/modules/wind/backend/pack"
	"github.com/windvcs/wind/modules/wind/object"
)

const (
	objectsDirName = "objects"
	packsDirName   = "packs"
)

// Database is the object store: write/read/has on typed objects, plus
// pack awareness so objects batched into a pack
// remain readable after their loose copy is pruned.
type Database struct {
	root       string // metadata directory root, e.g. ".wind"
	objectsDir string
	packsDir   string

	log   *logrus.Entry
	cache *ristretto.Cache[string, any]

	mu    sync.RWMutex
	packs []*pack.Index // loaded by Open in directory order; Pack prepends new ones
}

// Open initialises (creating directories as needed) an object store rooted
// at metaDir, the engine's metadata directory (".wind" by default).
func Open(metaDir string) (*Database, error) {
	d := &Database{
		root:       metaDir,
		objectsDir: filepath.Join(metaDir, objectsDirName),
		packsDir:   filepath.Join(metaDir, packsDirName),
		log:        logrus.WithField("component", "objectstore"),
	}
	for _, dir := range []string{d.objectsDir, d.packsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("backend: create %s: %w", dir, err)
		}
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 1e5,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: new cache: %w", err)
	}
	d.cache = cache
	if err := d.loadPacks(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
}

func (d *Database) loosePath(o oid.OID) string {
	dir, name := o.FanOut()
	return filepath.Join(d.objectsDir, dir, name)
}

func (d *Database) loadPacks() error {
	entries, err := os.ReadDir(d.packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("backend: read packs dir: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".idx" {
			continue
		}
		base := name[:len(name)-len(".idx")]
		packPath := filepath.Join(d.packsDir, base+".pack")
		// A missing pack beside an index means the write never completed;
		// the pack-plus-index pair is the unit of durability, so skip it
		// rather than fail Open.
		if _, err := os.Stat(packPath); err != nil {
			continue
		}
		idx, err := pack.OpenIndex(filepath.Join(d.packsDir, name), packPath)
		if err != nil {
			d.log.WithError(err).WithField("pack", base).Warn("skipping unreadable pack index")
			continue
		}
		d.packs = append(d.packs, idx)
	}
	return nil
}

// HasObject reports whether o is present, loose or packed.
func (d *Database) HasObject(o oid.OID) bool {
	if _, err := os.Stat(d.loosePath(o)); err == nil {
		return true
	}
	return d.findInPacks(o) != nil
}

func (d *Database) findInPacks(o oid.OID) *pack.Entry {
	_, e := d.lookupPacks(o)
	return e
}

// lookupPacks returns the index (and entry) that owns o, or (nil, nil) if
// o isn't present in any loaded pack.
func (d *Database) lookupPacks(o oid.OID) (*pack.Index, *pack.Entry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, idx := range d.packs {
		if e, err := idx.Lookup(o); err == nil {
			return idx, &e
		}
	}
	return nil, nil
}

// WriteObject serialises e, computes its OID, and writes it loose if it
// doesn't already exist (write-once semantics). Concurrent
// writers of the same OID converge because the final step is an atomic
// rename into place.
func (d *Database) WriteObject(e object.Encoder) (oid.OID, error) {
	buf, err := encode(e)
	if err != nil {
		return oid.Zero, err
	}
	id := oid.Of(buf)
	if d.HasObject(id) {
		d.log.WithField("oid", id.Short()).Debug("object already present")
		return id, nil
	}
	if err := d.writeLoose(id, buf); err != nil {
		return oid.Zero, err
	}
	d.log.WithField("oid", id.Short()).Debug("wrote object")
	return id, nil
}

func encode(e object.Encoder) ([]byte, error) {
	w := &byteSink{}
	if err := e.Encode(w); err != nil {
		return nil, fmt.Errorf("backend: encode object: %w", err)
	}
	return w.b, nil
}

// byteSink is a minimal io.Writer accumulating bytes, used instead of
// bytes.Buffer only to keep encode's allocation pattern explicit.
type byteSink struct{ b []byte }

func (s *byteSink) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

func (d *Database) writeLoose(id oid.OID, raw []byte) error {
	dir, name := id.FanOut()
	fullDir := filepath.Join(d.objectsDir, dir)
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return fmt.Errorf("backend: mkdir %s: %w", fullDir, err)
	}
	tmp, err := os.CreateTemp(fullDir, "incoming-*")
	if err != nil {
		return fmt.Errorf("backend: create temp: %w", err)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()
	zw := streamio.GetZstdWriter(tmp)
	if _, err := zw.Write(raw); err != nil {
		streamio.PutZstdWriter(zw)
		_ = tmp.Close()
		return fmt.Errorf("backend: compress %s: %w", id, err)
	}
	streamio.PutZstdWriter(zw)
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backend: close temp: %w", err)
	}
	dest := filepath.Join(fullDir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("backend: rename into place: %w", err)
	}
	succeeded = true
	return nil
}

// rawObject returns the decompressed, still-undispatched bytes for o,
// checking loose storage first and falling back to any loaded pack.
func (d *Database) rawObject(o oid.OID) ([]byte, error) {
	f, err := os.Open(d.loosePath(o))
	if err == nil {
		defer f.Close()
		zr, zerr := streamio.GetZstdReader(f)
		if zerr != nil {
			return nil, fmt.Errorf("backend: new zstd reader for %s: %w", o, zerr)
		}
		defer streamio.PutZstdReader(zr)
		data, rerr := io.ReadAll(zr)
		if rerr != nil {
			return nil, fmt.Errorf("backend: decompress %s: %w", o, rerr)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backend: open %s: %w", o, err)
	}
	if idx, e := d.lookupPacks(o); idx != nil {
		compressed, rerr := idx.ReadAt(*e)
		if rerr != nil {
			return nil, rerr
		}
		zr, zerr := streamio.GetZstdReader(bytesReader(compressed))
		if zerr != nil {
			return nil, fmt.Errorf("backend: new zstd reader for %s: %w", o, zerr)
		}
		defer streamio.PutZstdReader(zr)
		data, rerr := io.ReadAll(zr)
		if rerr != nil {
			return nil, fmt.Errorf("backend: decompress packed %s: %w", o, rerr)
		}
		return data, nil
	}
	return nil, oid.NoSuchObject(o)
}

func bytesReader(b []byte) io.Reader { return &simpleReader{b: b} }

type simpleReader struct {
	b []byte
	i int
}

func (r *simpleReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// decode dispatches the raw bytes for o into its typed object, using the
// read cache when warm.
func (d *Database) decode(o oid.OID) (any, object.Type, error) {
	if d.cache != nil {
		if v, ok := d.cache.Get(o.String()); ok {
			return v, objectTypeOf(v), nil
		}
	}
	raw, err := d.rawObject(o)
	if err != nil {
		return nil, object.InvalidType, err
	}
	val, typ, err := object.Decode(bytesReader(raw), o, d)
	if err != nil {
		return nil, object.InvalidType, fmt.Errorf("backend: decode %s: %w", o, err)
	}
	if d.cache != nil {
		d.cache.Set(o.String(), val, int64(len(raw)))
	}
	return val, typ, nil
}

func objectTypeOf(v any) object.Type {
	switch v.(type) {
	case *object.Blob:
		return object.BlobType
	case *object.Manifest:
		return object.ManifestType
	case *object.Changeset:
		return object.ChangesetType
	default:
		return object.InvalidType
	}
}

// ReadObject decodes o into its concrete type; callers type-switch on the
// returned Type to know which.
func (d *Database) ReadObject(o oid.OID) (any, object.Type, error) {
	return d.decode(o)
}

// Blob implements object.Backend.
func (d *Database) Blob(_ context.Context, o oid.OID) (*object.Blob, error) {
	v, typ, err := d.decode(o)
	if err != nil {
		return nil, err
	}
	if typ != object.BlobType {
		return nil, NewErrMismatchedObjectType(o, "blob")
	}
	return v.(*object.Blob), nil
}

// Manifest implements object.Backend.
func (d *Database) Manifest(_ context.Context, o oid.OID) (*object.Manifest, error) {
	v, typ, err := d.decode(o)
	if err != nil {
		return nil, err
	}
	if typ != object.ManifestType {
		return nil, NewErrMismatchedObjectType(o, "manifest")
	}
	return v.(*object.Manifest), nil
}

// Changeset implements object.Backend.
func (d *Database) Changeset(_ context.Context, o oid.OID) (*object.Changeset, error) {
	v, typ, err := d.decode(o)
	if err != nil {
		return nil, err
	}
	if typ != object.ChangesetType {
		return nil, NewErrMismatchedObjectType(o, "changeset")
	}
	return v.(*object.Changeset), nil
}

// WriteObjectContext and ReadObjectContext are the cooperative-scheduling
// facet of the store: same semantics, but honouring ctx cancellation at
// the suspension point before doing any I/O.
func (d *Database) WriteObjectContext(ctx context.Context, e object.Encoder) (oid.OID, error) {
	if err := ctx.Err(); err != nil {
		return oid.Zero, err
	}
	return d.WriteObject(e)
}

func (d *Database) ReadObjectContext(ctx context.Context, o oid.OID) (any, object.Type, error) {
	if err := ctx.Err(); err != nil {
		return nil, object.InvalidType, err
	}
	return d.ReadObject(o)
}

// Search resolves a hex OID prefix to every matching object: callers
// treat a single match as resolved and more than one as an ambiguous
// prefix error.
func (d *Database) Search(prefix string) ([]oid.OID, error) {
	var out []oid.OID
	if len(prefix) >= 2 {
		dir := filepath.Join(d.objectsDir, prefix[:2])
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				hexStr := prefix[:2] + e.Name()
				if strings.HasPrefix(hexStr, prefix) {
					if id, perr := oid.NewEx(hexStr); perr == nil {
						out = append(out, id)
					}
				}
			}
		}
	} else {
		// A prefix shorter than the fan-out width has to scan every
		// directory; short-OID lookups this broad are expected to be rare.
		topEntries, err := os.ReadDir(d.objectsDir)
		if err == nil {
			for _, top := range topEntries {
				if !strings.HasPrefix(top.Name(), prefix) {
					continue
				}
				sub, serr := os.ReadDir(filepath.Join(d.objectsDir, top.Name()))
				if serr != nil {
					continue
				}
				for _, e := range sub {
					hexStr := top.Name() + e.Name()
					if id, perr := oid.NewEx(hexStr); perr == nil {
						out = append(out, id)
					}
				}
			}
		}
	}

	d.mu.RLock()
	packs := append([]*pack.Index(nil), d.packs...)
	d.mu.RUnlock()
	seen := make(map[oid.OID]bool)
	for _, id := range out {
		seen[id] = true
	}
	for _, idx := range packs {
		for _, e := range idx.Entries() {
			hexStr := e.OID.String()
			if strings.HasPrefix(hexStr, prefix) && !seen[e.OID] {
				out = append(out, e.OID)
				seen[e.OID] = true
			}
		}
	}
	return out, nil
}

// Pack batches every currently-loose object into a new pack + index pair
// and returns the pack's content-hash name. Loose copies are
// left in place; deduplication, not garbage collection, is this store's
// concern.
func (d *Database) Pack(ctx context.Context) (string, error) {
	w := pack.NewWriter(d.packsDir)
	err := filepath.WalkDir(d.objectsDir, func(path string, de os.DirEntry, err error) error {
		if err != nil || de.IsDir() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, rerr := filepath.Rel(d.objectsDir, path)
		if rerr != nil {
			return rerr
		}
		hexStr := filepath.Dir(rel) + filepath.Base(rel)
		id, perr := oid.NewEx(hexStr)
		if perr != nil {
			return nil // skip stray files (e.g. leftover temp names)
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		w.Add(id, data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("backend: walk objects for pack: %w", err)
	}
	if w.Len() == 0 {
		return "", nil
	}
	name, err := w.Finish()
	if err != nil {
		return "", err
	}
	idx, err := pack.OpenIndex(filepath.Join(d.packsDir, "pack-"+name+".idx"), filepath.Join(d.packsDir, "pack-"+name+".pack"))
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.packs = append([]*pack.Index{idx}, d.packs...)
	d.mu.Unlock()
	d.log.WithField("pack", name).WithField("objects", w.Len()).Info("wrote pack")
	return name, nil
}
