// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package wind

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/object"
)

// Checkout switches HEAD to branchName, writing every entry of its root
// manifest into the working tree and rebuilding the path index to match.
// Local modifications not present in the
// target manifest are left untouched on disk; this is a clean checkout,
// not a stash-and-restore.
func (r *Repository) Checkout(ctx context.Context, branchName string) error {
	target, err := r.refs.ByName(branchName)
	if err != nil {
		return err
	}

	var manifest *object.Manifest
	if target.Head.IsZero() {
		manifest = object.NewManifest()
	} else {
		cs, err := r.store.Changeset(ctx, target.Head)
		if err != nil {
			return err
		}
		manifest, err = cs.Root(ctx)
		if err != nil {
			return err
		}
	}

	if err := r.index.Clear(); err != nil {
		return err
	}
	err = manifest.ForEach(func(path string, e object.Entry) error {
		data, err := r.materializeBlob(ctx, e.OID)
		if err != nil {
			return fmt.Errorf("checkout %s: %w", path, err)
		}
		full := filepath.Join(r.root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, os.FileMode(e.Permissions|0o600)); err != nil {
			return err
		}
		fi, err := os.Stat(full)
		if err != nil {
			return err
		}
		return r.index.Upsert(path, e.NodeID, e.OID, fi.ModTime().Unix(), fi.Size(), e.Permissions)
	})
	if err != nil {
		return err
	}

	return r.refs.SetHEAD(target.ID)
}

// materializeBlob returns a blob's full content, reassembling chunks for a
// chunked blob.
func (r *Repository) materializeBlob(ctx context.Context, id oid.OID) ([]byte, error) {
	blob, err := r.store.Blob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !blob.IsChunked() {
		return blob.Data, nil
	}
	var buf bytes.Buffer
	for _, c := range blob.Chunks {
		data, err := r.chunks.ReadChunk(c)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
