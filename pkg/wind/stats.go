// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package wind

import (
	"path/filepath"

	"github.com/windvcs/wind/modules/strengthen"
)

// Stats reports on-disk size of the repository's loose objects, packs and
// chunk store, in both raw bytes and
// a human-readable rendering.
type Stats struct {
	ObjectsBytes int64
	PacksBytes   int64
	ChunksBytes  int64
}

func (s Stats) String() string {
	return "objects " + strengthen.FormatSize(s.ObjectsBytes) +
		", packs " + strengthen.FormatSize(s.PacksBytes) +
		", chunks " + strengthen.FormatSize(s.ChunksBytes)
}

// Stats walks the repository's metadata directories and sums their
// on-disk footprint.
func (r *Repository) Stats() (Stats, error) {
	objects, err := strengthen.Du(filepath.Join(r.metaDir, "objects"))
	if err != nil {
		return Stats{}, err
	}
	packs, err := strengthen.Du(filepath.Join(r.metaDir, "packs"))
	if err != nil {
		return Stats{}, err
	}
	chunks, err := strengthen.Du(filepath.Join(r.metaDir, chunksDirName))
	if err != nil {
		return Stats{}, err
	}
	return Stats{ObjectsBytes: objects, PacksBytes: packs, ChunksBytes: chunks}, nil
}
