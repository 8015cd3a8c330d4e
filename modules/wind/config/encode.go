// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Save writes cfg to metaDir's config file, atomically (temp file + rename,
// the same pattern the object/chunk stores use for durability).
func Save(metaDir string, cfg *Config) error {
	dir := metaDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmpName := filepath.Join(dir, fmt.Sprintf(".config-%d.tmp", time.Now().UnixNano()))
	f, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()
	enc := toml.NewEncoder(f)
	enc.Indent = ""
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, ConfigFileName)); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	succeeded = true
	return nil
}
