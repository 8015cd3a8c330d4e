// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LoadUser reads the user-scoped config found via os.UserConfigDir
// ("<UserConfigDir>/wind/config"), the baseline every repository-local
// config overlays. A missing file is not an error: it yields Default().
func LoadUser() (*Config, error) {
	cfg := Default()
	dir, err := os.UserConfigDir()
	if err != nil {
		return cfg, nil
	}
	path := filepath.Join(dir, userConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads metaDir's repository-local config, layered on top of
// LoadUser's result: the usual global-then-repository overlay.
func Load(metaDir string) (*Config, error) {
	cfg, err := LoadUser()
	if err != nil {
		return nil, err
	}
	if metaDir == "" {
		return cfg, nil
	}
	path := filepath.Join(metaDir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	var rc Config
	if _, err := toml.DecodeFile(path, &rc); err != nil {
		return nil, err
	}
	cfg.Overwrite(&rc)
	return cfg, nil
}
