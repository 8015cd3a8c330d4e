// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config implements the repository-local and user-scoped
// configuration layers, parsed with github.com/BurntSushi/toml and
// trimmed to the sections the engine's core actually reads: core
// hashing/compression algorithm names and the user identity used to
// populate a Changeset's author when one isn't supplied explicitly.
package config

const (
	DefaultHashAlgo    = "BLAKE3"
	DefaultCompression = "zstd"
	ConfigFileName     = "config"
	userConfigFileName = "wind/config"
)

// Core holds the core.* section of a repository's config file.
type Core struct {
	HashAlgo    string `toml:"hashAlgo,omitempty"`
	Compression string `toml:"compression,omitempty"`
}

func (c *Core) overwrite(o Core) {
	if o.HashAlgo != "" {
		c.HashAlgo = o.HashAlgo
	}
	if o.Compression != "" {
		c.Compression = o.Compression
	}
}

// User holds the user.* section: the identity attached to changesets built
// without an explicit author.
type User struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

func (u *User) overwrite(o User) {
	if o.Name != "" {
		u.Name = o.Name
	}
	if o.Email != "" {
		u.Email = o.Email
	}
}

// Empty reports whether neither name nor email has been configured.
func (u User) Empty() bool { return u.Name == "" && u.Email == "" }

// Config is the parsed form of ".<meta>/config", possibly overlaid with a
// user-scoped config found via os.UserConfigDir. Config is repo-local or
// user-scoped, never process-wide.
type Config struct {
	Core Core `toml:"core,omitempty"`
	User User `toml:"user,omitempty"`
}

// Default returns the baseline configuration new repositories start from.
func Default() *Config {
	return &Config{Core: Core{HashAlgo: DefaultHashAlgo, Compression: DefaultCompression}}
}

// Overwrite applies o's non-zero fields on top of c, used to layer a
// repository-local config over the user-scoped baseline.
func (c *Config) Overwrite(o *Config) {
	c.Core.overwrite(o.Core)
	c.User.overwrite(o.User)
}
