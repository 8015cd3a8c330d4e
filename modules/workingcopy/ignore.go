// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package workingcopy

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/windvcs/wind/modules/wildmatch"
)

const (
	windIgnoreFile = ".windignore"
	gitIgnoreFile  = ".gitignore"
)

// ignoreSet is the cumulative list of patterns in effect for one directory:
// its own ignore file's patterns plus everything inherited from ancestors,
// matching git's cascading ignore-file semantics.
type ignoreSet struct {
	matchers []*wildmatch.Wildmatch
}

func (s *ignoreSet) matches(relPath string, isDir bool) bool {
	for _, m := range s.matchers {
		if m.MatchWithOpts(relPath, wildmatch.MatchOpts{IsDirectory: isDir}) {
			return true
		}
	}
	return false
}

// ignoreCache builds and memoises one ignoreSet per directory visited
// during a scan, so a large tree re-parses each .windignore/.gitignore
// once rather than once per file.
type ignoreCache struct {
	root string
	sets map[string]*ignoreSet // keyed by path relative to root ("" = root)
}

func newIgnoreCache(root string) *ignoreCache {
	return &ignoreCache{root: root, sets: map[string]*ignoreSet{"": {}}}
}

// forDir returns the cumulative ignore set for relDir (relative to root,
// "" for the repository root), building and caching it (and any
// uncached ancestor) on first use.
func (c *ignoreCache) forDir(relDir string) *ignoreSet {
	if s, ok := c.sets[relDir]; ok {
		return s
	}
	parent := ""
	if relDir != "" {
		parent = filepath.ToSlash(filepath.Dir(relDir))
		if parent == "." {
			parent = ""
		}
	}
	parentSet := c.forDir(parent)
	own := c.loadOwn(relDir)
	combined := &ignoreSet{matchers: append(append([]*wildmatch.Wildmatch{}, parentSet.matchers...), own...)}
	c.sets[relDir] = combined
	return combined
}

func (c *ignoreCache) loadOwn(relDir string) []*wildmatch.Wildmatch {
	dir := filepath.Join(c.root, filepath.FromSlash(relDir))
	path := filepath.Join(dir, windIgnoreFile)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, gitIgnoreFile)
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []*wildmatch.Wildmatch
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, wildmatch.NewWildmatch(line, wildmatch.SystemCase, wildmatch.Contents))
	}
	return out
}
