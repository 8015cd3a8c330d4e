// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"sort"

	"github.com/windvcs/wind/modules/nodeid"
	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/object"
)

type renamedFile struct {
	from, to string
	nid      nodeid.NodeID
	oid      oid.OID
	perm     uint32
}

type treeFileEntry struct {
	oid  oid.OID
	perm uint32
}

// detectRenames matches paths that disappeared from the parent tree against
// genuinely new paths in the current tree with identical blob content.
// The policy mirrors modules/workingcopy's working-tree rename detection:
// single-source, single-target, tie-broken by path-edit distance then
// lexicographic order.
func detectRenames(parent *object.Manifest, deletedPaths []string, newFiles map[string]treeFileEntry, addedPaths []string) (renamed []renamedFile, remainingDeleted, remainingAdded []string) {
	sort.Strings(deletedPaths)
	sort.Strings(addedPaths)

	byOID := make(map[oid.OID][]string)
	for _, p := range addedPaths {
		f := newFiles[p]
		byOID[f.oid] = append(byOID[f.oid], p)
	}
	used := make(map[string]bool)

	for _, d := range deletedPaths {
		e, _ := parent.Get(d)
		candidates := byOID[e.OID]
		best := ""
		bestDist := -1
		for _, cand := range candidates {
			if used[cand] {
				continue
			}
			dist := levenshtein(d, cand)
			if best == "" || dist < bestDist || (dist == bestDist && cand < best) {
				best = cand
				bestDist = dist
			}
		}
		if best == "" {
			remainingDeleted = append(remainingDeleted, d)
			continue
		}
		used[best] = true
		f := newFiles[best]
		renamed = append(renamed, renamedFile{from: d, to: best, nid: e.NodeID, oid: f.oid, perm: f.perm})
	}
	for _, p := range addedPaths {
		if !used[p] {
			remainingAdded = append(remainingAdded, p)
		}
	}
	return renamed, remainingDeleted, remainingAdded
}

// levenshtein computes the classic edit distance between a and b, used only
// to tie-break rename candidates sharing an identical content OID.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
