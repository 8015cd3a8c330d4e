// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package workingcopy

import (
	"sort"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/pathindex"
)

// detectRenames matches deleted index entries against untracked files with
// identical content OID: single-source,
// single-target, with OID collisions broken by (a) smallest path-edit
// distance then (b) lexicographic path order. Matched pairs are removed
// from both input lists so the caller never double-reports a Deleted or
// Untracked for a path this function turned into a Renamed.
func detectRenames(deleted []pathindex.Entry, untracked []pendingFile) (renamed []Change, remainingDeleted []pathindex.Entry, remainingUntracked []pendingFile) {
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].Path < deleted[j].Path })
	sort.Slice(untracked, func(i, j int) bool { return untracked[i].Path < untracked[j].Path })

	byOID := make(map[oid.OID][]int) // untracked index positions, grouped by content OID
	for i, u := range untracked {
		byOID[u.OID] = append(byOID[u.OID], i)
	}
	used := make(map[int]bool)

	for _, d := range deleted {
		candidates := byOID[d.OID()]
		best := -1
		bestDist := -1
		for _, idx := range candidates {
			if used[idx] {
				continue
			}
			dist := levenshtein(d.Path, untracked[idx].Path)
			if best == -1 || dist < bestDist ||
				(dist == bestDist && untracked[idx].Path < untracked[best].Path) {
				best = idx
				bestDist = dist
			}
		}
		if best == -1 {
			remainingDeleted = append(remainingDeleted, d)
			continue
		}
		used[best] = true
		u := untracked[best]
		renamed = append(renamed, Change{
			Kind:        Renamed,
			Path:        u.Path,
			OldPath:     d.Path,
			NodeID:      d.NodeID(),
			OID:         u.OID,
			Permissions: u.Perm,
		})
	}
	for i, u := range untracked {
		if !used[i] {
			remainingUntracked = append(remainingUntracked, u)
		}
	}
	return renamed, remainingDeleted, remainingUntracked
}

// levenshtein computes the classic edit distance between a and b, used
// only to tie-break rename candidates sharing an identical content OID.
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
