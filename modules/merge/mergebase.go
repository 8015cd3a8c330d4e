// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"context"

	"github.com/windvcs/wind/modules/oid"
	"github.com/windvcs/wind/modules/wind/object"
)

// FindMergeBase returns a common ancestor of a and b, walking a's full
// ancestry into a set and then b's ancestry (nearest first) for the first
// hit, the same shape as go-git's commit_walker-based merge-base search.
// It is not guaranteed to be the *lowest* common ancestor when the graph
// has more than one, but every changeset returned is a valid three-way
// merge base; ok is false when the two have no shared history.
func FindMergeBase(ctx context.Context, a, b *object.Changeset) (base *object.Changeset, ok bool, err error) {
	if a == nil || b == nil {
		return nil, false, nil
	}
	if a.Hash() == b.Hash() {
		return a, true, nil
	}

	ancestorsOfA := make(map[oid.OID]bool)
	it := object.NewPostorderIter(a, nil)
	defer it.Close()
	for {
		c, walkErr := it.Next(ctx)
		if walkErr != nil {
			break
		}
		ancestorsOfA[c.Hash()] = true
	}

	bit := object.NewPreorderIter(b, nil, nil)
	defer bit.Close()
	for {
		c, walkErr := bit.Next(ctx)
		if walkErr != nil {
			break
		}
		if ancestorsOfA[c.Hash()] {
			return c, true, nil
		}
	}
	return nil, false, nil
}
