// Copyright 2018 Sourced Technologies, S.L.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/windvcs/wind/modules/oid"
)

// ErrStop can be returned from a ChangesetIter.ForEach callback to end
// iteration early without surfacing an error to the caller.
var ErrStop = errors.New("object: stop iteration")

// ChangesetIter is a generic closable iterator over changesets, used by the
// log, merge-base and git-export walks.
type ChangesetIter interface {
	Next(context.Context) (*Changeset, error)
	ForEach(context.Context, func(*Changeset) error) error
	Close()
}

// lookupIter walks an explicit, pre-computed list of OIDs.
type lookupIter struct {
	b      Backend
	series []oid.OID
	pos    int
}

// NewChangesetIter returns a ChangesetIter over ids in the given order,
// fetching each one from b lazily.
func NewChangesetIter(b Backend, ids []oid.OID) ChangesetIter {
	return &lookupIter{b: b, series: ids}
}

func (it *lookupIter) Next(ctx context.Context) (*Changeset, error) {
	if it.pos >= len(it.series) {
		return nil, io.EOF
	}
	id := it.series[it.pos]
	cs, err := it.b.Changeset(ctx, id)
	if oid.IsNoSuchObject(err) {
		return nil, io.EOF
	}
	if err == nil {
		it.pos++
	}
	return cs, err
}

func (it *lookupIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	defer it.Close()
	for {
		cs, err := it.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := cb(cs); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (it *lookupIter) Close() { it.pos = len(it.series) }

// preorderIter walks the changeset graph depth-first, parents after children
// (newest first), deduplicating visits.
type preorderIter struct {
	seenExternal map[oid.OID]bool
	seen         map[oid.OID]bool
	stack        []ChangesetIter
	start        *Changeset
}

// NewPreorderIter starts a depth-first walk at c, skipping anything in
// seenExternal (shared across a multi-branch walk) or ignore.
func NewPreorderIter(c *Changeset, seenExternal map[oid.OID]bool, ignore []oid.OID) ChangesetIter {
	seen := make(map[oid.OID]bool, len(ignore))
	for _, id := range ignore {
		seen[id] = true
	}
	return &preorderIter{seenExternal: seenExternal, seen: seen, start: c}
}

func filteredParentIter(c *Changeset, seen map[oid.OID]bool) ChangesetIter {
	var ids []oid.OID
	for _, id := range c.Parents {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return NewChangesetIter(c.b, ids)
}

func (w *preorderIter) Next(ctx context.Context) (*Changeset, error) {
	var c *Changeset
	for {
		if w.start != nil {
			c = w.start
			w.start = nil
		} else {
			cur := len(w.stack) - 1
			if cur < 0 {
				return nil, io.EOF
			}
			var err error
			c, err = w.stack[cur].Next(ctx)
			if err == io.EOF {
				w.stack = w.stack[:cur]
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		if w.seen[c.hash] || w.seenExternal[c.hash] {
			continue
		}
		w.seen[c.hash] = true
		if len(c.Parents) > 0 {
			w.stack = append(w.stack, filteredParentIter(c, w.seen))
		}
		return c, nil
	}
}

func (w *preorderIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	for {
		c, err := w.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(c); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (w *preorderIter) Close() {}

// postorderIter visits every parent before the changeset that introduces it,
// i.e. oldest-reachable first.
type postorderIter struct {
	stack []*Changeset
	seen  map[oid.OID]bool
}

func NewPostorderIter(c *Changeset, ignore []oid.OID) ChangesetIter {
	seen := make(map[oid.OID]bool, len(ignore))
	for _, id := range ignore {
		seen[id] = true
	}
	return &postorderIter{stack: []*Changeset{c}, seen: seen}
}

func (w *postorderIter) Next(ctx context.Context) (*Changeset, error) {
	for {
		if len(w.stack) == 0 {
			return nil, io.EOF
		}
		c := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if w.seen[c.hash] {
			continue
		}
		w.seen[c.hash] = true
		for _, id := range c.Parents {
			if w.seen[id] {
				continue
			}
			p, err := c.b.Changeset(ctx, id)
			if err != nil {
				return nil, err
			}
			w.stack = append(w.stack, p)
		}
		return c, nil
	}
}

func (w *postorderIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	for {
		c, err := w.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(c); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (w *postorderIter) Close() {}

// postorderFirstParentIter is like postorderIter but only follows each
// changeset's first parent, the shape used for "log --first-parent".
type postorderFirstParentIter struct {
	stack []*Changeset
	seen  map[oid.OID]bool
}

func NewPostorderFirstParentIter(c *Changeset, ignore []oid.OID) ChangesetIter {
	seen := make(map[oid.OID]bool, len(ignore))
	for _, id := range ignore {
		seen[id] = true
	}
	return &postorderFirstParentIter{stack: []*Changeset{c}, seen: seen}
}

func (w *postorderFirstParentIter) Next(ctx context.Context) (*Changeset, error) {
	for {
		if len(w.stack) == 0 {
			return nil, io.EOF
		}
		c := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if w.seen[c.hash] {
			continue
		}
		w.seen[c.hash] = true
		if len(c.Parents) > 0 && !w.seen[c.Parents[0]] {
			p, err := c.b.Changeset(ctx, c.Parents[0])
			if err != nil {
				return nil, err
			}
			w.stack = append(w.stack, p)
		}
		return c, nil
	}
}

func (w *postorderFirstParentIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	for {
		c, err := w.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(c); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (w *postorderFirstParentIter) Close() {}

// LogLimitOptions bounds a walk by author time, the equivalent of
// "log --since=... --until=...".
type LogLimitOptions struct {
	Since *time.Time
	Until *time.Time
}

type limitIter struct {
	source ChangesetIter
	opts   LogLimitOptions
}

func NewLimitIter(source ChangesetIter, opts LogLimitOptions) ChangesetIter {
	return &limitIter{source: source, opts: opts}
}

func (it *limitIter) Next(ctx context.Context) (*Changeset, error) {
	for {
		c, err := it.source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if it.opts.Since != nil && c.Author.When.Before(*it.opts.Since) {
			continue
		}
		if it.opts.Until != nil && c.Author.When.After(*it.opts.Until) {
			continue
		}
		return c, nil
	}
}

func (it *limitIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	for {
		c, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(c); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (it *limitIter) Close() { it.source.Close() }

// changesetStacker abstracts the two collections the topological walk needs:
// a LIFO stack of changesets ready to be emitted, and a heap (ordered by
// author time) used to discover the in-degree of every reachable changeset.
type changesetStacker interface {
	Push(c *Changeset)
	Pop() (*Changeset, bool)
	Peek() (*Changeset, bool)
	Size() int
}

type changesetStack struct {
	stack []*Changeset
}

func (cs *changesetStack) Push(c *Changeset) { cs.stack = append(cs.stack, c) }

func (cs *changesetStack) Pop() (*Changeset, bool) {
	if len(cs.stack) == 0 {
		return nil, false
	}
	c := cs.stack[len(cs.stack)-1]
	cs.stack = cs.stack[:len(cs.stack)-1]
	return c, true
}

func (cs *changesetStack) Peek() (*Changeset, bool) {
	if len(cs.stack) == 0 {
		return nil, false
	}
	return cs.stack[len(cs.stack)-1], true
}

func (cs *changesetStack) Size() int { return len(cs.stack) }

type changesetHeap struct {
	*binaryheap.Heap
}

func (h *changesetHeap) Push(c *Changeset) { h.Heap.Push(c) }

func (h *changesetHeap) Pop() (*Changeset, bool) {
	c, ok := h.Heap.Pop()
	if !ok {
		return nil, false
	}
	return c.(*Changeset), true
}

func (h *changesetHeap) Peek() (*Changeset, bool) {
	c, ok := h.Heap.Peek()
	if !ok {
		return nil, false
	}
	return c.(*Changeset), true
}

func composeIgnores(ignore []oid.OID, seenExternal map[oid.OID]bool) map[oid.OID]bool {
	seen := make(map[oid.OID]bool, len(ignore)+len(seenExternal))
	for _, id := range ignore {
		seen[id] = true
	}
	for id := range seenExternal {
		seen[id] = true
	}
	return seen
}

// topoOrderIter walks the graph so that every changeset is emitted only
// after every changeset with it as a parent has already been emitted,
// i.e. "log --topo-order". Needed so the merge engine can walk toward a common
// ancestor without ever visiting a child before all of its parents' other
// children have been accounted for.
type topoOrderIter struct {
	explorer changesetStacker
	visit    changesetStacker
	inCounts map[oid.OID]int
	seen     map[oid.OID]bool
}

func NewTopoOrderIter(c *Changeset, seenExternal map[oid.OID]bool, ignore []oid.OID) ChangesetIter {
	heap := &changesetHeap{Heap: binaryheap.NewWith(func(a, b any) int {
		return b.(*Changeset).Author.When.Compare(a.(*Changeset).Author.When)
	})}
	stack := &changesetStack{stack: make([]*Changeset, 0, 8)}
	seen := composeIgnores(ignore, seenExternal)
	if !seen[c.hash] {
		heap.Push(c)
		stack.Push(c)
	}
	return &topoOrderIter{explorer: heap, visit: stack, inCounts: make(map[oid.OID]int), seen: seen}
}

func (w *topoOrderIter) Next(ctx context.Context) (*Changeset, error) {
	var next *Changeset
	for {
		var ok bool
		next, ok = w.visit.Pop()
		if !ok {
			return nil, io.EOF
		}
		if w.inCounts[next.hash] == 0 {
			break
		}
	}

	parents := make([]*Changeset, 0, len(next.Parents))
	for _, id := range next.Parents {
		pc, err := next.b.Changeset(ctx, id)
		if oid.IsNoSuchObject(err) {
			parents = append(parents, nil)
			continue
		}
		if err != nil {
			return nil, err
		}
		parents = append(parents, pc)
	}

	for {
		toExplore, ok := w.explorer.Peek()
		if !ok {
			break
		}
		if toExplore.hash != next.hash && w.explorer.Size() == 1 {
			break
		}
		w.explorer.Pop()
		for _, id := range toExplore.Parents {
			if w.seen[id] {
				continue
			}
			w.inCounts[id]++
			if w.inCounts[id] == 1 {
				pc, err := toExplore.b.Changeset(ctx, id)
				if oid.IsNoSuchObject(err) {
					continue
				}
				if err != nil {
					return nil, err
				}
				w.explorer.Push(pc)
			}
		}
	}

	for i, id := range next.Parents {
		if w.seen[id] {
			continue
		}
		w.inCounts[id]--
		if w.inCounts[id] == 0 {
			if pc := parents[i]; pc != nil {
				w.visit.Push(pc)
			}
		}
	}
	delete(w.inCounts, next.hash)
	return next, nil
}

func (w *topoOrderIter) ForEach(ctx context.Context, cb func(*Changeset) error) error {
	for {
		c, err := w.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(c); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (w *topoOrderIter) Close() {}
