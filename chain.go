package stash

import (
	"fmt"

	"github.com/google/btree"
)

// chainDegree is the B-tree degree of the chain index.
const chainDegree = 16

// Chain is the ordered set of committed placements. Ranges are keyed by start
// position and never overlap.
//
// The zero value is not usable; create chains with NewChain.
type Chain struct {
	tree *btree.BTreeG[Range]
}

func rangeLess(a, b Range) bool {
	return a.Start < b.Start
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{tree: btree.NewG(chainDegree, rangeLess)}
}

// ChainOf builds a chain from ranges in any order. It fails with ErrOverlap if
// two ranges intersect and ErrInvalidRange if a range is inverted.
func ChainOf(ranges []Range) (*Chain, error) {
	c := NewChain()
	for _, r := range ranges {
		if err := c.Insert(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Len returns the number of committed ranges.
func (c *Chain) Len() int {
	return c.tree.Len()
}

// Insert commits r. The chain is left unchanged on error.
func (c *Chain) Insert(r Range) error {
	if err := r.check(); err != nil {
		return err
	}
	if prev, ok := c.Predecessor(r.End); ok && prev.End >= r.Start {
		return fmt.Errorf("%w: %v intersects %v", ErrOverlap, r, prev)
	}
	c.tree.ReplaceOrInsert(r)
	return nil
}

// Overlaps reports whether [start, end] intersects any committed range.
//
// Committed ranges are disjoint, so only the range with the greatest start not
// after end can reach back into the interval.
func (c *Chain) Overlaps(start, end int) bool {
	prev, ok := c.Predecessor(end)
	return ok && prev.End >= start
}

// Predecessor returns the committed range with the greatest start <= pos.
func (c *Chain) Predecessor(pos int) (Range, bool) {
	var (
		found Range
		ok    bool
	)
	c.tree.DescendLessOrEqual(Range{Start: pos}, func(r Range) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// Successor returns the committed range with the smallest start >= pos.
func (c *Chain) Successor(pos int) (Range, bool) {
	var (
		found Range
		ok    bool
	)
	c.tree.AscendGreaterOrEqual(Range{Start: pos}, func(r Range) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// At returns the committed range covering pos.
func (c *Chain) At(pos int) (Range, bool) {
	r, ok := c.Predecessor(pos)
	if !ok || r.End < pos {
		return Range{}, false
	}
	return r, true
}

// Ranges returns the committed ranges ordered by start.
func (c *Chain) Ranges() []Range {
	out := make([]Range, 0, c.tree.Len())
	c.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}
