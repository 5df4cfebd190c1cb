// Package cfg recovers structured control flow from block graphs:
// dominator-based loop detection, if/else folding, and switch
// normalization.
package cfg

import (
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/set"
)

type domInfo struct {
	blocks []*il.Instruction
	preds  [][]int

	// dom[i] holds the block indexes dominating block i
	dom []set.Bitmap
}

// dominators computes the dominator sets of a container's blocks with
// the classic bitset iteration over reverse postorder.
func dominators(c *il.Instruction) *domInfo {
	c.SortBlocks(false)

	blocks := c.Blocks()
	n := len(blocks)

	d := &domInfo{
		blocks: blocks,
		preds:  make([][]int, n),
		dom:    make([]set.Bitmap, n),
	}

	for i, b := range blocks {
		b.Successors(func(t *il.Instruction) bool {
			d.preds[t.ChildIndex()] = append(d.preds[t.ChildIndex()], i)
			return true
		})
	}

	for i := range d.dom {
		d.dom[i] = set.MakeBitmap(n)

		if i == 0 {
			d.dom[i].Set(0)
			continue
		}

		d.dom[i].FillSet(0, n)
	}

	for changed := true; changed; {
		changed = false

		for i := 1; i < n; i++ {
			nd := set.MakeBitmap(n)
			nd.FillSet(0, n)

			any := false

			for _, p := range d.preds[i] {
				nd.And(d.dom[p])
				any = true
			}

			if !any {
				nd.Reset()
			}

			nd.Set(i)

			if !nd.Equal(&d.dom[i]) {
				d.dom[i] = nd
				changed = true
			}
		}
	}

	return d
}

func (d *domInfo) dominates(a, b int) bool {
	return d.dom[b].IsSet(a)
}
