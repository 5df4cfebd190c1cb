package cfg

import (
	"github.com/unbolt/unbolt/decompiler/il"
)

// FoldIfElse inlines single-entry branch targets into the arms of
// their IfInstruction, folding the block graph into nested structure.
// Repeated application reduces the block count until only irreducible
// edges remain.
func FoldIfElse(c *il.Instruction) {
	for foldOne(c) {
	}
}

func foldOne(c *il.Instruction) bool {
	for _, b := range c.Blocks() {
		insts := b.Instructions()
		if len(insts) < 2 {
			continue
		}

		ifi := insts[len(insts)-2]
		tail := insts[len(insts)-1]

		var cond, trueBranch, ft, trueTarget *il.Instruction

		if !ifi.MatchIfInstruction(&cond, &trueBranch) || !tail.MatchBranch(&ft) {
			continue
		}

		if trueBranch.MatchBranch(&trueTarget) && canInline(trueTarget, b) {
			trueBranch.ReplaceWith(trueTarget.Detach())

			return true
		}

		// fold the fallthrough into the else arm once the then arm
		// transfers control on every path
		if canInline(ft, b) && trueBranch.HasFlag(il.FlagEndPointUnreachable) {
			tail.Detach()
			ifi.SetChild(2, ft.Detach())

			return true
		}
	}

	return false
}

func canInline(target, from *il.Instruction) bool {
	return target != nil && target != from && target.IncomingEdgeCount() == 1 && target.Parent() == from.Parent()
}

// MergeFallthrough appends a single-entry branch target onto the block
// that jumps to it, collapsing straight-line chains into one block.
func MergeFallthrough(c *il.Instruction) {
	for changed := true; changed; {
		changed = false

		for _, b := range c.Blocks() {
			n := b.NumChildren()
			if n == 0 {
				continue
			}

			var t *il.Instruction

			last := b.Child(n - 1)
			if !last.MatchBranch(&t) || t == b || !canInline(t, b) || t == c.EntryPoint() {
				continue
			}

			last.Detach()

			for t.NumChildren() > 0 {
				b.AddChild(t.RemoveChildAt(0))
			}

			t.Detach()
			changed = true

			break
		}
	}
}
