package cfg

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/unbolt/unbolt/decompiler/il"
)

// DetectLoops rewrites natural loops of the container (and nested
// containers) into loop block containers. A loop is recognized from a
// back-edge to a dominating header; it is only formed when every exit
// branch agrees on a single continuation block, which is the common
// shape compilers emit.
func DetectLoops(ctx context.Context, c *il.Instruction) {
	// innermost first, so nested loops are already containers
	for _, b := range c.Blocks() {
		b.Descendants(func(i *il.Instruction) bool {
			if i.Op() == il.OpBlockContainer {
				DetectLoops(ctx, i)
				return false
			}

			return true
		})
	}

	for detectOneLoop(ctx, c) {
		if ctx.Err() != nil {
			return
		}
	}
}

func detectOneLoop(ctx context.Context, c *il.Instruction) bool {
	d := dominators(c)

	for h := range d.blocks {
		// a loop container's entry back-edge is the loop itself
		if h == 0 && c.ContainerKind() == il.ContainerLoop {
			continue
		}

		var latches []int

		for _, p := range d.preds[h] {
			if d.dominates(h, p) {
				latches = append(latches, p)
			}
		}

		if len(latches) == 0 {
			continue
		}

		if formLoop(c, d, h, latches) {
			tlog.SpanFromContext(ctx).V("loops").Printw("loop formed", "header", h, "latches", latches)
			return true
		}
	}

	return false
}

func formLoop(c *il.Instruction, d *domInfo, h int, latches []int) bool {
	inLoop := map[*il.Instruction]bool{d.blocks[h]: true}

	stack := append([]int{}, latches...)

	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if inLoop[d.blocks[b]] {
			continue
		}

		inLoop[d.blocks[b]] = true
		stack = append(stack, d.preds[b]...)
	}

	// all exits must agree on one continuation
	var exit *il.Instruction

	for b := range inLoop {
		ok := true

		b.Successors(func(t *il.Instruction) bool {
			if inLoop[t] {
				return true
			}

			if exit == nil {
				exit = t
			} else if exit != t {
				ok = false
				return false
			}

			return true
		})

		if !ok {
			return false
		}
	}

	header := d.blocks[h]
	pos := header.ChildIndex()

	// move loop members into their own container, header first
	loop := il.NewBlockContainer()
	loop.SetContainerKind(il.ContainerLoop)

	var members []*il.Instruction

	for _, b := range d.blocks {
		if inLoop[b] {
			members = append(members, b)
		}
	}

	for _, b := range members {
		loop.AddChild(b.Detach())
	}

	// exit branches become leaves of the loop container
	var exitBranches []*il.Instruction

	loop.Descendants(func(i *il.Instruction) bool {
		if i.Op() == il.OpBranch && i.Target() == exit {
			exitBranches = append(exitBranches, i)
		}

		return true
	})

	for _, br := range exitBranches {
		br.ReplaceWith(il.NewLeave(loop, il.NewNop()))
	}

	wrapper := il.NewBlock(loop)

	if exit != nil {
		wrapper.AddChild(il.NewBranch(exit))
	}

	c.InsertChild(pos, wrapper)

	// entries into the loop now go through the wrapper
	var entryBranches []*il.Instruction

	c.Descendants(func(i *il.Instruction) bool {
		if i.Op() == il.OpBlockContainer && i != c {
			return false
		}

		if i.Op() == il.OpBranch && i.Target() == header && !i.IsDescendantOf(loop) {
			entryBranches = append(entryBranches, i)
		}

		return true
	})

	for _, br := range entryBranches {
		br.SetTarget(wrapper)
	}

	return true
}
