package cfg

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/unbolt/unbolt/decompiler/il"
)

// Run structures the whole function: blocks reordered in reverse
// postorder with unreachable ones dropped, loops detected, conditional
// chains folded, switches normalized. Safe to re-run; a structured
// tree is a fixed point.
func Run(ctx context.Context, fn *il.Function) error {
	tr := tlog.SpanFromContext(ctx)

	if fn.Body() == nil {
		return nil
	}

	var err error

	containers := []*il.Instruction{}

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if i.Op() == il.OpBlockContainer {
			containers = append(containers, i)
		}

		return true
	})

	// bottom-up, so inner graphs are structured before outer ones
	for n := len(containers) - 1; n >= 0; n-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c := containers[n]

		c.SortBlocks(true)
		DetectLoops(ctx, c)
		FoldIfElse(c)
		MergeFallthrough(c)
		c.SortBlocks(true)
	}

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if i.Op() == il.OpSwitch {
			if e := SimplifySwitch(i); e != nil && err == nil {
				err = e
			}
		}

		return true
	})

	if err != nil {
		tr.Printw("switch normalization failed", "err", err)
	}

	return err
}
