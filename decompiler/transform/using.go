package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// usingStatement recovers using (res = init) { ... } from
//
//	stloc res(init); try { body } finally { if (res != null) res.Dispose() }
//
// including the unconditional struct form without the null check.
func usingStatement(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.UsingStatement {
		return nil
	}

	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		return usingRecognizer(b, i)
	})

	return nil
}

func usingRecognizer(b *il.Instruction, i int) bool {
	if i < 1 {
		return false
	}

	var try, fin, init *il.Instruction
	var res *il.Variable

	tf := b.Child(i)
	if !tf.MatchTryFinally(&try, &fin) {
		return false
	}

	if !b.Child(i-1).MatchStLoc(&res, &init) || !res.IsSingleDefinition() || res.AddressCount != 0 {
		return false
	}

	if !matchDisposeFinally(fin, res) {
		return false
	}

	stloc := b.RemoveChildAt(i - 1)
	value := stloc.RemoveChildAt(0)
	tryC := tf.RemoveChildAt(0)

	tf.ReplaceWith(il.NewUsing(res, value, tryC))

	return true
}

// matchDisposeFinally accepts finally { res?.Dispose() } in folded or
// raw block form, with nothing else inside.
func matchDisposeFinally(finC *il.Instruction, res *il.Variable) bool {
	if finC.Op() != il.OpBlockContainer {
		return false
	}

	var dispose *il.Instruction
	clean := true

	finC.Descendants(func(i *il.Instruction) bool {
		switch i.Op() {
		case il.OpBlock, il.OpIfInstruction, il.OpLogicNot, il.OpBranch,
			il.OpLeave, il.OpNop, il.OpLdNull,
			il.OpCompEquals, il.OpCompNotEquals, il.OpCastClass:
			return true
		case il.OpLdLoc:
			if i.Variable() != res {
				clean = false
			}

			return false
		case il.OpCall, il.OpCallVirt:
			var m *ts.Method

			if dispose != nil || !i.MatchCall(&m) || m == nil || m.Name() != "Dispose" || i.NumChildren() != 1 {
				clean = false
				return false
			}

			dispose = i

			return true
		default:
			clean = false
			return false
		}
	})

	if !clean || dispose == nil {
		return false
	}

	var v *il.Variable

	arg := dispose.Child(0)

	// structs dispose through a cast-free constrained call on the
	// variable itself
	if arg.Op() == il.OpCastClass {
		arg = arg.Child(0)
	}

	return arg.MatchLdLoc(&v) && v == res
}
