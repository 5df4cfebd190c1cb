package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// expressionInlining folds single-use stack slots back into the
// expression that consumes them. Only the leftmost operand position is
// eligible, which keeps evaluation order intact without a full
// side-effect analysis.
func expressionInlining(ctx context.Context, fn *il.Function, c *Context) error {
	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		return inlineOne(b, i)
	})

	return nil
}

func inlineOne(b *il.Instruction, i int) bool {
	if i+1 >= b.NumChildren() {
		return false
	}

	var s *il.Variable
	var value *il.Instruction

	st := b.Child(i)
	if !st.MatchStLoc(&s, &value) || s.Kind != il.KindStackSlot {
		return false
	}

	if !s.IsSingleDefinition() || s.LoadCount != 1 || s.AddressCount != 0 {
		return false
	}

	leaf := leftmostLeaf(b.Child(i + 1))
	if leaf == nil || !leaf.MatchLdLocOf(s) {
		return false
	}

	st.Detach()
	expr := st.RemoveChildAt(0)
	leaf.ReplaceWith(expr)

	return true
}

// leftmostLeaf follows first children down to the first-evaluated
// operand.
func leftmostLeaf(i *il.Instruction) *il.Instruction {
	switch i.Op() {
	case il.OpBlock, il.OpBlockContainer, il.OpTryCatch, il.OpTryFinally, il.OpTryFault:
		return nil
	}

	for i.NumChildren() > 0 {
		i = i.Child(0)
	}

	return i
}

// copyPropagation replaces loads of a single-definition variable whose
// value is itself a trivially stable expression: another
// single-definition variable, or a constant.
func copyPropagation(ctx context.Context, fn *il.Function, c *Context) error {
	if fn.Body() == nil {
		return nil
	}

	var stores []*il.Instruction

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		var v *il.Variable
		var value *il.Instruction

		if i.MatchStLoc(&v, &value) && v.Kind == il.KindStackSlot && v.IsSingleDefinition() && v.AddressCount == 0 {
			if isStableCopySource(value) {
				stores = append(stores, i)
			}
		}

		return true
	})

	for _, st := range stores {
		v := st.Variable()
		value := st.Child(0)

		var loads []*il.Instruction

		fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
			if i != value && i.MatchLdLocOf(v) {
				loads = append(loads, i)
			}

			return true
		})

		for _, ld := range loads {
			ld.ReplaceWith(value.Clone())
		}

		st.Detach()
	}

	return nil
}

func isStableCopySource(value *il.Instruction) bool {
	switch value.Op() {
	case il.OpLdNull, il.OpLdcI4, il.OpLdcI8, il.OpLdStr:
		return true
	case il.OpLdLoc:
		return value.Variable().IsSingleDefinition()
	default:
		return false
	}
}

// stringConcat flattens nested String.Concat chains into one call.
func stringConcat(ctx context.Context, fn *il.Function, c *Context) error {
	if fn.Body() == nil {
		return nil
	}

	for {
		var outer *il.Instruction

		fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
			if outer != nil {
				return false
			}

			if isStringConcat(i) && i.NumChildren() > 0 && isStringConcat(i.Child(0)) {
				outer = i
				return false
			}

			return true
		})

		if outer == nil {
			return nil
		}

		inner := outer.RemoveChildAt(0)

		for n := inner.NumChildren() - 1; n >= 0; n-- {
			outer.InsertChild(0, inner.RemoveChildAt(n))
		}
	}
}

func isStringConcat(i *il.Instruction) bool {
	var m *ts.Method

	if !i.MatchCall(&m) || m == nil || m.Name() != "Concat" {
		return false
	}

	d := m.DeclaringType

	return d != nil && d.Namespace() == "System" && d.Name() == "String"
}

// deadVariableInit drops compiler-emitted zero initializations of
// locals nothing reads.
func deadVariableInit(ctx context.Context, fn *il.Function, c *Context) error {
	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		var v *il.Variable
		var value *il.Instruction

		st := b.Child(i)
		if !st.MatchStLoc(&v, &value) || v.Kind != il.KindLocal {
			return false
		}

		if v.LoadCount != 0 || v.AddressCount != 0 {
			return false
		}

		switch {
		case value.MatchLdNull(), value.MatchLdcI4Val(0), value.Op() == il.OpDefaultValue:
			st.Detach()
			return true
		}

		return false
	})

	return nil
}
