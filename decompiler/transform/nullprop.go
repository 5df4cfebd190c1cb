package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
)

// nullPropagation recovers ?. and ?? from the conditional shapes the
// compiler emits for them.
func nullPropagation(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.NullPropagation {
		return nil
	}

	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		return nullConditionalCall(b, i) || nullCoalescingStore(b, i) || nullCoalescingGuard(b, i)
	})

	return nil
}

// nullConditionalCall matches
//
//	if (x != null) v = x.M(...) else v = null      =>  v = x?.M(...)
func nullConditionalCall(b *il.Instruction, i int) bool {
	ifi := b.Child(i)
	if ifi.Op() != il.OpIfInstruction {
		return false
	}

	x, thenArm, elseArm, ok := nullTestArms(ifi)
	if !ok {
		return false
	}

	var v1, v2, recv *il.Variable
	var access, nul *il.Instruction

	if !thenArm.MatchStLoc(&v1, &access) || !elseArm.MatchStLoc(&v2, &nul) || v1 != v2 {
		return false
	}

	if !nul.MatchLdNull() {
		return false
	}

	if access.Op() != il.OpCall && access.Op() != il.OpCallVirt || access.NumChildren() == 0 {
		return false
	}

	if !access.Child(0).MatchLdLoc(&recv) || recv != x {
		return false
	}

	value := thenArm.RemoveChildAt(0)
	ifi.ReplaceWith(il.NewStLoc(v1, il.NewNullConditional(il.NewLdLoc(x), value)))

	return true
}

// nullCoalescingStore matches
//
//	if (x == null) v = fb else v = x               =>  v = x ?? fb
func nullCoalescingStore(b *il.Instruction, i int) bool {
	ifi := b.Child(i)
	if ifi.Op() != il.OpIfInstruction {
		return false
	}

	x, thenArm, elseArm, ok := nullTestArms(ifi)
	if !ok {
		return false
	}

	// normalized above to "x != null" first: then = non-null path
	var v1, v2, xv *il.Variable
	var nonNull, fallback *il.Instruction

	if !thenArm.MatchStLoc(&v1, &nonNull) || !elseArm.MatchStLoc(&v2, &fallback) || v1 != v2 {
		return false
	}

	if !nonNull.MatchLdLoc(&xv) || xv != x {
		return false
	}

	fb := elseArm.RemoveChildAt(0)
	ifi.ReplaceWith(il.NewStLoc(v1, il.NewNullCoalescing(il.NewLdLoc(x), fb)))

	return true
}

// nullCoalescingGuard matches
//
//	v = expr; if (v == null) v = fb                =>  v = expr ?? fb
func nullCoalescingGuard(b *il.Instruction, i int) bool {
	if i < 1 {
		return false
	}

	ifi := b.Child(i)
	if ifi.Op() != il.OpIfInstruction || !ifi.Child(2).MatchNop() {
		return false
	}

	var l, r *il.Instruction
	var v, v2, v3 *il.Variable

	cond := ifi.Child(0)
	if !cond.MatchCompEquals(&l, &r) || !l.MatchLdLoc(&v) || !r.MatchLdNull() {
		return false
	}

	guarded := ifi.Child(1)

	if guarded.Op() == il.OpBlock && guarded.NumChildren() == 1 {
		guarded = guarded.Child(0)
	}

	var fb *il.Instruction

	if !guarded.MatchStLoc(&v2, &fb) || v2 != v {
		return false
	}

	var expr *il.Instruction

	if !b.Child(i-1).MatchStLoc(&v3, &expr) || v3 != v {
		return false
	}

	first := b.Child(i - 1)
	value := first.RemoveChildAt(0)
	fbExpr := guarded.RemoveChildAt(0)

	b.RemoveChildAt(i) // the if
	first.AddChild(il.NewNullCoalescing(value, fbExpr))

	return true
}

// nullTestArms normalizes a null-test conditional so the first
// returned arm is the non-null path.
func nullTestArms(ifi *il.Instruction) (x *il.Variable, nonNull, isNull *il.Instruction, ok bool) {
	cond := ifi.Child(0)

	var l, r *il.Instruction

	if cond.MatchCompNotEquals(&l, &r) && r.MatchLdNull() && l.MatchLdLoc(&x) {
		return x, unwrapSingle(ifi.Child(1)), unwrapSingle(ifi.Child(2)), true
	}

	if cond.MatchCompEquals(&l, &r) && r.MatchLdNull() && l.MatchLdLoc(&x) {
		return x, unwrapSingle(ifi.Child(2)), unwrapSingle(ifi.Child(1)), true
	}

	return nil, nil, nil, false
}

// unwrapSingle sees through a one-statement block arm.
func unwrapSingle(arm *il.Instruction) *il.Instruction {
	if arm.Op() == il.OpBlock && arm.NumChildren() == 1 {
		return arm.Child(0)
	}

	return arm
}
