package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// foreachStatement recovers foreach loops. The enumerator shape
// refines a previously recovered using statement whose resource is
// GetEnumerator; the array shape matches the index walk directly.
func foreachStatement(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.ForEachStatement {
		return nil
	}

	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		return foreachEnumerator(b, i) || foreachArray(b, i)
	})

	return nil
}

// foreachEnumerator matches
//
//	using (e = coll.GetEnumerator()) {
//	    loop { if (e.MoveNext()) { cur = e.get_Current(); body; continue } leave }
//	}
func foreachEnumerator(b *il.Instruction, i int) bool {
	u := b.Child(i)
	if u.Op() != il.OpUsingInstruction {
		return false
	}

	e := u.Variable()

	var m *ts.Method

	resource := u.Child(0)
	if !resource.MatchCall(&m) || m == nil || m.Name() != "GetEnumerator" || resource.NumChildren() != 1 {
		return false
	}

	loop, ok := singleLoop(u.Child(1))
	if !ok {
		return false
	}

	head := loop.EntryPoint()
	if head.NumChildren() < 1 {
		return false
	}

	var cond, thenInst *il.Instruction

	ifi := head.Child(0)
	if ifi.Op() != il.OpIfInstruction {
		return false
	}

	cond = ifi.Child(0)
	thenInst = ifi.Child(1)

	var ev *il.Variable

	if !cond.MatchCall(&m) || m == nil || m.Name() != "MoveNext" || cond.NumChildren() != 1 ||
		!cond.Child(0).MatchLdLoc(&ev) || ev != e {
		return false
	}

	if thenInst.Op() != il.OpBlock || thenInst.NumChildren() < 1 {
		return false
	}

	var cur *il.Variable
	var curVal *il.Instruction

	if !thenInst.Child(0).MatchStLoc(&cur, &curVal) {
		return false
	}

	var cv *il.Variable

	if !curVal.MatchCall(&m) || m == nil || m.Name() != "get_Current" || curVal.NumChildren() != 1 ||
		!curVal.Child(0).MatchLdLoc(&cv) || cv != e {
		return false
	}

	// the enumerator must not escape the pattern: its store became the
	// using binding, leaving exactly the MoveNext and get_Current loads
	if e == nil || e.LoadCount != 2 || e.StoreCount != 0 || e.AddressCount != 0 {
		return false
	}

	coll := resource.RemoveChildAt(0)

	thenInst.RemoveChildAt(0) // cur = e.Current
	dropTrailingBranch(thenInst, head)

	body := thenInst.Detach()

	u.ReplaceWith(il.NewForeach(cur, coll, body))

	return true
}

// dropTrailingBranch removes a continue branch about to dangle once
// its target block is discarded with the loop scaffolding.
func dropTrailingBranch(body, head *il.Instruction) {
	n := body.NumChildren()
	if n == 0 {
		return
	}

	var t *il.Instruction

	if body.Child(n-1).MatchBranch(&t) && t == head {
		body.RemoveChildAt(n - 1)
	}
}

// singleLoop unwraps a container whose entry block is just a loop
// container (plus its leave).
func singleLoop(c *il.Instruction) (*il.Instruction, bool) {
	if c.Op() != il.OpBlockContainer || c.NumChildren() != 1 {
		return nil, false
	}

	entry := c.EntryPoint()

	for _, inst := range entry.Instructions() {
		if inst.Op() == il.OpBlockContainer && inst.ContainerKind() == il.ContainerLoop {
			return inst, true
		}
	}

	return nil, false
}

// foreachArray matches the canonical index walk
//
//	stloc arr(coll); stloc i(0);
//	loop { if (i < arr.Length) { v = arr[i]; body; i = i + 1; continue } leave }
func foreachArray(b *il.Instruction, i int) bool {
	if i < 2 {
		return false
	}

	loopWrap := b.Child(i)
	if loopWrap.Op() != il.OpBlockContainer || loopWrap.ContainerKind() != il.ContainerLoop {
		return false
	}

	var arr, idx *il.Variable
	var coll, zero *il.Instruction

	if !b.Child(i-1).MatchStLoc(&idx, &zero) || !zero.MatchLdcI4Val(0) {
		return false
	}

	if !b.Child(i-2).MatchStLoc(&arr, &coll) {
		return false
	}

	head := loopWrap.EntryPoint()
	if head.NumChildren() < 1 || head.Child(0).Op() != il.OpIfInstruction {
		return false
	}

	ifi := head.Child(0)
	cond := ifi.Child(0)
	body := ifi.Child(1)

	if !matchIndexBound(cond, idx, arr) || body.Op() != il.OpBlock || body.NumChildren() < 2 {
		return false
	}

	var elem *il.Variable
	var elemVal *il.Instruction

	if !body.Child(0).MatchStLoc(&elem, &elemVal) || !matchArrayElement(elemVal, arr, idx) {
		return false
	}

	inc := body.Child(body.NumChildren() - 2)
	if !matchIncrement(inc, idx) {
		return false
	}

	// index and array must stay inside the recognized shape
	if idx.StoreCount != 2 || idx.AddressCount != 0 {
		return false
	}

	if !arr.IsSingleDefinition() || arr.AddressCount != 0 {
		return false
	}

	body.RemoveChildAt(inc.ChildIndex())
	body.RemoveChildAt(0)
	dropTrailingBranch(body, head)

	collExpr := b.Child(i - 2).RemoveChildAt(0)

	b.RemoveChildAt(i - 1)
	b.RemoveChildAt(i - 2)

	loopWrap.ReplaceWith(il.NewForeach(elem, collExpr, body.Detach()))

	return true
}

func matchIndexBound(cond *il.Instruction, idx, arr *il.Variable) bool {
	if cond.Op() != il.OpCompLessThan {
		return false
	}

	var iv, av *il.Variable

	if !cond.Child(0).MatchLdLoc(&iv) || iv != idx {
		return false
	}

	length := cond.Child(1)

	return length.Op() == il.OpLdLen && length.Child(0).MatchLdLoc(&av) && av == arr
}

func matchArrayElement(v *il.Instruction, arr, idx *il.Variable) bool {
	// ldobj(ldelema(arr, i)) or the ldelem form built directly as
	// ldobj over the element address
	target := v

	var t ts.Type
	var inner *il.Instruction

	if v.MatchLdObj(&inner, &t) {
		target = inner
	}

	if target.Op() != il.OpLdElema {
		return false
	}

	var av, iv *il.Variable

	return target.Child(0).MatchLdLoc(&av) && av == arr &&
		target.Child(1).MatchLdLoc(&iv) && iv == idx
}

func matchIncrement(inc *il.Instruction, idx *il.Variable) bool {
	var v *il.Variable
	var val *il.Instruction

	if !inc.MatchStLoc(&v, &val) || v != idx {
		return false
	}

	if val.Op() != il.OpBinary || val.BinOp() != il.BinAdd {
		return false
	}

	var lv *il.Variable

	return val.Child(0).MatchLdLoc(&lv) && lv == idx && val.Child(1).MatchLdcI4Val(1)
}
