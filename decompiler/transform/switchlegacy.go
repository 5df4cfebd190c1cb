package transform

import (
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// roslynHashSwitch recovers the Roslyn shape: an int switch over
// ComputeStringHash(s) whose sections each re-check the string against
// one literal (or a short chain sharing the hash) before jumping to
// the real case.
func roslynHashSwitch(fn *il.Function, b *il.Instruction) bool {
	n := b.NumChildren()
	if n == 0 {
		return false
	}

	sw := b.Child(n - 1)
	if sw.Op() != il.OpSwitch {
		return false
	}

	s, hashVar, ok := matchComputeStringHash(b, sw.Child(0))
	if !ok {
		return false
	}

	var defaultTarget *il.Instruction
	var cases []stringCase
	var buckets []*il.Instruction

	for _, sec := range sw.Children()[1:] {
		var t *il.Instruction

		if !sec.Child(0).MatchBranch(&t) {
			return false
		}

		if sec.Labels().Unbounded() {
			defaultTarget = t
			continue
		}

		buckets = append(buckets, t)
	}

	if defaultTarget == nil {
		return false
	}

	seen := map[*il.Instruction]bool{}
	var testBlocks []*il.Instruction

	for _, t := range buckets {
		cur := t

		for cur != defaultTarget {
			if seen[cur] {
				break
			}

			if cur.Parent() != b.Parent() || cur.IncomingEdgeCount() != 1 || cur.NumChildren() != 2 {
				return false
			}

			var v *il.Variable
			var lit string
			var target, next *il.Instruction

			if !matchTestBlockTail(cur, &v, &lit, &target, &next) || v != s {
				return false
			}

			cases = append(cases, stringCase{lit: lit, target: target})
			seen[cur] = true
			testBlocks = append(testBlocks, cur)
			cur = next
		}
	}

	if len(cases) == 0 || !literalsAreFunctional(cases) {
		return false
	}

	newSwitch := buildStringSwitch(il.NewLdLoc(s), cases, defaultTarget)

	b.RemoveChildAt(n - 1)

	// drop the hash temporary when the switch was its only reader
	if hashVar != nil && hashVar.LoadCount == 0 && hashVar.IsSingleDefinition() {
		if st := b.Child(b.NumChildren() - 1); st.Op() == il.OpStLoc && st.Variable() == hashVar {
			b.RemoveChildAt(b.NumChildren() - 1)
		}
	}

	b.AddChild(newSwitch)

	for _, t := range testBlocks {
		t.Detach()
	}

	return true
}

// matchComputeStringHash accepts the hash either inline or through a
// single-definition temporary stored just before the switch.
func matchComputeStringHash(b, value *il.Instruction) (s *il.Variable, hashVar *il.Variable, ok bool) {
	if s, ok = matchHashCall(value); ok {
		return s, nil, true
	}

	var h *il.Variable

	if !value.MatchLdLoc(&h) || !h.IsSingleDefinition() || b.NumChildren() < 2 {
		return nil, nil, false
	}

	st := b.Child(b.NumChildren() - 2)

	var stored *il.Instruction

	if !st.MatchStLocOf(h, &stored) {
		return nil, nil, false
	}

	if s, ok = matchHashCall(stored); !ok {
		return nil, nil, false
	}

	return s, h, true
}

func matchHashCall(i *il.Instruction) (*il.Variable, bool) {
	var m *ts.Method
	var v *il.Variable

	if !i.MatchCall(&m) || m == nil || m.Name() != "ComputeStringHash" || i.NumChildren() != 1 {
		return nil, false
	}

	if !i.Child(0).MatchLdLoc(&v) {
		return nil, false
	}

	return v, true
}

// legacyDictSwitch recovers the Dictionary<string,int>.TryGetValue
// dispatch, null handled by an explicit pre-check:
//
//	if (s == null) br default
//	if (dict.TryGetValue(s, out idx)) br dispatch else br default
//	dispatch: switch (idx) ...
func legacyDictSwitch(fn *il.Function, b *il.Instruction) bool {
	n := b.NumChildren()
	if n < 2 {
		return false
	}

	var cond, trueBranch, nullTarget, lookup *il.Instruction
	var s *il.Variable

	if !b.Child(n-2).MatchIfInstruction(&cond, &trueBranch) || !b.Child(n-1).MatchBranch(&lookup) {
		return false
	}

	var l, r *il.Instruction

	if !cond.MatchCompEquals(&l, &r) || !l.MatchLdLoc(&s) || !r.MatchLdNull() {
		return false
	}

	if !trueBranch.MatchBranch(&nullTarget) {
		return false
	}

	if lookup.Parent() != b.Parent() || lookup.IncomingEdgeCount() != 1 || lookup.NumChildren() != 2 {
		return false
	}

	tryGet, dispatch, defaultTarget, dictField, idx, ok := matchTryGetValueBlock(lookup, s)
	if !ok || tryGet == nil {
		return false
	}

	// null and miss both fold into the default section
	if nullTarget != defaultTarget {
		return false
	}

	if dispatch.Parent() != b.Parent() || dispatch.IncomingEdgeCount() != 1 || dispatch.NumChildren() != 1 {
		return false
	}

	sw := dispatch.Child(0)
	if sw.Op() != il.OpSwitch {
		return false
	}

	var swv *il.Variable

	if !sw.Child(0).MatchLdLoc(&swv) || swv != idx {
		return false
	}

	table := collectAddCalls(fn, dictField)
	if table == nil {
		return false
	}

	cases, ok := casesFromIntSwitch(sw, table, defaultTarget)
	if !ok {
		return false
	}

	newSwitch := buildStringSwitch(il.NewLdLoc(s), cases, defaultTarget)

	b.RemoveChildAt(n - 1)
	b.RemoveChildAt(n - 2)
	b.AddChild(newSwitch)

	lookup.Detach()
	dispatch.Detach()

	return true
}

// matchTryGetValueBlock matches
//
//	if (TryGetValue(ldsfld dict, ldloc s, ldloca idx)) br dispatch
//	br default
func matchTryGetValueBlock(b *il.Instruction, s *il.Variable) (call, dispatch, def *il.Instruction, field *ts.Field, idx *il.Variable, ok bool) {
	var cond, trueBranch *il.Instruction

	if !b.Child(0).MatchIfInstruction(&cond, &trueBranch) || !b.Child(1).MatchBranch(&def) {
		return nil, nil, nil, nil, nil, false
	}

	var m *ts.Method

	if !cond.MatchCall(&m) || m == nil || m.Name() != "TryGetValue" || cond.NumChildren() != 3 {
		return nil, nil, nil, nil, nil, false
	}

	if !cond.Child(0).MatchLdsFld(&field) {
		return nil, nil, nil, nil, nil, false
	}

	var sv *il.Variable

	if !cond.Child(1).MatchLdLoc(&sv) || sv != s {
		return nil, nil, nil, nil, nil, false
	}

	if !cond.Child(2).MatchLdLoca(&idx) {
		return nil, nil, nil, nil, nil, false
	}

	if !trueBranch.MatchBranch(&dispatch) {
		return nil, nil, nil, nil, nil, false
	}

	return cond, dispatch, def, field, idx, true
}

// legacyHashtableSwitch recovers the non-generic Hashtable dispatch:
// the boxed lookup result is null-checked, then unboxed and switched.
func legacyHashtableSwitch(fn *il.Function, b *il.Instruction) bool {
	n := b.NumChildren()
	if n < 3 {
		return false
	}

	var tmp, s, tmp2 *il.Variable
	var stored, cond, trueBranch, dispatch, defaultTarget *il.Instruction

	if !b.Child(n-3).MatchStLoc(&tmp, &stored) {
		return false
	}

	var m *ts.Method

	if !stored.MatchCall(&m) || m == nil || m.Name() != "get_Item" || stored.NumChildren() != 2 {
		return false
	}

	var htField *ts.Field

	if !stored.Child(0).MatchLdsFld(&htField) || !stored.Child(1).MatchLdLoc(&s) {
		return false
	}

	if !b.Child(n-2).MatchIfInstruction(&cond, &trueBranch) || !b.Child(n-1).MatchBranch(&defaultTarget) {
		return false
	}

	var l, r *il.Instruction

	if !cond.MatchCompNotEquals(&l, &r) || !l.MatchLdLocOf(tmp) || !r.MatchLdNull() {
		return false
	}

	if !trueBranch.MatchBranch(&dispatch) {
		return false
	}

	if dispatch.Parent() != b.Parent() || dispatch.IncomingEdgeCount() != 1 || dispatch.NumChildren() != 1 {
		return false
	}

	sw := dispatch.Child(0)
	if sw.Op() != il.OpSwitch {
		return false
	}

	var unboxed *il.Instruction
	var ut ts.Type

	if !sw.Child(0).MatchUnbox(&unboxed, &ut) || !unboxed.MatchLdLoc(&tmp2) || tmp2 != tmp {
		return false
	}

	table := collectAddCalls(fn, htField)
	if table == nil {
		return false
	}

	cases, ok := casesFromIntSwitch(sw, table, defaultTarget)
	if !ok {
		return false
	}

	newSwitch := buildStringSwitch(il.NewLdLoc(s), cases, defaultTarget)

	b.RemoveChildAt(n - 1)
	b.RemoveChildAt(n - 2)
	b.RemoveChildAt(n - 3)
	b.AddChild(newSwitch)

	dispatch.Detach()

	return true
}

// casesFromIntSwitch maps each single-label section through the
// literal table; an unmapped label or a conflicting mapping aborts.
func casesFromIntSwitch(sw *il.Instruction, table map[int64]string, defaultTarget *il.Instruction) ([]stringCase, bool) {
	var cases []stringCase

	for _, sec := range sw.Children()[1:] {
		var t *il.Instruction

		if !sec.Child(0).MatchBranch(&t) {
			return nil, false
		}

		if sec.Labels().Unbounded() {
			if t != defaultTarget {
				return nil, false
			}

			continue
		}

		for _, iv := range sec.Labels().Intervals() {
			for k := iv.Lo; k <= iv.Hi; k++ {
				lit, ok := table[k]
				if !ok {
					return nil, false
				}

				cases = append(cases, stringCase{lit: lit, target: t})
			}
		}
	}

	if len(cases) == 0 || !literalsAreFunctional(cases) {
		return nil, false
	}

	return cases, true
}

// collectAddCalls gathers the literal table the lazy initializer
// builds with Add("lit", k) calls, keyed by k. The initializer must
// store the collection into field; fields compare structurally, so a
// reloaded metadata view still matches.
func collectAddCalls(fn *il.Function, field *ts.Field) map[int64]string {
	if fn.Body() == nil || field == nil {
		return nil
	}

	table := map[int64]string{}
	foundStore := false

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		var value *il.Instruction
		var f *ts.Field

		if i.MatchStsFld(&value, &f) && field.Equals(f) {
			foundStore = true
		}

		var m *ts.Method

		if !i.MatchCall(&m) || m == nil || m.Name() != "Add" || i.NumChildren() != 3 {
			return true
		}

		var lit string

		if !i.Child(1).MatchLdStr(&lit) {
			return true
		}

		if k, ok := intConstant(i.Child(2)); ok {
			table[k] = lit
		}

		return true
	})

	if !foundStore || len(table) == 0 {
		return nil
	}

	return table
}

// intConstant unwraps ldc.i4 k, boxed or not.
func intConstant(i *il.Instruction) (int64, bool) {
	var boxed *il.Instruction
	var t ts.Type
	var v int32

	if i.MatchBox(&boxed, &t) {
		i = boxed
	}

	if i.MatchLdcI4(&v) {
		return int64(v), true
	}

	return 0, false
}
