package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// switchOnString recovers string switches from the four shapes the
// compilers emit: cascading equality tests, the two legacy
// hashtable/dictionary dispatches, and the Roslyn hash pattern. Each
// recognizer verifies single-entry blocks, a consistent switch
// variable, a functional literal-to-target mapping, and produces
// sections whose label sets partition the integer range.
func switchOnString(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.SwitchStatementOnString {
		return nil
	}

	if fn.Body() == nil {
		return nil
	}

	var containers []*il.Instruction

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if i.Op() == il.OpBlockContainer {
			containers = append(containers, i)
		}

		return true
	})

	for _, cont := range containers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, b := range append([]*il.Instruction{}, cont.Blocks()...) {
			if b.Parent() != cont {
				continue // removed by an earlier rewrite
			}

			_ = cascadeSwitch(b) || roslynHashSwitch(fn, b) ||
				legacyDictSwitch(fn, b) || legacyHashtableSwitch(fn, b)
		}
	}

	return nil
}

// matchStringEquality matches call string.op_Equality(ldloc v, ldstr s).
func matchStringEquality(i *il.Instruction, v **il.Variable, lit *string) bool {
	var m *ts.Method

	if !i.MatchCall(&m) || m == nil || m.Name() != "op_Equality" || i.NumChildren() != 2 {
		return false
	}

	d := m.DeclaringType
	if d == nil || d.Namespace() != "System" || d.Name() != "String" {
		return false
	}

	return i.Child(0).MatchLdLoc(v) && i.Child(1).MatchLdStr(lit)
}

// matchTestBlockTail matches the trailing pair
//
//	if (v == "lit") br target
//	br next
//
// at the end of a block.
func matchTestBlockTail(b *il.Instruction, v **il.Variable, lit *string, target, next **il.Instruction) bool {
	n := b.NumChildren()
	if n < 2 {
		return false
	}

	var cond, trueBranch *il.Instruction

	if !b.Child(n-2).MatchIfInstruction(&cond, &trueBranch) || !b.Child(n-1).MatchBranch(next) {
		return false
	}

	return matchStringEquality(cond, v, lit) && trueBranch.MatchBranch(target)
}

type stringCase struct {
	lit    string
	target *il.Instruction
}

// cascadeSwitch folds a run of >= 3 equality tests over one variable
// into a single switch.
func cascadeSwitch(b *il.Instruction) bool {
	var v, v2 *il.Variable
	var lit string
	var target, next *il.Instruction

	if !matchTestBlockTail(b, &v, &lit, &target, &next) {
		return false
	}

	// a block an earlier test over v falls through to belongs to that
	// chain; it is not the head of one
	for _, p := range b.Parent().Blocks() {
		var pv *il.Variable
		var plit string
		var pt, pn *il.Instruction

		if p != b && matchTestBlockTail(p, &pv, &plit, &pt, &pn) && pn == b && pv == v {
			return false
		}
	}

	cases := []stringCase{{lit: lit, target: target}}
	chain := []*il.Instruction{}

	cur := next

	for cur != nil && cur.Parent() == b.Parent() && cur.IncomingEdgeCount() == 1 && cur.NumChildren() == 2 {
		if !matchTestBlockTail(cur, &v2, &lit, &target, &next) || v2 != v {
			break
		}

		cases = append(cases, stringCase{lit: lit, target: target})
		chain = append(chain, cur)
		cur = next
	}

	if len(cases) < 3 {
		return false
	}

	defaultTarget := cur
	if defaultTarget == nil {
		return false
	}

	if !literalsAreFunctional(cases) {
		return false
	}

	// the setup store survives iff the variable has other uses
	value := switchValueOperand(b, v, len(cases))

	sw := buildStringSwitch(value, cases, defaultTarget)

	// replace the first test pair with the switch
	b.RemoveChildAt(b.NumChildren() - 1)
	b.RemoveChildAt(b.NumChildren() - 1)
	b.AddChild(sw)

	for _, blk := range chain {
		blk.Detach()
	}

	return true
}

// switchValueOperand decides between consuming the setup store and
// re-loading the variable.
func switchValueOperand(b *il.Instruction, v *il.Variable, chainUses int) *il.Instruction {
	n := b.NumChildren()

	if n >= 3 && v.IsSingleDefinition() && v.LoadCount == chainUses && v.AddressCount == 0 {
		var value *il.Instruction

		if b.Child(n-3).MatchStLocOf(v, &value) {
			stloc := b.RemoveChildAt(n - 3)
			return stloc.RemoveChildAt(0)
		}
	}

	return il.NewLdLoc(v)
}

func literalsAreFunctional(cases []stringCase) bool {
	seen := map[string]*il.Instruction{}

	for _, cs := range cases {
		if t, ok := seen[cs.lit]; ok && t != cs.target {
			return false
		} else if ok {
			// a duplicated literal is a conflict even with one target
			return false
		}

		seen[cs.lit] = cs.target
	}

	return true
}

// buildStringSwitch synthesizes switch (string-to-int(value, lits)) with
// one section per literal and the complement as default.
func buildStringSwitch(value *il.Instruction, cases []stringCase, defaultTarget *il.Instruction) *il.Instruction {
	lits := make([]string, len(cases))
	sections := make([]*il.Instruction, 0, len(cases)+1)

	for k, cs := range cases {
		lits[k] = cs.lit
		sections = append(sections, il.NewSwitchSection(il.LabelValue(int64(k)), il.NewBranch(cs.target)))
	}

	def := il.LabelRange(0, int64(len(cases))-1).Invert()
	sections = append(sections, il.NewSwitchSection(def, il.NewBranch(defaultTarget)))

	return il.NewSwitch(il.NewStringToInt(value, lits), sections...)
}
