package il

import "github.com/unbolt/unbolt/decompiler/ts"

// The match predicates are the vocabulary of every transform: boolean
// tests that bind out-parameters on success and never mutate.

func (i *Instruction) MatchLdLoc(v **Variable) bool {
	if i == nil || i.op != OpLdLoc {
		return false
	}

	*v = i.variable

	return true
}

// MatchLdLocOf matches a load of the given variable.
func (i *Instruction) MatchLdLocOf(v *Variable) bool {
	return i != nil && i.op == OpLdLoc && i.variable == v
}

func (i *Instruction) MatchLdLoca(v **Variable) bool {
	if i == nil || i.op != OpLdLoca {
		return false
	}

	*v = i.variable

	return true
}

func (i *Instruction) MatchStLoc(v **Variable, value **Instruction) bool {
	if i == nil || i.op != OpStLoc {
		return false
	}

	*v = i.variable
	*value = i.children[0]

	return true
}

func (i *Instruction) MatchStLocOf(v *Variable, value **Instruction) bool {
	if i == nil || i.op != OpStLoc || i.variable != v {
		return false
	}

	*value = i.children[0]

	return true
}

func (i *Instruction) MatchLdNull() bool {
	return i != nil && i.op == OpLdNull
}

func (i *Instruction) MatchLdStr(s *string) bool {
	if i == nil || i.op != OpLdStr {
		return false
	}

	*s = i.strVal

	return true
}

func (i *Instruction) MatchLdcI4(v *int32) bool {
	if i == nil || i.op != OpLdcI4 {
		return false
	}

	*v = int32(i.intVal)

	return true
}

func (i *Instruction) MatchLdcI4Val(expected int32) bool {
	return i != nil && i.op == OpLdcI4 && int32(i.intVal) == expected
}

func (i *Instruction) MatchNop() bool {
	return i != nil && i.op == OpNop
}

func (i *Instruction) MatchBranch(block **Instruction) bool {
	if i == nil || i.op != OpBranch {
		return false
	}

	*block = i.target

	return true
}

// MatchLeave matches leaving the given container; ret receives the
// value slot.
func (i *Instruction) MatchLeave(container *Instruction, ret **Instruction) bool {
	if i == nil || i.op != OpLeave || i.target != container {
		return false
	}

	*ret = i.children[0]

	return true
}

// MatchLeaveAny matches leaving any container.
func (i *Instruction) MatchLeaveAny(container, ret **Instruction) bool {
	if i == nil || i.op != OpLeave {
		return false
	}

	*container = i.target
	*ret = i.children[0]

	return true
}

// MatchIfInstruction requires the else slot to be a no-op.
func (i *Instruction) MatchIfInstruction(cond, trueBranch **Instruction) bool {
	if i == nil || i.op != OpIfInstruction || !i.children[2].MatchNop() {
		return false
	}

	*cond = i.children[0]
	*trueBranch = i.children[1]

	return true
}

func (i *Instruction) MatchCompEquals(l, r **Instruction) bool {
	if i == nil || i.op != OpCompEquals {
		return false
	}

	*l = i.children[0]
	*r = i.children[1]

	return true
}

func (i *Instruction) MatchCompNotEquals(l, r **Instruction) bool {
	if i == nil || i.op != OpCompNotEquals {
		return false
	}

	*l = i.children[0]
	*r = i.children[1]

	return true
}

func (i *Instruction) MatchLogicNot(inner **Instruction) bool {
	if i == nil || i.op != OpLogicNot {
		return false
	}

	*inner = i.children[0]

	return true
}

func (i *Instruction) MatchLdObj(target **Instruction, typ *ts.Type) bool {
	if i == nil || i.op != OpLdObj {
		return false
	}

	*target = i.children[0]
	*typ = i.typ

	return true
}

func (i *Instruction) MatchStObj(target, value **Instruction, typ *ts.Type) bool {
	if i == nil || i.op != OpStObj {
		return false
	}

	*target = i.children[0]
	*value = i.children[1]
	*typ = i.typ

	return true
}

func (i *Instruction) MatchLdsFlda(field **ts.Field) bool {
	if i == nil || i.op != OpLdsFlda {
		return false
	}

	*field = i.field

	return true
}

func (i *Instruction) MatchLdsFld(field **ts.Field) bool {
	if i == nil || i.op != OpLdsFld {
		return false
	}

	*field = i.field

	return true
}

func (i *Instruction) MatchStsFld(value **Instruction, field **ts.Field) bool {
	if i == nil || i.op != OpStsFld {
		return false
	}

	*value = i.children[0]
	*field = i.field

	return true
}

func (i *Instruction) MatchBox(value **Instruction, typ *ts.Type) bool {
	if i == nil || i.op != OpBox {
		return false
	}

	*value = i.children[0]
	*typ = i.typ

	return true
}

func (i *Instruction) MatchUnbox(value **Instruction, typ *ts.Type) bool {
	if i == nil || i.op != OpUnbox {
		return false
	}

	*value = i.children[0]
	*typ = i.typ

	return true
}

func (i *Instruction) MatchTryFinally(try, finally **Instruction) bool {
	if i == nil || i.op != OpTryFinally {
		return false
	}

	*try = i.children[0]
	*finally = i.children[1]

	return true
}

// MatchCall matches a call (direct or virtual) and binds the callee.
func (i *Instruction) MatchCall(m **ts.Method) bool {
	if i == nil || i.op != OpCall && i.op != OpCallVirt {
		return false
	}

	*m = i.method

	return true
}

// Match tests structural equality against a pattern tree: same kinds,
// payloads, variables, and recursively equal children.
func (i *Instruction) Match(other *Instruction) bool {
	if i == nil || other == nil {
		return i == other
	}

	if i.op != other.op || len(i.children) != len(other.children) {
		return false
	}

	if i.variable != other.variable || i.strVal != other.strVal || i.intVal != other.intVal || i.binOp != other.binOp {
		return false
	}

	if (i.method == nil) != (other.method == nil) || i.method != nil && i.method.FullName() != other.method.FullName() {
		return false
	}

	if !fieldsEqual(i.field, other.field) {
		return false
	}

	if (i.typ == nil) != (other.typ == nil) || i.typ != nil && !i.typ.Equals(other.typ) {
		return false
	}

	if i.target != other.target {
		return false
	}

	for n, c := range i.children {
		if !c.Match(other.children[n]) {
			return false
		}
	}

	return true
}

func fieldsEqual(a, b *ts.Field) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equals(b)
}
