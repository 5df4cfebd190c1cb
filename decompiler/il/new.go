package il

import "github.com/unbolt/unbolt/decompiler/ts"

func NewNop() *Instruction { return newInstruction(OpNop) }
func NewPop() *Instruction { return newInstruction(OpPop) }

func NewLdLoc(v *Variable) *Instruction {
	i := newInstruction(OpLdLoc)
	i.variable = v
	return i
}

func NewLdLoca(v *Variable) *Instruction {
	i := newInstruction(OpLdLoca)
	i.variable = v
	return i
}

func NewStLoc(v *Variable, value *Instruction) *Instruction {
	i := newInstruction(OpStLoc, value)
	i.variable = v
	return i
}

func NewLdNull() *Instruction { return newInstruction(OpLdNull) }

func NewLdStr(s string) *Instruction {
	i := newInstruction(OpLdStr)
	i.strVal = s
	return i
}

func NewLdcI4(v int32) *Instruction {
	i := newInstruction(OpLdcI4)
	i.intVal = int64(v)
	return i
}

func NewLdcI8(v int64) *Instruction {
	i := newInstruction(OpLdcI8)
	i.intVal = v
	return i
}

func NewDefaultValue(t ts.Type) *Instruction {
	i := newInstruction(OpDefaultValue)
	i.typ = t
	return i
}

func NewCall(m *ts.Method, args ...*Instruction) *Instruction {
	i := newInstruction(OpCall, args...)
	i.method = m
	return i
}

func NewCallVirt(m *ts.Method, args ...*Instruction) *Instruction {
	i := newInstruction(OpCallVirt, args...)
	i.method = m
	return i
}

func NewNewObj(ctor *ts.Method, args ...*Instruction) *Instruction {
	i := newInstruction(OpNewObj, args...)
	i.method = ctor
	return i
}

func NewBinary(op BinOp, l, r *Instruction) *Instruction {
	i := newInstruction(OpBinary, l, r)
	i.binOp = op
	return i
}

func NewCompEquals(l, r *Instruction) *Instruction {
	return newInstruction(OpCompEquals, l, r)
}

func NewCompNotEquals(l, r *Instruction) *Instruction {
	return newInstruction(OpCompNotEquals, l, r)
}

func NewCompLessThan(l, r *Instruction) *Instruction {
	return newInstruction(OpCompLessThan, l, r)
}

func NewCompGreaterThan(l, r *Instruction) *Instruction {
	return newInstruction(OpCompGreaterThan, l, r)
}

func NewLogicNot(inner *Instruction) *Instruction {
	return newInstruction(OpLogicNot, inner)
}

func NewLdObj(target *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpLdObj, target)
	i.typ = t
	return i
}

func NewStObj(target, value *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpStObj, target, value)
	i.typ = t
	return i
}

func NewLdFld(target *Instruction, f *ts.Field) *Instruction {
	i := newInstruction(OpLdFld, target)
	i.field = f
	return i
}

func NewLdFlda(target *Instruction, f *ts.Field) *Instruction {
	i := newInstruction(OpLdFlda, target)
	i.field = f
	return i
}

func NewStFld(target, value *Instruction, f *ts.Field) *Instruction {
	i := newInstruction(OpStFld, target, value)
	i.field = f
	return i
}

func NewLdsFld(f *ts.Field) *Instruction {
	i := newInstruction(OpLdsFld)
	i.field = f
	return i
}

func NewLdsFlda(f *ts.Field) *Instruction {
	i := newInstruction(OpLdsFlda)
	i.field = f
	return i
}

func NewStsFld(value *Instruction, f *ts.Field) *Instruction {
	i := newInstruction(OpStsFld, value)
	i.field = f
	return i
}

func NewBox(value *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpBox, value)
	i.typ = t
	return i
}

func NewUnbox(value *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpUnbox, value)
	i.typ = t
	return i
}

func NewCastClass(value *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpCastClass, value)
	i.typ = t
	return i
}

func NewIsInst(value *Instruction, t ts.Type) *Instruction {
	i := newInstruction(OpIsInst, value)
	i.typ = t
	return i
}

func NewLdElema(array, index *Instruction, elem ts.Type) *Instruction {
	i := newInstruction(OpLdElema, array, index)
	i.typ = elem
	return i
}

func NewLdLen(array *Instruction) *Instruction {
	return newInstruction(OpLdLen, array)
}

// NewIfInstruction builds if (cond) trueInst else falseInst; pass a Nop
// as falseInst for the two-slot form.
func NewIfInstruction(cond, trueInst, falseInst *Instruction) *Instruction {
	return newInstruction(OpIfInstruction, cond, trueInst, falseInst)
}

func NewBranch(target *Instruction) *Instruction {
	i := newInstruction(OpBranch)
	i.SetTarget(target)
	return i
}

// NewLeave exits container with value (a Nop for none).
func NewLeave(container, value *Instruction) *Instruction {
	i := newInstruction(OpLeave, value)
	i.target = container
	return i
}

func NewReturn(value ...*Instruction) *Instruction {
	return newInstruction(OpReturn, value...)
}

func NewThrow(value *Instruction) *Instruction {
	return newInstruction(OpThrow, value)
}

func NewRethrow() *Instruction { return newInstruction(OpRethrow) }

func NewBlock(insts ...*Instruction) *Instruction {
	return newInstruction(OpBlock, insts...)
}

func NewBlockContainer(blocks ...*Instruction) *Instruction {
	return newInstruction(OpBlockContainer, blocks...)
}

func NewSwitch(value *Instruction, sections ...*Instruction) *Instruction {
	return newInstruction(OpSwitch, append([]*Instruction{value}, sections...)...)
}

func NewSwitchSection(labels LabelSet, body *Instruction) *Instruction {
	i := newInstruction(OpSwitchSection, body)
	i.labels = labels
	return i
}

func NewTryCatch(try *Instruction, handlers ...*Instruction) *Instruction {
	return newInstruction(OpTryCatch, append([]*Instruction{try}, handlers...)...)
}

// NewTryCatchHandler builds a handler with its filter expression (a
// LdcI4 1 for catch-all), body, and exception variable.
func NewTryCatchHandler(filter, body *Instruction, v *Variable) *Instruction {
	i := newInstruction(OpTryCatchHandler, filter, body)
	i.variable = v
	return i
}

func NewTryFinally(try, finally *Instruction) *Instruction {
	return newInstruction(OpTryFinally, try, finally)
}

func NewTryFault(try, fault *Instruction) *Instruction {
	return newInstruction(OpTryFault, try, fault)
}

func NewLock(obj, body *Instruction) *Instruction {
	return newInstruction(OpLockInstruction, obj, body)
}

func NewUsing(v *Variable, resource, body *Instruction) *Instruction {
	i := newInstruction(OpUsingInstruction, resource, body)
	i.variable = v
	return i
}

func NewForeach(v *Variable, collection, body *Instruction) *Instruction {
	i := newInstruction(OpForeachInstruction, collection, body)
	i.variable = v
	return i
}

func NewNullCoalescing(value, fallback *Instruction) *Instruction {
	return newInstruction(OpNullCoalescing, value, fallback)
}

func NewNullConditional(value, access *Instruction) *Instruction {
	return newInstruction(OpNullConditional, value, access)
}

// NewStringToInt maps value to the ordinal of its literal, or -1.
func NewStringToInt(value *Instruction, literals []string) *Instruction {
	i := newInstruction(OpStringToInt, value)
	i.literals = literals
	return i
}

func (i *Instruction) Literals() []string { return i.literals }

func (i *Instruction) Labels() LabelSet { return i.labels }

func (i *Instruction) SetLabels(ls LabelSet) {
	invariant(i.op == OpSwitchSection, "%v has no labels", i.op)

	i.labels = ls
	i.invalidateFlags()
}

func (i *Instruction) ContainerKind() ContainerKind { return i.containerKind }

func (i *Instruction) SetContainerKind(k ContainerKind) {
	invariant(i.op == OpBlockContainer, "%v has no container kind", i.op)

	i.containerKind = k
}
