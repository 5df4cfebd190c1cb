package il

import (
	"encoding/binary"
	"sort"

	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/meta"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	// Builder materializes an ILFunction from a method body.
	Builder struct {
		TS    *ts.TypeSystem
		Debug meta.DebugInfoProvider
	}

	builderState struct {
		bd *Builder
		fn *Function

		code    []byte
		regions []meta.ExceptionRegion

		raw    []rawInst
		rawAt  map[int]int
		blocks map[int]*Instruction

		// top-level entries in offset order; region nesting collapses
		// runs of entries into one wrapper
		entries []buildEntry

		entryStack map[int][]*Variable
		handlerVar map[int]*Variable

		containerRange map[*Instruction]span
		handlerConts   map[*Instruction]bool

		leaves  []pendingLeave
		endFins []*Instruction
	}

	rawInst struct {
		offset int
		op     byte
		wide   bool // 0xFE prefix

		arg     int64
		tok     uint32
		targets []int
	}

	buildEntry struct {
		span
		block *Instruction
	}

	span struct {
		start, end int
	}

	pendingLeave struct {
		inst   *Instruction
		target int
	}
)

// Build decompiles the raw body of method into an IL tree. The result
// satisfies the tree invariants and is ready for the transform
// pipeline.
func (bd *Builder) Build(method meta.Handle) (*Function, error) {
	m, err := bd.TS.ResolveMethod(method, ts.GenericContext{}, ts.ResolveOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "resolve method")
	}

	fn := NewFunction(m)

	body, ok := bd.TS.Reader().Body(method)
	if !ok {
		return fn, nil
	}

	for i, sig := range body.LocalSigs {
		typ, err := bd.TS.ResolveTypeSig(sig, ts.GenericContext{})
		if err != nil {
			return nil, errors.Wrap(err, "local %d", i)
		}

		v := fn.NewVariable(KindLocal, typ)
		v.HasInitialValue = true

		if bd.Debug != nil {
			if name, ok := bd.Debug.LocalName(method, i); ok {
				v.VarName = name
			}
		}
	}

	st := &builderState{
		bd:             bd,
		fn:             fn,
		code:           body.Code,
		regions:        body.Regions,
		rawAt:          map[int]int{},
		blocks:         map[int]*Instruction{},
		entryStack:     map[int][]*Variable{},
		handlerVar:     map[int]*Variable{},
		containerRange: map[*Instruction]span{},
		handlerConts:   map[*Instruction]bool{},
	}

	if err := st.decodeRaw(); err != nil {
		return nil, err
	}

	st.seedHandlers()
	st.makeBlocks()

	if err := st.fillBlocks(); err != nil {
		return nil, err
	}

	if err := st.nestRegions(); err != nil {
		return nil, err
	}

	root := NewBlockContainer()

	for _, e := range st.entries {
		root.AddChild(e.block)
	}

	st.containerRange[root] = span{start: 0, end: len(st.code)}

	fn.SetBody(root)
	st.fixupLeaves(root)

	return fn, nil
}

func (st *builderState) decodeRaw() error {
	pos := 0

	for pos < len(st.code) {
		r := rawInst{offset: pos, op: st.code[pos]}
		pos++

		switch r.op {
		case cilNop, cilLdarg0, cilLdarg1, cilLdarg2, cilLdarg3,
			cilLdloc0, cilLdloc1, cilLdloc2, cilLdloc3,
			cilStloc0, cilStloc1, cilStloc2, cilStloc3,
			cilLdnull, cilDup, cilPop, cilRet, cilThrow, cilLdlen,
			cilAdd, cilSub, cilMul, cilDiv, cilRem, cilEndfin:
			// no operand
		case cilLdcI4M1:
			r.arg = -1
		case cilLdcI40, cilLdcI40 + 1, cilLdcI40 + 2, cilLdcI40 + 3,
			cilLdcI40 + 4, cilLdcI40 + 5, cilLdcI40 + 6, cilLdcI40 + 7, cilLdcI48:
			r.arg = int64(r.op - cilLdcI40)
		case cilLdargS, cilLdlocS, cilLdlocaS, cilStlocS:
			r.arg = int64(st.code[pos])
			pos++
		case cilLdcI4S:
			r.arg = int64(int8(st.code[pos]))
			pos++
		case cilLdcI4:
			r.arg = int64(int32(binary.LittleEndian.Uint32(st.code[pos:])))
			pos += 4
		case cilLdcI8:
			r.arg = int64(binary.LittleEndian.Uint64(st.code[pos:]))
			pos += 8
		case cilBrS, cilBrfalseS, cilBrtrueS, cilBeqS, cilBneUnS, cilBltS, cilLeaveS:
			r.arg = int64(pos + 1 + int(int8(st.code[pos])))
			pos++
		case cilBr, cilBrfalse, cilBrtrue, cilBeq, cilBneUn, cilBlt, cilLeave:
			r.arg = int64(pos + 4 + int(int32(binary.LittleEndian.Uint32(st.code[pos:]))))
			pos += 4
		case cilSwitch:
			n := int(binary.LittleEndian.Uint32(st.code[pos:]))
			pos += 4

			end := pos + 4*n

			for k := 0; k < n; k++ {
				t := int(int32(binary.LittleEndian.Uint32(st.code[pos:])))
				pos += 4
				r.targets = append(r.targets, end+t)
			}
		case cilCall, cilCallvirt, cilNewobj, cilLdstr, cilLdfld, cilLdflda,
			cilStfld, cilLdsfld, cilLdsflda, cilStsfld, cilBox, cilUnboxAny,
			cilCast, cilIsinst:
			r.tok = binary.LittleEndian.Uint32(st.code[pos:])
			pos += 4
		case cilPrefix:
			r.wide = true
			r.op = st.code[pos]
			pos++

			switch r.op {
			case cilCeq, cilCgt, cilClt:
			case cilLdlocW, cilStlocW:
				r.arg = int64(binary.LittleEndian.Uint16(st.code[pos:]))
				pos += 2
			default:
				return errors.Wrap(errs.MalformedMetadata, "unsupported opcode fe.%02x at %d", r.op, r.offset)
			}
		default:
			return errors.Wrap(errs.MalformedMetadata, "unsupported opcode %02x at %d", r.op, r.offset)
		}

		st.rawAt[r.offset] = len(st.raw)
		st.raw = append(st.raw, r)
	}

	return nil
}

func (st *builderState) seedHandlers() {
	for _, reg := range st.regions {
		if reg.Kind != meta.RegionCatch && reg.Kind != meta.RegionFilter {
			continue
		}

		v := st.fn.NewVariable(KindException, nil)

		if !reg.CatchType.IsNil() {
			if t, err := st.bd.TS.ResolveType(reg.CatchType, ts.GenericContext{}); err == nil {
				v.Type = t
			}
		}

		st.handlerVar[reg.HandlerOffset] = v
		st.entryStack[reg.HandlerOffset] = []*Variable{v}
	}
}

func (st *builderState) leaders() []int {
	set := map[int]bool{0: true}

	for _, r := range st.raw {
		switch r.op {
		case cilBrS, cilBr:
			if !r.wide {
				set[int(r.arg)] = true
				set[r.offset+rawSize(r)] = true
			}
		case cilBrfalseS, cilBrtrueS, cilBeqS, cilBneUnS, cilBltS, cilBrfalse, cilBrtrue, cilBeq, cilBneUn, cilBlt:
			if !r.wide {
				set[int(r.arg)] = true
				set[r.offset+rawSize(r)] = true
			}
		case cilLeave, cilLeaveS:
			if !r.wide {
				set[int(r.arg)] = true
				set[r.offset+rawSize(r)] = true
			}
		case cilRet, cilThrow, cilEndfin:
			if !r.wide {
				set[r.offset+rawSize(r)] = true
			}
		case cilSwitch:
			if !r.wide {
				for _, t := range r.targets {
					set[t] = true
				}

				set[r.offset+rawSize(r)] = true
			}
		}
	}

	for _, reg := range st.regions {
		set[reg.TryOffset] = true
		set[reg.TryOffset+reg.TryLength] = true
		set[reg.HandlerOffset] = true
		set[reg.HandlerOffset+reg.HandlerLength] = true
	}

	var ls []int

	for off := range set {
		if off < len(st.code) {
			ls = append(ls, off)
		}
	}

	sort.Ints(ls)

	return ls
}

func rawSize(r rawInst) int {
	if r.op == cilSwitch && !r.wide {
		return 5 + 4*len(r.targets)
	}

	switch r.op {
	case cilBrS, cilBrfalseS, cilBrtrueS, cilBeqS, cilBneUnS, cilBltS, cilLeaveS,
		cilLdargS, cilLdlocS, cilLdlocaS, cilStlocS, cilLdcI4S:
		return 2
	case cilBr, cilBrfalse, cilBrtrue, cilBeq, cilBneUn, cilBlt, cilLeave,
		cilLdcI4, cilCall, cilCallvirt, cilNewobj, cilLdstr, cilLdfld,
		cilLdflda, cilStfld, cilLdsfld, cilLdsflda, cilStsfld, cilBox,
		cilUnboxAny, cilCast, cilIsinst:
		return 5
	case cilLdcI8:
		return 9
	default:
		return 1
	}
}

func (st *builderState) makeBlocks() {
	ls := st.leaders()

	for i, off := range ls {
		b := NewBlock()
		b.SetILOffset(off)

		end := len(st.code)
		if i+1 < len(ls) {
			end = ls[i+1]
		}

		st.blocks[off] = b
		st.entries = append(st.entries, buildEntry{span: span{start: off, end: end}, block: b})
	}
}

func (st *builderState) blockAt(off int) *Instruction {
	return st.blocks[off]
}

func (st *builderState) fillBlocks() error {
	for _, e := range st.entries {
		if err := st.fillBlock(e); err != nil {
			return errors.Wrap(err, "block at %d", e.start)
		}
	}

	return nil
}

// spill flushes the evaluation stack into per-edge stack slots shared
// with the targets' entry state.
func (st *builderState) spill(b *Instruction, stack []*Instruction, targets ...int) error {
	if len(stack) == 0 {
		return nil
	}

	var vars []*Variable

	for _, t := range targets {
		if vs, ok := st.entryStack[t]; ok {
			if len(vs) != len(stack) {
				return errors.Wrap(errs.MalformedMetadata, "stack depth mismatch on edge to %d", t)
			}

			vars = vs

			break
		}
	}

	if vars == nil {
		vars = make([]*Variable, len(stack))

		for i := range vars {
			vars[i] = st.fn.NewVariable(KindStackSlot, nil)
		}
	}

	for _, t := range targets {
		if _, ok := st.entryStack[t]; !ok {
			st.entryStack[t] = vars
		}
	}

	for i, e := range stack {
		b.AddChild(NewStLoc(vars[i], e))
	}

	return nil
}

func (st *builderState) fillBlock(e buildEntry) error {
	b := e.block

	stack := []*Instruction{}

	for _, v := range st.entryStack[e.start] {
		stack = append(stack, NewLdLoc(v))
	}

	pop := func() *Instruction {
		if len(stack) == 0 {
			return NewNop()
		}

		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		return v
	}

	push := func(i *Instruction) { stack = append(stack, i) }

	terminated := false

	idx := st.rawAt[e.start]

	for idx < len(st.raw) && st.raw[idx].offset < e.end {
		r := st.raw[idx]
		idx++

		switch {
		case r.wide && r.op == cilCeq:
			rr, l := pop(), pop()
			push(NewCompEquals(l, rr))

			continue
		case r.wide && r.op == cilCgt:
			rr, l := pop(), pop()
			push(NewCompGreaterThan(l, rr))

			continue
		case r.wide && r.op == cilClt:
			rr, l := pop(), pop()
			push(NewCompLessThan(l, rr))

			continue
		case r.wide && r.op == cilLdlocW:
			push(NewLdLoc(st.local(int(r.arg))))
			continue
		case r.wide && r.op == cilStlocW:
			b.AddChild(NewStLoc(st.local(int(r.arg)), pop()))
			continue
		case r.wide:
			return errors.Wrap(errs.MalformedMetadata, "unsupported wide opcode %02x", r.op)
		}

		switch r.op {
		case cilNop:
			// dropped; debug padding only
		case cilLdarg0, cilLdarg1, cilLdarg2, cilLdarg3:
			push(NewLdLoc(st.fn.Parameters[r.op-cilLdarg0]))
		case cilLdargS:
			push(NewLdLoc(st.fn.Parameters[r.arg]))
		case cilLdloc0, cilLdloc1, cilLdloc2, cilLdloc3:
			push(NewLdLoc(st.local(int(r.op - cilLdloc0))))
		case cilLdlocS:
			push(NewLdLoc(st.local(int(r.arg))))
		case cilLdlocaS:
			push(NewLdLoca(st.local(int(r.arg))))
		case cilStloc0, cilStloc1, cilStloc2, cilStloc3:
			b.AddChild(NewStLoc(st.local(int(r.op-cilStloc0)), pop()))
		case cilStlocS:
			b.AddChild(NewStLoc(st.local(int(r.arg)), pop()))
		case cilLdnull:
			push(NewLdNull())
		case cilLdcI4M1, cilLdcI40, cilLdcI40 + 1, cilLdcI40 + 2, cilLdcI40 + 3,
			cilLdcI40 + 4, cilLdcI40 + 5, cilLdcI40 + 6, cilLdcI40 + 7, cilLdcI48,
			cilLdcI4S, cilLdcI4:
			push(NewLdcI4(int32(r.arg)))
		case cilLdcI8:
			push(NewLdcI8(r.arg))
		case cilLdstr:
			push(NewLdStr(st.bd.TS.Reader().UserString(HandleFor(r.tok))))
		case cilDup:
			v := pop()

			if v.HasFlag(FlagMayThrow | FlagSideEffects) {
				tmp := st.fn.NewVariable(KindStackSlot, nil)
				b.AddChild(NewStLoc(tmp, v))
				push(NewLdLoc(tmp))
				push(NewLdLoc(tmp))
			} else {
				push(v)
				push(v.Clone())
			}
		case cilPop:
			v := pop()

			if v.HasFlag(FlagMayThrow | FlagSideEffects) {
				b.AddChild(v)
			}
		case cilAdd, cilSub, cilMul, cilDiv, cilRem:
			rr, l := pop(), pop()
			push(NewBinary(binOpFor(r.op), l, rr))
		case cilCall, cilCallvirt, cilNewobj:
			inst, err := st.call(r, pop)
			if err != nil {
				return err
			}

			if inst.method != nil && r.op != cilNewobj && isVoid(inst.method.ReturnType) {
				b.AddChild(inst)
			} else {
				push(inst)
			}
		case cilLdfld:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			push(NewLdFld(pop(), f))
		case cilLdflda:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			push(NewLdFlda(pop(), f))
		case cilStfld:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			v, t := pop(), pop()
			b.AddChild(NewStFld(t, v, f))
		case cilLdsfld:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			push(NewLdsFld(f))
		case cilLdsflda:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			push(NewLdsFlda(f))
		case cilStsfld:
			f, err := st.fieldOf(r.tok)
			if err != nil {
				return err
			}

			b.AddChild(NewStsFld(pop(), f))
		case cilBox, cilUnboxAny, cilCast, cilIsinst:
			t, err := st.bd.TS.ResolveType(HandleFor(r.tok), ts.GenericContext{})
			if err != nil {
				return err
			}

			v := pop()

			switch r.op {
			case cilBox:
				push(NewBox(v, t))
			case cilUnboxAny:
				push(NewUnbox(v, t))
			case cilCast:
				push(NewCastClass(v, t))
			case cilIsinst:
				push(NewIsInst(v, t))
			}
		case cilLdlen:
			push(NewLdLen(pop()))
		case cilBrS, cilBr:
			if err := st.spill(b, stack, int(r.arg)); err != nil {
				return err
			}

			b.AddChild(NewBranch(st.blockAt(int(r.arg))))
			terminated = true
		case cilSwitch:
			v := pop()
			next := r.offset + rawSize(r)

			if err := st.spill(b, stack, append(append([]int{}, r.targets...), next)...); err != nil {
				return err
			}

			sections := make([]*Instruction, 0, len(r.targets)+1)

			for k, t := range r.targets {
				sections = append(sections, NewSwitchSection(LabelValue(int64(k)), NewBranch(st.blockAt(t))))
			}

			def := LabelRange(0, int64(len(r.targets))-1).Invert()
			sections = append(sections, NewSwitchSection(def, NewBranch(st.blockAt(next))))

			b.AddChild(NewSwitch(v, sections...))
			terminated = true
		case cilBrtrueS, cilBrfalseS, cilBrtrue, cilBrfalse,
			cilBeqS, cilBneUnS, cilBeq, cilBneUn, cilBltS, cilBlt:
			cond := st.condition(r, pop)
			next := r.offset + rawSize(r)

			if err := st.spill(b, stack, int(r.arg), next); err != nil {
				return err
			}

			b.AddChild(NewIfInstruction(cond, NewBranch(st.blockAt(int(r.arg))), NewNop()))
			b.AddChild(NewBranch(st.blockAt(next)))
			terminated = true
		case cilRet:
			if len(stack) > 0 {
				b.AddChild(NewReturn(pop()))
			} else {
				b.AddChild(NewReturn())
			}

			terminated = true
		case cilThrow:
			b.AddChild(NewThrow(pop()))
			terminated = true
		case cilLeave, cilLeaveS:
			l := NewLeave(nil, NewNop())
			b.AddChild(l)
			st.leaves = append(st.leaves, pendingLeave{inst: l, target: int(r.arg)})
			stack = stack[:0]
			terminated = true
		case cilEndfin:
			l := NewLeave(nil, NewNop())
			b.AddChild(l)
			st.endFins = append(st.endFins, l)
			stack = stack[:0]
			terminated = true
		default:
			return errors.Wrap(errs.MalformedMetadata, "unsupported opcode %02x", r.op)
		}
	}

	if !terminated {
		// fall through into the next leader
		if err := st.spill(b, stack, e.end); err != nil {
			return err
		}

		if next := st.blockAt(e.end); next != nil {
			b.AddChild(NewBranch(next))
		}
	}

	return nil
}

func (st *builderState) local(n int) *Variable {
	return st.fn.Variables[len(st.fn.Parameters)+n]
}

func (st *builderState) condition(r rawInst, pop func() *Instruction) *Instruction {
	switch r.op {
	case cilBrtrueS, cilBrtrue:
		return pop()
	case cilBrfalseS, cilBrfalse:
		return NewLogicNot(pop())
	case cilBeqS, cilBeq:
		rr, l := pop(), pop()
		return NewCompEquals(l, rr)
	case cilBltS, cilBlt:
		rr, l := pop(), pop()
		return NewCompLessThan(l, rr)
	default: // bne.un
		rr, l := pop(), pop()
		return NewCompNotEquals(l, rr)
	}
}

func (st *builderState) call(r rawInst, pop func() *Instruction) (*Instruction, error) {
	m, err := st.bd.TS.ResolveMethod(HandleFor(r.tok), ts.GenericContext{}, ts.ResolveOptions{ExpandVarArgs: true})
	if err != nil {
		return nil, errors.Wrap(err, "call target")
	}

	argc := len(m.Parameters)

	if r.op != cilNewobj && !m.IsStatic {
		argc++
	}

	args := make([]*Instruction, argc)

	for i := argc - 1; i >= 0; i-- {
		args[i] = pop()
	}

	switch r.op {
	case cilNewobj:
		return NewNewObj(m, args...), nil
	case cilCallvirt:
		return NewCallVirt(m, args...), nil
	default:
		return NewCall(m, args...), nil
	}
}

func (st *builderState) fieldOf(tok uint32) (*ts.Field, error) {
	f, err := st.bd.TS.ResolveField(HandleFor(tok), ts.GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "field token")
	}

	return f, nil
}

func binOpFor(op byte) BinOp {
	switch op {
	case cilAdd:
		return BinAdd
	case cilSub:
		return BinSub
	case cilMul:
		return BinMul
	case cilDiv:
		return BinDiv
	default:
		return BinRem
	}
}

func isVoid(t ts.Type) bool {
	return t != nil && t.Namespace() == "System" && t.Name() == "Void"
}
