package il

import (
	"encoding/binary"

	"github.com/unbolt/unbolt/decompiler/meta"
)

// Raw CIL opcode values (ECMA-335 §III), the subset the builder
// decodes.
const (
	cilNop      = 0x00
	cilLdarg0   = 0x02
	cilLdarg1   = 0x03
	cilLdarg2   = 0x04
	cilLdarg3   = 0x05
	cilLdloc0   = 0x06
	cilLdloc1   = 0x07
	cilLdloc2   = 0x08
	cilLdloc3   = 0x09
	cilStloc0   = 0x0A
	cilStloc1   = 0x0B
	cilStloc2   = 0x0C
	cilStloc3   = 0x0D
	cilLdargS   = 0x0E
	cilLdlocS   = 0x11
	cilLdlocaS  = 0x12
	cilStlocS   = 0x13
	cilLdnull   = 0x14
	cilLdcI4M1  = 0x15
	cilLdcI40   = 0x16
	cilLdcI48   = 0x1E
	cilLdcI4S   = 0x1F
	cilLdcI4    = 0x20
	cilLdcI8    = 0x21
	cilDup      = 0x25
	cilPop      = 0x26
	cilCall     = 0x28
	cilRet      = 0x2A
	cilBrS      = 0x2B
	cilBrfalseS = 0x2C
	cilBrtrueS  = 0x2D
	cilBeqS     = 0x2E
	cilBltS     = 0x32
	cilBneUnS   = 0x33
	cilBr       = 0x38
	cilBrfalse  = 0x39
	cilBrtrue   = 0x3A
	cilBeq      = 0x3B
	cilBneUn    = 0x40
	cilBlt      = 0x3F
	cilSwitch   = 0x45
	cilAdd      = 0x58
	cilSub      = 0x59
	cilMul      = 0x5A
	cilDiv      = 0x5B
	cilRem      = 0x5D
	cilCallvirt = 0x6F
	cilLdstr    = 0x72
	cilNewobj   = 0x73
	cilCast     = 0x74
	cilIsinst   = 0x75
	cilThrow    = 0x7A
	cilLdfld    = 0x7B
	cilLdflda   = 0x7C
	cilStfld    = 0x7D
	cilLdsfld   = 0x7E
	cilLdsflda  = 0x7F
	cilStsfld   = 0x80
	cilBox      = 0x8C
	cilLdlen    = 0x8E
	cilUnboxAny = 0xA5
	cilEndfin   = 0xDC
	cilLeave    = 0xDD
	cilLeaveS   = 0xDE
	cilPrefix   = 0xFE

	cilCeq    = 0x01 // after 0xFE
	cilCgt    = 0x02
	cilClt    = 0x04
	cilLdlocW = 0x0C
	cilStlocW = 0x0E
)

// TokenFor packs a handle into a 4-byte metadata token.
func TokenFor(h meta.Handle) uint32 {
	return uint32(h.Table)<<24 | uint32(h.Row)
}

// HandleFor unpacks a metadata token.
func HandleFor(tok uint32) meta.Handle {
	return meta.Handle{Table: meta.Table(tok >> 24), Row: int(tok & 0xffffff)}
}

// Asm builds raw IL for tests and fixtures, mirroring the byte format
// the builder decodes. Branch targets are labels fixed up in Bytes.
type Asm struct {
	b      []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at    int
	base  int
	label string
}

func NewAsm() *Asm {
	return &Asm{labels: map[string]int{}}
}

func (a *Asm) Offset() int { return len(a.b) }

func (a *Asm) Label(name string) *Asm {
	a.labels[name] = len(a.b)
	return a
}

func (a *Asm) op(b byte) *Asm {
	a.b = append(a.b, b)
	return a
}

func (a *Asm) Nop() *Asm        { return a.op(cilNop) }
func (a *Asm) Pop() *Asm        { return a.op(cilPop) }
func (a *Asm) Dup() *Asm        { return a.op(cilDup) }
func (a *Asm) Ret() *Asm        { return a.op(cilRet) }
func (a *Asm) Throw() *Asm      { return a.op(cilThrow) }
func (a *Asm) EndFinally() *Asm { return a.op(cilEndfin) }
func (a *Asm) LdNull() *Asm     { return a.op(cilLdnull) }
func (a *Asm) LdLen() *Asm      { return a.op(cilLdlen) }

func (a *Asm) LdArg(n int) *Asm {
	if n < 4 {
		return a.op(byte(cilLdarg0 + n))
	}

	return a.op(cilLdargS).op(byte(n))
}

func (a *Asm) LdLoc(n int) *Asm {
	if n < 4 {
		return a.op(byte(cilLdloc0 + n))
	}

	return a.op(cilLdlocS).op(byte(n))
}

func (a *Asm) StLoc(n int) *Asm {
	if n < 4 {
		return a.op(byte(cilStloc0 + n))
	}

	return a.op(cilStlocS).op(byte(n))
}

func (a *Asm) LdLoca(n int) *Asm {
	return a.op(cilLdlocaS).op(byte(n))
}

func (a *Asm) LdcI4(v int32) *Asm {
	switch {
	case v == -1:
		return a.op(cilLdcI4M1)
	case v >= 0 && v <= 8:
		return a.op(byte(cilLdcI40 + v))
	case v >= -128 && v <= 127:
		return a.op(cilLdcI4S).op(byte(int8(v)))
	default:
		a.op(cilLdcI4)
		a.b = binary.LittleEndian.AppendUint32(a.b, uint32(v))

		return a
	}
}

func (a *Asm) token(op byte, h meta.Handle) *Asm {
	a.op(op)
	a.b = binary.LittleEndian.AppendUint32(a.b, TokenFor(h))

	return a
}

func (a *Asm) Call(h meta.Handle) *Asm      { return a.token(cilCall, h) }
func (a *Asm) CallVirt(h meta.Handle) *Asm  { return a.token(cilCallvirt, h) }
func (a *Asm) NewObj(h meta.Handle) *Asm    { return a.token(cilNewobj, h) }
func (a *Asm) LdStr(h meta.Handle) *Asm     { return a.token(cilLdstr, h) }
func (a *Asm) LdFld(h meta.Handle) *Asm     { return a.token(cilLdfld, h) }
func (a *Asm) LdFlda(h meta.Handle) *Asm    { return a.token(cilLdflda, h) }
func (a *Asm) StFld(h meta.Handle) *Asm     { return a.token(cilStfld, h) }
func (a *Asm) LdsFld(h meta.Handle) *Asm    { return a.token(cilLdsfld, h) }
func (a *Asm) LdsFlda(h meta.Handle) *Asm   { return a.token(cilLdsflda, h) }
func (a *Asm) StsFld(h meta.Handle) *Asm    { return a.token(cilStsfld, h) }
func (a *Asm) Box(h meta.Handle) *Asm       { return a.token(cilBox, h) }
func (a *Asm) UnboxAny(h meta.Handle) *Asm  { return a.token(cilUnboxAny, h) }
func (a *Asm) CastClass(h meta.Handle) *Asm { return a.token(cilCast, h) }
func (a *Asm) IsInst(h meta.Handle) *Asm    { return a.token(cilIsinst, h) }

func (a *Asm) Add() *Asm { return a.op(cilAdd) }
func (a *Asm) Sub() *Asm { return a.op(cilSub) }
func (a *Asm) Mul() *Asm { return a.op(cilMul) }
func (a *Asm) Div() *Asm { return a.op(cilDiv) }
func (a *Asm) Rem() *Asm { return a.op(cilRem) }

func (a *Asm) Ceq() *Asm { return a.op(cilPrefix).op(cilCeq) }
func (a *Asm) Cgt() *Asm { return a.op(cilPrefix).op(cilCgt) }
func (a *Asm) Clt() *Asm { return a.op(cilPrefix).op(cilClt) }

func (a *Asm) branch(op byte, label string) *Asm {
	a.op(op)
	a.fixups = append(a.fixups, fixup{at: len(a.b), base: len(a.b) + 4, label: label})
	a.b = append(a.b, 0, 0, 0, 0)

	return a
}

// Switch emits the jump-table opcode over the given labels.
func (a *Asm) Switch(labels ...string) *Asm {
	a.op(cilSwitch)
	a.b = binary.LittleEndian.AppendUint32(a.b, uint32(len(labels)))

	base := len(a.b) + 4*len(labels)

	for _, l := range labels {
		a.fixups = append(a.fixups, fixup{at: len(a.b), base: base, label: l})
		a.b = append(a.b, 0, 0, 0, 0)
	}

	return a
}

func (a *Asm) Br(label string) *Asm      { return a.branch(cilBr, label) }
func (a *Asm) BrTrue(label string) *Asm  { return a.branch(cilBrtrue, label) }
func (a *Asm) BrFalse(label string) *Asm { return a.branch(cilBrfalse, label) }
func (a *Asm) Beq(label string) *Asm     { return a.branch(cilBeq, label) }
func (a *Asm) Blt(label string) *Asm     { return a.branch(cilBlt, label) }
func (a *Asm) BneUn(label string) *Asm   { return a.branch(cilBneUn, label) }
func (a *Asm) Leave(label string) *Asm   { return a.branch(cilLeave, label) }

// Bytes resolves label fixups and returns the IL stream.
func (a *Asm) Bytes() []byte {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		invariant(ok, "undefined label %v", f.label)

		// branch operands are relative to the next instruction
		binary.LittleEndian.PutUint32(a.b[f.at:], uint32(int32(target-f.base)))
	}

	return a.b
}
