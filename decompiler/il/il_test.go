package il

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbolt/unbolt/decompiler/meta"
	"github.com/unbolt/unbolt/decompiler/ts"
)

func newTestFunction() *Function {
	return NewFunction(nil)
}

func TestUseCountersFollowConnectivity(t *testing.T) {
	fn := newTestFunction()
	v := fn.NewVariable(KindLocal, nil)

	st := NewStLoc(v, NewLdcI4(1))
	ld := NewLdLoc(v)

	// detached trees do not count
	assert.Equal(t, 0, v.StoreCount)
	assert.Equal(t, 0, v.LoadCount)

	block := NewBlock(st, NewReturn(ld))
	fn.SetBody(NewBlockContainer(block))

	assert.Equal(t, 1, v.StoreCount)
	assert.Equal(t, 1, v.LoadCount)
	assert.True(t, v.IsSingleDefinition())

	st.Detach()

	assert.Equal(t, 0, v.StoreCount)
	assert.Equal(t, 1, v.LoadCount)

	require.NoError(t, fn.CheckInvariants())
}

func TestInsertAttachedNodePanics(t *testing.T) {
	a := NewBlock()
	b := NewBlock()
	n := NewNop()

	a.AddChild(n)

	assert.Panics(t, func() { b.AddChild(n) })
}

func TestReplaceWithKeepsSiblings(t *testing.T) {
	n1, n2, n3 := NewNop(), NewNop(), NewNop()
	b := NewBlock(n1, n2, n3)

	r := NewLdNull()
	n2.ReplaceWith(r)

	assert.Same(t, r, b.Child(1))
	assert.Equal(t, 1, r.ChildIndex())
	assert.Same(t, b, r.Parent())
	assert.Nil(t, n2.Parent())
	assert.Equal(t, 2, n3.ChildIndex())
}

func TestFlowFlags(t *testing.T) {
	thr := NewThrow(NewLdNull())
	assert.True(t, thr.HasFlag(FlagMayThrow))
	assert.True(t, thr.HasFlag(FlagEndPointUnreachable))

	br := NewBranch(NewBlock())
	assert.True(t, br.HasFlag(FlagControlFlow))
	assert.True(t, br.HasFlag(FlagMayBranch))

	div := NewBinary(BinDiv, NewLdcI4(1), NewLdcI4(0))
	assert.True(t, div.HasFlag(FlagMayThrow))

	add := NewBinary(BinAdd, NewLdcI4(1), NewLdcI4(2))
	assert.False(t, add.HasFlag(FlagMayThrow))
	assert.False(t, add.HasFlag(FlagSideEffects))
}

func TestFlagInvalidationUpTheSpine(t *testing.T) {
	inner := NewBlock(NewNop())
	cont := NewBlockContainer(inner)
	outer := NewBlock(cont)

	assert.False(t, outer.HasFlag(FlagMayThrow))

	inner.AddChild(NewThrow(NewLdNull()))

	assert.True(t, outer.HasFlag(FlagMayThrow))
}

func TestIfEndpointReachability(t *testing.T) {
	// both arms end the control flow
	i := NewIfInstruction(NewLdcI4(1), NewThrow(NewLdNull()), NewReturn())
	assert.True(t, i.HasFlag(FlagEndPointUnreachable))

	// one arm falls through
	j := NewIfInstruction(NewLdcI4(1), NewThrow(NewLdNull()), NewNop())
	assert.False(t, j.HasFlag(FlagEndPointUnreachable))
}

func TestIncomingEdgeCount(t *testing.T) {
	fn := newTestFunction()

	b2 := NewBlock(NewReturn())
	b1 := NewBlock(NewBranch(b2))
	fn.SetBody(NewBlockContainer(b1, b2))

	assert.Equal(t, 1, b2.IncomingEdgeCount())

	b1.Child(0).Detach()
	assert.Equal(t, 0, b2.IncomingEdgeCount())

	require.NoError(t, fn.CheckInvariants())
}

func TestMatchPrimitives(t *testing.T) {
	fn := newTestFunction()
	v := fn.NewVariable(KindLocal, nil)

	var got *Variable
	var val *Instruction

	st := NewStLoc(v, NewLdcI4(7))
	require.True(t, st.MatchStLoc(&got, &val))
	assert.Same(t, v, got)

	var i int32
	require.True(t, val.MatchLdcI4(&i))
	assert.Equal(t, int32(7), i)
	assert.True(t, val.MatchLdcI4Val(7))
	assert.False(t, val.MatchLdcI4Val(8))

	var s string
	require.True(t, NewLdStr("x").MatchLdStr(&s))
	assert.Equal(t, "x", s)

	assert.True(t, NewLdNull().MatchLdNull())
	assert.False(t, NewLdcI4(0).MatchLdNull())

	var cond, tb *Instruction
	ifi := NewIfInstruction(NewLdcI4(1), NewNop(), NewNop())
	assert.True(t, ifi.MatchIfInstruction(&cond, &tb))

	withElse := NewIfInstruction(NewLdcI4(1), NewNop(), NewReturn())
	assert.False(t, withElse.MatchIfInstruction(&cond, &tb))
}

func TestStructuralMatch(t *testing.T) {
	fn := newTestFunction()
	v := fn.NewVariable(KindLocal, nil)

	a := NewStLoc(v, NewBinary(BinAdd, NewLdLoc(v), NewLdcI4(1)))
	b := NewStLoc(v, NewBinary(BinAdd, NewLdLoc(v), NewLdcI4(1)))
	c := NewStLoc(v, NewBinary(BinAdd, NewLdLoc(v), NewLdcI4(2)))

	assert.True(t, a.Match(b))
	assert.False(t, a.Match(c))
}

func TestSortBlocksReversePostorder(t *testing.T) {
	fn := newTestFunction()

	exit := NewBlock(NewReturn())
	mid := NewBlock()
	entry := NewBlock()
	dead := NewBlock(NewReturn())

	mid.AddChild(NewBranch(exit))
	entry.AddChild(NewBranch(mid))

	// deliberately out of order, with an unreachable block in between
	cont := NewBlockContainer(entry, exit, dead, mid)
	fn.SetBody(NewBlockContainer(NewBlock(cont, NewReturn())))

	cont.SortBlocks(true)

	blocks := cont.Blocks()
	require.Len(t, blocks, 3)
	assert.Same(t, entry, blocks[0])
	assert.Same(t, mid, blocks[1])
	assert.Same(t, exit, blocks[2])

	require.NoError(t, fn.CheckInvariants())
}

func TestLabelSet(t *testing.T) {
	a := LabelValue(1).Union(LabelValue(2)).Union(LabelValue(3))
	assert.Equal(t, int64(3), a.Count())
	assert.Equal(t, "{1..3}", a.String())

	b := LabelRange(3, 5)
	assert.False(t, a.DisjointWith(b))
	assert.True(t, a.DisjointWith(LabelValue(9)))

	inv := a.Invert()
	assert.False(t, inv.Contains(2))
	assert.True(t, inv.Contains(4))

	// a set and its complement partition the full range
	assert.True(t, a.Union(inv).Equals(FullLabelSet()))
	assert.True(t, a.Intersect(inv).IsEmpty())
}

func buildTestTS() (*meta.MemoryReader, *ts.TypeSystem, meta.Handle) {
	r := meta.NewMemoryReader("T")

	widget := r.AddTypeDef(meta.TypeDefRow{Namespace: "Demo", Name: "Widget"})

	m := r.AddMethodDef(meta.MethodDefRow{
		Name:     "M",
		Owner:    widget,
		IsStatic: true,
		Signature: meta.MethodSig{
			Return: meta.SigPrimitive(meta.PrimVoid),
		},
	})

	return r, ts.New(r), m
}

func TestBuilderStraightLine(t *testing.T) {
	r, typesys, m := buildTestTS()

	i4 := meta.SigPrimitive(meta.PrimI4)

	asm := NewAsm()
	asm.LdcI4(41).LdcI4(1).Add().StLoc(0).Ret()

	r.SetBody(m, meta.Body{Code: asm.Bytes(), LocalSigs: []meta.Sig{i4}})

	bd := &Builder{TS: typesys}

	fn, err := bd.Build(m)
	require.NoError(t, err)
	require.NoError(t, fn.CheckInvariants())

	blocks := fn.Body().Blocks()
	require.Len(t, blocks, 1)

	insts := blocks[0].Instructions()
	require.Len(t, insts, 2)

	var v *Variable
	var val *Instruction
	require.True(t, insts[0].MatchStLoc(&v, &val))
	assert.Equal(t, KindLocal, v.Kind)
	assert.Equal(t, OpBinary, val.Op())
	assert.Equal(t, OpReturn, insts[1].Op())
}

func TestBuilderConditional(t *testing.T) {
	r, typesys, m := buildTestTS()

	i4 := meta.SigPrimitive(meta.PrimI4)

	asm := NewAsm()
	asm.LdLoc(0).BrTrue("then")
	asm.LdcI4(1).StLoc(0).Br("done")
	asm.Label("then").LdcI4(2).StLoc(0).Br("done")
	asm.Label("done").Ret()

	r.SetBody(m, meta.Body{Code: asm.Bytes(), LocalSigs: []meta.Sig{i4}})

	fn, err := (&Builder{TS: typesys}).Build(m)
	require.NoError(t, err)
	require.NoError(t, fn.CheckInvariants())

	blocks := fn.Body().Blocks()
	require.Len(t, blocks, 4)

	// entry ends with if (cond) br then; br fallthrough
	entry := blocks[0].Instructions()
	require.Len(t, entry, 2)

	var cond, tb *Instruction
	require.True(t, entry[0].MatchIfInstruction(&cond, &tb))

	var target *Instruction
	require.True(t, tb.MatchBranch(&target))

	// "done" has two incoming edges
	done := blocks[len(blocks)-1]
	assert.Equal(t, 2, done.IncomingEdgeCount())
}

type testDebugInfo struct {
	names map[int]string
}

func (d *testDebugInfo) SequencePointCount(meta.Handle) int              { return 0 }
func (d *testDebugInfo) SequencePoints(meta.Handle) []meta.SequencePoint { return nil }

func (d *testDebugInfo) LocalName(_ meta.Handle, slot int) (string, bool) {
	n, ok := d.names[slot]
	return n, ok
}

// debug symbols name the locals; without them names are synthesized.
func TestBuilderLocalNames(t *testing.T) {
	r, typesys, m := buildTestTS()

	i4 := meta.SigPrimitive(meta.PrimI4)

	asm := NewAsm()
	asm.LdcI4(1).StLoc(0).LdcI4(2).StLoc(1).Ret()

	r.SetBody(m, meta.Body{Code: asm.Bytes(), LocalSigs: []meta.Sig{i4, i4}})

	named, err := (&Builder{TS: typesys, Debug: &testDebugInfo{names: map[int]string{0: "count"}}}).Build(m)
	require.NoError(t, err)

	assert.Equal(t, "count", named.Variables[0].Name())
	assert.Equal(t, "V_1", named.Variables[1].Name())

	plain, err := (&Builder{TS: typesys}).Build(m)
	require.NoError(t, err)
	assert.Equal(t, "V_0", plain.Variables[0].Name())
}

func TestBuilderTryFinally(t *testing.T) {
	r, typesys, m := buildTestTS()

	asm := NewAsm()
	asm.Label("try").LdcI4(1).StLoc(0).Leave("after")
	asm.Label("fin").LdcI4(2).StLoc(0).EndFinally()
	asm.Label("after").Ret()

	code := asm.Bytes()

	// offsets: try block [0, fin), finally [fin, after)
	finOff := 7 // ldc.i4.1; stloc.0; leave(5 bytes)
	afterOff := finOff + 3

	r.SetBody(m, meta.Body{
		Code:      code,
		LocalSigs: []meta.Sig{meta.SigPrimitive(meta.PrimI4)},
		Regions: []meta.ExceptionRegion{{
			Kind:          meta.RegionFinally,
			TryOffset:     0,
			TryLength:     finOff,
			HandlerOffset: finOff,
			HandlerLength: afterOff - finOff,
		}},
	})

	fn, err := (&Builder{TS: typesys}).Build(m)
	require.NoError(t, err)
	require.NoError(t, fn.CheckInvariants())

	// wrapper block with the construct, then the continuation
	root := fn.Body()
	wrapper := root.EntryPoint().Instructions()
	require.NotEmpty(t, wrapper)

	var try, fin *Instruction
	require.True(t, wrapper[0].MatchTryFinally(&try, &fin))
	assert.Equal(t, OpBlockContainer, try.Op())
	assert.Equal(t, OpBlockContainer, fin.Op())

	// the leave exits the try container
	var foundLeave bool

	try.Descendants(func(i *Instruction) bool {
		if i.Op() == OpLeave {
			foundLeave = true
			assert.Same(t, try, i.Target())
		}

		return true
	})

	assert.True(t, foundLeave)
}
