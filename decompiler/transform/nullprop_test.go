package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

func TestNullConditionalCall(t *testing.T) {
	fn := il.NewFunction(nil)

	x := fn.NewVariable(il.KindLocal, nil)
	v := fn.NewVariable(il.KindLocal, nil)

	m := &ts.Method{MethodName: "ToString", DeclaringType: helperType}

	b := il.NewBlock(
		il.NewIfInstruction(
			il.NewCompNotEquals(il.NewLdLoc(x), il.NewLdNull()),
			il.NewStLoc(v, il.NewCallVirt(m, il.NewLdLoc(x))),
			il.NewStLoc(v, il.NewLdNull()),
		),
		il.NewReturn(il.NewLdLoc(v)),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, nullPropagation(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	st := b.Child(0)
	require.Equal(t, il.OpStLoc, st.Op())
	assert.Same(t, v, st.Variable())
	assert.Equal(t, il.OpNullConditional, st.Child(0).Op())
	assert.Equal(t, 1, v.StoreCount)
}

func TestNullCoalescingStore(t *testing.T) {
	fn := il.NewFunction(nil)

	x := fn.NewVariable(il.KindLocal, nil)
	v := fn.NewVariable(il.KindLocal, nil)

	b := il.NewBlock(
		il.NewIfInstruction(
			il.NewCompEquals(il.NewLdLoc(x), il.NewLdNull()),
			il.NewStLoc(v, il.NewLdStr("fallback")),
			il.NewStLoc(v, il.NewLdLoc(x)),
		),
		il.NewReturn(il.NewLdLoc(v)),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, nullPropagation(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	st := b.Child(0)
	require.Equal(t, il.OpStLoc, st.Op())

	co := st.Child(0)
	require.Equal(t, il.OpNullCoalescing, co.Op())
	assert.True(t, co.Child(0).MatchLdLocOf(x))

	var s string
	assert.True(t, co.Child(1).MatchLdStr(&s))
	assert.Equal(t, "fallback", s)
}

func TestNullCoalescingGuard(t *testing.T) {
	fn := il.NewFunction(nil)

	v := fn.NewVariable(il.KindLocal, nil)
	src := fn.NewVariable(il.KindLocal, nil)

	b := il.NewBlock(
		il.NewStLoc(v, il.NewLdLoc(src)),
		il.NewIfInstruction(
			il.NewCompEquals(il.NewLdLoc(v), il.NewLdNull()),
			il.NewStLoc(v, il.NewLdStr("fb")),
			il.NewNop(),
		),
		il.NewReturn(il.NewLdLoc(v)),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, nullPropagation(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())

	st := b.Child(0)
	require.Equal(t, il.OpStLoc, st.Op())
	assert.Same(t, v, st.Variable())
	assert.Equal(t, il.OpNullCoalescing, st.Child(0).Op())
	assert.Equal(t, 1, v.StoreCount)
}

func TestExpressionInlining(t *testing.T) {
	fn := il.NewFunction(nil)

	s := fn.NewVariable(il.KindStackSlot, nil)
	out := fn.NewVariable(il.KindLocal, nil)

	b := il.NewBlock(
		il.NewStLoc(s, il.NewCall(helperFoo)),
		il.NewStLoc(out, il.NewBinary(il.BinAdd, il.NewLdLoc(s), il.NewLdcI4(1))),
		il.NewReturn(il.NewLdLoc(out)),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, expressionInlining(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())

	add := b.Child(0).Child(0)
	require.Equal(t, il.OpBinary, add.Op())
	assert.Equal(t, il.OpCall, add.Child(0).Op())
	assert.Zero(t, s.LoadCount+s.StoreCount)
}

func TestCopyPropagation(t *testing.T) {
	fn := il.NewFunction(nil)

	a := fn.NewVariable(il.KindStackSlot, nil)

	b := il.NewBlock(
		il.NewStLoc(a, il.NewLdcI4(5)),
		il.NewCall(helperFoo, il.NewLdLoc(a)),
		il.NewCall(helperFoo, il.NewLdLoc(a)),
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, copyPropagation(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 3, b.NumChildren())
	assert.True(t, b.Child(0).Child(0).MatchLdcI4Val(5))
	assert.True(t, b.Child(1).Child(0).MatchLdcI4Val(5))
	assert.Zero(t, a.LoadCount+a.StoreCount)
}

func TestStringConcatFlattening(t *testing.T) {
	fn := il.NewFunction(nil)

	concat := &ts.Method{MethodName: "Concat", DeclaringType: stringType, IsStatic: true}

	inner := il.NewCall(concat, il.NewLdStr("a"), il.NewLdStr("b"))
	outer := il.NewCall(concat, inner, il.NewLdStr("c"))

	v := fn.NewVariable(il.KindLocal, nil)

	b := il.NewBlock(il.NewStLoc(v, outer), il.NewReturn(il.NewLdLoc(v)))
	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, stringConcat(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 3, outer.NumChildren())

	var s string

	for i, want := range []string{"a", "b", "c"} {
		require.True(t, outer.Child(i).MatchLdStr(&s))
		assert.Equal(t, want, s)
	}
}

func TestDeadVariableInit(t *testing.T) {
	fn := il.NewFunction(nil)

	dead := fn.NewVariable(il.KindLocal, nil)
	live := fn.NewVariable(il.KindLocal, nil)

	b := il.NewBlock(
		il.NewStLoc(dead, il.NewLdNull()),
		il.NewStLoc(live, il.NewLdcI4(0)),
		il.NewReturn(il.NewLdLoc(live)),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, deadVariableInit(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())
	assert.Zero(t, dead.StoreCount)
	assert.Equal(t, 1, live.StoreCount)
}
