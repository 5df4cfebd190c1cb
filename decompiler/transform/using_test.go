package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/settings"
	"github.com/unbolt/unbolt/decompiler/ts"
)

var (
	readerType    = &ts.TypeDefinition{NamespaceName: "System.IO", ShortName: "StreamReader"}
	disposeMethod = &ts.Method{MethodName: "Dispose", DeclaringType: readerType}
	openMethod    = &ts.Method{MethodName: "Open", DeclaringType: readerType, IsStatic: true}
)

func buildUsing(fn *il.Function) (b *il.Instruction, res *il.Variable) {
	res = fn.NewVariable(il.KindLocal, nil)

	tryBlock := il.NewBlock(il.NewCall(helperFoo))
	tryC := il.NewBlockContainer(tryBlock)
	tryBlock.AddChild(il.NewLeave(tryC, il.NewNop()))

	finBlock := il.NewBlock(
		il.NewIfInstruction(
			il.NewCompNotEquals(il.NewLdLoc(res), il.NewLdNull()),
			il.NewBlock(il.NewCallVirt(disposeMethod, il.NewLdLoc(res))),
			il.NewNop(),
		),
	)
	finC := il.NewBlockContainer(finBlock)
	finBlock.AddChild(il.NewLeave(finC, il.NewNop()))

	b = il.NewBlock(
		il.NewStLoc(res, il.NewCall(openMethod)),
		il.NewTryFinally(tryC, finC),
		il.NewReturn(),
	)

	return b, res
}

func TestUsingStatement(t *testing.T) {
	fn := il.NewFunction(nil)

	b, res := buildUsing(fn)
	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, usingStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())

	u := b.Child(0)
	require.Equal(t, il.OpUsingInstruction, u.Op())
	assert.Same(t, res, u.Variable())
	assert.Equal(t, il.OpCall, u.Child(0).Op())

	// the binding moved onto the using itself; no store node remains
	assert.Zero(t, res.StoreCount)
}

func TestUsingSettingGate(t *testing.T) {
	fn := il.NewFunction(nil)

	b, _ := buildUsing(fn)
	fn.SetBody(il.NewBlockContainer(b))

	s := settings.Default()
	s.UsingStatement = false

	before := fn.Dump()

	require.NoError(t, usingStatement(context.Background(), fn, &Context{Settings: s}))
	assert.Equal(t, before, fn.Dump())
}

func TestForeachEnumerator(t *testing.T) {
	fn := il.NewFunction(nil)

	coll := fn.NewVariable(il.KindParameter, nil)
	e := fn.NewVariable(il.KindLocal, nil)
	cur := fn.NewVariable(il.KindLocal, nil)

	listType := &ts.TypeDefinition{NamespaceName: "System.Collections.Generic", ShortName: "List", Arity: 1}
	getEnum := &ts.Method{MethodName: "GetEnumerator", DeclaringType: listType}
	moveNext := &ts.Method{MethodName: "MoveNext", DeclaringType: listType}
	getCurrent := &ts.Method{MethodName: "get_Current", DeclaringType: listType}

	loop := il.NewBlockContainer()
	loop.SetContainerKind(il.ContainerLoop)

	head := il.NewBlock()
	loop.AddChild(head)

	thenB := il.NewBlock(
		il.NewStLoc(cur, il.NewCallVirt(getCurrent, il.NewLdLoc(e))),
		il.NewCall(helperFoo, il.NewLdLoc(cur)),
	)
	thenB.AddChild(il.NewBranch(head))

	head.AddChild(il.NewIfInstruction(il.NewCallVirt(moveNext, il.NewLdLoc(e)), thenB, il.NewNop()))
	head.AddChild(il.NewLeave(loop, il.NewNop()))

	bodyBlock := il.NewBlock(loop)
	bodyC := il.NewBlockContainer(bodyBlock)
	bodyBlock.AddChild(il.NewLeave(bodyC, il.NewNop()))

	using := il.NewUsing(e, il.NewCallVirt(getEnum, il.NewLdLoc(coll)), bodyC)

	b := il.NewBlock(using, il.NewReturn())
	fn.SetBody(il.NewBlockContainer(b))
	require.NoError(t, fn.CheckInvariants())

	require.NoError(t, foreachStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	fe := b.Child(0)
	require.Equal(t, il.OpForeachInstruction, fe.Op(), "foreach not recovered:\n%s", fn.Dump())

	assert.Same(t, cur, fe.Variable())
	assert.True(t, fe.Child(0).MatchLdLocOf(coll))

	// the enumerator machinery is gone
	assert.Zero(t, e.LoadCount+e.StoreCount+e.AddressCount)
}

func TestForeachArray(t *testing.T) {
	fn := il.NewFunction(nil)

	src := fn.NewVariable(il.KindParameter, nil)
	arr := fn.NewVariable(il.KindLocal, nil)
	idx := fn.NewVariable(il.KindLocal, nil)
	elem := fn.NewVariable(il.KindLocal, nil)

	loop := il.NewBlockContainer()
	loop.SetContainerKind(il.ContainerLoop)

	head := il.NewBlock()
	loop.AddChild(head)

	thenB := il.NewBlock(
		il.NewStLoc(elem, il.NewLdObj(il.NewLdElema(il.NewLdLoc(arr), il.NewLdLoc(idx), nil), nil)),
		il.NewCall(helperFoo, il.NewLdLoc(elem)),
		il.NewStLoc(idx, il.NewBinary(il.BinAdd, il.NewLdLoc(idx), il.NewLdcI4(1))),
	)
	thenB.AddChild(il.NewBranch(head))

	head.AddChild(il.NewIfInstruction(
		il.NewCompLessThan(il.NewLdLoc(idx), il.NewLdLen(il.NewLdLoc(arr))),
		thenB,
		il.NewNop(),
	))
	head.AddChild(il.NewLeave(loop, il.NewNop()))

	b := il.NewBlock(
		il.NewStLoc(arr, il.NewLdLoc(src)),
		il.NewStLoc(idx, il.NewLdcI4(0)),
		loop,
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))
	require.NoError(t, fn.CheckInvariants())

	require.NoError(t, foreachStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren(), "array foreach not recovered:\n%s", fn.Dump())

	fe := b.Child(0)
	require.Equal(t, il.OpForeachInstruction, fe.Op())
	assert.Same(t, elem, fe.Variable())
	assert.True(t, fe.Child(0).MatchLdLocOf(src))

	assert.Zero(t, arr.LoadCount+arr.StoreCount)
	assert.Zero(t, idx.LoadCount+idx.StoreCount)
}
