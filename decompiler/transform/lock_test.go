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
	monitorType = &ts.TypeDefinition{NamespaceName: "System.Threading", ShortName: "Monitor"}
	helperType  = &ts.TypeDefinition{NamespaceName: "Demo", ShortName: "Helper"}

	monitorEnter = &ts.Method{MethodName: "Enter", DeclaringType: monitorType, IsStatic: true}
	monitorExit  = &ts.Method{MethodName: "Exit", DeclaringType: monitorType, IsStatic: true}
	helperFoo    = &ts.Method{MethodName: "Foo", DeclaringType: helperType, IsStatic: true}
)

func testContext() *Context {
	return &Context{Settings: settings.Default()}
}

// roslyn shape: stloc obj(x); stloc flag(false); try { Enter(obj, &flag);
// Foo() } finally { if (flag) Exit(obj) }
func buildRoslynLock(fn *il.Function, x *il.Variable) (b, tf *il.Instruction, obj, flag *il.Variable) {
	obj = fn.NewVariable(il.KindLocal, nil)
	flag = fn.NewVariable(il.KindLocal, nil)

	tryBlock := il.NewBlock(
		il.NewCall(monitorEnter, il.NewLdLoc(obj), il.NewLdLoca(flag)),
		il.NewCall(helperFoo),
	)
	tryC := il.NewBlockContainer(tryBlock)
	tryBlock.AddChild(il.NewLeave(tryC, il.NewNop()))

	finBlock := il.NewBlock(
		il.NewIfInstruction(
			il.NewLdLoc(flag),
			il.NewBlock(il.NewCall(monitorExit, il.NewLdLoc(obj))),
			il.NewNop(),
		),
	)
	finC := il.NewBlockContainer(finBlock)
	finBlock.AddChild(il.NewLeave(finC, il.NewNop()))

	tf = il.NewTryFinally(tryC, finC)

	b = il.NewBlock(
		il.NewStLoc(obj, il.NewLdLoc(x)),
		il.NewStLoc(flag, il.NewLdcI4(0)),
		tf,
		il.NewReturn(),
	)

	return b, tf, obj, flag
}

func TestLockRoslyn(t *testing.T) {
	fn := il.NewFunction(nil)
	x := fn.NewVariable(il.KindLocal, nil)

	b, _, obj, flag := buildRoslynLock(fn, x)
	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, lockStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())

	lock := b.Child(0)
	require.Equal(t, il.OpLockInstruction, lock.Op())

	// lock(x) { Foo() }
	assert.True(t, lock.Child(0).MatchLdLocOf(x))

	body := lock.Child(1)
	assert.Equal(t, il.OpBlockContainer, body.Op())
	assert.Equal(t, il.OpCall, body.EntryPoint().Child(0).Op())

	// the guard locals are fully eliminated
	assert.Zero(t, obj.LoadCount+obj.StoreCount+obj.AddressCount)
	assert.Zero(t, flag.LoadCount+flag.StoreCount+flag.AddressCount)
}

func TestLockLegacyV2(t *testing.T) {
	fn := il.NewFunction(nil)
	x := fn.NewVariable(il.KindLocal, nil)
	obj := fn.NewVariable(il.KindLocal, nil)

	tryBlock := il.NewBlock(il.NewCall(helperFoo))
	tryC := il.NewBlockContainer(tryBlock)
	tryBlock.AddChild(il.NewLeave(tryC, il.NewNop()))

	finBlock := il.NewBlock(il.NewCall(monitorExit, il.NewLdLoc(obj)))
	finC := il.NewBlockContainer(finBlock)
	finBlock.AddChild(il.NewLeave(finC, il.NewNop()))

	tf := il.NewTryFinally(tryC, finC)

	b := il.NewBlock(
		il.NewStLoc(obj, il.NewLdLoc(x)),
		il.NewCall(monitorEnter, il.NewLdLoc(obj)),
		tf,
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, lockStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())
	assert.Equal(t, il.OpLockInstruction, b.Child(0).Op())
	assert.Zero(t, obj.LoadCount+obj.StoreCount)
}

func TestLockV4FlagGuard(t *testing.T) {
	fn := il.NewFunction(nil)
	x := fn.NewVariable(il.KindLocal, nil)
	obj := fn.NewVariable(il.KindLocal, nil)
	flag := fn.NewVariable(il.KindLocal, nil)

	// v4 stores the object inside the Enter call
	tryBlock := il.NewBlock(
		il.NewCall(monitorEnter, il.NewStLoc(obj, il.NewLdLoc(x)), il.NewLdLoca(flag)),
		il.NewCall(helperFoo),
	)
	tryC := il.NewBlockContainer(tryBlock)
	tryBlock.AddChild(il.NewLeave(tryC, il.NewNop()))

	finBlock := il.NewBlock(
		il.NewIfInstruction(
			il.NewLdLoc(flag),
			il.NewBlock(il.NewCall(monitorExit, il.NewLdLoc(obj))),
			il.NewNop(),
		),
	)
	finC := il.NewBlockContainer(finBlock)
	finBlock.AddChild(il.NewLeave(finC, il.NewNop()))

	tf := il.NewTryFinally(tryC, finC)

	b := il.NewBlock(
		il.NewStLoc(flag, il.NewLdcI4(0)),
		tf,
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))

	require.NoError(t, lockStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	require.Equal(t, 2, b.NumChildren())

	lock := b.Child(0)
	require.Equal(t, il.OpLockInstruction, lock.Op())
	assert.True(t, lock.Child(0).MatchLdLocOf(x))
	assert.Zero(t, flag.LoadCount+flag.StoreCount+flag.AddressCount)
}

// a single extra instruction inside the recognized region leaves the
// input untouched.
func TestLockPerturbationIsIdentity(t *testing.T) {
	fn := il.NewFunction(nil)
	x := fn.NewVariable(il.KindLocal, nil)
	junk := fn.NewVariable(il.KindLocal, nil)

	b, tf, _, _ := buildRoslynLock(fn, x)

	// perturb the finally with a store
	fin := tf.Child(1)
	fin.EntryPoint().InsertChild(0, il.NewStLoc(junk, il.NewLdcI4(7)))

	fn.SetBody(il.NewBlockContainer(b))

	before := fn.Dump()

	require.NoError(t, lockStatement(context.Background(), fn, testContext()))
	require.NoError(t, fn.CheckInvariants())

	assert.Equal(t, before, fn.Dump())

	var found bool

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if i.Op() == il.OpLockInstruction {
			found = true
		}

		return true
	})

	assert.False(t, found)
}

func TestLockSettingGate(t *testing.T) {
	fn := il.NewFunction(nil)
	x := fn.NewVariable(il.KindLocal, nil)

	b, _, _, _ := buildRoslynLock(fn, x)
	fn.SetBody(il.NewBlockContainer(b))

	s := settings.Default()
	s.LockStatement = false

	before := fn.Dump()

	require.NoError(t, lockStatement(context.Background(), fn, &Context{Settings: s}))
	assert.Equal(t, before, fn.Dump())
}
