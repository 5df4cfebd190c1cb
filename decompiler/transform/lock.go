package transform

import (
	"context"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// lockStatement recovers lock(obj) { ... } from the three shapes the
// C# compilers emitted over the years. Each shape is tried in order at
// every try-finally; a region with any extraneous instruction is left
// byte-identical.
func lockStatement(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.LockStatement {
		return nil
	}

	forEachBlockLastToFirst(fn, func(b *il.Instruction, i int) bool {
		return lockLegacyV2(b, i) || lockV4(b, i) || lockRoslyn(b, i)
	})

	return nil
}

func isMonitorCall(i *il.Instruction, name string) bool {
	var m *ts.Method

	if !i.MatchCall(&m) || m == nil || m.Name() != name {
		return false
	}

	d := m.DeclaringType

	return d != nil && d.Namespace() == "System.Threading" && d.Name() == "Monitor"
}

// matchPlainFinally matches finally { Monitor.Exit(obj); } with
// nothing else inside, binding obj.
func matchPlainFinally(finC *il.Instruction, obj **il.Variable) bool {
	if finC.Op() != il.OpBlockContainer || finC.NumChildren() != 1 {
		return false
	}

	insts := finC.EntryPoint().Instructions()
	if len(insts) != 2 {
		return false
	}

	var ret *il.Instruction

	if !isMonitorCall(insts[0], "Exit") || insts[0].NumChildren() != 1 {
		return false
	}

	if !insts[1].MatchLeave(finC, &ret) || !ret.MatchNop() {
		return false
	}

	return insts[0].Child(0).MatchLdLoc(obj)
}

// matchGuardedFinally matches finally { if (flag) Monitor.Exit(obj); }
// in either its raw two-block or folded one-block form. The whole
// region is whitelisted: one Exit call, conditions over flag only.
func matchGuardedFinally(finC *il.Instruction, obj, flag **il.Variable) bool {
	if finC.Op() != il.OpBlockContainer {
		return false
	}

	var exitCall *il.Instruction
	clean := true

	finC.Descendants(func(i *il.Instruction) bool {
		switch i.Op() {
		case il.OpBlock, il.OpIfInstruction, il.OpLogicNot, il.OpBranch,
			il.OpLeave, il.OpNop, il.OpLdLoc:
			return true
		case il.OpCall:
			if exitCall != nil || !isMonitorCall(i, "Exit") || i.NumChildren() != 1 {
				clean = false
				return false
			}

			exitCall = i

			// do not descend into the call's argument here; it is
			// checked separately
			return false
		default:
			clean = false
			return false
		}
	})

	if !clean || exitCall == nil {
		return false
	}

	if !exitCall.Child(0).MatchLdLoc(obj) {
		return false
	}

	// every other load must be the guard flag, consistently
	*flag = nil
	ok := true

	finC.Descendants(func(i *il.Instruction) bool {
		if i == exitCall {
			return false
		}

		if i.Op() == il.OpLdLoc {
			if *flag == nil {
				*flag = i.Variable()
			} else if *flag != i.Variable() {
				ok = false
				return false
			}
		}

		return true
	})

	return ok && *flag != nil && *flag != *obj
}

// lockLegacyV2 matches
//
//	stloc obj(value); Monitor.Enter(obj); try { body } finally { Exit(obj) }
func lockLegacyV2(b *il.Instruction, i int) bool {
	if i < 2 {
		return false
	}

	var try, fin *il.Instruction
	var obj, exitObj *il.Variable
	var value *il.Instruction

	tf := b.Child(i)
	if !tf.MatchTryFinally(&try, &fin) {
		return false
	}

	enter := b.Child(i - 1)
	if !isMonitorCall(enter, "Enter") || enter.NumChildren() != 1 || !enter.Child(0).MatchLdLoc(&obj) {
		return false
	}

	if !b.Child(i-2).MatchStLocOf(obj, &value) {
		return false
	}

	if !matchPlainFinally(fin, &exitObj) || exitObj != obj {
		return false
	}

	// the lock object must not escape the pattern
	if obj.StoreCount != 1 || obj.LoadCount != 2 || obj.AddressCount != 0 {
		return false
	}

	b.RemoveChildAt(i - 1)
	stloc := b.RemoveChildAt(i - 2)

	rewriteLock(tf, stloc.RemoveChildAt(0))

	return true
}

// lockV4 matches
//
//	stloc flag(false); try { Enter(stloc obj(value), &flag); body } finally { if (flag) Exit(obj) }
func lockV4(b *il.Instruction, i int) bool {
	if i < 1 {
		return false
	}

	var try, fin *il.Instruction
	var obj, flag, storedObj, addrFlag *il.Variable

	tf := b.Child(i)
	if !tf.MatchTryFinally(&try, &fin) {
		return false
	}

	guard := b.Child(i - 1)
	if guard.Op() != il.OpStLoc || !guard.Child(0).MatchLdcI4Val(0) {
		return false
	}

	if !matchGuardedFinally(fin, &obj, &flag) || flag != guard.Variable() {
		return false
	}

	enter, tryBlock := tryEntryCall(try)
	if enter == nil || !isMonitorCall(enter, "Enter") || enter.NumChildren() != 2 {
		return false
	}

	var value *il.Instruction

	if !enter.Child(0).MatchStLoc(&storedObj, &value) || storedObj != obj {
		return false
	}

	if !enter.Child(1).MatchLdLoca(&addrFlag) || addrFlag != flag {
		return false
	}

	if flag.StoreCount != 1 || flag.LoadCount != 1 || flag.AddressCount != 1 {
		return false
	}

	if obj.StoreCount != 1 || obj.LoadCount != 1 || obj.AddressCount != 0 {
		return false
	}

	tryBlock.RemoveChildAt(enter.ChildIndex())
	b.RemoveChildAt(i - 1)

	rewriteLock(tf, enter.Child(0).RemoveChildAt(0))

	return true
}

// lockRoslyn matches
//
//	stloc obj(value); stloc flag(false); try { Enter(obj, &flag); body } finally { if (flag) Exit(obj) }
func lockRoslyn(b *il.Instruction, i int) bool {
	if i < 2 {
		return false
	}

	var try, fin *il.Instruction
	var obj, flag, enterObj, addrFlag *il.Variable
	var value *il.Instruction

	tf := b.Child(i)
	if !tf.MatchTryFinally(&try, &fin) {
		return false
	}

	if !matchGuardedFinally(fin, &obj, &flag) {
		return false
	}

	guard := b.Child(i - 1)
	if guard.Variable() != flag || guard.Op() != il.OpStLoc || !guard.Child(0).MatchLdcI4Val(0) {
		return false
	}

	if !b.Child(i-2).MatchStLocOf(obj, &value) {
		return false
	}

	enter, tryBlock := tryEntryCall(try)
	if enter == nil || !isMonitorCall(enter, "Enter") || enter.NumChildren() != 2 {
		return false
	}

	if !enter.Child(0).MatchLdLoc(&enterObj) || enterObj != obj {
		return false
	}

	if !enter.Child(1).MatchLdLoca(&addrFlag) || addrFlag != flag {
		return false
	}

	if flag.StoreCount != 1 || flag.LoadCount != 1 || flag.AddressCount != 1 {
		return false
	}

	if obj.StoreCount != 1 || obj.LoadCount != 2 || obj.AddressCount != 0 {
		return false
	}

	tryBlock.RemoveChildAt(enter.ChildIndex())
	b.RemoveChildAt(i - 1)
	stloc := b.RemoveChildAt(i - 2)

	rewriteLock(tf, stloc.RemoveChildAt(0))

	return true
}

// tryEntryCall returns the first instruction of the try's entry block
// when it is a call, plus the block holding it.
func tryEntryCall(try *il.Instruction) (*il.Instruction, *il.Instruction) {
	if try.Op() != il.OpBlockContainer || try.NumChildren() == 0 {
		return nil, nil
	}

	entry := try.EntryPoint()
	if entry.NumChildren() == 0 {
		return nil, nil
	}

	first := entry.Child(0)
	if first.Op() != il.OpCall && first.Op() != il.OpCallVirt {
		return nil, nil
	}

	return first, entry
}

// rewriteLock replaces the try-finally with lock(value) { try-body }.
func rewriteLock(tf, value *il.Instruction) {
	try := tf.RemoveChildAt(0)
	tf.ReplaceWith(il.NewLock(value, try))
}
