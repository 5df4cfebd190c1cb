package transform

import (
	"context"
	"strings"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// iteratorDetection marks methods whose body just constructs a
// compiler-generated iterator state machine. The unwinding proper runs
// over the state machine's MoveNext with the dataflow framework; the
// marker is what gates it and what the surface translator keys on.
func iteratorDetection(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.Iterators {
		return nil
	}

	t, ok := stateMachineConstruction(fn)
	if !ok {
		return nil
	}

	fn.IsIterator = true
	fn.StateMachineType = t

	return nil
}

// asyncDetection marks async methods by their builder calls
// (AsyncTaskMethodBuilder and friends).
func asyncDetection(ctx context.Context, fn *il.Function, c *Context) error {
	if !c.Settings.AsyncAwait || fn.Body() == nil {
		return nil
	}

	found := false

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		var m *ts.Method

		if !i.MatchCall(&m) || m == nil || m.DeclaringType == nil {
			return true
		}

		name := m.DeclaringType.Name()

		if strings.HasPrefix(name, "AsyncTaskMethodBuilder") ||
			strings.HasPrefix(name, "AsyncVoidMethodBuilder") ||
			strings.HasPrefix(name, "AsyncValueTaskMethodBuilder") {
			if m.Name() == "Start" {
				found = true
				return false
			}
		}

		return true
	})

	if !found {
		return nil
	}

	fn.IsAsync = true

	if t, ok := stateMachineConstruction(fn); ok {
		fn.StateMachineType = t
	}

	return nil
}

// stateMachineConstruction finds a newobj of a nested
// compiler-generated type (the "<Method>d__N" naming scheme).
func stateMachineConstruction(fn *il.Function) (ts.Type, bool) {
	if fn.Body() == nil {
		return nil, false
	}

	var typ ts.Type

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if typ != nil {
			return false
		}

		if i.Op() != il.OpNewObj || i.Method() == nil || i.Method().DeclaringType == nil {
			return true
		}

		d := i.Method().DeclaringType

		if strings.Contains(d.Name(), ">d__") || strings.HasPrefix(d.Name(), "<") && strings.Contains(d.Name(), "d__") {
			typ = d
			return false
		}

		return true
	})

	return typ, typ != nil
}
