// Package df is the generic forward dataflow framework: a fixed-point
// visitor over the il tree, parameterized by a user state forming a
// join-semilattice. Termination follows from the finite height of the
// lattice; the worklist is ordered by reverse-postorder block index so
// most containers converge in one or two sweeps.
package df

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/il"
)

type (
	// State is the semilattice contract. JoinWith must be monotone:
	// after s.JoinWith(o), both the old s and o are LessOrEqual to s.
	// MeetWith recombines try-finally exits; meeting with an
	// unreachable state is unreachable.
	State[S any] interface {
		LessOrEqual(S) bool
		Clone() S
		ReplaceWith(S)
		IsUnreachable() bool
		MarkUnreachable()
		JoinWith(S)
		MeetWith(S)
	}

	// Transfer applies an instruction's effect to the current state.
	// The engine drives the traversal; Transfer only sees leaves and
	// straight-line nodes.
	Transfer[S State[S]] interface {
		Apply(i *il.Instruction, state S)
	}

	// Analysis runs a Transfer over a function.
	Analysis[S State[S]] struct {
		transfer Transfer[S]

		current S

		// per-try persistent on-exception states, kept across
		// re-entries of the surrounding fixpoint
		onException map[*il.Instruction]S
		tryStack    []*il.Instruction

		blockInput map[*il.Instruction]S
		leaveState map[*il.Instruction]S

		// active fixpoints, keyed by container, so a join into a block
		// re-enqueues it in the right worklist
		active map[*il.Instruction]*worklist

		// debug mode records per-instruction input states and asserts
		// monotonicity on re-entry
		Debug     bool
		prevState map[*il.Instruction]S

		ctx context.Context
		err error
	}

	worklist struct {
		heap.Heap[*il.Instruction]
		queued map[*il.Instruction]bool
	}
)

func NewAnalysis[S State[S]](t Transfer[S], initial S) *Analysis[S] {
	return &Analysis[S]{
		transfer:    t,
		current:     initial,
		onException: map[*il.Instruction]S{},
		blockInput:  map[*il.Instruction]S{},
		leaveState:  map[*il.Instruction]S{},
		active:      map[*il.Instruction]*worklist{},
		prevState:   map[*il.Instruction]S{},
	}
}

// Run performs the analysis over the whole function body, starting
// from the initial state.
func (a *Analysis[S]) Run(ctx context.Context, fn *il.Function) error {
	a.ctx = ctx

	if fn.Body() != nil {
		a.visit(fn.Body())
	}

	return a.err
}

// Current returns the state after the analyzed region's endpoint.
func (a *Analysis[S]) Current() S { return a.current }

// BlockInput returns the fixpoint input state of a block.
func (a *Analysis[S]) BlockInput(b *il.Instruction) (S, bool) {
	s, ok := a.blockInput[b]
	return s, ok
}

func (a *Analysis[S]) visit(i *il.Instruction) {
	if a.err != nil {
		return
	}

	if a.Debug {
		if prev, ok := a.prevState[i]; ok {
			if !prev.LessOrEqual(a.current) && !a.current.IsUnreachable() {
				a.err = errors.Wrap(errs.InvariantViolation, "non-monotone re-entry at %v", i.Op())
				return
			}
		}

		a.prevState[i] = a.current.Clone()
	}

	switch i.Op() {
	case il.OpBlockContainer:
		a.visitContainer(i)
	case il.OpIfInstruction:
		a.visit(i.Child(0))

		branch := a.current.Clone()
		a.visit(i.Child(1))
		after := a.current

		a.current = branch
		a.visit(i.Child(2))
		a.current.JoinWith(after)
	case il.OpSwitch:
		a.visit(i.Child(0))

		baseline := a.current.Clone()
		exit := a.current.Clone()
		exit.MarkUnreachable()

		for _, s := range i.Children()[1:] {
			a.current = baseline.Clone()
			a.visit(s.Child(0))
			exit.JoinWith(a.current)
		}

		a.current = exit
	case il.OpTryCatch:
		a.visitTry(i)

		tryExit := a.current.Clone()
		onEx := a.onException[i]

		for _, h := range i.Children()[1:] {
			// the handler observes everything the try could have
			// stored before throwing
			a.current = onEx.Clone()
			a.visit(h.Child(0)) // filter
			a.visit(h.Child(1)) // body
			tryExit.JoinWith(a.current)
		}

		a.current = tryExit
	case il.OpTryFinally, il.OpTryFault:
		a.visitTry(i)

		tryExit := a.current.Clone()
		onEx := a.onException[i]

		a.current.JoinWith(onEx)
		a.visit(i.Child(1))

		if i.Op() == il.OpTryFault {
			// a fault always rethrows; only the try's normal exit
			// reaches the endpoint
			a.current = tryExit
		} else {
			a.current.MeetWith(tryExit)
		}
	case il.OpBranch:
		a.joinInto(i.Target())
		a.current.MarkUnreachable()
	case il.OpLeave:
		a.visit(i.Child(0))
		a.recordLeave(i.Target())
		a.current.MarkUnreachable()
	case il.OpReturn, il.OpThrow, il.OpRethrow:
		a.visitChildren(i)
		a.throwTo()
		a.current.MarkUnreachable()
	default:
		a.visitChildren(i)

		// an exception interrupts the node before its own effect
		if i.HasFlag(il.FlagMayThrow) {
			a.throwTo()
		}

		if i.Op() != il.OpBlock {
			a.transfer.Apply(i, a.current)
		}
	}
}

func (a *Analysis[S]) visitChildren(i *il.Instruction) {
	for _, c := range i.Children() {
		a.visit(c)
	}
}

// visitTry runs the protected region, accumulating its on-exception
// state, which persists across fixpoint re-entries.
func (a *Analysis[S]) visitTry(i *il.Instruction) {
	onEx, ok := a.onException[i]
	if !ok {
		onEx = a.current.Clone()
		onEx.MarkUnreachable()
		a.onException[i] = onEx
	}

	// the exception may occur before any instruction ran
	onEx.JoinWith(a.current)

	a.tryStack = append(a.tryStack, i)
	a.visit(i.Child(0))
	a.tryStack = a.tryStack[:len(a.tryStack)-1]
}

// throwTo joins the current state into the innermost try's
// on-exception state.
func (a *Analysis[S]) throwTo() {
	if len(a.tryStack) == 0 {
		return
	}

	t := a.tryStack[len(a.tryStack)-1]
	a.onException[t].JoinWith(a.current)
}

func (a *Analysis[S]) joinInto(b *il.Instruction) {
	if b == nil {
		return
	}

	if in, ok := a.blockInput[b]; ok {
		in.JoinWith(a.current)
	} else {
		a.blockInput[b] = a.current.Clone()
	}

	if w := a.active[b.Parent()]; w != nil {
		w.enqueue(b)
	}
}

func (a *Analysis[S]) recordLeave(container *il.Instruction) {
	if container == nil {
		return
	}

	if s, ok := a.leaveState[container]; ok {
		s.JoinWith(a.current)
		return
	}

	a.leaveState[container] = a.current.Clone()
}

func blockLess(d []*il.Instruction, i, j int) bool {
	return d[i].ChildIndex() < d[j].ChildIndex()
}

func (w *worklist) enqueue(b *il.Instruction) {
	if w.queued[b] {
		return
	}

	w.queued[b] = true
	w.Heap.Push(b)
}

func (w *worklist) dequeue() *il.Instruction {
	b := w.Heap.Pop()
	w.queued[b] = false

	return b
}

func (a *Analysis[S]) visitContainer(c *il.Instruction) {
	blocks := c.Blocks()
	if len(blocks) == 0 {
		return
	}

	// input states start unreachable; the entry receives the incoming
	// state
	for _, b := range blocks {
		if _, ok := a.blockInput[b]; !ok {
			s := a.current.Clone()
			s.MarkUnreachable()
			a.blockInput[b] = s
		}
	}

	unreachableExit := a.current.Clone()
	unreachableExit.MarkUnreachable()
	a.leaveState[c] = unreachableExit

	w := &worklist{
		Heap:   heap.Heap[*il.Instruction]{Less: blockLess},
		queued: map[*il.Instruction]bool{},
	}

	a.active[c] = w
	defer delete(a.active, c)

	a.joinInto(blocks[0])

	prev := map[*il.Instruction]S{}

	for w.Len() != 0 {
		if a.ctx != nil && a.ctx.Err() != nil {
			a.err = a.ctx.Err()
			return
		}

		b := w.dequeue()

		in := a.blockInput[b]

		if p, ok := prev[b]; ok && in.LessOrEqual(p) {
			continue
		}

		prev[b] = in.Clone()

		a.current = in.Clone()
		a.visitChildren(b)

		if a.err != nil {
			return
		}
	}

	a.current = a.leaveState[c]
}
