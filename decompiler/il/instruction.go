package il

import (
	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	// Instruction is one node of the tree. The kind tag decides which
	// child slots and payload fields are meaningful.
	Instruction struct {
		op Op

		parent     *Instruction
		childIndex int
		children   []*Instruction

		variable *Variable
		method   *ts.Method
		field    *ts.Field
		typ      ts.Type

		strVal string
		intVal int64
		binOp  BinOp

		// target of a Branch (a block) or Leave (a container)
		target *Instruction

		// Literals of a StringToInt node, ordinal-indexed.
		literals []string

		// Labels of a SwitchSection.
		labels LabelSet

		containerKind ContainerKind

		incomingEdgeCount int

		ilOffset int

		flags      Flags
		flagsValid bool

		connected bool
	}
)

func invariant(cond bool, f string, args ...any) {
	if !cond {
		panic(errors.Wrap(errs.InvariantViolation, f, args...))
	}
}

func newInstruction(op Op, children ...*Instruction) *Instruction {
	i := &Instruction{op: op, ilOffset: -1}

	for _, c := range children {
		i.AddChild(c)
	}

	return i
}

func (i *Instruction) Op() Op                   { return i.op }
func (i *Instruction) Parent() *Instruction     { return i.parent }
func (i *Instruction) ChildIndex() int          { return i.childIndex }
func (i *Instruction) NumChildren() int         { return len(i.children) }
func (i *Instruction) Child(n int) *Instruction { return i.children[n] }
func (i *Instruction) Children() []*Instruction { return i.children }

func (i *Instruction) Variable() *Variable { return i.variable }
func (i *Instruction) Method() *ts.Method  { return i.method }
func (i *Instruction) Field() *ts.Field    { return i.field }
func (i *Instruction) Type() ts.Type       { return i.typ }
func (i *Instruction) Str() string         { return i.strVal }
func (i *Instruction) Int() int64          { return i.intVal }
func (i *Instruction) BinOp() BinOp        { return i.binOp }
func (i *Instruction) ILOffset() int       { return i.ilOffset }

func (i *Instruction) SetILOffset(off int) *Instruction {
	i.ilOffset = off
	return i
}

// Flags returns the cached flow flags, recomputing when stale.
func (i *Instruction) Flags() Flags {
	if !i.flagsValid {
		i.flags = i.computeFlags()
		i.flagsValid = true
	}

	return i.flags
}

func (i *Instruction) HasFlag(f Flags) bool { return i.Flags()&f != 0 }

func (i *Instruction) invalidateFlags() {
	for n := i; n != nil && n.flagsValid; n = n.parent {
		n.flagsValid = false
	}
}

// AddChild appends a detached node as the last child.
func (i *Instruction) AddChild(c *Instruction) {
	i.InsertChild(len(i.children), c)
}

// InsertChild inserts a detached node at slot n.
func (i *Instruction) InsertChild(n int, c *Instruction) {
	invariant(c != nil, "inserting nil child into %v", i.op)
	invariant(c.parent == nil, "inserting %v into %v: node already has a parent (%v)", c.op, i.op, c.parent)
	invariant(n >= 0 && n <= len(i.children), "insert index %d out of range in %v", n, i.op)

	i.children = append(i.children, nil)
	copy(i.children[n+1:], i.children[n:])
	i.children[n] = c

	c.parent = i

	for j := n; j < len(i.children); j++ {
		i.children[j].childIndex = j
	}

	c.setConnected(i.connected)
	i.invalidateFlags()
}

// RemoveChildAt detaches and returns the child at slot n.
func (i *Instruction) RemoveChildAt(n int) *Instruction {
	invariant(n >= 0 && n < len(i.children), "remove index %d out of range in %v", n, i.op)

	c := i.children[n]

	copy(i.children[n:], i.children[n+1:])
	i.children = i.children[:len(i.children)-1]

	for j := n; j < len(i.children); j++ {
		i.children[j].childIndex = j
	}

	c.parent = nil
	c.childIndex = 0
	c.setConnected(false)
	i.invalidateFlags()

	return c
}

// SetChild replaces the child at slot n, returning the old node.
func (i *Instruction) SetChild(n int, c *Instruction) *Instruction {
	invariant(c != nil, "setting nil child in %v", i.op)
	invariant(c.parent == nil, "setting %v into %v: node already has a parent", c.op, i.op)
	invariant(n >= 0 && n < len(i.children), "child index %d out of range in %v", n, i.op)

	old := i.children[n]
	old.parent = nil
	old.childIndex = 0
	old.setConnected(false)

	i.children[n] = c
	c.parent = i
	c.childIndex = n
	c.setConnected(i.connected)
	i.invalidateFlags()

	return old
}

// Detach removes the node from its parent and returns it.
func (i *Instruction) Detach() *Instruction {
	invariant(i.parent != nil, "detaching %v: no parent", i.op)

	return i.parent.RemoveChildAt(i.childIndex)
}

// ReplaceWith substitutes repl for this node in its parent.
func (i *Instruction) ReplaceWith(repl *Instruction) {
	invariant(i.parent != nil, "replacing %v: no parent", i.op)

	p, n := i.parent, i.childIndex
	p.SetChild(n, repl)
}

// setConnected propagates tree membership, maintaining variable use
// counters and branch targets' incoming edge counts.
func (i *Instruction) setConnected(c bool) {
	if i.connected == c {
		return
	}

	i.connected = c

	d := 1
	if !c {
		d = -1
	}

	if i.variable != nil {
		switch i.op {
		case OpLdLoc:
			i.variable.LoadCount += d
		case OpStLoc:
			i.variable.StoreCount += d
		case OpLdLoca:
			i.variable.AddressCount += d
		}
	}

	if i.op == OpBranch && i.target != nil {
		i.target.incomingEdgeCount += d
	}

	for _, ch := range i.children {
		ch.setConnected(c)
	}
}

// SetTarget redirects a Branch or Leave.
func (i *Instruction) SetTarget(t *Instruction) {
	invariant(i.op == OpBranch || i.op == OpLeave, "%v has no target", i.op)

	if i.op == OpBranch && i.connected && i.target != nil {
		i.target.incomingEdgeCount--
	}

	i.target = t

	if i.op == OpBranch && i.connected && t != nil {
		t.incomingEdgeCount++
	}
}

func (i *Instruction) Target() *Instruction { return i.target }

// SetVariable rebinds a load/store/address node.
func (i *Instruction) SetVariable(v *Variable) {
	if i.connected && i.variable != nil {
		switch i.op {
		case OpLdLoc:
			i.variable.LoadCount--
		case OpStLoc:
			i.variable.StoreCount--
		case OpLdLoca:
			i.variable.AddressCount--
		}
	}

	i.variable = v

	if i.connected && v != nil {
		switch i.op {
		case OpLdLoc:
			v.LoadCount++
		case OpStLoc:
			v.StoreCount++
		case OpLdLoca:
			v.AddressCount++
		}
	}
}

// Clone duplicates an expression subtree. The copy is detached; branch
// targets are not cloneable.
func (i *Instruction) Clone() *Instruction {
	invariant(i.op != OpBranch && i.op != OpLeave, "cloning a %v", i.op)

	cp := &Instruction{
		op:       i.op,
		variable: i.variable,
		method:   i.method,
		field:    i.field,
		typ:      i.typ,
		strVal:   i.strVal,
		intVal:   i.intVal,
		binOp:    i.binOp,
		literals: i.literals,
		ilOffset: i.ilOffset,
	}

	for _, c := range i.children {
		cp.AddChild(c.Clone())
	}

	return cp
}

// Descendants visits the subtree below i in pre-order. The callback's
// return decides whether to descend into the visited node's children;
// siblings are always visited.
func (i *Instruction) Descendants(f func(*Instruction) bool) {
	for _, c := range i.children {
		c.DescendantsAndSelf(f)
	}
}

// DescendantsAndSelf visits i and its subtree in pre-order, with the
// same descend-into-children contract as Descendants.
func (i *Instruction) DescendantsAndSelf(f func(*Instruction) bool) {
	if f(i) {
		i.Descendants(f)
	}
}

// Ancestors visits parents from the immediate one to the root.
func (i *Instruction) Ancestors(f func(*Instruction) bool) {
	for p := i.parent; p != nil; p = p.parent {
		if !f(p) {
			return
		}
	}
}

func (i *Instruction) IsDescendantOf(a *Instruction) bool {
	for n := i; n != nil; n = n.parent {
		if n == a {
			return true
		}
	}

	return false
}
