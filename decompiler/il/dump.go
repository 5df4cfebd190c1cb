package il

import (
	"fmt"
	"strings"
)

// String renders the subtree in a compact one-line form, used by tests
// and the cli dump command.
func (i *Instruction) String() string {
	var b strings.Builder

	i.write(&b)

	return b.String()
}

func (i *Instruction) write(b *strings.Builder) {
	if i == nil {
		b.WriteString("<nil>")
		return
	}

	b.WriteString(i.op.String())

	switch {
	case i.variable != nil:
		fmt.Fprintf(b, " %s", i.variable.VarName)
	case i.method != nil:
		fmt.Fprintf(b, " %s", i.method.FullName())
	case i.field != nil:
		fmt.Fprintf(b, " %s", i.field.FullName())
	case i.op == OpLdStr:
		fmt.Fprintf(b, " %q", i.strVal)
	case i.op == OpLdcI4, i.op == OpLdcI8:
		fmt.Fprintf(b, " %d", i.intVal)
	case i.op == OpSwitchSection:
		fmt.Fprintf(b, " %v", i.labels)
	}

	if i.op == OpBranch && i.target != nil {
		fmt.Fprintf(b, "->B%d", i.target.childIndex)
	}

	if len(i.children) == 0 {
		return
	}

	b.WriteByte('(')

	for n, c := range i.children {
		if n != 0 {
			b.WriteString(", ")
		}

		c.write(b)
	}

	b.WriteByte(')')
}

// Dump renders a function body with one block per line.
func (f *Function) Dump() string {
	if f.body == nil {
		return "<empty>"
	}

	var b strings.Builder

	dumpContainer(&b, f.body, 0)

	return b.String()
}

func dumpContainer(b *strings.Builder, c *Instruction, depth int) {
	ind := strings.Repeat("  ", depth)

	for _, blk := range c.Blocks() {
		fmt.Fprintf(b, "%sB%d: (in: %d)\n", ind, blk.childIndex, blk.incomingEdgeCount)

		for _, inst := range blk.Instructions() {
			if inst.op == OpBlockContainer {
				fmt.Fprintf(b, "%s  container:\n", ind)
				dumpContainer(b, inst, depth+2)

				continue
			}

			fmt.Fprintf(b, "%s  %s\n", ind, inst)
		}
	}
}
