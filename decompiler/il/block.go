package il

// EntryPoint returns the container's designated entry block.
func (i *Instruction) EntryPoint() *Instruction {
	invariant(i.op == OpBlockContainer, "%v has no entry point", i.op)
	invariant(len(i.children) > 0, "empty block container")

	return i.children[0]
}

func (i *Instruction) Blocks() []*Instruction {
	invariant(i.op == OpBlockContainer, "%v has no blocks", i.op)

	return i.children
}

// IncomingEdgeCount counts connected branches targeting this block.
func (i *Instruction) IncomingEdgeCount() int {
	return i.incomingEdgeCount
}

// Instructions returns a block's instruction list.
func (i *Instruction) Instructions() []*Instruction {
	invariant(i.op == OpBlock, "%v has no instruction list", i.op)

	return i.children
}

// Successors calls f for every block of the same container this block
// branches to; f returns false to stop. A target is reported once per
// branch. Nested containers have their own block graphs and are not
// entered.
func (i *Instruction) Successors(f func(*Instruction) bool) {
	container := i.parent

	var walk func(n *Instruction) bool
	walk = func(n *Instruction) bool {
		if n.op == OpBlockContainer && n != i {
			return true
		}

		if n.op == OpBranch && n.target != nil && n.target.parent == container {
			if !f(n.target) {
				return false
			}
		}

		for _, c := range n.children {
			if !walk(c) {
				return false
			}
		}

		return true
	}

	walk(i)
}

// reorderBlocks permutes the container's children in place. Order is
// the only thing that changes: no node is detached, so counters are
// untouched.
func (i *Instruction) reorderBlocks(order []*Instruction) {
	invariant(len(order) == len(i.children), "reorder length mismatch: %d != %d", len(order), len(i.children))

	copy(i.children, order)

	for n, b := range i.children {
		b.childIndex = n
	}

	i.invalidateFlags()
}

// SortBlocks reorders the container's blocks in reverse postorder,
// which accelerates fixed-point iteration. Unreachable blocks are
// dropped when deleteUnreachable is set, kept at the end otherwise.
func (i *Instruction) SortBlocks(deleteUnreachable bool) {
	invariant(i.op == OpBlockContainer, "%v has no blocks", i.op)

	if len(i.children) == 0 {
		return
	}

	visited := map[*Instruction]bool{}
	postorder := make([]*Instruction, 0, len(i.children))

	var dfs func(b *Instruction)
	dfs = func(b *Instruction) {
		if visited[b] {
			return
		}

		visited[b] = true

		b.Successors(func(s *Instruction) bool {
			dfs(s)
			return true
		})

		postorder = append(postorder, b)
	}

	dfs(i.EntryPoint())

	order := make([]*Instruction, 0, len(i.children))

	for n := len(postorder) - 1; n >= 0; n-- {
		order = append(order, postorder[n])
	}

	var dead []*Instruction

	for _, b := range i.children {
		if !visited[b] {
			dead = append(dead, b)
		}
	}

	if !deleteUnreachable {
		order = append(order, dead...)
		i.reorderBlocks(order)

		return
	}

	i.reorderBlocks(append(order, dead...))

	for n := len(i.children) - 1; n >= len(order); n-- {
		i.RemoveChildAt(n)
	}
}
