package il

import (
	"sort"

	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/meta"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type regionGroup struct {
	try     span
	end     int
	regions []meta.ExceptionRegion
}

// nestRegions folds exception regions into Try* instructions,
// innermost first. Each construct collapses its try and handler blocks
// into containers and leaves one wrapper block in their place.
func (st *builderState) nestRegions() error {
	byTry := map[span]*regionGroup{}

	for _, r := range st.regions {
		sp := span{start: r.TryOffset, end: r.TryOffset + r.TryLength}

		g := byTry[sp]
		if g == nil {
			g = &regionGroup{try: sp, end: sp.end}
			byTry[sp] = g
		}

		g.regions = append(g.regions, r)

		if e := r.HandlerOffset + r.HandlerLength; e > g.end {
			g.end = e
		}
	}

	groups := make([]*regionGroup, 0, len(byTry))

	for _, g := range byTry {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]

		if al, bl := a.end-a.try.start, b.end-b.try.start; al != bl {
			return al < bl
		}

		return a.try.start < b.try.start
	})

	for _, g := range groups {
		if err := st.nestGroup(g); err != nil {
			return err
		}
	}

	return nil
}

func (st *builderState) nestGroup(g *regionGroup) error {
	tryC, err := st.collect(g.try)
	if err != nil {
		return err
	}

	var construct *Instruction

	sort.Slice(g.regions, func(i, j int) bool {
		return g.regions[i].HandlerOffset < g.regions[j].HandlerOffset
	})

	switch g.regions[0].Kind {
	case meta.RegionFinally, meta.RegionFault:
		if len(g.regions) != 1 {
			return errors.Wrap(errs.MalformedMetadata, "finally shares a try with other handlers")
		}

		r := g.regions[0]

		hc, err := st.collect(span{start: r.HandlerOffset, end: r.HandlerOffset + r.HandlerLength})
		if err != nil {
			return err
		}

		st.handlerConts[hc] = true

		if r.Kind == meta.RegionFinally {
			construct = NewTryFinally(tryC, hc)
		} else {
			construct = NewTryFault(tryC, hc)
		}
	default:
		handlers := make([]*Instruction, 0, len(g.regions))

		for _, r := range g.regions {
			hc, err := st.collect(span{start: r.HandlerOffset, end: r.HandlerOffset + r.HandlerLength})
			if err != nil {
				return err
			}

			st.handlerConts[hc] = true

			filter := NewLdcI4(1)

			if r.Kind == meta.RegionFilter {
				fc, err := st.collect(span{start: r.FilterOffset, end: r.HandlerOffset})
				if err != nil {
					return err
				}

				st.handlerConts[fc] = true
				filter = fc
			}

			h := NewTryCatchHandler(filter, hc, st.handlerVar[r.HandlerOffset])

			if !r.CatchType.IsNil() {
				if t, err := st.bd.TS.ResolveType(r.CatchType, ts.GenericContext{}); err == nil {
					h.typ = t
				}
			}

			handlers = append(handlers, h)
		}

		construct = NewTryCatch(tryC, handlers...)
	}

	wrapper := NewBlock(construct)
	wrapper.SetILOffset(g.try.start)

	if after := st.blockAt(g.end); after != nil {
		wrapper.AddChild(NewBranch(after))
	}

	// branches laid down before nesting still name the try's first
	// block; entry from outside the region goes through the wrapper
	tryEntry := tryC.EntryPoint()

	for _, e := range st.entries {
		e.block.Descendants(func(i *Instruction) bool {
			if i.op == OpBranch && i.target == tryEntry {
				i.SetTarget(wrapper)
			}

			return true
		})
	}

	st.blocks[g.try.start] = wrapper

	st.insertEntry(buildEntry{span: span{start: g.try.start, end: g.end}, block: wrapper})

	return nil
}

// collect removes the top-level entries covered by s and returns them
// as a container, entry point first.
func (st *builderState) collect(s span) (*Instruction, error) {
	c := NewBlockContainer()

	keep := st.entries[:0]
	found := false

	for _, e := range st.entries {
		if e.start >= s.start && e.end <= s.end {
			c.AddChild(e.block)
			found = true

			continue
		}

		if e.start < s.end && e.end > s.start {
			return nil, errors.Wrap(errs.MalformedMetadata, "exception region [%d,%d) splits a block", s.start, s.end)
		}

		keep = append(keep, e)
	}

	if !found {
		return nil, errors.Wrap(errs.MalformedMetadata, "empty exception region [%d,%d)", s.start, s.end)
	}

	st.entries = keep
	st.containerRange[c] = s

	return c, nil
}

func (st *builderState) insertEntry(e buildEntry) {
	st.entries = append(st.entries, e)

	sort.Slice(st.entries, func(i, j int) bool {
		return st.entries[i].start < st.entries[j].start
	})
}

// fixupLeaves resolves leave and endfinally placeholders now that the
// container nesting exists. A leave exits every enclosing container
// whose range excludes its target; one that exits nothing was a plain
// branch in disguise.
func (st *builderState) fixupLeaves(root *Instruction) {
	for _, pl := range st.leaves {
		var exit *Instruction

		for anc := pl.inst.Parent(); anc != nil; anc = anc.Parent() {
			if anc.Op() != OpBlockContainer {
				continue
			}

			sp, ok := st.containerRange[anc]
			if !ok {
				continue
			}

			if anc == root || pl.target >= sp.start && pl.target < sp.end {
				break
			}

			exit = anc
		}

		if exit == nil {
			if t := st.blockAt(pl.target); t != nil {
				pl.inst.ReplaceWith(NewBranch(t))
			}

			continue
		}

		pl.inst.SetTarget(exit)
	}

	for _, ef := range st.endFins {
		for anc := ef.Parent(); anc != nil; anc = anc.Parent() {
			if anc.Op() == OpBlockContainer && st.handlerConts[anc] {
				ef.SetTarget(anc)
				break
			}
		}
	}
}
