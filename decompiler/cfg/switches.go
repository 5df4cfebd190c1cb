package cfg

import (
	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/il"
)

// SimplifySwitch normalizes a SwitchInstruction: sections sharing a
// target are merged, the explicit label sets become a disjoint
// partition whose complement belongs to the default section, and the
// default section is hoisted to the last position.
func SimplifySwitch(sw *il.Instruction) error {
	if sw.Op() != il.OpSwitch {
		return nil
	}

	sections := append([]*il.Instruction{}, sw.Children()[1:]...)

	// merge sections branching to the same block
	byTarget := map[*il.Instruction]*il.Instruction{}

	for _, s := range sections {
		var target *il.Instruction

		body := s.Child(0)
		if !body.MatchBranch(&target) {
			continue
		}

		first, ok := byTarget[target]
		if !ok {
			byTarget[target] = s
			continue
		}

		first.SetLabels(first.Labels().Union(s.Labels()))
		s.Detach()
	}

	sections = append(sections[:0], sw.Children()[1:]...)
	if len(sections) == 0 {
		return errors.Wrap(errs.InvariantViolation, "switch with no sections")
	}

	// the default section carries an unbounded label set
	defIdx := -1
	union := il.LabelSet{}

	for i, s := range sections {
		if s.Labels().Unbounded() {
			if defIdx >= 0 {
				return errors.Wrap(errs.InvariantViolation, "switch with two default sections")
			}

			defIdx = i
			continue
		}

		if !union.DisjointWith(s.Labels()) {
			return errors.Wrap(errs.InvariantViolation, "switch sections overlap")
		}

		union = union.Union(s.Labels())
	}

	if defIdx < 0 {
		return errors.Wrap(errs.InvariantViolation, "switch without a default section")
	}

	def := sections[defIdx]

	// the default owns exactly the complement
	def.SetLabels(union.Invert())

	// hoist default last
	if defIdx != len(sections)-1 {
		def.Detach()
		sw.AddChild(def)
	}

	return nil
}
