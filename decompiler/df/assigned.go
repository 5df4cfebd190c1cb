package df

import (
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/set"
)

type (
	// DefiniteAssignment tracks the set of definitely assigned
	// variables: join is intersection, meet is union, unreachable is
	// bottom. The lattice height is the variable count, so the
	// fixpoint converges.
	DefiniteAssignment struct {
		unreachable bool
		assigned    set.Bitmap
	}

	definiteAssignmentTransfer struct{}
)

func NewDefiniteAssignment(fn *il.Function) *DefiniteAssignment {
	s := &DefiniteAssignment{assigned: set.MakeBitmap(len(fn.Variables))}

	for _, p := range fn.Parameters {
		s.assigned.Set(p.Index)
	}

	return s
}

func (s *DefiniteAssignment) IsAssigned(v *il.Variable) bool {
	return !s.unreachable && s.assigned.IsSet(v.Index)
}

func (s *DefiniteAssignment) LessOrEqual(o *DefiniteAssignment) bool {
	if s.unreachable {
		return true
	}

	if o.unreachable {
		return false
	}

	return o.assigned.IsSubsetOf(&s.assigned)
}

func (s *DefiniteAssignment) Clone() *DefiniteAssignment {
	return &DefiniteAssignment{
		unreachable: s.unreachable,
		assigned:    s.assigned.Copy(),
	}
}

func (s *DefiniteAssignment) ReplaceWith(o *DefiniteAssignment) {
	s.unreachable = o.unreachable
	s.assigned = o.assigned.Copy()
}

func (s *DefiniteAssignment) IsUnreachable() bool { return s.unreachable }

func (s *DefiniteAssignment) MarkUnreachable() { s.unreachable = true }

func (s *DefiniteAssignment) JoinWith(o *DefiniteAssignment) {
	if o.unreachable {
		return
	}

	if s.unreachable {
		s.ReplaceWith(o)
		return
	}

	s.assigned.And(o.assigned)
}

func (s *DefiniteAssignment) MeetWith(o *DefiniteAssignment) {
	if s.unreachable {
		return
	}

	if o.unreachable {
		s.MarkUnreachable()
		return
	}

	s.assigned.Or(o.assigned)
}

func (definiteAssignmentTransfer) Apply(i *il.Instruction, s *DefiniteAssignment) {
	if s.unreachable {
		return
	}

	if i.Op() == il.OpStLoc {
		s.assigned.Set(i.Variable().Index)
	}
}

// NewDefiniteAssignmentAnalysis builds the ready-to-run analysis for a
// function, parameters pre-assigned.
func NewDefiniteAssignmentAnalysis(fn *il.Function) *Analysis[*DefiniteAssignment] {
	return NewAnalysis[*DefiniteAssignment](definiteAssignmentTransfer{}, NewDefiniteAssignment(fn))
}
