package il

import (
	"fmt"

	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	VariableKind uint8

	// Variable is a named slot. The use counters always equal the
	// number of connected instructions referencing it; the mutation API
	// keeps them in sync.
	Variable struct {
		Kind  VariableKind
		Type  ts.Type
		Index int

		VarName string

		LoadCount    int
		StoreCount   int
		AddressCount int

		// HasInitialValue marks parameters and locals the runtime
		// zero-initializes.
		HasInitialValue bool
	}

	// Function is a method body under decompilation: parameters,
	// locals, and the root block container.
	Function struct {
		Method *ts.Method

		Parameters []*Variable
		Variables  []*Variable

		// State-machine markers set by the iterator/async detection
		// passes; the surface translator uses them to pick the member
		// shape.
		IsIterator bool
		IsAsync    bool

		StateMachineType ts.Type

		body *Instruction
	}
)

const (
	KindParameter VariableKind = iota
	KindLocal
	KindStackSlot
	KindException
)

func (k VariableKind) String() string {
	switch k {
	case KindParameter:
		return "param"
	case KindLocal:
		return "local"
	case KindStackSlot:
		return "stack"
	case KindException:
		return "exception"
	}

	return "var?"
}

func (v *Variable) Name() string { return v.VarName }

// IsSingleDefinition reports a variable stored exactly once, safe to
// inline or eliminate.
func (v *Variable) IsSingleDefinition() bool { return v.StoreCount == 1 }

func (v *Variable) String() string {
	return fmt.Sprintf("%s %s(ld:%d st:%d adr:%d)", v.Kind, v.VarName, v.LoadCount, v.StoreCount, v.AddressCount)
}

func NewFunction(m *ts.Method) *Function {
	f := &Function{Method: m}

	if m == nil {
		return f
	}

	for i, p := range m.Parameters {
		v := &Variable{
			Kind:            KindParameter,
			Type:            p.Type,
			Index:           i,
			VarName:         p.Name,
			HasInitialValue: true,
		}

		if v.VarName == "" {
			v.VarName = fmt.Sprintf("P_%d", i)
		}

		f.Parameters = append(f.Parameters, v)
		f.Variables = append(f.Variables, v)
	}

	return f
}

// NewVariable registers a fresh variable; the name is synthesized when
// none is known.
func (f *Function) NewVariable(kind VariableKind, typ ts.Type) *Variable {
	v := &Variable{Kind: kind, Type: typ, Index: len(f.Variables)}

	switch kind {
	case KindStackSlot:
		v.VarName = fmt.Sprintf("S_%d", v.Index)
	case KindException:
		v.VarName = fmt.Sprintf("E_%d", v.Index)
	default:
		v.VarName = fmt.Sprintf("V_%d", v.Index)
	}

	f.Variables = append(f.Variables, v)

	return v
}

func (f *Function) Body() *Instruction { return f.body }

// SetBody installs the root container; the tree below it is connected,
// which activates use counting.
func (f *Function) SetBody(b *Instruction) {
	invariant(b == nil || b.parent == nil, "function body must be a root")

	if f.body != nil {
		f.body.setConnected(false)
	}

	f.body = b

	if b != nil {
		b.setConnected(true)
	}
}

// RemoveDeadVariables drops unreferenced non-parameter variables from
// the registry and renumbers the rest.
func (f *Function) RemoveDeadVariables() {
	keep := f.Variables[:0]

	for _, v := range f.Variables {
		if v.Kind != KindParameter && v.LoadCount == 0 && v.StoreCount == 0 && v.AddressCount == 0 {
			continue
		}

		keep = append(keep, v)
	}

	f.Variables = keep

	for i, v := range f.Variables {
		v.Index = i
	}
}
