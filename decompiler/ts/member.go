package ts

import (
	"strings"

	"github.com/unbolt/unbolt/decompiler/meta"
)

type (
	// TypeParameterSubstitution composes the class-level and method-level
	// bindings used when resolving members of generic instances.
	TypeParameterSubstitution struct {
		Class  []Type
		Method []Type
	}

	Parameter struct {
		Name string
		Type Type
	}

	Method struct {
		MethodName    string
		DeclaringType Type
		ReturnType    Type
		Parameters    []Parameter

		TypeArguments []Type
		GenericArity  int

		IsStatic bool
		IsVarArg bool

		// Fake marks a synthesized method for an unknown member; the
		// signature is the one the call site requested.
		Fake bool

		Handle meta.Handle
	}

	Field struct {
		FieldName     string
		DeclaringType Type
		Type          Type

		IsStatic bool
		Handle   meta.Handle
	}

	Property struct {
		PropertyName  string
		DeclaringType Type
		Getter        *Method
		Setter        *Method
	}

	Event struct {
		EventName     string
		DeclaringType Type
		AddOn         *Method
		RemoveOn      *Method
	}

	AttrArgument struct {
		// Value is a string, int64, bool, or Type.
		Value any
	}

	NamedAttrArgument struct {
		Name    string
		IsField bool
		Arg     AttrArgument
	}

	Attribute struct {
		AttributeType Type
		Constructor   *Method
		Fixed         []AttrArgument
		Named         []NamedAttrArgument
	}

	Assembly struct {
		Name string

		attrs []Attribute
	}
)

// Compose builds the substitution equivalent to applying inner first,
// then s.
func (s *TypeParameterSubstitution) Compose(inner *TypeParameterSubstitution) *TypeParameterSubstitution {
	if inner == nil {
		return s
	}

	if s == nil {
		return inner
	}

	out := &TypeParameterSubstitution{
		Class:  make([]Type, len(inner.Class)),
		Method: make([]Type, len(inner.Method)),
	}

	for i, t := range inner.Class {
		if t != nil {
			out.Class[i] = t.AcceptSubstitution(s)
		}
	}

	for i, t := range inner.Method {
		if t != nil {
			out.Method[i] = t.AcceptSubstitution(s)
		}
	}

	return out
}

func (m *Method) Name() string { return m.MethodName }

func (m *Method) Substitute(sub *TypeParameterSubstitution) *Method {
	if sub == nil {
		return m
	}

	out := *m

	out.ReturnType = m.ReturnType.AcceptSubstitution(sub)
	out.Parameters = make([]Parameter, len(m.Parameters))

	for i, p := range m.Parameters {
		out.Parameters[i] = Parameter{Name: p.Name, Type: p.Type.AcceptSubstitution(sub)}
	}

	if m.DeclaringType != nil {
		out.DeclaringType = m.DeclaringType.AcceptSubstitution(sub)
	}

	if m.TypeArguments != nil {
		out.TypeArguments = make([]Type, len(m.TypeArguments))

		for i, a := range m.TypeArguments {
			out.TypeArguments[i] = a.AcceptSubstitution(sub)
		}
	}

	return &out
}

// VarArgInstance wraps a vararg method with the call site's extra
// parameter types appended.
func (m *Method) VarArgInstance(extra []Type) *Method {
	out := *m

	out.Parameters = append([]Parameter(nil), m.Parameters...)

	for _, t := range extra {
		out.Parameters = append(out.Parameters, Parameter{Type: t})
	}

	out.IsVarArg = true

	return &out
}

// SignatureEquals compares name, arity, parameter types and return type
// modulo type-parameter normalization (parameters keyed by owner and
// position compare equal regardless of declaring member).
func (m *Method) SignatureEquals(o *Method) bool {
	if m.MethodName != o.MethodName || m.GenericArity != o.GenericArity {
		return false
	}

	if len(m.Parameters) != len(o.Parameters) {
		return false
	}

	if !m.ReturnType.Equals(o.ReturnType) {
		return false
	}

	for i := range m.Parameters {
		if !m.Parameters[i].Type.Equals(o.Parameters[i].Type) {
			return false
		}
	}

	return true
}

func (m *Method) FullName() string {
	if m.DeclaringType == nil {
		return m.MethodName
	}

	return typeFullName(m.DeclaringType) + "." + m.MethodName
}

func (f *Field) Name() string { return f.FieldName }

// Equals is structural: declaring type plus name. Reference identity is
// not required, so fields survive metadata reloading.
func (f *Field) Equals(o *Field) bool {
	if f == o {
		return true
	}

	if f == nil || o == nil || f.FieldName != o.FieldName {
		return false
	}

	return f.DeclaringType.Equals(o.DeclaringType)
}

func (f *Field) FullName() string {
	if f.DeclaringType == nil {
		return f.FieldName
	}

	return typeFullName(f.DeclaringType) + "." + f.FieldName
}

func (a *Assembly) Attributes() []Attribute { return a.attrs }

// InternalsVisibleTo reports whether this assembly grants internal
// access to other via the InternalsVisibleTo attribute list.
func (a *Assembly) InternalsVisibleTo(other *Assembly) bool {
	if a == other {
		return true
	}

	for _, attr := range a.attrs {
		if attr.AttributeType.Name() != "InternalsVisibleToAttribute" {
			continue
		}

		if len(attr.Fixed) == 0 {
			continue
		}

		s, ok := attr.Fixed[0].Value.(string)
		if !ok {
			continue
		}

		// the argument may carry ", PublicKey=..." after the name
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}

		if s == other.Name {
			return true
		}
	}

	return false
}

func typeFullName(t Type) string {
	switch t := t.(type) {
	case *TypeDefinition:
		return t.FullName()
	case *ParameterizedType:
		return t.Def.FullName()
	default:
		if t.Namespace() == "" {
			return t.Name()
		}

		return t.Namespace() + "." + t.Name()
	}
}
