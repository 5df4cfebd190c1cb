// Package ts is the resolved type-system view: an immutable, lazily
// materialized facade over metadata handles. Resolution is memoized and
// safe for concurrent readers; equality is structural for constructed
// types, and two definitions are equal when identical or when their
// namespace, name, arity and enclosing type match.
package ts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/unbolt/unbolt/decompiler/meta"
)

type (
	Type interface {
		Name() string
		Namespace() string

		// ReflectionName is the canonical textual form (see the
		// reflection-name grammar). Parsing it back yields an equal type.
		ReflectionName() string

		AcceptSubstitution(sub *TypeParameterSubstitution) Type
		Equals(other Type) bool
	}

	// TypeDefinition is an uninstantiated type declared in metadata (or
	// synthesized for an unresolved external reference).
	TypeDefinition struct {
		Asm *Assembly

		NamespaceName string
		ShortName     string
		Arity         int

		Enclosing *TypeDefinition

		Handle      meta.Handle
		IsValueType bool
		IsReadOnly  bool
		External    bool

		typeParams []*TypeParameter
	}

	// ParameterizedType is a generic instance: a definition plus bound
	// type arguments.
	ParameterizedType struct {
		Def  *TypeDefinition
		Args []Type
	}

	ArrayType struct {
		Elem Type
		Rank int
	}

	PointerType struct {
		Elem Type
	}

	ByReferenceType struct {
		Elem Type
	}

	TypeParameterOwner uint8

	TypeParameter struct {
		Owner     TypeParameterOwner
		Index     int
		ParamName string
	}

	// UnboundTypeArgument marks a generic parameter slot with no binding
	// in the current context.
	UnboundTypeArgument struct{}

	// UnknownType stands for a type the resolver could not identify.
	UnknownType struct {
		NameHint string
	}
)

const (
	OwnerClass TypeParameterOwner = iota
	OwnerMethod
)

func (d *TypeDefinition) Name() string      { return d.ShortName }
func (d *TypeDefinition) Namespace() string { return d.NamespaceName }

func (d *TypeDefinition) FullName() string {
	if d.Enclosing != nil {
		return d.Enclosing.FullName() + "." + d.ShortName
	}

	if d.NamespaceName == "" {
		return d.ShortName
	}

	return d.NamespaceName + "." + d.ShortName
}

func (d *TypeDefinition) ReflectionName() string {
	var b strings.Builder

	d.reflectionName(&b)

	return b.String()
}

func (d *TypeDefinition) reflectionName(b *strings.Builder) {
	if d.Enclosing != nil {
		d.Enclosing.reflectionName(b)
		b.WriteByte('+')
	} else if d.NamespaceName != "" {
		b.WriteString(d.NamespaceName)
		b.WriteByte('.')
	}

	b.WriteString(d.ShortName)

	if d.Arity != 0 {
		b.WriteByte('`')
		b.WriteString(strconv.Itoa(d.Arity))
	}
}

// TypeParameters returns the definition's own generic parameters.
func (d *TypeDefinition) TypeParameters() []*TypeParameter {
	if d.typeParams == nil && d.Arity > 0 {
		d.typeParams = make([]*TypeParameter, d.Arity)

		for i := range d.typeParams {
			d.typeParams[i] = &TypeParameter{Owner: OwnerClass, Index: i}
		}
	}

	return d.typeParams
}

func (d *TypeDefinition) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	return d
}

func (d *TypeDefinition) Equals(other Type) bool {
	o, ok := other.(*TypeDefinition)
	if !ok {
		return false
	}

	if d == o {
		return true
	}

	// distinct definitions (external placeholders included) compare
	// structurally: two loads of the same metadata must agree
	return d.Arity == o.Arity && d.ShortName == o.ShortName &&
		d.NamespaceName == o.NamespaceName &&
		(d.Enclosing == nil) == (o.Enclosing == nil) &&
		(d.Enclosing == nil || d.Enclosing.Equals(o.Enclosing))
}

func (p *ParameterizedType) Name() string      { return p.Def.Name() }
func (p *ParameterizedType) Namespace() string { return p.Def.Namespace() }

func (p *ParameterizedType) ReflectionName() string {
	var b strings.Builder

	b.WriteString(p.Def.ReflectionName())
	b.WriteString("[[")

	for i, a := range p.Args {
		if i != 0 {
			b.WriteString("],[")
		}

		b.WriteString(a.ReflectionName())
	}

	b.WriteString("]]")

	return b.String()
}

func (p *ParameterizedType) TypeArguments() []Type { return p.Args }

func (p *ParameterizedType) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	args := make([]Type, len(p.Args))

	for i, a := range p.Args {
		args[i] = a.AcceptSubstitution(sub)
	}

	return &ParameterizedType{Def: p.Def, Args: args}
}

func (p *ParameterizedType) Equals(other Type) bool {
	o, ok := other.(*ParameterizedType)
	if !ok || !p.Def.Equals(o.Def) || len(p.Args) != len(o.Args) {
		return false
	}

	for i, a := range p.Args {
		if !a.Equals(o.Args[i]) {
			return false
		}
	}

	return true
}

// IsNullable reports whether p instantiates System.Nullable`1.
func (p *ParameterizedType) IsNullable() bool {
	return p.Def.NamespaceName == "System" && p.Def.ShortName == "Nullable" && p.Def.Arity == 1
}

// IsTuple reports whether p instantiates System.ValueTuple`N.
func (p *ParameterizedType) IsTuple() bool {
	return p.Def.NamespaceName == "System" && p.Def.ShortName == "ValueTuple" && p.Def.Arity == len(p.Args)
}

func (a *ArrayType) Name() string      { return a.Elem.Name() + a.suffix() }
func (a *ArrayType) Namespace() string { return a.Elem.Namespace() }

func (a *ArrayType) suffix() string {
	return "[" + strings.Repeat(",", a.Rank-1) + "]"
}

func (a *ArrayType) ReflectionName() string {
	return a.Elem.ReflectionName() + a.suffix()
}

func (a *ArrayType) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	return &ArrayType{Elem: a.Elem.AcceptSubstitution(sub), Rank: a.Rank}
}

func (a *ArrayType) Equals(other Type) bool {
	o, ok := other.(*ArrayType)
	return ok && a.Rank == o.Rank && a.Elem.Equals(o.Elem)
}

func (p *PointerType) Name() string           { return p.Elem.Name() + "*" }
func (p *PointerType) Namespace() string      { return p.Elem.Namespace() }
func (p *PointerType) ReflectionName() string { return p.Elem.ReflectionName() + "*" }

func (p *PointerType) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	return &PointerType{Elem: p.Elem.AcceptSubstitution(sub)}
}

func (p *PointerType) Equals(other Type) bool {
	o, ok := other.(*PointerType)
	return ok && p.Elem.Equals(o.Elem)
}

func (r *ByReferenceType) Name() string           { return r.Elem.Name() + "&" }
func (r *ByReferenceType) Namespace() string      { return r.Elem.Namespace() }
func (r *ByReferenceType) ReflectionName() string { return r.Elem.ReflectionName() + "&" }

func (r *ByReferenceType) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	return &ByReferenceType{Elem: r.Elem.AcceptSubstitution(sub)}
}

func (r *ByReferenceType) Equals(other Type) bool {
	o, ok := other.(*ByReferenceType)
	return ok && r.Elem.Equals(o.Elem)
}

func (t *TypeParameter) Name() string {
	if t.ParamName != "" {
		return t.ParamName
	}

	return t.ReflectionName()
}

func (t *TypeParameter) Namespace() string { return "" }

func (t *TypeParameter) ReflectionName() string {
	if t.Owner == OwnerMethod {
		return "``" + strconv.Itoa(t.Index)
	}

	return "`" + strconv.Itoa(t.Index)
}

func (t *TypeParameter) AcceptSubstitution(sub *TypeParameterSubstitution) Type {
	if sub == nil {
		return t
	}

	if t.Owner == OwnerClass && t.Index < len(sub.Class) && sub.Class[t.Index] != nil {
		return sub.Class[t.Index]
	}

	if t.Owner == OwnerMethod && t.Index < len(sub.Method) && sub.Method[t.Index] != nil {
		return sub.Method[t.Index]
	}

	return t
}

// Equals compares owner kind and position only, so types already are
// equal modulo type-parameter normalization.
func (t *TypeParameter) Equals(other Type) bool {
	o, ok := other.(*TypeParameter)
	return ok && t.Owner == o.Owner && t.Index == o.Index
}

func (UnboundTypeArgument) Name() string           { return "?" }
func (UnboundTypeArgument) Namespace() string      { return "" }
func (UnboundTypeArgument) ReflectionName() string { return "?" }

func (u UnboundTypeArgument) AcceptSubstitution(sub *TypeParameterSubstitution) Type { return u }

func (UnboundTypeArgument) Equals(other Type) bool {
	_, ok := other.(UnboundTypeArgument)
	return ok
}

func (u *UnknownType) Name() string      { return u.NameHint }
func (u *UnknownType) Namespace() string { return "" }

func (u *UnknownType) ReflectionName() string {
	return fmt.Sprintf("<unknown %s>", u.NameHint)
}

func (u *UnknownType) AcceptSubstitution(sub *TypeParameterSubstitution) Type { return u }

func (u *UnknownType) Equals(other Type) bool {
	o, ok := other.(*UnknownType)
	return ok && u.NameHint == o.NameHint
}
