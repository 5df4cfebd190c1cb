package ts

import (
	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/meta"
)

// ResolveMethod resolves a MethodDef, MemberRef or MethodSpec handle.
//
// Member references on a parameterized declaring type are matched
// against the definition's methods by comparing signatures modulo
// type-parameter normalization. An unknown member yields a synthesized
// fake method with the requested signature, never an error.
func (ts *TypeSystem) ResolveMethod(h meta.Handle, gctx GenericContext, opts ResolveOptions) (*Method, error) {
	switch h.Table {
	case meta.TableMethodDef:
		return ts.methodDefinition(h)
	case meta.TableMemberRef:
		return ts.memberRefMethod(h, gctx, opts)
	case meta.TableMethodSpec:
		return ts.methodSpec(h, gctx, opts)
	default:
		return nil, errors.Wrap(errs.MalformedMetadata, "unexpected method handle table %d", h.Table)
	}
}

func (ts *TypeSystem) methodDefinition(h meta.Handle) (*Method, error) {
	if v, ok := ts.methods.Load(h); ok {
		return v.(*Method), nil
	}

	row := ts.reader.MethodDef(h)

	var decl Type

	if !row.Owner.IsNil() {
		decl = ts.typeDefinition(row.Owner)
	}

	m, err := ts.buildMethod(row.Name, decl, row.Signature, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "method %v", row.Name)
	}

	m.IsStatic = row.IsStatic
	m.Handle = h

	v, _ := ts.methods.LoadOrStore(h, m)

	return v.(*Method), nil
}

func (ts *TypeSystem) buildMethod(name string, decl Type, sig meta.MethodSig, gctx GenericContext) (*Method, error) {
	ret, err := ts.ResolveTypeSig(sig.Return, gctx)
	if err != nil {
		return nil, errors.Wrap(err, "return type")
	}

	params := make([]Parameter, len(sig.Params))

	for i, p := range sig.Params {
		params[i].Type, err = ts.ResolveTypeSig(p, gctx)
		if err != nil {
			return nil, errors.Wrap(err, "parameter %d", i)
		}
	}

	return &Method{
		MethodName:    name,
		DeclaringType: decl,
		ReturnType:    ret,
		Parameters:    params,
		GenericArity:  sig.GenericArity,
		IsStatic:      !sig.HasThis,
		IsVarArg:      sig.VarArgs,
	}, nil
}

func (ts *TypeSystem) memberRefMethod(h meta.Handle, gctx GenericContext, opts ResolveOptions) (*Method, error) {
	row := ts.reader.MemberRef(h)

	decl, err := ts.ResolveTypeSig(row.Parent, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "member ref parent")
	}

	// the requested signature, type parameters kept as positional
	// placeholders so comparison is normalization-insensitive
	want, err := ts.buildMethod(row.Name, decl, row.Signature, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "member ref %v", row.Name)
	}

	def, classArgs := declaringDefinition(decl)

	if def != nil && !def.External {
		if found, err := ts.findOverload(def, want); err != nil {
			return nil, err
		} else if found != nil {
			m := found

			if classArgs != nil {
				m = m.Substitute(&TypeParameterSubstitution{Class: classArgs})
				m.DeclaringType = decl
			}

			return ts.expandVarArgs(m, row.Signature, opts)
		}
	}

	// unknown member: synthesize, do not fail
	fake := want

	if classArgs != nil {
		fake = fake.Substitute(&TypeParameterSubstitution{Class: classArgs})
		fake.DeclaringType = decl
	}

	fake.Fake = true

	return ts.expandVarArgs(fake, row.Signature, opts)
}

func (ts *TypeSystem) findOverload(def *TypeDefinition, want *Method) (*Method, error) {
	for _, mh := range ts.reader.TypeDef(def.Handle).Methods {
		cand, err := ts.methodDefinition(mh)
		if err != nil {
			return nil, err
		}

		if cand.SignatureEquals(want) {
			return cand, nil
		}
	}

	return nil, nil
}

func (ts *TypeSystem) expandVarArgs(m *Method, sig meta.MethodSig, opts ResolveOptions) (*Method, error) {
	if !sig.VarArgs || !opts.ExpandVarArgs || len(sig.ExtraParams) == 0 {
		return m, nil
	}

	extra := make([]Type, len(sig.ExtraParams))

	for i, p := range sig.ExtraParams {
		t, err := ts.ResolveTypeSig(p, GenericContext{})
		if err != nil {
			return nil, errors.Wrap(err, "vararg parameter %d", i)
		}

		extra[i] = t
	}

	return m.VarArgInstance(extra), nil
}

func (ts *TypeSystem) methodSpec(h meta.Handle, gctx GenericContext, opts ResolveOptions) (*Method, error) {
	row := ts.reader.MethodSpec(h)

	m, err := ts.ResolveMethod(row.Method, gctx, opts)
	if err != nil {
		return nil, err
	}

	args := make([]Type, len(row.Args))

	for i, a := range row.Args {
		args[i], err = ts.ResolveTypeSig(a, gctx)
		if err != nil {
			return nil, errors.Wrap(err, "method spec argument %d", i)
		}
	}

	inst := m.Substitute(&TypeParameterSubstitution{Method: args})
	inst.TypeArguments = args
	inst.Handle = m.Handle

	return inst, nil
}

// ResolveField resolves a Field or MemberRef handle.
func (ts *TypeSystem) ResolveField(h meta.Handle, gctx GenericContext) (*Field, error) {
	switch h.Table {
	case meta.TableField:
		return ts.fieldDefinition(h)
	case meta.TableMemberRef:
		return ts.memberRefField(h, gctx)
	default:
		return nil, errors.Wrap(errs.MalformedMetadata, "unexpected field handle table %d", h.Table)
	}
}

func (ts *TypeSystem) fieldDefinition(h meta.Handle) (*Field, error) {
	if v, ok := ts.fields.Load(h); ok {
		return v.(*Field), nil
	}

	row := ts.reader.Field(h)

	typ, err := ts.ResolveTypeSig(row.Signature, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "field %v", row.Name)
	}

	f := &Field{
		FieldName: row.Name,
		Type:      typ,
		IsStatic:  row.IsStatic,
		Handle:    h,
	}

	if !row.Owner.IsNil() {
		f.DeclaringType = ts.typeDefinition(row.Owner)
	}

	v, _ := ts.fields.LoadOrStore(h, f)

	return v.(*Field), nil
}

func (ts *TypeSystem) memberRefField(h meta.Handle, gctx GenericContext) (*Field, error) {
	row := ts.reader.MemberRef(h)

	decl, err := ts.ResolveTypeSig(row.Parent, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "member ref parent")
	}

	typ, err := ts.ResolveTypeSig(row.FieldSig, GenericContext{})
	if err != nil {
		return nil, errors.Wrap(err, "field ref %v", row.Name)
	}

	def, classArgs := declaringDefinition(decl)

	if def != nil && !def.External {
		for _, fh := range ts.reader.TypeDef(def.Handle).Fields {
			cand, err := ts.fieldDefinition(fh)
			if err != nil {
				return nil, err
			}

			if cand.FieldName != row.Name {
				continue
			}

			f := *cand

			if classArgs != nil {
				sub := &TypeParameterSubstitution{Class: classArgs}
				f.Type = f.Type.AcceptSubstitution(sub)
				f.DeclaringType = decl
			}

			return &f, nil
		}
	}

	return &Field{FieldName: row.Name, DeclaringType: decl, Type: typ, Handle: h}, nil
}

// ResolveProperty resolves a Property handle.
func (ts *TypeSystem) ResolveProperty(h meta.Handle) (*Property, error) {
	row := ts.reader.Property(h)

	p := &Property{PropertyName: row.Name}

	if !row.Owner.IsNil() {
		p.DeclaringType = ts.typeDefinition(row.Owner)
	}

	var err error

	if !row.Getter.IsNil() {
		p.Getter, err = ts.methodDefinition(row.Getter)
		if err != nil {
			return nil, errors.Wrap(err, "getter")
		}
	}

	if !row.Setter.IsNil() {
		p.Setter, err = ts.methodDefinition(row.Setter)
		if err != nil {
			return nil, errors.Wrap(err, "setter")
		}
	}

	return p, nil
}

// ResolveEvent resolves an Event handle.
func (ts *TypeSystem) ResolveEvent(h meta.Handle) (*Event, error) {
	row := ts.reader.Event(h)

	e := &Event{EventName: row.Name}

	if !row.Owner.IsNil() {
		e.DeclaringType = ts.typeDefinition(row.Owner)
	}

	var err error

	if !row.AddOn.IsNil() {
		e.AddOn, err = ts.methodDefinition(row.AddOn)
		if err != nil {
			return nil, errors.Wrap(err, "add accessor")
		}
	}

	if !row.RemoveOn.IsNil() {
		e.RemoveOn, err = ts.methodDefinition(row.RemoveOn)
		if err != nil {
			return nil, errors.Wrap(err, "remove accessor")
		}
	}

	return e, nil
}

// Attributes decodes the custom attributes attached to a handle.
func (ts *TypeSystem) Attributes(parent meta.Handle) []Attribute {
	return ts.decodeAttributes(ts.reader.Attributes(parent))
}

func (ts *TypeSystem) decodeAttributes(rows []meta.AttributeRow) []Attribute {
	if len(rows) == 0 {
		return nil
	}

	out := make([]Attribute, 0, len(rows))

	for _, row := range rows {
		a := Attribute{}

		if ctor, err := ts.ResolveMethod(row.Constructor, GenericContext{}, ResolveOptions{}); err == nil {
			a.Constructor = ctor
			a.AttributeType = ctor.DeclaringType
		}

		for _, v := range row.Fixed {
			a.Fixed = append(a.Fixed, AttrArgument{Value: ts.attrValue(v)})
		}

		for _, n := range row.Named {
			a.Named = append(a.Named, NamedAttrArgument{
				Name:    n.Name,
				IsField: n.IsField,
				Arg:     AttrArgument{Value: ts.attrValue(n.Value)},
			})
		}

		out = append(out, a)
	}

	return out
}

func (ts *TypeSystem) attrValue(v meta.AttrValue) any {
	switch v.Kind {
	case meta.KindString:
		return v.Str
	case meta.KindInt:
		return v.I64
	case meta.KindBool:
		return v.B
	case meta.KindType:
		t, err := ts.FindType(v.TypeName)
		if err != nil {
			return &UnknownType{NameHint: v.TypeName}
		}

		return t
	default:
		return nil
	}
}

func declaringDefinition(t Type) (def *TypeDefinition, classArgs []Type) {
	switch t := t.(type) {
	case *TypeDefinition:
		return t, nil
	case *ParameterizedType:
		return t.Def, t.Args
	default:
		return nil, nil
	}
}
