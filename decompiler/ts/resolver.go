package ts

import (
	"fmt"
	"sync"
	"sync/atomic"

	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/meta"
)

type (
	// GenericContext carries the class and method type arguments a
	// handle is resolved under. Passing it explicitly (instead of
	// threading it through resolver state) is what keeps member-ref
	// resolution correct.
	GenericContext struct {
		Class  []Type
		Method []Type
	}

	ResolveOptions struct {
		// ExpandVarArgs wraps vararg call-site signatures into a
		// VarArgInstance carrying the extra parameter types.
		ExpandVarArgs bool
	}

	// TypeSystem resolves metadata handles to type-system entities.
	//
	// All resolution is idempotent: the first computed entity for a
	// handle wins and every later call returns it. The fast path is a
	// lock-free map read.
	TypeSystem struct {
		reader meta.Reader

		asm       atomic.Pointer[Assembly]
		attrsOnce sync.Once

		typeDefs  sync.Map // meta.Handle -> *TypeDefinition
		typeRefs  sync.Map // meta.Handle -> Type
		methods   sync.Map // meta.Handle -> *Method
		fields    sync.Map // meta.Handle -> *Field
		externals sync.Map // extKey -> *TypeDefinition

		nameIndex atomic.Pointer[map[nameKey]*TypeDefinition]
	}

	extKey struct {
		ns    string
		name  string
		arity int
		encl  *TypeDefinition
	}

	nameKey struct {
		full  string
		arity int
	}

	sigProvider struct {
		ts   *TypeSystem
		gctx GenericContext
	}
)

func New(r meta.Reader) *TypeSystem {
	return &TypeSystem{reader: r}
}

func (ts *TypeSystem) Reader() meta.Reader { return ts.reader }

// Assembly returns the view of the module's own assembly, with its
// attribute list decoded.
func (ts *TypeSystem) Assembly() *Assembly {
	a := ts.assemblyCore()

	// attribute decoding resolves types, which need the assembly core
	// already published; decode once, after publication
	ts.attrsOnce.Do(func() {
		a.attrs = ts.decodeAttributes(ts.reader.AssemblyAttributes())
	})

	return a
}

func (ts *TypeSystem) assemblyCore() *Assembly {
	if a := ts.asm.Load(); a != nil {
		return a
	}

	a := &Assembly{Name: ts.reader.Assembly().Name}

	if !ts.asm.CompareAndSwap(nil, a) {
		return ts.asm.Load()
	}

	return a
}

// ResolveType resolves a TypeDef or TypeRef handle.
func (ts *TypeSystem) ResolveType(h meta.Handle, gctx GenericContext) (Type, error) {
	switch h.Table {
	case meta.TableTypeDef:
		return ts.typeDefinition(h), nil
	case meta.TableTypeRef:
		return ts.typeReference(h), nil
	case meta.TableNil:
		return nil, errors.Wrap(errs.MalformedMetadata, "nil type handle")
	default:
		return nil, errors.Wrap(errs.MalformedMetadata, "unexpected type handle table %d", h.Table)
	}
}

// ResolveTypeSig decodes a type signature under the given context.
func (ts *TypeSystem) ResolveTypeSig(sig meta.Sig, gctx GenericContext) (Type, error) {
	v, err := ts.reader.DecodeSignature(sig, &sigProvider{ts: ts, gctx: gctx})
	if err != nil {
		return nil, err
	}

	return v.(Type), nil
}

func (ts *TypeSystem) typeDefinition(h meta.Handle) *TypeDefinition {
	if v, ok := ts.typeDefs.Load(h); ok {
		return v.(*TypeDefinition)
	}

	row := ts.reader.TypeDef(h)

	d := &TypeDefinition{
		Asm:           ts.assemblyCore(),
		NamespaceName: row.Namespace,
		ShortName:     row.Name,
		Arity:         row.Arity,
		Handle:        h,
		IsValueType:   row.IsValueType,
		IsReadOnly:    row.IsReadOnly,
	}

	if !row.Enclosing.IsNil() {
		d.Enclosing = ts.typeDefinition(row.Enclosing)
	}

	v, _ := ts.typeDefs.LoadOrStore(h, d)

	return v.(*TypeDefinition)
}

func (ts *TypeSystem) typeReference(h meta.Handle) Type {
	if v, ok := ts.typeRefs.Load(h); ok {
		return v.(Type)
	}

	row := ts.reader.TypeRef(h)

	var encl *TypeDefinition

	if !row.Enclosing.IsNil() {
		if e, ok := ts.typeReference(row.Enclosing).(*TypeDefinition); ok {
			encl = e
		}
	}

	var t Type

	if d := ts.lookupLocal(row.Namespace, row.Name, row.Arity, encl); d != nil {
		t = d
	} else {
		t = ts.external(row.Namespace, row.Name, row.Arity, encl)
	}

	v, _ := ts.typeRefs.LoadOrStore(h, t)

	return v.(Type)
}

func (ts *TypeSystem) lookupLocal(ns, name string, arity int, encl *TypeDefinition) *TypeDefinition {
	idx := ts.nameIndex.Load()

	if idx == nil {
		m := map[nameKey]*TypeDefinition{}

		for _, h := range ts.reader.TypeDefs() {
			d := ts.typeDefinition(h)
			m[nameKey{full: d.FullName(), arity: d.Arity}] = d
		}

		if !ts.nameIndex.CompareAndSwap(nil, &m) {
			idx = ts.nameIndex.Load()
		} else {
			idx = &m
		}
	}

	full := name

	if encl != nil {
		full = encl.FullName() + "." + name
	} else if ns != "" {
		full = ns + "." + name
	}

	return (*idx)[nameKey{full: full, arity: arity}]
}

// external returns the memoized placeholder definition for a type that
// lives in another assembly.
func (ts *TypeSystem) external(ns, name string, arity int, encl *TypeDefinition) *TypeDefinition {
	k := extKey{ns: ns, name: name, arity: arity, encl: encl}

	if v, ok := ts.externals.Load(k); ok {
		return v.(*TypeDefinition)
	}

	d := &TypeDefinition{
		NamespaceName: ns,
		ShortName:     name,
		Arity:         arity,
		Enclosing:     encl,
		External:      true,
	}

	v, _ := ts.externals.LoadOrStore(k, d)

	return v.(*TypeDefinition)
}

// WellKnown returns the (possibly external) definition for a namespace
// qualified name, used for System.* vocabulary.
func (ts *TypeSystem) WellKnown(ns, name string, arity int) *TypeDefinition {
	if d := ts.lookupLocal(ns, name, arity, nil); d != nil {
		return d
	}

	return ts.external(ns, name, arity, nil)
}

func (ts *TypeSystem) primitive(code meta.PrimitiveCode) Type {
	name, ok := primitiveNames[code]
	if !ok {
		return &UnknownType{NameHint: fmt.Sprintf("primitive-%d", code)}
	}

	return ts.WellKnown("System", name, 0)
}

var primitiveNames = map[meta.PrimitiveCode]string{
	meta.PrimVoid:    "Void",
	meta.PrimBool:    "Boolean",
	meta.PrimChar:    "Char",
	meta.PrimI1:      "SByte",
	meta.PrimU1:      "Byte",
	meta.PrimI2:      "Int16",
	meta.PrimU2:      "UInt16",
	meta.PrimI4:      "Int32",
	meta.PrimU4:      "UInt32",
	meta.PrimI8:      "Int64",
	meta.PrimU8:      "UInt64",
	meta.PrimR4:      "Single",
	meta.PrimR8:      "Double",
	meta.PrimString:  "String",
	meta.PrimObject:  "Object",
	meta.PrimIntPtr:  "IntPtr",
	meta.PrimUIntPtr: "UIntPtr",
}

func (p *sigProvider) Primitive(code meta.PrimitiveCode) any {
	return p.ts.primitive(code)
}

func (p *sigProvider) TypeDefinition(h meta.Handle) any {
	return p.ts.typeDefinition(h)
}

func (p *sigProvider) TypeReference(h meta.Handle) any {
	return p.ts.typeReference(h)
}

func (p *sigProvider) Pointer(elem any) any {
	return &PointerType{Elem: elem.(Type)}
}

func (p *sigProvider) ByReference(elem any) any {
	return &ByReferenceType{Elem: elem.(Type)}
}

func (p *sigProvider) Array(elem any, rank int) any {
	return &ArrayType{Elem: elem.(Type), Rank: rank}
}

func (p *sigProvider) Instantiate(def any, args []any) any {
	d, ok := def.(*TypeDefinition)
	if !ok {
		return &UnknownType{NameHint: "instantiation of non-definition"}
	}

	targs := make([]Type, len(args))

	for i, a := range args {
		targs[i] = a.(Type)
	}

	return &ParameterizedType{Def: d, Args: targs}
}

func (p *sigProvider) GenericClassParam(index int) any {
	if p.gctx.Class != nil {
		if index < len(p.gctx.Class) && p.gctx.Class[index] != nil {
			return p.gctx.Class[index]
		}

		return UnboundTypeArgument{}
	}

	return &TypeParameter{Owner: OwnerClass, Index: index}
}

func (p *sigProvider) GenericMethodParam(index int) any {
	if p.gctx.Method != nil {
		if index < len(p.gctx.Method) && p.gctx.Method[index] != nil {
			return p.gctx.Method[index]
		}

		return UnboundTypeArgument{}
	}

	return &TypeParameter{Owner: OwnerMethod, Index: index}
}

func (p *sigProvider) Malformed(kind byte) error {
	return errors.Wrap(errs.MalformedMetadata, "unknown signature element kind 0x%02x", kind)
}
