// Package meta is the boundary contract with the metadata reader.
//
// The core never parses PE images or metadata streams itself: an external
// reader exposes handle enumerations, per-handle rows, method bodies and
// decoded signatures. Signatures are delivered through a provider callback
// supplied by the core, so the reader drives parsing while the core builds
// its own type vocabulary. The shape mirrors ECMA-335 §II.23-II.25.
package meta

type (
	Table uint8

	// Handle identifies a metadata row. The zero Handle is nil.
	Handle struct {
		Table Table
		Row   int
	}

	AssemblyRow struct {
		Name    string
		Version string
	}

	TypeDefRow struct {
		Namespace string
		Name      string

		Arity     int // number of generic parameters
		Enclosing Handle

		BaseType Handle

		Fields  []Handle
		Methods []Handle

		IsValueType bool
		IsReadOnly  bool
	}

	TypeRefRow struct {
		Namespace string
		Name      string
		Arity     int

		Assembly  string
		Enclosing Handle
	}

	MethodDefRow struct {
		Name      string
		Owner     Handle
		Signature MethodSig

		IsStatic bool
	}

	// MemberRefRow is a reference to a method or field of a possibly
	// parameterized declaring type.
	MemberRefRow struct {
		Name      string
		Parent    Sig // declaring type signature
		Signature MethodSig
		FieldSig  Sig // set instead of Signature for field refs
	}

	MethodSpecRow struct {
		Method Handle // MethodDef or MemberRef
		Args   []Sig  // generic instantiation
	}

	FieldRow struct {
		Name      string
		Owner     Handle
		Signature Sig

		IsStatic bool
	}

	PropertyRow struct {
		Name   string
		Owner  Handle
		Getter Handle
		Setter Handle
	}

	EventRow struct {
		Name     string
		Owner    Handle
		AddOn    Handle
		RemoveOn Handle
	}

	MethodSig struct {
		HasThis      bool
		VarArgs      bool
		GenericArity int

		Return Sig
		Params []Sig

		// Params after the vararg sentinel of a call-site signature.
		ExtraParams []Sig
	}

	AttrValueKind uint8

	AttrValue struct {
		Kind AttrValueKind

		Str string
		I64 int64
		B   bool

		// TypeName holds a reflection name for KindType arguments.
		TypeName string
	}

	NamedArg struct {
		Name    string
		IsField bool
		Value   AttrValue
	}

	AttributeRow struct {
		Constructor Handle
		Fixed       []AttrValue
		Named       []NamedArg
	}

	RegionKind uint8

	ExceptionRegion struct {
		Kind RegionKind

		TryOffset     int
		TryLength     int
		HandlerOffset int
		HandlerLength int
		FilterOffset  int

		CatchType Handle
	}

	// Body is a method body: raw IL plus its exception-region table.
	Body struct {
		Code      []byte
		MaxStack  int
		LocalSigs []Sig
		Regions   []ExceptionRegion
	}

	SequencePoint struct {
		Offset int
		Line   int
		Column int
	}

	// DebugInfoProvider optionally supplies pdb-style information.
	// When absent the core synthesizes V_0, V_1, ... local names.
	DebugInfoProvider interface {
		// SequencePointCount returns 0 when the method has no points;
		// SequencePoints must then return an empty slice.
		SequencePointCount(method Handle) int
		SequencePoints(method Handle) []SequencePoint

		LocalName(method Handle, slot int) (string, bool)
	}

	// Reader is the metadata access contract the core builds on.
	Reader interface {
		Assembly() AssemblyRow
		AssemblyAttributes() []AttributeRow

		TypeDefs() []Handle
		TypeDef(h Handle) TypeDefRow
		TypeRef(h Handle) TypeRefRow
		MethodDef(h Handle) MethodDefRow
		MemberRef(h Handle) MemberRefRow
		MethodSpec(h Handle) MethodSpecRow
		Field(h Handle) FieldRow
		Property(h Handle) PropertyRow
		Event(h Handle) EventRow
		Properties(typeDef Handle) []Handle
		Events(typeDef Handle) []Handle

		Attributes(parent Handle) []AttributeRow

		Body(method Handle) (Body, bool)
		UserString(h Handle) string

		// DecodeSignature walks sig calling p; the reader owns the blob
		// format, the provider owns the resulting representation.
		DecodeSignature(sig Sig, p SignatureProvider) (any, error)
	}

	PrimitiveCode uint8

	// SignatureProvider is supplied by the core to DecodeSignature.
	SignatureProvider interface {
		Primitive(code PrimitiveCode) any
		TypeDefinition(h Handle) any
		TypeReference(h Handle) any
		Pointer(elem any) any
		ByReference(elem any) any
		Array(elem any, rank int) any
		Instantiate(def any, args []any) any
		GenericClassParam(index int) any
		GenericMethodParam(index int) any

		// Malformed reports an undecodable element kind.
		Malformed(kind byte) error
	}
)

const (
	TableNil Table = iota
	TableTypeDef
	TableTypeRef
	TableMethodDef
	TableMemberRef
	TableMethodSpec
	TableField
	TableProperty
	TableEvent
	TableUserString
)

const (
	RegionCatch RegionKind = iota
	RegionFilter
	RegionFinally
	RegionFault
)

const (
	KindString AttrValueKind = iota
	KindInt
	KindBool
	KindType
)

const (
	PrimVoid PrimitiveCode = iota
	PrimBool
	PrimChar
	PrimI1
	PrimU1
	PrimI2
	PrimU2
	PrimI4
	PrimU4
	PrimI8
	PrimU8
	PrimR4
	PrimR8
	PrimString
	PrimObject
	PrimIntPtr
	PrimUIntPtr
)

func (h Handle) IsNil() bool { return h.Table == TableNil }
