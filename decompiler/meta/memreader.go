package meta

import (
	"tlog.app/go/errors"
)

type (
	// MemoryReader is a Reader over literal tables. It backs the test
	// suite and the cli dump command; production embeds a PE reader
	// implementing the same interface.
	MemoryReader struct {
		Asm       AssemblyRow
		AsmAttrs  []AttributeRow
		TypeRows  []TypeDefRow
		RefRows   []TypeRefRow
		MethRows  []MethodDefRow
		MembRows  []MemberRefRow
		SpecRows  []MethodSpecRow
		FieldRows []FieldRow
		PropRows  []PropertyRow
		EventRows []EventRow

		typeProps  map[Handle][]Handle
		typeEvents map[Handle][]Handle

		Attrs   map[Handle][]AttributeRow
		Bodies  map[Handle]Body
		Strings []string
	}
)

func NewMemoryReader(name string) *MemoryReader {
	return &MemoryReader{
		Asm:        AssemblyRow{Name: name},
		Attrs:      map[Handle][]AttributeRow{},
		Bodies:     map[Handle]Body{},
		typeProps:  map[Handle][]Handle{},
		typeEvents: map[Handle][]Handle{},
	}
}

func (r *MemoryReader) AddProperty(row PropertyRow) Handle {
	r.PropRows = append(r.PropRows, row)

	h := Handle{Table: TableProperty, Row: len(r.PropRows)}
	r.typeProps[row.Owner] = append(r.typeProps[row.Owner], h)

	return h
}

func (r *MemoryReader) AddEvent(row EventRow) Handle {
	r.EventRows = append(r.EventRows, row)

	h := Handle{Table: TableEvent, Row: len(r.EventRows)}
	r.typeEvents[row.Owner] = append(r.typeEvents[row.Owner], h)

	return h
}

func (r *MemoryReader) AddTypeDef(row TypeDefRow) Handle {
	r.TypeRows = append(r.TypeRows, row)
	return Handle{Table: TableTypeDef, Row: len(r.TypeRows)}
}

func (r *MemoryReader) AddTypeRef(row TypeRefRow) Handle {
	r.RefRows = append(r.RefRows, row)
	return Handle{Table: TableTypeRef, Row: len(r.RefRows)}
}

func (r *MemoryReader) AddMethodDef(row MethodDefRow) Handle {
	r.MethRows = append(r.MethRows, row)

	h := Handle{Table: TableMethodDef, Row: len(r.MethRows)}

	if !row.Owner.IsNil() {
		t := &r.TypeRows[row.Owner.Row-1]
		t.Methods = append(t.Methods, h)
	}

	return h
}

func (r *MemoryReader) AddMemberRef(row MemberRefRow) Handle {
	r.MembRows = append(r.MembRows, row)
	return Handle{Table: TableMemberRef, Row: len(r.MembRows)}
}

func (r *MemoryReader) AddMethodSpec(row MethodSpecRow) Handle {
	r.SpecRows = append(r.SpecRows, row)
	return Handle{Table: TableMethodSpec, Row: len(r.SpecRows)}
}

func (r *MemoryReader) AddField(row FieldRow) Handle {
	r.FieldRows = append(r.FieldRows, row)

	h := Handle{Table: TableField, Row: len(r.FieldRows)}

	if !row.Owner.IsNil() {
		t := &r.TypeRows[row.Owner.Row-1]
		t.Fields = append(t.Fields, h)
	}

	return h
}

func (r *MemoryReader) AddString(s string) Handle {
	r.Strings = append(r.Strings, s)
	return Handle{Table: TableUserString, Row: len(r.Strings)}
}

func (r *MemoryReader) SetBody(method Handle, b Body) {
	r.Bodies[method] = b
}

func (r *MemoryReader) Assembly() AssemblyRow              { return r.Asm }
func (r *MemoryReader) AssemblyAttributes() []AttributeRow { return r.AsmAttrs }
func (r *MemoryReader) Attributes(h Handle) []AttributeRow { return r.Attrs[h] }
func (r *MemoryReader) TypeDef(h Handle) TypeDefRow        { return r.TypeRows[h.Row-1] }
func (r *MemoryReader) TypeRef(h Handle) TypeRefRow        { return r.RefRows[h.Row-1] }
func (r *MemoryReader) MethodDef(h Handle) MethodDefRow    { return r.MethRows[h.Row-1] }
func (r *MemoryReader) MemberRef(h Handle) MemberRefRow    { return r.MembRows[h.Row-1] }
func (r *MemoryReader) MethodSpec(h Handle) MethodSpecRow  { return r.SpecRows[h.Row-1] }
func (r *MemoryReader) Field(h Handle) FieldRow            { return r.FieldRows[h.Row-1] }
func (r *MemoryReader) Property(h Handle) PropertyRow      { return r.PropRows[h.Row-1] }
func (r *MemoryReader) Event(h Handle) EventRow            { return r.EventRows[h.Row-1] }
func (r *MemoryReader) Properties(typeDef Handle) []Handle { return r.typeProps[typeDef] }
func (r *MemoryReader) Events(typeDef Handle) []Handle     { return r.typeEvents[typeDef] }
func (r *MemoryReader) UserString(h Handle) string         { return r.Strings[h.Row-1] }

func (r *MemoryReader) TypeDefs() []Handle {
	hs := make([]Handle, len(r.TypeRows))

	for i := range r.TypeRows {
		hs[i] = Handle{Table: TableTypeDef, Row: i + 1}
	}

	return hs
}

func (r *MemoryReader) Body(method Handle) (Body, bool) {
	b, ok := r.Bodies[method]
	return b, ok
}

func (r *MemoryReader) DecodeSignature(sig Sig, p SignatureProvider) (any, error) {
	switch s := sig.(type) {
	case SigPrimitive:
		return p.Primitive(PrimitiveCode(s)), nil
	case SigTypeDef:
		return p.TypeDefinition(s.H), nil
	case SigTypeRef:
		return p.TypeReference(s.H), nil
	case SigPointer:
		elem, err := r.DecodeSignature(s.Elem, p)
		if err != nil {
			return nil, err
		}

		return p.Pointer(elem), nil
	case SigByRef:
		elem, err := r.DecodeSignature(s.Elem, p)
		if err != nil {
			return nil, err
		}

		return p.ByReference(elem), nil
	case SigArray:
		elem, err := r.DecodeSignature(s.Elem, p)
		if err != nil {
			return nil, err
		}

		return p.Array(elem, s.Rank), nil
	case SigInst:
		def, err := r.DecodeSignature(s.Def, p)
		if err != nil {
			return nil, err
		}

		args := make([]any, len(s.Args))

		for i, a := range s.Args {
			args[i], err = r.DecodeSignature(a, p)
			if err != nil {
				return nil, errors.Wrap(err, "type argument %d", i)
			}
		}

		return p.Instantiate(def, args), nil
	case SigClassParam:
		return p.GenericClassParam(int(s)), nil
	case SigMethodParam:
		return p.GenericMethodParam(int(s)), nil
	case SigBad:
		return nil, p.Malformed(byte(s))
	default:
		return nil, p.Malformed(0xff)
	}
}
