package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectProvider struct {
	trace []string
}

func (p *collectProvider) Primitive(code PrimitiveCode) any {
	p.trace = append(p.trace, "prim")
	return "prim"
}
func (p *collectProvider) TypeDefinition(h Handle) any {
	p.trace = append(p.trace, "def")
	return "def"
}
func (p *collectProvider) TypeReference(h Handle) any { p.trace = append(p.trace, "ref"); return "ref" }
func (p *collectProvider) Pointer(elem any) any       { p.trace = append(p.trace, "ptr"); return "ptr" }
func (p *collectProvider) ByReference(elem any) any {
	p.trace = append(p.trace, "byref")
	return "byref"
}
func (p *collectProvider) Array(elem any, rank int) any {
	p.trace = append(p.trace, "arr")
	return "arr"
}
func (p *collectProvider) Instantiate(d any, args []any) any {
	p.trace = append(p.trace, "inst")
	return "inst"
}
func (p *collectProvider) GenericClassParam(index int) any {
	p.trace = append(p.trace, "cp")
	return "cp"
}
func (p *collectProvider) GenericMethodParam(index int) any {
	p.trace = append(p.trace, "mp")
	return "mp"
}

func (p *collectProvider) Malformed(kind byte) error {
	return assert.AnError
}

// the reader drives parsing; the provider only sees structure.
func TestDecodeSignatureDrivesProvider(t *testing.T) {
	r := NewMemoryReader("x")

	def := r.AddTypeDef(TypeDefRow{Namespace: "N", Name: "T", Arity: 1})

	sig := SigInst{
		Def:  SigTypeDef{H: def},
		Args: []Sig{SigArray{Elem: SigPrimitive(PrimI4), Rank: 2}},
	}

	p := &collectProvider{}

	v, err := r.DecodeSignature(sig, p)
	require.NoError(t, err)
	assert.Equal(t, "inst", v)
	assert.Equal(t, []string{"def", "prim", "arr", "inst"}, p.trace)
}

func TestDecodeSignatureMalformed(t *testing.T) {
	r := NewMemoryReader("x")

	_, err := r.DecodeSignature(SigBad(0x33), &collectProvider{})
	assert.Error(t, err)

	_, err = r.DecodeSignature(SigPointer{Elem: SigBad(1)}, &collectProvider{})
	assert.Error(t, err)
}

func TestMemoryReaderTables(t *testing.T) {
	r := NewMemoryReader("asm")

	td := r.AddTypeDef(TypeDefRow{Namespace: "N", Name: "T"})
	mh := r.AddMethodDef(MethodDefRow{Name: "M", Owner: td})
	fh := r.AddField(FieldRow{Name: "f", Owner: td})
	ph := r.AddProperty(PropertyRow{Name: "P", Owner: td, Getter: mh})
	sh := r.AddString("hello")

	assert.Equal(t, "asm", r.Assembly().Name)
	assert.Equal(t, []Handle{td}, r.TypeDefs())
	assert.Equal(t, []Handle{mh}, r.TypeDef(td).Methods)
	assert.Equal(t, []Handle{fh}, r.TypeDef(td).Fields)
	assert.Equal(t, []Handle{ph}, r.Properties(td))
	assert.Equal(t, "hello", r.UserString(sh))

	_, ok := r.Body(mh)
	assert.False(t, ok)

	r.SetBody(mh, Body{Code: []byte{0x2A}})

	b, ok := r.Body(mh)
	require.True(t, ok)
	assert.Equal(t, []byte{0x2A}, b.Code)
}
