package ts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/meta"
)

func testReader() (*meta.MemoryReader, map[string]meta.Handle) {
	r := meta.NewMemoryReader("A")
	hs := map[string]meta.Handle{}

	hs["Widget"] = r.AddTypeDef(meta.TypeDefRow{Namespace: "Demo", Name: "Widget"})
	hs["Box"] = r.AddTypeDef(meta.TypeDefRow{Namespace: "Demo", Name: "Box", Arity: 1})

	hs["Box.Get"] = r.AddMethodDef(meta.MethodDefRow{
		Name:  "Get",
		Owner: hs["Box"],
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  meta.SigClassParam(0),
		},
	})

	hs["Box.Put"] = r.AddMethodDef(meta.MethodDefRow{
		Name:  "Put",
		Owner: hs["Box"],
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  meta.SigPrimitive(meta.PrimVoid),
			Params:  []meta.Sig{meta.SigClassParam(0)},
		},
	})

	ivtRef := r.AddTypeRef(meta.TypeRefRow{
		Namespace: "System.Runtime.CompilerServices",
		Name:      "InternalsVisibleToAttribute",
		Assembly:  "mscorlib",
	})

	ctor := r.AddMemberRef(meta.MemberRefRow{
		Name:   ".ctor",
		Parent: meta.SigTypeRef{H: ivtRef},
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  meta.SigPrimitive(meta.PrimVoid),
			Params:  []meta.Sig{meta.SigPrimitive(meta.PrimString)},
		},
	})

	r.AsmAttrs = []meta.AttributeRow{{
		Constructor: ctor,
		Fixed:       []meta.AttrValue{{Kind: meta.KindString, Str: "B"}},
	}}

	return r, hs
}

func TestResolveTypeIdempotent(t *testing.T) {
	r, hs := testReader()
	ts := New(r)

	a, err := ts.ResolveType(hs["Widget"], GenericContext{})
	require.NoError(t, err)

	b, err := ts.ResolveType(hs["Widget"], GenericContext{})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.True(t, a.Equals(b))
}

func TestReflectionNameRoundTrip(t *testing.T) {
	r, hs := testReader()
	ts := New(r)

	box, err := ts.ResolveType(hs["Box"], GenericContext{})
	require.NoError(t, err)

	assert.Equal(t, "Demo.Box`1", box.ReflectionName())

	back, err := ts.FindType(box.ReflectionName())
	require.NoError(t, err)
	assert.True(t, box.Equals(back))
}

func TestFindTypeBoundGeneric(t *testing.T) {
	ts := New(meta.NewMemoryReader("A"))

	typ, err := ts.FindType("System.Action`1[[System.String, mscorlib]]")
	require.NoError(t, err)

	// the assembly qualifier is accepted on parse and dropped on print
	assert.Equal(t, "System.Action`1[[System.String]]", typ.ReflectionName())
}

func TestFindTypeSuffixes(t *testing.T) {
	ts := New(meta.NewMemoryReader("A"))

	for _, name := range []string{
		"Demo.Widget[]",
		"Demo.Widget[,,]",
		"Demo.Widget[][,]",
		"Demo.Widget*",
		"Demo.Widget[]&",
		"Demo.Outer+Inner",
		"`0[]",
		"``1",
	} {
		typ, err := ts.FindType(name)
		require.NoError(t, err, "%v", name)
		assert.Equal(t, name, typ.ReflectionName(), "%v", name)
	}
}

func TestFindTypeStrictErrors(t *testing.T) {
	ts := New(meta.NewMemoryReader("A"))

	for _, name := range []string{
		"",
		"`",
		"Demo.Widget[",
		"Demo.Widget[[System.String]",
		"Demo.Widget+",
		"Demo.Widget`x",
		"Demo.Widget&[]",
		"Demo.Widget&*",
	} {
		_, err := ts.FindType(name)
		assert.ErrorIs(t, err, errs.ReflectionNameParse, "%q", name)
	}
}

func TestOverloadMatchingModuloNormalization(t *testing.T) {
	r, hs := testReader()

	// member ref to Box`1<String>.Put(!0): parameter is the class type
	// parameter, normalized to position 0 on both sides
	strSig := meta.SigPrimitive(meta.PrimString)

	mr := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Put",
		Parent: meta.SigInst{Def: meta.SigTypeDef{H: hs["Box"]}, Args: []meta.Sig{strSig}},
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  meta.SigPrimitive(meta.PrimVoid),
			Params:  []meta.Sig{meta.SigClassParam(0)},
		},
	})

	ts := New(r)

	m, err := ts.ResolveMethod(mr, GenericContext{}, ResolveOptions{})
	require.NoError(t, err)

	assert.False(t, m.Fake)
	assert.Equal(t, "Put", m.Name())
	require.Len(t, m.Parameters, 1)
	assert.Equal(t, "System.String", m.Parameters[0].Type.ReflectionName())
	assert.Equal(t, "Demo.Box`1[[System.String]]", m.DeclaringType.ReflectionName())
}

func TestUnknownMemberYieldsFakeMethod(t *testing.T) {
	r, hs := testReader()

	mr := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Missing",
		Parent: meta.SigTypeDef{H: hs["Widget"]},
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  meta.SigPrimitive(meta.PrimVoid),
		},
	})

	ts := New(r)

	m, err := ts.ResolveMethod(mr, GenericContext{}, ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, m.Fake)
	assert.Equal(t, "Missing", m.Name())
}

func TestMalformedSignature(t *testing.T) {
	r, hs := testReader()

	mr := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Bad",
		Parent: meta.SigTypeDef{H: hs["Widget"]},
		Signature: meta.MethodSig{
			Return: meta.SigBad(0x3f),
		},
	})

	ts := New(r)

	_, err := ts.ResolveMethod(mr, GenericContext{}, ResolveOptions{})
	assert.True(t, errors.Is(err, errs.MalformedMetadata))
}

func TestInternalsVisibleTo(t *testing.T) {
	r, _ := testReader()
	a := New(r).Assembly()

	b := New(meta.NewMemoryReader("B")).Assembly()

	assert.True(t, a.InternalsVisibleTo(b))
	assert.False(t, b.InternalsVisibleTo(a))
}

func TestVarArgInstance(t *testing.T) {
	r, hs := testReader()

	i4 := meta.SigPrimitive(meta.PrimI4)

	mr := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Printf",
		Parent: meta.SigTypeDef{H: hs["Widget"]},
		Signature: meta.MethodSig{
			VarArgs:     true,
			Return:      meta.SigPrimitive(meta.PrimVoid),
			Params:      []meta.Sig{meta.SigPrimitive(meta.PrimString)},
			ExtraParams: []meta.Sig{i4, i4},
		},
	})

	ts := New(r)

	m, err := ts.ResolveMethod(mr, GenericContext{}, ResolveOptions{ExpandVarArgs: true})
	require.NoError(t, err)
	assert.True(t, m.IsVarArg)
	assert.Len(t, m.Parameters, 3)

	plain, err := ts.ResolveMethod(mr, GenericContext{}, ResolveOptions{})
	require.NoError(t, err)
	assert.Len(t, plain.Parameters, 1)
}

func TestSubstitutionCompose(t *testing.T) {
	tp0 := &TypeParameter{Owner: OwnerClass, Index: 0}

	ts := New(meta.NewMemoryReader("A"))
	str := ts.WellKnown("System", "String", 0)

	inner := &TypeParameterSubstitution{Class: []Type{tp0}}
	outer := &TypeParameterSubstitution{Class: []Type{str}}

	composed := outer.Compose(inner)
	assert.True(t, str.Equals(tp0.AcceptSubstitution(composed)))
}
