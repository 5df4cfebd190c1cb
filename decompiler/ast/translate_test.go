package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// an assignment through a ref-returning call keeps the call as the
// assignment target, not a temporary.
func TestRefReturnAssignmentTarget(t *testing.T) {
	fn := il.NewFunction(nil)

	holder := &ts.TypeDefinition{NamespaceName: "Demo", ShortName: "Holder"}
	intT := &ts.TypeDefinition{NamespaceName: "System", ShortName: "Int32"}

	getRef := &ts.Method{
		MethodName:    "GetRef",
		DeclaringType: holder,
		IsStatic:      true,
		ReturnType:    &ts.ByReferenceType{Elem: intT},
	}

	b := il.NewBlock(
		il.NewStObj(il.NewCall(getRef), il.NewLdcI4(42), intT),
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))

	tree := Translate(fn)
	require.Len(t, tree.List, 2)

	es, ok := tree.List[0].(*ExprStmt)
	require.True(t, ok)

	assign, ok := es.X.(*AssignExpr)
	require.True(t, ok)

	call, ok := assign.Target.(*CallExpr)
	require.True(t, ok, "target must stay a call, got %T", assign.Target)
	assert.Same(t, getRef, call.Method)

	lit, ok := assign.Value.(*Literal)
	require.True(t, ok)
	assert.EqualValues(t, 42, lit.Value)
}

func TestTranslateLockAndSwitch(t *testing.T) {
	fn := il.NewFunction(nil)

	x := fn.NewVariable(il.KindParameter, nil)
	s := fn.NewVariable(il.KindLocal, nil)

	body := il.NewBlock(il.NewReturn())
	bodyC := il.NewBlockContainer(body)

	target := il.NewBlock(il.NewReturn(il.NewLdcI4(1)))
	def := il.NewBlock(il.NewReturn(il.NewLdcI4(0)))

	sw := il.NewSwitch(il.NewStringToInt(il.NewLdLoc(s), []string{"a"}),
		il.NewSwitchSection(il.LabelValue(0), il.NewBranch(target)),
		il.NewSwitchSection(il.LabelValue(0).Invert(), il.NewBranch(def)),
	)

	entry := il.NewBlock(
		il.NewLock(il.NewLdLoc(x), bodyC),
		sw,
	)

	fn.SetBody(il.NewBlockContainer(entry, target, def))

	tree := Translate(fn)
	require.NotEmpty(t, tree.List)

	lock, ok := tree.List[0].(*LockStmt)
	require.True(t, ok)

	id, ok := lock.Obj.(*Ident)
	require.True(t, ok)
	assert.Same(t, x, id.Symbol)

	var sws *SwitchStmt

	for _, st := range tree.List {
		if v, ok := st.(*SwitchStmt); ok {
			sws = v
		}
	}

	require.NotNil(t, sws)
	require.Len(t, sws.Cases, 2)
	assert.False(t, sws.Cases[0].Default)
	assert.True(t, sws.Cases[1].Default)
}

// in-parameter calls copy a mutable struct argument and pass a
// readonly struct through untouched.
func TestInParameterDefensiveCopy(t *testing.T) {
	fn := il.NewFunction(nil)

	mutable := &ts.TypeDefinition{NamespaceName: "Demo", ShortName: "Mutable", IsValueType: true}
	frozen := &ts.TypeDefinition{NamespaceName: "Demo", ShortName: "Frozen", IsValueType: true, IsReadOnly: true}

	mv := fn.NewVariable(il.KindLocal, nil)
	mv.Type = mutable

	fv := fn.NewVariable(il.KindLocal, nil)
	fv.Type = frozen

	callee := &ts.Method{
		MethodName: "Use",
		IsStatic:   true,
		Parameters: []ts.Parameter{
			{Type: &ts.ByReferenceType{Elem: mutable}},
			{Type: &ts.ByReferenceType{Elem: frozen}},
		},
	}

	b := il.NewBlock(
		il.NewCall(callee, il.NewLdLoca(mv), il.NewLdLoca(fv)),
		il.NewReturn(),
	)

	fn.SetBody(il.NewBlockContainer(b))

	tree := Translate(fn)
	require.Len(t, tree.List, 2)

	call := tree.List[0].(*ExprStmt).X.(*CallExpr)
	require.Len(t, call.Args, 2)

	cp, ok := call.Args[0].(*UnaryExpr)
	require.True(t, ok, "mutable struct in-arg must be copied, got %T", call.Args[0])
	assert.Equal(t, "copy", cp.Op)

	_, ok = call.Args[1].(*Ident)
	assert.True(t, ok, "readonly struct in-arg passes without a copy")
}

func TestTranslateEmptyFunction(t *testing.T) {
	fn := il.NewFunction(nil)

	tree := Translate(fn)
	assert.Empty(t, tree.List)
}
