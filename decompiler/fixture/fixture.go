// Package fixture assembles a small in-memory module exercising the
// recoveries the pipeline implements. The cli demo and the end-to-end
// tests decompile it; a production host plugs a PE-backed meta.Reader
// into the same seam instead.
package fixture

import (
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/meta"
)

type Module struct {
	Reader *meta.MemoryReader

	// handles the tests need
	SwitchMethod meta.Handle
	LockMethod   meta.Handle
	MathMethod   meta.Handle
}

func New() *Module {
	r := meta.NewMemoryReader("demo")
	m := &Module{Reader: r}

	voidSig := meta.SigPrimitive(meta.PrimVoid)
	strSig := meta.SigPrimitive(meta.PrimString)
	i4 := meta.SigPrimitive(meta.PrimI4)
	boolSig := meta.SigPrimitive(meta.PrimBool)
	objSig := meta.SigPrimitive(meta.PrimObject)

	demo := r.AddTypeDef(meta.TypeDefRow{Namespace: "Demo", Name: "Program"})

	// externals
	stringT := r.AddTypeRef(meta.TypeRefRow{Namespace: "System", Name: "String", Assembly: "mscorlib"})
	monitorT := r.AddTypeRef(meta.TypeRefRow{Namespace: "System.Threading", Name: "Monitor", Assembly: "mscorlib"})

	getLength := r.AddMemberRef(meta.MemberRefRow{
		Name:   "get_Length",
		Parent: meta.SigTypeRef{H: stringT},
		Signature: meta.MethodSig{
			HasThis: true,
			Return:  i4,
		},
	})

	opEq := r.AddMemberRef(meta.MemberRefRow{
		Name:   "op_Equality",
		Parent: meta.SigTypeRef{H: stringT},
		Signature: meta.MethodSig{
			Return: boolSig,
			Params: []meta.Sig{strSig, strSig},
		},
	})

	enter := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Enter",
		Parent: meta.SigTypeRef{H: monitorT},
		Signature: meta.MethodSig{
			Return: voidSig,
			Params: []meta.Sig{objSig, meta.SigByRef{Elem: boolSig}},
		},
	})

	exit := r.AddMemberRef(meta.MemberRefRow{
		Name:   "Exit",
		Parent: meta.SigTypeRef{H: monitorT},
		Signature: meta.MethodSig{
			Return: voidSig,
			Params: []meta.Sig{objSig},
		},
	})

	foo := r.AddMethodDef(meta.MethodDefRow{
		Name:      "Foo",
		Owner:     demo,
		IsStatic:  true,
		Signature: meta.MethodSig{Return: voidSig},
	})

	m.MathMethod = r.AddMethodDef(meta.MethodDefRow{
		Name:      "Math",
		Owner:     demo,
		IsStatic:  true,
		Signature: meta.MethodSig{Return: i4},
	})

	mathAsm := il.NewAsm()
	mathAsm.LdcI4(40).LdcI4(2).Add().StLoc(0).LdLoc(0).Ret()
	r.SetBody(m.MathMethod, meta.Body{Code: mathAsm.Bytes(), LocalSigs: []meta.Sig{i4}})

	m.LockMethod = r.AddMethodDef(meta.MethodDefRow{
		Name:      "Guarded",
		Owner:     demo,
		IsStatic:  true,
		Signature: meta.MethodSig{Return: voidSig, Params: []meta.Sig{objSig}},
	})

	// roslyn lock shape: obj first, then the flag guard
	la := il.NewAsm()
	la.LdArg(0).StLoc(0)
	la.LdcI4(0).StLoc(1)
	tryStart := la.Offset()
	la.LdLoc(0).LdLoca(1).Call(enter)
	la.Call(foo)
	la.Leave("after")
	finStart := la.Offset()
	la.LdLoc(1).BrFalse("skip")
	la.LdLoc(0).Call(exit)
	la.Label("skip").EndFinally()
	finEnd := la.Offset()
	la.Label("after").Ret()

	r.SetBody(m.LockMethod, meta.Body{
		Code:      la.Bytes(),
		LocalSigs: []meta.Sig{objSig, boolSig},
		Regions: []meta.ExceptionRegion{{
			Kind:          meta.RegionFinally,
			TryOffset:     tryStart,
			TryLength:     finStart - tryStart,
			HandlerOffset: finStart,
			HandlerLength: finEnd - finStart,
		}},
	})

	m.SwitchMethod = r.AddMethodDef(meta.MethodDefRow{
		Name:      "Dispatch",
		Owner:     demo,
		IsStatic:  true,
		Signature: meta.MethodSig{Return: i4, Params: []meta.Sig{strSig}},
	})

	lits := []string{"A", "B", "C", "D", "E", "F"}
	sa := il.NewAsm()
	sa.LdArg(0).StLoc(0)

	strHandles := make([]meta.Handle, len(lits))

	for k, lit := range lits {
		strHandles[k] = r.AddString(lit)
	}

	for k := range lits {
		sa.LdLoc(0).LdStr(strHandles[k]).Call(opEq).BrTrue(lits[k])
	}

	// default: fall through; s is read again afterwards
	sa.LdLoc(0).CallVirt(getLength).Ret()

	for k, lit := range lits {
		sa.Label(lit).LdcI4(int32(k)).Ret()
	}

	r.SetBody(m.SwitchMethod, meta.Body{
		Code:      sa.Bytes(),
		LocalSigs: []meta.Sig{strSig},
	})

	return m
}
