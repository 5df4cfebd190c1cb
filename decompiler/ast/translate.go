package ast

import (
	"fmt"

	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

// Translate converts a fully transformed IL function into the surface
// tree. Residual branches become labels and gotos; everything the
// pipeline structured earlier comes out as the matching statement.
func Translate(fn *il.Function) *BlockStmt {
	t := &translator{labels: map[*il.Instruction]string{}}

	if fn.Body() == nil {
		return &BlockStmt{}
	}

	return t.container(fn.Body())
}

type translator struct {
	labels map[*il.Instruction]string
}

func (t *translator) label(b *il.Instruction) string {
	if l, ok := t.labels[b]; ok {
		return l
	}

	l := fmt.Sprintf("IL_%04x", max(b.ILOffset(), 0))

	if b.ILOffset() < 0 {
		l = fmt.Sprintf("L_%d", len(t.labels))
	}

	t.labels[b] = l

	return l
}

func (t *translator) container(c *il.Instruction) *BlockStmt {
	out := &BlockStmt{}

	if c.ContainerKind() == il.ContainerLoop {
		body := &BlockStmt{}

		for _, b := range c.Blocks() {
			t.block(b, body)
		}

		out.List = append(out.List, &WhileStmt{Cond: &Literal{Value: true}, Body: body})

		return out
	}

	for n, b := range c.Blocks() {
		// entry labels only where someone jumps to them
		if n > 0 && b.IncomingEdgeCount() > 0 {
			out.List = append(out.List, &LabelStmt{Name: t.label(b)})
		}

		t.block(b, out)
	}

	return out
}

func (t *translator) block(b *il.Instruction, out *BlockStmt) {
	for _, inst := range b.Instructions() {
		out.List = append(out.List, t.stmt(inst)...)
	}
}

func (t *translator) stmt(i *il.Instruction) []Stmt {
	switch i.Op() {
	case il.OpNop:
		return nil
	case il.OpBlock:
		inner := &BlockStmt{}
		t.block(i, inner)

		return []Stmt{inner}
	case il.OpBlockContainer:
		return []Stmt{t.container(i)}
	case il.OpStLoc:
		return []Stmt{&ExprStmt{X: &AssignExpr{
			Target: &Ident{Name: i.Variable().Name(), Symbol: i.Variable()},
			Value:  t.expr(i.Child(0)),
		}}}
	case il.OpStObj:
		// an assignment through a ref: the target stays a call or
		// address expression, never a temporary
		return []Stmt{&ExprStmt{X: &AssignExpr{
			Target: t.expr(i.Child(0)),
			Value:  t.expr(i.Child(1)),
		}}}
	case il.OpStFld:
		return []Stmt{&ExprStmt{X: &AssignExpr{
			Target: &MemberExpr{Target: t.expr(i.Child(0)), Field: i.Field()},
			Value:  t.expr(i.Child(1)),
		}}}
	case il.OpStsFld:
		return []Stmt{&ExprStmt{X: &AssignExpr{
			Target: &MemberExpr{Field: i.Field()},
			Value:  t.expr(i.Child(0)),
		}}}
	case il.OpIfInstruction:
		s := &IfStmt{
			Cond: t.expr(i.Child(0)),
			Then: t.armStmt(i.Child(1)),
		}

		if !i.Child(2).MatchNop() {
			s.Else = t.armStmt(i.Child(2))
		}

		return []Stmt{s}
	case il.OpSwitch:
		s := &SwitchStmt{Value: t.expr(i.Child(0))}

		for _, sec := range i.Children()[1:] {
			s.Cases = append(s.Cases, SwitchCase{
				Labels:  sec.Labels(),
				Default: sec.Labels().Unbounded(),
				Body:    t.armStmt(sec.Child(0)),
			})
		}

		return []Stmt{s}
	case il.OpLockInstruction:
		return []Stmt{&LockStmt{Obj: t.expr(i.Child(0)), Body: t.armStmt(i.Child(1))}}
	case il.OpUsingInstruction:
		return []Stmt{&UsingStmt{Var: i.Variable(), Resource: t.expr(i.Child(0)), Body: t.armStmt(i.Child(1))}}
	case il.OpForeachInstruction:
		return []Stmt{&ForeachStmt{Var: i.Variable(), Collection: t.expr(i.Child(0)), Body: t.armStmt(i.Child(1))}}
	case il.OpTryFinally:
		return []Stmt{&TryStmt{Body: t.armStmt(i.Child(0)), Finally: t.armStmt(i.Child(1))}}
	case il.OpTryFault:
		return []Stmt{&TryStmt{Body: t.armStmt(i.Child(0)), Fault: t.armStmt(i.Child(1))}}
	case il.OpTryCatch:
		s := &TryStmt{Body: t.armStmt(i.Child(0))}

		for _, h := range i.Children()[1:] {
			s.Catches = append(s.Catches, CatchClause{
				Var:  h.Variable(),
				Type: h.Type(),
				Body: t.armStmt(h.Child(1)),
			})
		}

		return []Stmt{s}
	case il.OpReturn:
		if i.NumChildren() > 0 {
			return []Stmt{&ReturnStmt{Value: t.expr(i.Child(0))}}
		}

		return []Stmt{&ReturnStmt{}}
	case il.OpThrow:
		return []Stmt{&ThrowStmt{Value: t.expr(i.Child(0))}}
	case il.OpRethrow:
		return []Stmt{&ThrowStmt{}}
	case il.OpBranch:
		return []Stmt{&GotoStmt{Label: t.label(i.Target())}}
	case il.OpLeave:
		if i.Target() != nil && i.Target().ContainerKind() == il.ContainerLoop {
			return []Stmt{&BreakStmt{}}
		}

		if !i.Child(0).MatchNop() {
			return []Stmt{&ReturnStmt{Value: t.expr(i.Child(0))}}
		}

		return nil
	default:
		return []Stmt{&ExprStmt{X: t.expr(i)}}
	}
}

func (t *translator) armStmt(i *il.Instruction) Stmt {
	stmts := t.stmt(i)

	switch len(stmts) {
	case 0:
		return &BlockStmt{}
	case 1:
		return stmts[0]
	default:
		return &BlockStmt{List: stmts}
	}
}

func (t *translator) expr(i *il.Instruction) Expr {
	switch i.Op() {
	case il.OpLdLoc, il.OpLdLoca:
		return &Ident{Name: i.Variable().Name(), Symbol: i.Variable()}
	case il.OpLdNull:
		return &Literal{Value: nil}
	case il.OpLdStr:
		return &Literal{Value: i.Str()}
	case il.OpLdcI4, il.OpLdcI8:
		return &Literal{Value: i.Int()}
	case il.OpCall, il.OpCallVirt:
		return &CallExpr{Method: i.Method(), Args: t.callArgs(i), Virt: i.Op() == il.OpCallVirt}
	case il.OpNewObj:
		return &NewExpr{Ctor: i.Method(), Args: t.exprs(i.Children())}
	case il.OpLdFld, il.OpLdFlda:
		return &MemberExpr{Target: t.expr(i.Child(0)), Field: i.Field()}
	case il.OpLdsFld, il.OpLdsFlda:
		return &MemberExpr{Field: i.Field()}
	case il.OpBinary:
		return &BinaryExpr{Op: binOpText(i.BinOp()), L: t.expr(i.Child(0)), R: t.expr(i.Child(1))}
	case il.OpCompEquals:
		return &BinaryExpr{Op: "==", L: t.expr(i.Child(0)), R: t.expr(i.Child(1))}
	case il.OpCompNotEquals:
		return &BinaryExpr{Op: "!=", L: t.expr(i.Child(0)), R: t.expr(i.Child(1))}
	case il.OpCompLessThan:
		return &BinaryExpr{Op: "<", L: t.expr(i.Child(0)), R: t.expr(i.Child(1))}
	case il.OpCompGreaterThan:
		return &BinaryExpr{Op: ">", L: t.expr(i.Child(0)), R: t.expr(i.Child(1))}
	case il.OpLogicNot:
		return &UnaryExpr{Op: "!", X: t.expr(i.Child(0))}
	case il.OpBox, il.OpUnbox, il.OpCastClass, il.OpIsInst:
		return &CastExpr{Type: i.Type(), X: t.expr(i.Child(0))}
	case il.OpLdObj:
		return t.expr(i.Child(0))
	case il.OpLdElema:
		return &IndexExpr{Target: t.expr(i.Child(0)), Index: t.expr(i.Child(1))}
	case il.OpLdLen:
		return &UnaryExpr{Op: "len", X: t.expr(i.Child(0))}
	case il.OpNullCoalescing:
		return &CoalesceExpr{Value: t.expr(i.Child(0)), Fallback: t.expr(i.Child(1))}
	case il.OpNullConditional:
		return &NullCondExpr{Value: t.expr(i.Child(0)), Access: t.expr(i.Child(1))}
	case il.OpStringToInt:
		return &CallExpr{Method: nil, Args: append([]Expr{t.expr(i.Child(0))}, literalExprs(i.Literals())...)}
	case il.OpStLoc:
		return &AssignExpr{
			Target: &Ident{Name: i.Variable().Name(), Symbol: i.Variable()},
			Value:  t.expr(i.Child(0)),
		}
	case il.OpDefaultValue:
		return &Literal{Value: nil}
	default:
		return &RawExpr{Text: i.String()}
	}
}

// callArgs translates call arguments, inserting the defensive copy an
// in-parameter needs when its struct type is not readonly. A readonly
// struct passes by reference with no copy.
func (t *translator) callArgs(call *il.Instruction) []Expr {
	m := call.Method()
	args := call.Children()

	out := make([]Expr, len(args))

	base := 0
	if m != nil && !m.IsStatic && call.Op() != il.OpNewObj {
		base = 1 // the receiver is not an in-parameter
	}

	for n, a := range args {
		out[n] = t.expr(a)

		if m == nil || n < base || n-base >= len(m.Parameters) {
			continue
		}

		p := m.Parameters[n-base]

		if _, ok := p.Type.(*ts.ByReferenceType); !ok || a.Op() != il.OpLdLoca {
			continue
		}

		if needsDefensiveCopy(a.Variable()) {
			out[n] = &UnaryExpr{Op: "copy", X: out[n]}
		}
	}

	return out
}

func needsDefensiveCopy(v *il.Variable) bool {
	if v == nil {
		return false
	}

	d, ok := v.Type.(*ts.TypeDefinition)

	return ok && d.IsValueType && !d.IsReadOnly
}

func (t *translator) exprs(in []*il.Instruction) []Expr {
	out := make([]Expr, len(in))

	for n, e := range in {
		out[n] = t.expr(e)
	}

	return out
}

func literalExprs(lits []string) []Expr {
	out := make([]Expr, len(lits))

	for n, l := range lits {
		out[n] = &Literal{Value: l}
	}

	return out
}

func binOpText(op il.BinOp) string {
	switch op {
	case il.BinAdd:
		return "+"
	case il.BinSub:
		return "-"
	case il.BinMul:
		return "*"
	case il.BinDiv:
		return "/"
	case il.BinRem:
		return "%"
	case il.BinAnd:
		return "&"
	case il.BinOr:
		return "|"
	case il.BinXor:
		return "^"
	case il.BinShl:
		return "<<"
	default:
		return ">>"
	}
}
