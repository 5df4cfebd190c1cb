// Package ast is the outbound high-level tree: language-agnostic
// declarations, statements and expressions, each annotated with the
// type-system symbol it came from. A separate emitter renders it; this
// package only builds and dumps it.
package ast

import (
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	// Symbol is the original entity behind a node: *ts.Method,
	// *ts.Field, ts.Type, or *il.Variable.
	Symbol any

	Expr interface {
		exprNode()
		Sym() Symbol
	}

	Stmt interface {
		stmtNode()
	}

	Ident struct {
		Name   string
		Symbol Symbol
	}

	Literal struct {
		Value any
	}

	CallExpr struct {
		Method *ts.Method
		Args   []Expr

		// Virt marks virtual dispatch.
		Virt bool
	}

	NewExpr struct {
		Ctor *ts.Method
		Args []Expr
	}

	MemberExpr struct {
		Target Expr // nil for static access
		Field  *ts.Field
	}

	BinaryExpr struct {
		Op   string
		L, R Expr
	}

	UnaryExpr struct {
		Op string
		X  Expr
	}

	AssignExpr struct {
		Target Expr
		Value  Expr
	}

	CastExpr struct {
		Type ts.Type
		X    Expr
	}

	IndexExpr struct {
		Target Expr
		Index  Expr
	}

	CoalesceExpr struct {
		Value    Expr
		Fallback Expr
	}

	NullCondExpr struct {
		Value  Expr
		Access Expr
	}

	RawExpr struct {
		Text string
	}

	ExprStmt struct {
		X Expr
	}

	BlockStmt struct {
		List []Stmt
	}

	IfStmt struct {
		Cond Expr
		Then Stmt
		Else Stmt // nil for no else
	}

	WhileStmt struct {
		Cond Expr
		Body Stmt
	}

	SwitchCase struct {
		Labels  il.LabelSet
		Default bool
		Body    Stmt
	}

	SwitchStmt struct {
		Value Expr
		Cases []SwitchCase
	}

	LockStmt struct {
		Obj  Expr
		Body Stmt
	}

	UsingStmt struct {
		Var      *il.Variable
		Resource Expr
		Body     Stmt
	}

	ForeachStmt struct {
		Var        *il.Variable
		Collection Expr
		Body       Stmt
	}

	CatchClause struct {
		Var  *il.Variable
		Type ts.Type
		Body Stmt
	}

	TryStmt struct {
		Body    Stmt
		Catches []CatchClause
		Finally Stmt // nil for none
		Fault   Stmt
	}

	ReturnStmt struct {
		Value Expr // nil for void
	}

	ThrowStmt struct {
		Value Expr // nil for rethrow
	}

	GotoStmt struct {
		Label string
	}

	LabelStmt struct {
		Name string
	}

	BreakStmt struct{}
)

func (*Ident) exprNode()        {}
func (*Literal) exprNode()      {}
func (*CallExpr) exprNode()     {}
func (*NewExpr) exprNode()      {}
func (*MemberExpr) exprNode()   {}
func (*BinaryExpr) exprNode()   {}
func (*UnaryExpr) exprNode()    {}
func (*AssignExpr) exprNode()   {}
func (*CastExpr) exprNode()     {}
func (*IndexExpr) exprNode()    {}
func (*CoalesceExpr) exprNode() {}
func (*NullCondExpr) exprNode() {}
func (*RawExpr) exprNode()      {}

func (e *Ident) Sym() Symbol        { return e.Symbol }
func (e *Literal) Sym() Symbol      { return nil }
func (e *CallExpr) Sym() Symbol     { return e.Method }
func (e *NewExpr) Sym() Symbol      { return e.Ctor }
func (e *MemberExpr) Sym() Symbol   { return e.Field }
func (e *BinaryExpr) Sym() Symbol   { return nil }
func (e *UnaryExpr) Sym() Symbol    { return nil }
func (e *AssignExpr) Sym() Symbol   { return nil }
func (e *CastExpr) Sym() Symbol     { return e.Type }
func (e *IndexExpr) Sym() Symbol    { return nil }
func (e *CoalesceExpr) Sym() Symbol { return nil }
func (e *NullCondExpr) Sym() Symbol { return nil }
func (e *RawExpr) Sym() Symbol      { return nil }

func (*ExprStmt) stmtNode()    {}
func (*BlockStmt) stmtNode()   {}
func (*IfStmt) stmtNode()      {}
func (*WhileStmt) stmtNode()   {}
func (*SwitchStmt) stmtNode()  {}
func (*LockStmt) stmtNode()    {}
func (*UsingStmt) stmtNode()   {}
func (*ForeachStmt) stmtNode() {}
func (*TryStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode()  {}
func (*ThrowStmt) stmtNode()   {}
func (*GotoStmt) stmtNode()    {}
func (*LabelStmt) stmtNode()   {}
func (*BreakStmt) stmtNode()   {}
