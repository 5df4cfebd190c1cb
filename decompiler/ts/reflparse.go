package ts

import (
	"strings"

	"tlog.app/go/errors"

	"github.com/unbolt/unbolt/decompiler/errs"
)

type rnParser struct {
	ts  *TypeSystem
	s   string
	pos int
}

// FindType parses a reflection name and resolves it component-wise.
//
// Grammar: '+' separates nested types, '`N' is a generic arity suffix
// (or a class type-parameter reference at the start, '``N' a method
// one), '[[T],[U]]' binds generic arguments (each optionally followed
// by ', AssemblyName', accepted and ignored), '[]'/'[,]'/... are array
// suffixes composing right-to-left, '*' is a pointer and '&' a
// by-reference marker that must be outermost. Parsing is strict; any
// violation fails with a ReflectionNameParse error.
func (ts *TypeSystem) FindType(name string) (Type, error) {
	p := &rnParser{ts: ts, s: name}

	t, err := p.parseType(true)
	if err != nil {
		return nil, errors.Wrap(errs.ReflectionNameParse, "%q at %d: %v", name, p.pos, err)
	}

	if p.pos != len(p.s) {
		return nil, errors.Wrap(errs.ReflectionNameParse, "%q at %d: unexpected %q", name, p.pos, p.s[p.pos])
	}

	return t, nil
}

func (p *rnParser) parseType(allowByRef bool) (Type, error) {
	if p.pos == len(p.s) {
		return nil, errors.New("empty type name")
	}

	var t Type
	var err error

	if p.s[p.pos] == '`' {
		t, err = p.parseTypeParamRef()
	} else {
		t, err = p.parseNamed()
	}

	if err != nil {
		return nil, err
	}

	return p.parseSuffixes(t, allowByRef)
}

func (p *rnParser) parseTypeParamRef() (Type, error) {
	p.pos++ // '`'

	owner := OwnerClass

	if p.pos < len(p.s) && p.s[p.pos] == '`' {
		owner = OwnerMethod
		p.pos++
	}

	n, ok := p.parseDigits()
	if !ok {
		return nil, errors.New("type parameter number expected after backtick")
	}

	return &TypeParameter{Owner: owner, Index: n}, nil
}

func (p *rnParser) parseNamed() (Type, error) {
	var encl *TypeDefinition
	var def *TypeDefinition
	totalArity := 0

	for {
		name := p.parseIdent()
		if name == "" {
			if encl != nil {
				return nil, errors.New("type name expected after '+'")
			}

			return nil, errors.New("empty type name")
		}

		arity := 0

		if p.pos < len(p.s) && p.s[p.pos] == '`' {
			p.pos++

			n, ok := p.parseDigits()
			if !ok {
				return nil, errors.New("arity digits expected after backtick")
			}

			arity = n
		}

		ns := ""

		if encl == nil {
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				ns, name = name[:i], name[i+1:]

				if name == "" {
					return nil, errors.New("empty type name after namespace")
				}
			}
		}

		if d := p.ts.lookupLocal(ns, name, arity, encl); d != nil {
			def = d
		} else {
			def = p.ts.external(ns, name, arity, encl)
		}

		totalArity += arity

		if p.pos < len(p.s) && p.s[p.pos] == '+' {
			p.pos++
			encl = def

			continue
		}

		break
	}

	if totalArity > 0 && p.pos+1 < len(p.s) && p.s[p.pos] == '[' && p.s[p.pos+1] == '[' {
		args, err := p.parseGenericArgs()
		if err != nil {
			return nil, err
		}

		return &ParameterizedType{Def: def, Args: args}, nil
	}

	return def, nil
}

func (p *rnParser) parseGenericArgs() (args []Type, err error) {
	p.pos++ // outer '['

	for {
		if p.pos == len(p.s) || p.s[p.pos] != '[' {
			return nil, errors.New("unterminated generic argument list")
		}

		p.pos++ // inner '['

		t, err := p.parseType(false)
		if err != nil {
			return nil, err
		}

		args = append(args, t)

		// the assembly qualifier is accepted and ignored
		if p.pos < len(p.s) && p.s[p.pos] == ',' {
			for p.pos < len(p.s) && p.s[p.pos] != ']' {
				p.pos++
			}
		}

		if p.pos == len(p.s) || p.s[p.pos] != ']' {
			return nil, errors.New("unterminated generic argument")
		}

		p.pos++ // inner ']'

		if p.pos < len(p.s) && p.s[p.pos] == ',' {
			p.pos++

			continue
		}

		break
	}

	if p.pos == len(p.s) || p.s[p.pos] != ']' {
		return nil, errors.New("unterminated generic argument list")
	}

	p.pos++ // outer ']'

	return args, nil
}

func (p *rnParser) parseSuffixes(t Type, allowByRef bool) (Type, error) {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '[':
			p.pos++
			rank := 1

			for p.pos < len(p.s) && p.s[p.pos] == ',' {
				rank++
				p.pos++
			}

			if p.pos == len(p.s) || p.s[p.pos] != ']' {
				return nil, errors.New("unterminated array suffix")
			}

			p.pos++
			t = &ArrayType{Elem: t, Rank: rank}
		case '*':
			p.pos++
			t = &PointerType{Elem: t}
		case '&':
			if !allowByRef {
				return nil, errors.New("by-reference marker not allowed here")
			}

			p.pos++

			if p.pos != len(p.s) {
				return nil, errors.New("by-reference marker must be outermost")
			}

			return &ByReferenceType{Elem: t}, nil
		default:
			return t, nil
		}
	}

	return t, nil
}

func (p *rnParser) parseIdent() string {
	start := p.pos

	for p.pos < len(p.s) && !isSpecial(p.s[p.pos]) {
		p.pos++
	}

	return p.s[start:p.pos]
}

func (p *rnParser) parseDigits() (int, bool) {
	start := p.pos
	n := 0

	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		n = n*10 + int(p.s[p.pos]-'0')
		p.pos++
	}

	return n, p.pos != start
}

func isSpecial(c byte) bool {
	switch c {
	case '+', '`', '[', ']', '*', '&', ',':
		return true
	}

	return false
}
