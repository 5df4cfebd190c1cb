// Package transform contains the IL transform pipeline: composable
// passes that rewrite low-level CIL constructs into the higher-level
// ones a language front-end would have compiled from. Passes mutate
// the tree in place and must leave its invariants intact at exit;
// inside a pass, a failed pattern match is ordinary control flow.
package transform

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/unbolt/unbolt/decompiler/cfg"
	"github.com/unbolt/unbolt/decompiler/errs"
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/settings"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	// Context carries what a pass needs besides the function itself.
	Context struct {
		TS       *ts.TypeSystem
		Settings *settings.Settings

		// Steps records a marker per executed pass, for the test
		// suite and debugging surfaces.
		Steps []Step
	}

	Step struct {
		Pass string
		From loc.PC
	}

	Pass interface {
		Name() string
		Run(ctx context.Context, fn *il.Function, c *Context) error
	}

	// Failure is the per-method record the driver returns when a pass
	// breaks: the method still gets a placeholder, the rest of the
	// module decompiles.
	Failure struct {
		Pass string
		At   *il.Instruction
		Err  error
	}

	passFunc struct {
		name string
		run  func(ctx context.Context, fn *il.Function, c *Context) error
	}
)

func (p passFunc) Name() string { return p.name }

func (p passFunc) Run(ctx context.Context, fn *il.Function, c *Context) error {
	return p.run(ctx, fn, c)
}

func (f *Failure) Error() string {
	return errors.Wrap(f.Err, "pass %v", f.Pass).Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Pipeline is the fixed pass order. Optional recoveries are gated on
// their setting inside the pass, so the list itself is static.
func Pipeline() []Pass {
	return []Pass{
		passFunc{name: "switch-on-string", run: switchOnString},
		passFunc{name: "control-flow-structuring", run: controlFlow},
		passFunc{name: "lock-statement", run: lockStatement},
		passFunc{name: "using-statement", run: usingStatement},
		passFunc{name: "foreach-statement", run: foreachStatement},
		passFunc{name: "null-propagation", run: nullPropagation},
		passFunc{name: "iterator-detection", run: iteratorDetection},
		passFunc{name: "async-detection", run: asyncDetection},
		passFunc{name: "expression-inlining", run: expressionInlining},
		passFunc{name: "copy-propagation", run: copyPropagation},
		passFunc{name: "string-concat", run: stringConcat},
		passFunc{name: "dead-variable-init", run: deadVariableInit},
		passFunc{name: "final-cleanup", run: finalCleanup},
	}
}

// Run applies the pipeline. The returned error is nil, a context
// error, or a *Failure naming the pass; Run leaves its At nil, so the
// offending instruction is not recorded.
func Run(ctx context.Context, fn *il.Function, c *Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	for _, p := range Pipeline() {
		if e := ctx.Err(); e != nil {
			return e
		}

		c.Steps = append(c.Steps, Step{Pass: p.Name(), From: loc.Caller(0)})
		tr.V("steps").Printw("pass", "name", p.Name())

		if e := runOne(ctx, p, fn, c); e != nil {
			if errs.IsCancelled(e) {
				return e
			}

			return &Failure{Pass: p.Name(), Err: e}
		}
	}

	return nil
}

func runOne(ctx context.Context, p Pass, fn *il.Function, c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrap(e, "pass panicked")
				return
			}

			err = errors.Wrap(errs.TransformFailure, "pass panicked: %v", r)
		}
	}()

	return p.Run(ctx, fn, c)
}

func controlFlow(ctx context.Context, fn *il.Function, c *Context) error {
	return cfg.Run(ctx, fn)
}

func finalCleanup(ctx context.Context, fn *il.Function, c *Context) error {
	if fn.Body() == nil {
		return nil
	}

	fn.Body().DescendantsAndSelf(func(i *il.Instruction) bool {
		if i.Op() == il.OpBlockContainer {
			i.SortBlocks(true)
		}

		return true
	})

	fn.RemoveDeadVariables()

	return nil
}

// forEachBlockLastToFirst drives the block-local rewrites: the index
// walks backward so a recognizer can consume several instructions
// without invalidating it.
func forEachBlockLastToFirst(fn *il.Function, rec func(b *il.Instruction, i int) bool) {
	if fn.Body() == nil {
		return
	}

	var blocks []*il.Instruction

	fn.Body().DescendantsAndSelf(func(n *il.Instruction) bool {
		if n.Op() == il.OpBlock {
			blocks = append(blocks, n)
		}

		return true
	})

	for _, b := range blocks {
		for i := b.NumChildren() - 1; i >= 0; i-- {
			if i >= b.NumChildren() {
				i = b.NumChildren() - 1

				if i < 0 {
					break
				}
			}

			rec(b, i)
		}
	}
}
