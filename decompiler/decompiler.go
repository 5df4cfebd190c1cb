// Package decompiler ties the core together: metadata view in, IL
// trees built, the transform pipeline applied, surface AST out.
package decompiler

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/unbolt/unbolt/decompiler/ast"
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/meta"
	"github.com/unbolt/unbolt/decompiler/settings"
	"github.com/unbolt/unbolt/decompiler/transform"
	"github.com/unbolt/unbolt/decompiler/ts"
)

type (
	Decompiler struct {
		TS       *ts.TypeSystem
		Settings *settings.Settings
		Debug    meta.DebugInfoProvider

		// Workers caps the per-module fan-out; 0 means GOMAXPROCS.
		Workers int
	}

	// Result is the per-method outcome. Err is set when the method
	// failed; the caller renders a placeholder and the rest of the
	// module still decompiles.
	Result struct {
		Method   meta.Handle
		Name     string
		Function *il.Function
		AST      *ast.BlockStmt
		Steps    []transform.Step

		Err error
	}
)

func New(reader meta.Reader, s *settings.Settings) *Decompiler {
	if s == nil {
		s = settings.Default()
	}

	return &Decompiler{TS: ts.New(reader), Settings: s}
}

// DecompileMethod runs the full pipeline over one method body.
func (d *Decompiler) DecompileMethod(ctx context.Context, method meta.Handle) Result {
	res := Result{Method: method}

	row := d.TS.Reader().MethodDef(method)
	res.Name = row.Name

	bd := &il.Builder{TS: d.TS, Debug: d.Debug}

	fn, err := bd.Build(method)
	if err != nil {
		res.Err = errors.Wrap(err, "build il")
		return res
	}

	res.Function = fn

	tc := &transform.Context{TS: d.TS, Settings: d.Settings}

	if err := transform.Run(ctx, fn, tc); err != nil {
		res.Err = err
		res.Steps = tc.Steps

		return res
	}

	res.Steps = tc.Steps
	res.AST = ast.Translate(fn)

	return res
}

// DecompileModule decompiles every method, fanning out across workers.
// Methods have disjoint trees; the shared type-system view is safe for
// concurrent readers. Results come back in method order so output is
// deterministic.
func (d *Decompiler) DecompileModule(ctx context.Context) ([]Result, error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "decompile module", "assembly", d.TS.Assembly().Name)

	var err error
	defer tr.Finish("err", &err)

	var methods []meta.Handle

	for _, th := range d.TS.Reader().TypeDefs() {
		methods = append(methods, d.TS.Reader().TypeDef(th).Methods...)
	}

	workers := d.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(methods))

	var wg sync.WaitGroup

	jobs := make(chan int)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for n := range jobs {
				results[n] = d.DecompileMethod(ctx, methods[n])
			}
		}()
	}

dispatch:
	for n := range methods {
		select {
		case jobs <- n:
		case <-ctx.Done():
			break dispatch
		}
	}

	close(jobs)
	wg.Wait()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return lessHandle(results[i].Method, results[j].Method)
	})

	return results, nil
}

func lessHandle(a, b meta.Handle) bool {
	if a.Table != b.Table {
		return a.Table < b.Table
	}

	return a.Row < b.Row
}
