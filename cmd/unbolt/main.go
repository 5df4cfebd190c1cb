package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/unbolt/unbolt/decompiler"
	"github.com/unbolt/unbolt/decompiler/fixture"
	"github.com/unbolt/unbolt/decompiler/il"
	"github.com/unbolt/unbolt/decompiler/settings"
	"github.com/unbolt/unbolt/decompiler/ts"
)

func main() {
	decompileCmd := &cli.Command{
		Name:        "decompile",
		Description: "run the transform pipeline over the demo module and dump the recovered trees",
		Action:      decompileAct,
		Args:        cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "dump raw il trees without running the pipeline",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "unbolt",
		Description: "unbolt reconstructs high-level constructs from managed bytecode",
		Commands: []*cli.Command{
			decompileCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func loadSettings(c *cli.Command) (*settings.Settings, error) {
	if len(c.Args) == 0 {
		return settings.Default(), nil
	}

	s, err := settings.Load(c.Args[0])
	if err != nil {
		return nil, errors.Wrap(err, "settings %v", c.Args[0])
	}

	return s, nil
}

func decompileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	s, err := loadSettings(c)
	if err != nil {
		return err
	}

	mod := fixture.New()
	d := decompiler.New(mod.Reader, s)

	results, err := d.DecompileModule(ctx)
	if err != nil {
		return errors.Wrap(err, "decompile module")
	}

	head := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed)

	for _, res := range results {
		head.Printf("// %s\n", res.Name)

		if res.Err != nil {
			fail.Printf("// <decompilation failed: %v>\n\n", res.Err)
			continue
		}

		fmt.Printf("%s\n", res.Function.Dump())
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	mod := fixture.New()
	bd := &il.Builder{TS: ts.New(mod.Reader)}

	for _, th := range mod.Reader.TypeDefs() {
		for _, mh := range mod.Reader.TypeDef(th).Methods {
			row := mod.Reader.MethodDef(mh)

			fmt.Printf("// %s\n", row.Name)

			fn, err := bd.Build(mh)
			if err != nil {
				color.Red("// <failed: %v>", err)
				continue
			}

			fmt.Printf("%s\n", fn.Dump())
		}
	}

	return nil
}
