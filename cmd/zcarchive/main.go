// zcarchive builds, validates and inspects zero-copy archives.
//
//	zcarchive build [--schema s.yaml] [--batch] [--raw] -o out.zcaf doc.json...
//	zcarchive validate [--schema s.yaml] file
//	zcarchive dump [--schema s.yaml] file
//	zcarchive stat file
//
// Framed files (.zcaf) carry their schema; raw archives need --schema unless
// they hold schemaless documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type command struct {
	name  string
	usage string
	run   func(env *env, args []string) error
}

// env is what a command runs with once flags and config are resolved.
type env struct {
	ctx    context.Context
	cfg    config
	log    zerolog.Logger
	stdout io.Writer
	opts   cmdFlags
}

// cmdFlags holds the flags specific to one command.
type cmdFlags struct {
	schema string
	out    string
	batch  bool
	raw    bool
}

var commands = []command{
	{
		name:  "build",
		usage: "build [flags] input...\n  archive JSON (.json) or CBOR (.cbor) documents",
		run:   runBuild,
	},
	{
		name:  "validate",
		usage: "validate [flags] file\n  validate every archive in a framed or raw file",
		run:   runValidate,
	},
	{
		name:  "dump",
		usage: "dump [flags] file\n  print every document as one JSON line",
		run:   runDump,
	},
	{
		name:  "stat",
		usage: "stat [flags] file\n  describe frames and archive headers",
		run:   runStat,
	},
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "zcarchive: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) (err error) {
	if len(args) == 0 {
		printUsage(stderr)
		return pflag.ErrHelp
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := pflag.NewFlagSet("zcarchive "+cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globalFlags
	var cf cmdFlags
	g.register(fs)
	fs.StringVarP(&cf.schema, "schema", "s", "", "YAML schema (default: schemaless documents)")
	if cmd.name == "build" {
		fs.StringVarP(&cf.out, "out", "o", "", "output file")
		fs.BoolVar(&cf.batch, "batch", false, "put all inputs in one batch archive")
		fs.BoolVar(&cf.raw, "raw", false, "write a single unframed archive")
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: zcarchive %s\n\nflags:\n%s", cmd.usage, fs.FlagUsages())
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := g.resolve(fs)
	if err != nil {
		return err
	}

	if g.cpuProf != "" {
		f, err := os.Create(g.cpuProf)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}
	if g.memProf != "" {
		defer func() {
			if perr := writeHeapProfile(g.memProf); perr != nil && err == nil {
				err = perr
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	e := &env{ctx: ctx, cfg: cfg, log: newLogger(cfg, stderr), stdout: stdout, opts: cf}
	return cmd.run(e, fs.Args())
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: zcarchive <command> [flags] args")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}
