// brace CLI - runs brace rewriting programs and hosts the language server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	"golang.org/x/term"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/brace/manifest"
	"github.com/chazu/brace/server"
	"github.com/chazu/brace/vm"
	"github.com/chazu/brace/vm/trace"
)

const version = "0.1.0"

var log = commonlog.GetLogger("brace.cli")

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (0=errors only, higher is chattier)")
	expr := flag.String("e", "", "Run the given program text instead of a file")
	maxSteps := flag.Int("max-steps", -1, "Stop after this many rewrites (0 = unlimited)")
	noCycles := flag.Bool("no-cycle-check", false, "Do not stop when a rewrite repeats an earlier text")
	traceDB := flag.String("trace", "", "Record every step to this SQLite database")
	showTrace := flag.Bool("show-trace", false, "Print the last recorded run from the trace database and exit")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	noManifest := flag.Bool("no-manifest", false, "Ignore brace.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: brace [options] [program.br | -]\n\n")
		fmt.Fprintf(os.Stderr, "Rewrites the program until no scope remains and prints the result.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  brace hello.br                # Run a program\n")
		fmt.Fprintf(os.Stderr, "  brace -e '{ ab : (.)(.) : $2 $1 }'\n")
		fmt.Fprintf(os.Stderr, "  brace -trace run.db prog.br   # Record every step\n")
		fmt.Fprintf(os.Stderr, "  brace -trace run.db -show-trace\n")
		fmt.Fprintf(os.Stderr, "  brace -lsp                    # Language server for editors\n")
	}
	flag.Parse()

	m := manifest.Default()
	if !*noManifest {
		found, err := manifest.FindAndLoad(".")
		if err != nil {
			fatal(err)
		}
		if found != nil {
			m = found
		}
	}

	level := m.Log.Verbosity
	if *verbosity >= 0 {
		level = *verbosity
	}
	var logPath *string
	if p := m.LogFilePath(); p != "" {
		logPath = &p
	}
	if *lspMode && logPath == nil {
		// stdout carries the protocol and editors surface stderr noisily
		level = 0
	}
	commonlog.Configure(level, logPath)

	if *lspMode {
		if err := server.NewLSP(version).Run(); err != nil {
			fatal(err)
		}
		os.Exit(0)
	}

	if *maxSteps >= 0 {
		m.Run.MaxSteps = *maxSteps
	}
	if *noCycles {
		m.Run.DetectCycles = false
	}
	if *traceDB != "" {
		m.Trace.DB = *traceDB
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *showTrace {
		if err := printLastRun(ctx, m.TraceDBPath()); err != nil {
			fatal(err)
		}
		return
	}

	program, err := loadProgram(m, *expr, flag.Args())
	if err != nil {
		fatal(err)
	}

	final, err := run(ctx, m, program)
	if err != nil {
		log.Debugf("text at failure: %q", final)
		fatal(err)
	}
	fmt.Println(final)
}

// loadProgram picks the program text from -e, the command line, or the
// manifest entry, in that order.
func loadProgram(m *manifest.Manifest, expr string, args []string) (string, error) {
	switch {
	case expr != "":
		return expr, nil
	case len(args) > 1:
		return "", fmt.Errorf("expected one program, got %d", len(args))
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("cannot read program from stdin: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return m.ProgramText(args[0])
	case m.EntryPath() != "":
		return m.ProgramText(m.EntryPath())
	}
	flag.Usage()
	os.Exit(2)
	return "", nil
}

func run(ctx context.Context, m *manifest.Manifest, program string) (string, error) {
	opts := []vm.Option{
		vm.WithMaxSteps(m.Run.MaxSteps),
		vm.WithCycleDetection(m.Run.DetectCycles),
		vm.WithCompactRatio(m.Run.CompactThreshold),
		vm.WithPrinter(vm.NewWriterPrinter(os.Stdout)),
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompter := vm.NewLinerPrompter()
		defer prompter.Close()
		opts = append(opts, vm.WithPrompter(prompter))
	} else {
		opts = append(opts, vm.WithPrompter(vm.NewLinePrompter(os.Stdin, os.Stdout)))
	}

	if path := m.TraceDBPath(); path != "" {
		store, err := trace.Open(path)
		if err != nil {
			return "", err
		}
		defer store.Close()
		runID, err := store.BeginRun(ctx, program)
		if err != nil {
			return "", err
		}
		log.Infof("recording run %d to %s", runID, path)
		opts = append(opts, vm.WithRecorder(store))
	}

	return vm.NewInterpreter(program, opts...).Run(ctx)
}

func printLastRun(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("-show-trace needs a trace database (-trace or [trace] db)")
	}
	store, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("no runs recorded in %s", path)
	}
	last := runs[len(runs)-1]
	steps, err := store.Steps(ctx, last.ID)
	if err != nil {
		return err
	}
	return trace.WriteReport(os.Stdout, last, steps)
}

func fatal(err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
	os.Exit(1)
}
