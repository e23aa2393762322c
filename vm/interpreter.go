package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/fasthash/fnv1a"

	"github.com/chazu/brace/compiler"
)

// ---------------------------------------------------------------------------
// Interpreter: the fixpoint driver
// ---------------------------------------------------------------------------

// StepRecord describes one completed rewrite.
type StepRecord struct {
	Step        int
	Offset      int
	Head        compiler.TokenKind
	Name        string
	Region      string
	Replacement string
	Text        string
	Elapsed     time.Duration
}

// Recorder observes every rewrite step.
type Recorder interface {
	Record(ctx context.Context, rec StepRecord) error
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMaxSteps fails the run with ErrStepLimit once more than n rewrites
// would be needed. Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(in *Interpreter) { in.maxSteps = n }
}

// WithCycleDetection fails the run with ErrRewriteCycle when the program text
// returns to an earlier state.
func WithCycleDetection(on bool) Option {
	return func(in *Interpreter) { in.detectCycles = on }
}

// WithRecorder reports every step to r.
func WithRecorder(r Recorder) Option {
	return func(in *Interpreter) { in.recorder = r }
}

// WithPrompter sets the input source for get_input(...).
func WithPrompter(p Prompter) Option {
	return func(in *Interpreter) { in.eval.Prompter = p }
}

// WithPrinter sets the sink for print(...).
func WithPrinter(p Printer) Option {
	return func(in *Interpreter) { in.eval.Printer = p }
}

// WithCompactRatio sets the dead/live ratio that triggers arena compaction.
func WithCompactRatio(r float64) Option {
	return func(in *Interpreter) { in.eval.CompactRatio = r }
}

// Interpreter owns the state of one program run: the live text, the
// function table, the register frames and the scan cursor.
type Interpreter struct {
	text      *Buffer
	cursor    int
	steps     int
	functions *FunctionTable
	registers *Registers
	eval      *Evaluator

	maxSteps     int
	detectCycles bool
	seen         map[uint64]struct{}
	recorder     Recorder
}

// NewInterpreter creates an interpreter for program.
func NewInterpreter(program string, opts ...Option) *Interpreter {
	functions := NewFunctionTable()
	registers := NewRegisters()
	in := &Interpreter{
		text:      NewBuffer(program),
		functions: functions,
		registers: registers,
		eval:      NewEvaluator(functions, registers),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.detectCycles {
		in.seen = map[uint64]struct{}{fnv1a.HashString64(program): {}}
	}
	return in
}

// Text returns the current program text.
func (in *Interpreter) Text() string { return in.text.String() }

// Steps returns the number of rewrites performed so far.
func (in *Interpreter) Steps() int { return in.steps }

// Functions returns the function table.
func (in *Interpreter) Functions() *FunctionTable { return in.functions }

// Run rewrites until no scope remains or a step changes nothing, and returns
// the final text.
func (in *Interpreter) Run(ctx context.Context) (string, error) {
	log.Infof("run started: %d characters", in.text.Len())
	for {
		more, err := in.Step(ctx)
		if err != nil {
			log.Errorf("run failed after %d steps: %s", in.steps, err.Error())
			return in.Text(), err
		}
		if !more {
			break
		}
	}
	log.Infof("run finished after %d steps", in.steps)
	return in.Text(), nil
}

// Step performs one rewrite. It returns false once the fixpoint is reached.
func (in *Interpreter) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	span, found, err := FindNextScope(in.text, in.cursor)
	if err != nil {
		var scopeErr *ScopeError
		if errors.Is(err, ErrClosingBeforeOpening) && errors.As(err, &scopeErr) &&
			!HasOpenBrace(in.text, scopeErr.Offset+1) {
			log.Debugf("stray closing brace at %d ends the run", scopeErr.Offset)
			return false, nil
		}
		return false, err
	}
	if !found {
		return false, nil
	}
	if in.maxSteps > 0 && in.steps >= in.maxSteps {
		return false, &EvalError{Err: ErrStepLimit, Detail: stepDetail(in.maxSteps)}
	}

	start := ScopeHead(in.text, span.Open)
	region := in.text.Slice(start, span.Close+1)

	began := time.Now()
	prompts := in.eval.prompts
	replacement, head, err := in.eval.EvalRegion(ctx, region)
	if err != nil {
		return false, &RegionError{Err: err, Offset: start, Region: region}
	}
	if replacement == region {
		log.Debugf("region at %d rewrote to itself", start)
		return false, nil
	}
	if err := in.text.Splice(start, span.Close+1, replacement); err != nil {
		return false, err
	}
	in.cursor = start
	in.steps++
	log.Debugf("step %d: %s at %d, %d -> %d characters", in.steps, head.Kind, start, len(region), len(replacement))

	if in.recorder != nil {
		rec := StepRecord{
			Step:        in.steps,
			Offset:      start,
			Head:        head.Kind,
			Name:        head.Text,
			Region:      region,
			Replacement: replacement,
			Text:        in.text.String(),
			Elapsed:     time.Since(began),
		}
		if err := in.recorder.Record(ctx, rec); err != nil {
			return false, err
		}
	}

	if in.detectCycles {
		sum := fnv1a.HashString64(in.text.String())
		if in.eval.prompts != prompts {
			// new input can lead a repeated text somewhere else
			in.seen = map[uint64]struct{}{sum: {}}
			return true, nil
		}
		if _, ok := in.seen[sum]; ok {
			return false, &EvalError{Err: ErrRewriteCycle, Detail: stepDetail(in.steps)}
		}
		in.seen[sum] = struct{}{}
	}
	return true, nil
}

func stepDetail(n int) string {
	if n == 1 {
		return "after 1 step"
	}
	return fmt.Sprintf("after %d steps", n)
}
