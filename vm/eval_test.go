package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/brace/compiler"
)

// scriptedPrompter answers prompts from a fixed list.
type scriptedPrompter struct {
	answers []string
	prompts []string
}

func (p *scriptedPrompter) Prompt(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.answers) == 0 {
		return "", errors.New("no more input")
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

type recordingPrinter struct {
	messages []string
}

func (p *recordingPrinter) Print(message string) error {
	p.messages = append(p.messages, message)
	return nil
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(NewFunctionTable(), NewRegisters())
}

func evalRegion(t *testing.T, e *Evaluator, region string) string {
	t.Helper()
	out, _, err := e.EvalRegion(context.Background(), region)
	if err != nil {
		t.Fatalf("EvalRegion(%q): %v", region, err)
	}
	return out
}

func TestEvalBareScope(t *testing.T) {
	tests := []struct {
		region string
		want   string
	}{
		{"{ abc : b : X }", "X"},
		{"{ abc : b(.) : got $1 }", "got c"},
		{`{ hello world : (\\w+) (\\w+) : $2  $1 }`, "world hello"},
		{"{ a : a(b)? : [$1 ] }", "[]"},
		{"{ x : x : }", ""},
	}

	for _, tc := range tests {
		e := newTestEvaluator()
		if got := evalRegion(t, e, tc.region); got != tc.want {
			t.Errorf("EvalRegion(%q) = %q, want %q", tc.region, got, tc.want)
		}
	}
}

func TestEvalDefinitionProducesNothing(t *testing.T) {
	e := newTestEvaluator()
	if got := evalRegion(t, e, "def f { $0 : a : X ; $0 : b : Y }"); got != "" {
		t.Errorf("definition rewrote to %q, want empty", got)
	}
	fn, ok := e.Functions.Lookup("f")
	if !ok {
		t.Fatal("f not defined")
	}
	if fn.Global {
		t.Error("def produced a global function")
	}
	if len(fn.Arms) != 2 {
		t.Fatalf("f has %d arms, want 2", len(fn.Arms))
	}
	if fn.Arms[0].re == nil {
		t.Error("static pattern was not compiled up front")
	}

	evalRegion(t, e, "*def g { $0 : .* : G ; }")
	fn, ok = e.Functions.Lookup("g")
	if !ok || !fn.Global || len(fn.Arms) != 1 {
		t.Errorf("g = %+v, want one global arm", fn)
	}
}

func TestEvalArmOrder(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "def f { $0 : a : X ; $0 : b : Y ; $0 : .* : Z }")

	tests := []struct {
		call string
		want string
	}{
		{"f{ a }", "X"},
		{"f{ b }", "Y"},
		{"f{ ab }", "X"},
		{"f{ c }", "Z"},
	}
	for _, tc := range tests {
		if got := evalRegion(t, e, tc.call); got != tc.want {
			t.Errorf("%s = %q, want %q", tc.call, got, tc.want)
		}
	}
}

func TestEvalUnknownFunction(t *testing.T) {
	e := newTestEvaluator()
	_, _, err := e.EvalRegion(context.Background(), "undefined_fn{ x }")
	if !errors.Is(err, ErrUnknownFunction) || !errors.Is(err, ErrEvaluation) {
		t.Fatalf("error = %v, want ErrUnknownFunction", err)
	}
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Function != "undefined_fn" {
		t.Errorf("error = %#v, want function undefined_fn", err)
	}
}

func TestEvalNoArmMatched(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "def f { $0 : a : X }")
	_, _, err := e.EvalRegion(context.Background(), "f{ zzz }")
	if !errors.Is(err, ErrNoArmMatched) {
		t.Fatalf("error = %v, want ErrNoArmMatched", err)
	}
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Function != "f" || evalErr.Detail != "zzz" {
		t.Errorf("error = %v, want function f and detail zzz", err)
	}
}

func TestEvalNestedBeforeOuter(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "def inner { $0 : x : y }")
	evalRegion(t, e, "def outer { $0 : ^y : saw_y ; $0 : .* : saw_other }")

	if got := evalRegion(t, e, "outer{ inner{ x } }"); got != "saw_y" {
		t.Errorf("outer{ inner{ x } } = %q, want saw_y", got)
	}
}

func TestEvalRegisterDepth(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "def g { $0 : b(.) : [^$0 |$1 ] }")
	if got := evalRegion(t, e, "g{ abc }"); got != "[abc|c]" {
		t.Errorf("g{ abc } = %q, want [abc|c]", got)
	}

	evalRegion(t, e, "def h { $0 : .* : ^^^$0 }")
	_, _, err := e.EvalRegion(context.Background(), "h{ a }")
	if !errors.Is(err, ErrUnboundRegister) {
		t.Errorf("too deep reference error = %v, want ErrUnboundRegister", err)
	}

	evalRegion(t, e, "def k { $0 : .* : $4 }")
	_, _, err = e.EvalRegion(context.Background(), "k{ a }")
	if !errors.Is(err, ErrUnboundRegister) {
		t.Errorf("missing slot error = %v, want ErrUnboundRegister", err)
	}
}

func TestEvalSyntheticFrames(t *testing.T) {
	e := newTestEvaluator()
	e.Registers.Push(Frame{"outer"})
	if got := evalRegion(t, e, "{ $0 : .* : got_$0 }"); got != "got_outer" {
		t.Errorf("got %q, want got_outer", got)
	}
	if e.Registers.Height() != 2 {
		t.Errorf("register height = %d after evaluation, want 2", e.Registers.Height())
	}
}

func TestEvalPromptBuiltin(t *testing.T) {
	e := newTestEvaluator()
	prompter := &scriptedPrompter{answers: []string{"Ann"}}
	e.Prompter = prompter

	if got := evalRegion(t, e, "{ get_input(Name: ) : (.+) : Hello_$1 }"); got != "Hello_Ann" {
		t.Errorf("got %q, want Hello_Ann", got)
	}
	if len(prompter.prompts) != 1 || prompter.prompts[0] != "Name: " {
		t.Errorf("prompts = %q, want [Name: ]", prompter.prompts)
	}

	_, _, err := e.EvalRegion(context.Background(), "{ get_input(again) : .* : x }")
	if !errors.Is(err, ErrPrompt) {
		t.Errorf("exhausted prompt error = %v, want ErrPrompt", err)
	}
}

func TestEvalPrintBuiltin(t *testing.T) {
	e := newTestEvaluator()
	printer := &recordingPrinter{}
	e.Printer = printer

	if got := evalRegion(t, e, "{ x : (x) : print(matched $1)done }"); got != "done" {
		t.Errorf("got %q, want done", got)
	}
	evalRegion(t, e, "def id { $0 : .* : $0 }")
	if got := evalRegion(t, e, "id{ print(side) v }"); got != "v" {
		t.Errorf("id{ print(side) v } = %q, want v", got)
	}
	want := []string{"matched x", "side"}
	if len(printer.messages) != len(want) {
		t.Fatalf("printed %q, want %q", printer.messages, want)
	}
	for i := range want {
		if printer.messages[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, printer.messages[i], want[i])
		}
	}
}

func TestEvalPrintInNestedTemplateIsDeferred(t *testing.T) {
	e := newTestEvaluator()
	printer := &recordingPrinter{}
	e.Printer = printer

	got := evalRegion(t, e, "{ x : x : { print(later) y : y : z } }")
	if got != "{ print(later) y : y : z }" {
		t.Errorf("got %q", got)
	}
	if len(printer.messages) != 0 {
		t.Errorf("nested print ran early: %q", printer.messages)
	}
}

func TestEvalErrorBuiltin(t *testing.T) {
	e := newTestEvaluator()
	_, _, err := e.EvalRegion(context.Background(), "{ x : (x) : error(boom $1) }")
	if !errors.Is(err, ErrRaised) {
		t.Fatalf("error = %v, want ErrRaised", err)
	}
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Detail != "boom x" {
		t.Errorf("raised detail = %v, want boom x", err)
	}

	_, _, err = e.EvalRegion(context.Background(), "{ error(early) : x : y }")
	if !errors.Is(err, ErrRaised) {
		t.Errorf("error in input = %v, want ErrRaised", err)
	}
}

func TestEvalLocalDefinitionScoping(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "*def wrap { $0 : .* : <$0 > }")

	got := evalRegion(t, e, "wrap{ def tmp { $0 : .* : T } tmp{ q } }")
	if got != "<T>" {
		t.Errorf("got %q, want <T>", got)
	}
	if _, ok := e.Functions.Lookup("tmp"); ok {
		t.Error("local definition leaked out of its scope")
	}

	evalRegion(t, e, "def top { $0 : .* : TOP }")
	if _, ok := e.Functions.Lookup("top"); !ok {
		t.Error("top level definition not visible")
	}
}

func TestEvalGlobalDefinitionInsideCall(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "*def wrap { $0 : .* : $0 }")
	evalRegion(t, e, "wrap{ *def keep { $0 : .* : K } }")
	if _, ok := e.Functions.Lookup("keep"); !ok {
		t.Error("global definition inside a call is not visible afterwards")
	}
}

func TestEvalNestedDefinitionKeepsRegisters(t *testing.T) {
	e := newTestEvaluator()
	got := evalRegion(t, e, "{ v : (v) : def mk { $0 : .+ : $1 } }")
	if got != "def mk { $0 : .+ : $1 }" {
		t.Errorf("got %q", got)
	}
}

func TestEvalMalformed(t *testing.T) {
	tests := []struct {
		region string
		want   error
	}{
		{"{ no colon here }", ErrMalformedArm},
		{"{ a : b }", ErrMalformedArm},
		{"{ a : b : c : d }", ErrMalformedArm},
		{"def f { a : b }", ErrMalformedArm},
		{"{ a : ( : c }", ErrInvalidPattern},
		{"def f { $0 : ( : c }", ErrInvalidPattern},
		{"{ a : a : b } x", ErrMalformedScope},
		{"plain", ErrMalformedScope},
	}

	for _, tc := range tests {
		e := newTestEvaluator()
		_, _, err := e.EvalRegion(context.Background(), tc.region)
		if !errors.Is(err, tc.want) {
			t.Errorf("EvalRegion(%q) error = %v, want %v", tc.region, err, tc.want)
		}
	}
}

func TestEvalLexErrorSurfaces(t *testing.T) {
	e := newTestEvaluator()
	_, _, err := e.EvalRegion(context.Background(), "{ $x : a : b }")
	if !errors.Is(err, compiler.ErrInvalidRegisterIndexChar) {
		t.Errorf("error = %v, want ErrInvalidRegisterIndexChar", err)
	}
}

func TestEvalCompaction(t *testing.T) {
	e := newTestEvaluator()
	e.CompactRatio = 0.01
	evalRegion(t, e, "def id { $0 : .* : $0 }")

	got := evalRegion(t, e, "id{ id{ a } id{ b } id{ c } id{ d } }")
	if got != "a b c d" {
		t.Errorf("got %q, want a b c d", got)
	}
}

func TestEvalCancelled(t *testing.T) {
	e := newTestEvaluator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := e.EvalRegion(ctx, "{ a : a : b }")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEvalHeadToken(t *testing.T) {
	e := newTestEvaluator()
	_, head, err := e.EvalRegion(context.Background(), "*def f { $0 : a : b }")
	if err != nil {
		t.Fatal(err)
	}
	if head != compiler.DefToken("f", true) {
		t.Errorf("head = %v, want *DEF(f)", head)
	}
}

func TestEvalCapturedTextStaysLiteral(t *testing.T) {
	e := newTestEvaluator()
	evalRegion(t, e, "*def wrap { $0 : (.*) : { $1  : b : ok } }")

	tests := []struct {
		call string
		want string
	}{
		{"wrap{ a:b }", `{ a\:b : b : ok }`},
		{`wrap{ a\}b }`, `{ a\}b : b : ok }`},
		{"wrap{ x;b }", `{ x\;b : b : ok }`},
		{`wrap{ def\ b }`, `{ def\ b : b : ok }`},
	}

	for _, tc := range tests {
		got := evalRegion(t, e, tc.call)
		if got != tc.want {
			t.Errorf("%s = %q, want %q", tc.call, got, tc.want)
			continue
		}
		if again := evalRegion(t, e, got); again != "ok" {
			t.Errorf("%s rewrote again to %q, want ok", got, again)
		}
	}
}

func TestEvalTopLevelRegisterIsRaw(t *testing.T) {
	e := newTestEvaluator()
	if got := evalRegion(t, e, `{ a\:b : (.*) : [$1 ] }`); got != "[a:b]" {
		t.Errorf("got %q, want [a:b]", got)
	}
}
