package vm

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/brace/compiler"
)

var log = commonlog.GetLogger("brace.vm")

// ---------------------------------------------------------------------------
// Evaluator: rewrites one scope
// ---------------------------------------------------------------------------

// Evaluator rewrites a single scope against the function table and register
// frames it was given. Nested scopes inside a call argument or a bare scope's
// input are rewritten first, innermost first, and folded back into the token
// list as literal characters.
type Evaluator struct {
	Functions *FunctionTable
	Registers *Registers
	Prompter  Prompter
	Printer   Printer

	// CompactRatio triggers arena compaction once dead nodes outnumber live
	// nodes by this factor. Zero or less disables compaction.
	CompactRatio float64

	nesting int
	prompts int // answers read so far
}

// NewEvaluator creates an evaluator over the given state. It prints nothing
// and fails every prompt until Prompter and Printer are set.
func NewEvaluator(functions *FunctionTable, registers *Registers) *Evaluator {
	return &Evaluator{
		Functions:    functions,
		Registers:    registers,
		Prompter:     noPrompter{},
		Printer:      discardPrinter{},
		CompactRatio: 1,
	}
}

// EvalRegion tokenizes region, which must hold exactly one scope, and
// returns the replacement text along with the scope's head token.
func (e *Evaluator) EvalRegion(ctx context.Context, region string) (string, compiler.Token, error) {
	lt, err := compiler.Tokenize(region)
	if err != nil {
		return "", compiler.Token{}, err
	}
	var head compiler.Token
	if first, ok := lt.Next(0); ok {
		head = lt.Token(first)
	}
	out, err := e.Eval(ctx, lt)
	return out, head, err
}

// Eval evaluates a token list holding exactly one scope.
func (e *Evaluator) Eval(ctx context.Context, lt *compiler.LinkedTokens) (string, error) {
	head, ok := lt.Next(0)
	if !ok || !lt.Token(head).IsHead() {
		return "", &EvalError{Err: ErrMalformedScope, Detail: lt.String()}
	}
	end, err := matchingEnd(lt, head)
	if err != nil {
		return "", err
	}
	if _, more := lt.Next(end); more {
		return "", &EvalError{Err: ErrMalformedScope, Detail: lt.String()}
	}
	return e.evalScope(ctx, lt, head, end)
}

func (e *Evaluator) evalScope(ctx context.Context, lt *compiler.LinkedTokens, head, end int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok := lt.Token(head)
	switch tok.Kind {
	case compiler.TokenDef, compiler.TokenGlobalDef:
		return "", e.define(tok, between(lt, head, end))
	case compiler.TokenCall:
		out, err := e.call(ctx, lt, head, end, tok.Text)
		return out, inFunction(err, tok.Text)
	default:
		return e.bare(ctx, lt, head, end)
	}
}

// define compiles the arms of a definition body and registers the function.
func (e *Evaluator) define(head compiler.Token, body []compiler.Token) error {
	fn := &Function{Name: head.Text, Global: head.Kind == compiler.TokenGlobalDef}
	for _, section := range splitTop(body, compiler.TokenNewArm) {
		section = trimSpace(section)
		if len(section) == 0 {
			continue
		}
		arm, err := newArm(section)
		if err != nil {
			return inFunction(err, fn.Name)
		}
		if isStatic(arm.Pattern) {
			re, err := compilePattern(surface(arm.Pattern))
			if err != nil {
				return inFunction(err, fn.Name)
			}
			arm.re = re
		}
		fn.Arms = append(fn.Arms, arm)
	}
	e.Functions.Define(fn)
	log.Debugf("defined %s with %d arms (global=%t)", fn.Name, len(fn.Arms), fn.Global)
	return nil
}

func (e *Evaluator) call(ctx context.Context, lt *compiler.LinkedTokens, head, end int, name string) (string, error) {
	fn, ok := e.Functions.Lookup(name)
	if !ok {
		return "", &EvalError{Err: ErrUnknownFunction, Function: name}
	}

	e.Functions.PushScope()
	defer e.Functions.PopScope()

	head, err := e.reduce(ctx, lt, head, end)
	if err != nil {
		return "", err
	}
	end, err = matchingEnd(lt, head)
	if err != nil {
		return "", err
	}
	arg, err := e.render(ctx, trimSpace(between(lt, head, end)))
	if err != nil {
		return "", err
	}

	e.Registers.Push(Frame{arg})
	defer e.Registers.Pop()
	return e.apply(ctx, fn.Name, fn.Arms)
}

// bare evaluates { input : pattern : output } as a single arm.
func (e *Evaluator) bare(ctx context.Context, lt *compiler.LinkedTokens, head, end int) (string, error) {
	colon, ok := topLevel(lt, head, end, compiler.TokenColon)
	if !ok {
		return "", &EvalError{Err: ErrMalformedArm, Detail: surface(between(lt, head, end))}
	}

	e.Functions.PushScope()
	defer e.Functions.PopScope()

	head, err := e.reduce(ctx, lt, head, colon)
	if err != nil {
		return "", err
	}
	end, err = matchingEnd(lt, head)
	if err != nil {
		return "", err
	}
	arm, err := newArm(between(lt, head, end))
	if err != nil {
		return "", err
	}
	return e.apply(ctx, "", []Arm{arm})
}

// reduce rewrites every nested scope and built-in strictly between from and
// to, folding the results back in as literal characters. It returns the
// index of from, which changes when the arena is compacted.
func (e *Evaluator) reduce(ctx context.Context, lt *compiler.LinkedTokens, from, to int) (int, error) {
	e.nesting++
	defer func() { e.nesting-- }()

	prev := from
	for {
		cur, ok := lt.Next(prev)
		if !ok || cur == to {
			return from, nil
		}
		tok := lt.Token(cur)

		switch {
		case tok.IsHead():
			end, err := matchingEnd(lt, cur)
			if err != nil {
				return from, err
			}
			res, err := e.evalScope(ctx, lt, cur, end)
			if err != nil {
				return from, err
			}
			after, _ := lt.Next(end)
			if err := lt.RemoveBetween(prev, after); err != nil {
				return from, err
			}
			if prev, err = fold(lt, prev, res); err != nil {
				return from, err
			}

		case tok.Kind == compiler.TokenGetInput:
			answer, err := e.prompt(ctx, tok.Text)
			if err != nil {
				return from, err
			}
			if err := lt.RemoveRange(prev, 1); err != nil {
				return from, err
			}
			if prev, err = fold(lt, prev, answer); err != nil {
				return from, err
			}

		case tok.Kind == compiler.TokenPrint:
			if err := e.print(tok.Text); err != nil {
				return from, err
			}
			if err := lt.RemoveRange(prev, 1); err != nil {
				return from, err
			}

		case tok.Kind == compiler.TokenError:
			return from, e.raise(tok.Text)

		default:
			prev = cur
			continue
		}

		if e.nesting == 1 {
			e.compact(lt, &prev, &from, &to)
		}
	}
}

// fold inserts text after prev as literal characters and returns the index
// of the last inserted node.
func fold(lt *compiler.LinkedTokens, prev int, text string) (int, error) {
	if text == "" {
		return prev, nil
	}
	if err := lt.InsertAfter(prev, compiler.TextTokens(text)); err != nil {
		return prev, err
	}
	return lt.Len() - 1, nil
}

// compact rebuilds the arena when it holds too many dead nodes, remapping
// the given indices to their new positions.
func (e *Evaluator) compact(lt *compiler.LinkedTokens, indices ...*int) {
	if e.CompactRatio <= 0 {
		return
	}
	live := lt.Live()
	dead := lt.Len() - 1 - live
	if float64(dead) <= float64(live)*e.CompactRatio {
		return
	}

	// after compaction a node's index is its position in logical order
	position := make(map[int]int, live)
	n := 0
	for i := range lt.All() {
		n++
		position[i] = n
	}
	lt.Compact()
	for _, p := range indices {
		*p = position[*p]
	}
	log.Debugf("compacted token arena: dropped %d dead nodes, %d live", dead, live)
}

// apply tries each arm in order; the first whose pattern matches its input
// produces the output.
func (e *Evaluator) apply(ctx context.Context, name string, arms []Arm) (string, error) {
	var input string
	for i := range arms {
		arm := &arms[i]

		var err error
		input, err = e.render(ctx, arm.Input)
		if err != nil {
			return "", err
		}
		re := arm.re
		if re == nil {
			src, err := e.render(ctx, arm.Pattern)
			if err != nil {
				return "", err
			}
			if re, err = compilePattern(src); err != nil {
				return "", err
			}
		}

		match := re.FindStringSubmatch(input)
		if match == nil {
			continue
		}
		log.Debugf("arm %d of %q matched %q", i, name, input)

		e.Registers.Push(Frame(match))
		out, err := e.render(ctx, arm.Output)
		e.Registers.Pop()
		return out, err
	}
	return "", &EvalError{Err: ErrNoArmMatched, Function: name, Detail: input}
}

// render turns a template into text. Registers are substituted except inside
// nested definitions, whose registers belong to their own calls. Built-ins
// run only at the top level of the template; nested scopes are rendered back
// to source so that later steps rewrite them.
func (e *Evaluator) render(ctx context.Context, tokens []compiler.Token) (string, error) {
	var b strings.Builder
	nest := 0
	defAt := 0

	for _, t := range tokens {
		switch {
		case t.IsHead():
			b.WriteString(t.Surface())
			nest++
			if defAt == 0 && (t.Kind == compiler.TokenDef || t.Kind == compiler.TokenGlobalDef) {
				defAt = nest
			}

		case t.Kind == compiler.TokenScopeEnd:
			b.WriteString(t.Surface())
			if nest == defAt {
				defAt = 0
			}
			if nest > 0 {
				nest--
			}

		case t.Kind == compiler.TokenRegister:
			if defAt != 0 {
				b.WriteString(t.Surface())
				continue
			}
			v, err := e.Registers.Lookup(t.Depth, t.Index)
			if err != nil {
				return "", err
			}
			if nest > 0 {
				// captured text stays literal when the scope is lexed again
				v = compiler.EscapeText(v)
			}
			b.WriteString(v)

		case t.IsBuiltin():
			if nest > 0 {
				b.WriteString(t.Surface())
				continue
			}
			switch t.Kind {
			case compiler.TokenGetInput:
				answer, err := e.prompt(ctx, t.Text)
				if err != nil {
					return "", err
				}
				b.WriteString(answer)
			case compiler.TokenPrint:
				if err := e.print(t.Text); err != nil {
					return "", err
				}
			case compiler.TokenError:
				return "", e.raise(t.Text)
			}

		case t.Kind == compiler.TokenWhitespace:
			b.WriteByte(' ')

		case nest > 0:
			b.WriteString(t.Literal())

		default:
			b.WriteString(t.Surface())
		}
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// Built-ins
// ---------------------------------------------------------------------------

func (e *Evaluator) prompt(ctx context.Context, payload string) (string, error) {
	answer, err := e.Prompter.Prompt(ctx, e.expand(payload))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &EvalError{Err: ErrPrompt, Detail: err.Error()}
	}
	e.prompts++
	return answer, nil
}

func (e *Evaluator) print(payload string) error {
	return e.Printer.Print(e.expand(payload))
}

func (e *Evaluator) raise(payload string) error {
	return &EvalError{Err: ErrRaised, Detail: e.expand(payload)}
}

// expand substitutes bound register references in a built-in payload. A
// reference ends at the first non-digit; unbound references stay as text.
func (e *Evaluator) expand(payload string) string {
	if !strings.ContainsRune(payload, '$') {
		return payload
	}
	rs := []rune(payload)
	var b strings.Builder
	for i := 0; i < len(rs); {
		j := i
		for j < len(rs) && rs[j] == '^' {
			j++
		}
		if j < len(rs) && rs[j] == '$' {
			k := j + 1
			for k < len(rs) && rs[k] >= '0' && rs[k] <= '9' {
				k++
			}
			if k > j+1 {
				index, err := strconv.Atoi(string(rs[j+1 : k]))
				if err == nil {
					if v, err := e.Registers.Lookup(j-i, index); err == nil {
						b.WriteString(v)
						i = k
						continue
					}
				}
			}
		}
		if j == i {
			j++
		}
		b.WriteString(string(rs[i:j]))
		i = j
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func newArm(tokens []compiler.Token) (Arm, error) {
	parts := splitTop(tokens, compiler.TokenColon)
	if len(parts) != 3 {
		return Arm{}, &EvalError{Err: ErrMalformedArm, Detail: surface(tokens)}
	}
	return Arm{
		Input:   trimSpace(parts[0]),
		Pattern: trimSpace(parts[1]),
		Output:  trimSpace(parts[2]),
	}, nil
}

func compilePattern(src string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, &EvalError{Err: ErrInvalidPattern, Detail: err.Error()}
	}
	return re, nil
}

// isStatic reports whether a pattern renders the same on every call.
func isStatic(tokens []compiler.Token) bool {
	for _, t := range tokens {
		if t.IsHead() || t.IsBuiltin() || t.Kind == compiler.TokenRegister || t.Kind == compiler.TokenScopeEnd {
			return false
		}
	}
	return true
}

func matchingEnd(lt *compiler.LinkedTokens, head int) (int, error) {
	depth := 0
	for i := head; ; {
		t := lt.Token(i)
		switch {
		case t.IsHead():
			depth++
		case t.Kind == compiler.TokenScopeEnd:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
		next, ok := lt.Next(i)
		if !ok {
			return 0, &EvalError{Err: ErrMalformedScope, Detail: "scope is never closed"}
		}
		i = next
	}
}

// topLevel finds the first token of kind strictly between from and to that
// is not inside a nested scope.
func topLevel(lt *compiler.LinkedTokens, from, to int, kind compiler.TokenKind) (int, bool) {
	depth := 0
	for i, ok := lt.Next(from); ok && i != to; i, ok = lt.Next(i) {
		t := lt.Token(i)
		switch {
		case t.IsHead():
			depth++
		case t.Kind == compiler.TokenScopeEnd:
			depth--
		case t.Kind == kind && depth == 0:
			return i, true
		}
	}
	return 0, false
}

// between collects the tokens strictly between from and to.
func between(lt *compiler.LinkedTokens, from, to int) []compiler.Token {
	var tokens []compiler.Token
	for i, ok := lt.Next(from); ok && i != to; i, ok = lt.Next(i) {
		tokens = append(tokens, lt.Token(i))
	}
	return tokens
}

// splitTop splits tokens at separators of kind outside nested scopes.
func splitTop(tokens []compiler.Token, kind compiler.TokenKind) [][]compiler.Token {
	var parts [][]compiler.Token
	depth := 0
	start := 0
	for i, t := range tokens {
		switch {
		case t.IsHead():
			depth++
		case t.Kind == compiler.TokenScopeEnd:
			depth--
		case t.Kind == kind && depth == 0:
			parts = append(parts, tokens[start:i])
			start = i + 1
		}
	}
	return append(parts, tokens[start:])
}

func trimSpace(tokens []compiler.Token) []compiler.Token {
	for len(tokens) > 0 && tokens[0].Kind == compiler.TokenWhitespace {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].Kind == compiler.TokenWhitespace {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func surface(tokens []compiler.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Surface())
	}
	return b.String()
}

// inFunction records the function an error was raised in, unless a more
// deeply nested call already did.
func inFunction(err error, name string) error {
	var evalErr *EvalError
	if errors.As(err, &evalErr) && evalErr.Function == "" {
		evalErr.Function = name
	}
	return err
}
