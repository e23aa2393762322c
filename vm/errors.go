package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrScopeLocation is the base of errors raised while locating a scope.
var ErrScopeLocation = errors.New("scope location error")

var (
	ErrNoClosingBrace       = fmt.Errorf("%w: no closing brace", ErrScopeLocation)
	ErrClosingBeforeOpening = fmt.Errorf("%w: closing brace before opening brace", ErrScopeLocation)
)

// ErrEvaluation is the base of every rewrite failure.
var ErrEvaluation = errors.New("evaluation error")

var (
	ErrUnknownFunction = fmt.Errorf("%w: unknown function", ErrEvaluation)
	ErrNoArmMatched    = fmt.Errorf("%w: no arm matched", ErrEvaluation)
	ErrUnboundRegister = fmt.Errorf("%w: unbound register", ErrEvaluation)
	ErrRaised          = fmt.Errorf("%w: error raised", ErrEvaluation)
	ErrMalformedArm    = fmt.Errorf("%w: malformed arm", ErrEvaluation)
	ErrMalformedScope  = fmt.Errorf("%w: malformed scope", ErrEvaluation)
	ErrInvalidPattern  = fmt.Errorf("%w: invalid pattern", ErrEvaluation)
	ErrPrompt          = fmt.Errorf("%w: reading input failed", ErrEvaluation)
	ErrStepLimit       = fmt.Errorf("%w: step limit exceeded", ErrEvaluation)
	ErrRewriteCycle    = fmt.Errorf("%w: rewrite cycle", ErrEvaluation)
)

// ScopeError reports a brace imbalance at a rune offset of the live text.
type ScopeError struct {
	Err    error
	Offset int
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// EvalError carries the function being evaluated, if any, and a detail
// such as the unmatched input or the raised message.
type EvalError struct {
	Err      error
	Function string
	Detail   string
}

func (e *EvalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Function != "" {
		fmt.Fprintf(&b, " in %s", e.Function)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *EvalError) Unwrap() error { return e.Err }

// RegionError attaches the live-text offset of the region being rewritten
// to an error raised while evaluating it.
type RegionError struct {
	Err    error
	Offset int
	Region string
}

func (e *RegionError) Error() string {
	region := e.Region
	if len(region) > 40 {
		region = region[:40] + "..."
	}
	return fmt.Sprintf("%v (region %q at offset %d)", e.Err, region, e.Offset)
}

func (e *RegionError) Unwrap() error { return e.Err }
