package compiler

import (
	"errors"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Lexer: character-level state machine for brace programs
// ---------------------------------------------------------------------------

// ErrLex is the base of every lexical error.
var ErrLex = errors.New("lex error")

var (
	ErrInvalidFunctionNameChar  = fmt.Errorf("%w: invalid function name character", ErrLex)
	ErrInvalidRegisterIndexChar = fmt.Errorf("%w: invalid register index character", ErrLex)
	ErrMissingRegisterIndex     = fmt.Errorf("%w: register reference missing its index", ErrLex)
	ErrMissingFunctionName      = fmt.Errorf("%w: expected function name after def", ErrLex)
	ErrExpectedScopeStart       = fmt.Errorf("%w: expected '{' after function definition header", ErrLex)
	ErrUnexpectedEnd            = fmt.Errorf("%w: input ended unexpectedly", ErrLex)
)

// LexError reports where lexing failed. Offset counts runes from the start
// of the input.
type LexError struct {
	Err     error
	Offset  int
	Char    rune
	HasChar bool
}

func (e *LexError) Error() string {
	if e.HasChar {
		return fmt.Sprintf("%v %q at offset %d", e.Err, e.Char, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *LexError) Unwrap() error { return e.Err }

type lexState int

const (
	stateNormal lexState = iota
	statePotentialIndirection
	stateRegisterIndex
	stateDefinitionName
	statePotentialComment
	stateComment
	stateEscape
)

// Lexer turns program text into tokens one character at a time. It is
// single use: create one per input with NewLexer.
type Lexer struct {
	input []rune
	pos   int // index of the next unread rune

	state  lexState
	buffer []rune // pending name or keyword characters
	depth  int    // indirection markers seen before a register reference
	index  []rune // register index digits
	global bool   // the pending definition is *def

	emit     func(Token)
	lastKind TokenKind
	emitted  bool
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Run lexes the whole input, passing every token to emit in order.
func (l *Lexer) Run(emit func(Token)) error {
	l.emit = emit
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		l.pos++
		if err := l.step(c); err != nil {
			return err
		}
	}
	return l.finish()
}

// Tokens lexes the input and returns the token slice.
func (l *Lexer) Tokens() ([]Token, error) {
	var tokens []Token
	err := l.Run(func(t Token) { tokens = append(tokens, t) })
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (l *Lexer) step(c rune) error {
	switch l.state {
	case stateNormal:
		return l.normal(c)

	case statePotentialIndirection:
		switch c {
		case indirectionMarker:
			l.depth++
		case registerMarker:
			l.state = stateRegisterIndex
		default:
			// Not a register reference after all: the markers are text.
			for i := 0; i < l.depth; i++ {
				l.push(CharToken(indirectionMarker))
			}
			l.reset()
			return l.normal(c)
		}

	case stateRegisterIndex:
		switch {
		case c >= '0' && c <= '9':
			l.index = append(l.index, c)
		case IsWhitespace(c):
			if len(l.index) == 0 {
				return l.fail(ErrMissingRegisterIndex, c)
			}
			n, err := strconv.Atoi(string(l.index))
			if err != nil {
				return l.fail(ErrInvalidRegisterIndexChar, c)
			}
			l.push(RegisterToken(l.depth, n))
			l.reset()
		default:
			return l.fail(ErrInvalidRegisterIndexChar, c)
		}

	case stateDefinitionName:
		switch {
		case IsNameChar(c):
			l.buffer = append(l.buffer, c)
		case c == ' ':
			if len(l.buffer) == 0 {
				return l.fail(ErrMissingFunctionName, c)
			}
			l.push(DefToken(string(l.buffer), l.global))
			l.reset()
			if l.pos >= len(l.input) {
				return l.fail(ErrExpectedScopeStart, 0)
			}
			next := l.input[l.pos]
			l.pos++
			if next != '{' {
				return l.fail(ErrExpectedScopeStart, next)
			}
		default:
			return l.fail(ErrInvalidFunctionNameChar, c)
		}

	case statePotentialComment:
		if c == '/' {
			l.state = stateComment
			return nil
		}
		l.push(CharToken('/'))
		l.state = stateNormal
		return l.normal(c)

	case stateComment:
		if c == '\n' {
			l.state = stateNormal
		}

	case stateEscape:
		l.push(CharToken(c))
		l.state = stateNormal
	}
	return nil
}

func (l *Lexer) normal(c rune) error {
	switch {
	case c == '{':
		if len(l.buffer) > 0 && l.buffer[0] == globalMarker {
			l.push(CharToken(globalMarker))
			l.buffer = l.buffer[1:]
		}
		if len(l.buffer) > 0 {
			l.push(CallToken(string(l.buffer)))
		} else {
			l.push(Token{Kind: TokenScopeStart})
		}
		l.reset()

	case c == '}':
		l.flush()
		l.push(Token{Kind: TokenScopeEnd})

	case c == ':':
		l.flush()
		l.push(Token{Kind: TokenColon})

	case c == ';':
		l.flush()
		l.push(Token{Kind: TokenNewArm})

	case c == indirectionMarker:
		l.flush()
		l.depth = 1
		l.state = statePotentialIndirection

	case c == registerMarker:
		l.flush()
		l.depth = 0
		l.state = stateRegisterIndex

	case IsWhitespace(c):
		switch string(l.buffer) {
		case defKeyword:
			l.buffer = l.buffer[:0]
			l.global = false
			l.state = stateDefinitionName
		case globalDefKeyword:
			l.buffer = l.buffer[:0]
			l.global = true
			l.state = stateDefinitionName
		default:
			l.flush()
			l.pushWhitespace()
		}

	case c == '/':
		l.flush()
		l.state = statePotentialComment

	case IsNameChar(c):
		l.buffer = append(l.buffer, c)

	case c == globalMarker && len(l.buffer) == 0:
		l.buffer = append(l.buffer, c)

	case c == escapeMarker:
		l.flush()
		l.state = stateEscape

	case c == '(':
		kind, ok := builtinKinds[string(l.buffer)]
		if !ok {
			l.flush()
			l.push(CharToken(c))
			return nil
		}
		payload, err := l.readPayload()
		if err != nil {
			return err
		}
		l.reset()
		l.push(Token{Kind: kind, Text: payload})

	default:
		l.flush()
		l.push(CharToken(c))
	}
	return nil
}

// readPayload consumes raw characters up to the next unescaped ')'. Only
// \) and \\ are unescaped; any other backslash is kept verbatim.
func (l *Lexer) readPayload() (string, error) {
	var payload []rune
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		l.pos++
		switch c {
		case ')':
			return string(payload), nil
		case escapeMarker:
			if l.pos < len(l.input) {
				if next := l.input[l.pos]; next == ')' || next == escapeMarker {
					c = next
					l.pos++
				}
			}
		}
		payload = append(payload, c)
	}
	return "", l.fail(ErrUnexpectedEnd, 0)
}

func (l *Lexer) finish() error {
	switch l.state {
	case stateNormal:
		l.flush()
	case statePotentialComment:
		l.flush()
		l.push(CharToken('/'))
	case statePotentialIndirection:
		for i := 0; i < l.depth; i++ {
			l.push(CharToken(indirectionMarker))
		}
	default:
		return l.fail(ErrUnexpectedEnd, 0)
	}
	l.reset()
	return nil
}

// flush emits the pending buffer as literal characters.
func (l *Lexer) flush() {
	for _, c := range l.buffer {
		l.push(CharToken(c))
	}
	l.reset()
}

func (l *Lexer) reset() {
	l.buffer = l.buffer[:0]
	l.index = l.index[:0]
	l.depth = 0
	l.global = false
	l.state = stateNormal
}

func (l *Lexer) push(t Token) {
	l.emit(t)
	l.lastKind = t.Kind
	l.emitted = true
}

// pushWhitespace collapses consecutive whitespace into one token.
func (l *Lexer) pushWhitespace() {
	if l.emitted && l.lastKind == TokenWhitespace {
		return
	}
	l.push(WhitespaceToken())
}

// fail builds a LexError. A zero c means the input ran out.
func (l *Lexer) fail(err error, c rune) error {
	if c == 0 {
		return &LexError{Err: err, Offset: l.pos}
	}
	return &LexError{Err: err, Offset: l.pos - 1, Char: c, HasChar: true}
}
