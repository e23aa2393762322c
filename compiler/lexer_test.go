package compiler

import (
	"errors"
	"reflect"
	"testing"
)

func lex(t *testing.T, input string) []Token {
	t.Helper()
	tokens, err := NewLexer(input).Tokens()
	if err != nil {
		t.Fatalf("Lexer(%q): unexpected error: %v", input, err)
	}
	return tokens
}

func TestLexerStructure(t *testing.T) {
	input := `{ a : b ; c }`
	expected := []Token{
		{Kind: TokenScopeStart},
		WhitespaceToken(),
		CharToken('a'),
		WhitespaceToken(),
		{Kind: TokenColon},
		WhitespaceToken(),
		CharToken('b'),
		WhitespaceToken(),
		{Kind: TokenNewArm},
		WhitespaceToken(),
		CharToken('c'),
		WhitespaceToken(),
		{Kind: TokenScopeEnd},
	}

	got := lex(t, input)
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Lexer(%q) =\n%v\nwant\n%v", input, got, expected)
	}
}

func TestLexerHeads(t *testing.T) {
	tests := []struct {
		input string
		want  Token
	}{
		{"foo{", CallToken("foo")},
		{"a_1{", CallToken("a_1")},
		{"def foo {", DefToken("foo", false)},
		{"*def foo {", DefToken("foo", true)},
		{"def\nfoo {", DefToken("foo", false)},
	}

	for _, tc := range tests {
		got := lex(t, tc.input)
		if len(got) != 1 {
			t.Errorf("Lexer(%q): got %d tokens %v, want 1", tc.input, len(got), got)
			continue
		}
		if got[0] != tc.want {
			t.Errorf("Lexer(%q) = %v, want %v", tc.input, got[0], tc.want)
		}
	}
}

func TestLexerGlobalMarkerOutsideDef(t *testing.T) {
	got := lex(t, "*foo{")
	want := []Token{CharToken('*'), CallToken("foo")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(*foo{) = %v, want %v", got, want)
	}

	got = lex(t, "a*b")
	want = []Token{CharToken('a'), CharToken('*'), CharToken('b')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(a*b) = %v, want %v", got, want)
	}
}

func TestLexerRegisters(t *testing.T) {
	tests := []struct {
		input string
		depth int
		index int
	}{
		{"$0 ", 0, 0},
		{"$12\n", 0, 12},
		{"^$1 ", 1, 1},
		{"^^$3 ", 2, 3},
		{"^^^$42\t", 3, 42},
	}

	for _, tc := range tests {
		got := lex(t, tc.input)
		if len(got) != 1 {
			t.Errorf("Lexer(%q): got %v, want one register token", tc.input, got)
			continue
		}
		want := RegisterToken(tc.depth, tc.index)
		if got[0] != want {
			t.Errorf("Lexer(%q) = %v, want %v", tc.input, got[0], want)
		}
	}
}

func TestLexerIndirectionWithoutRegister(t *testing.T) {
	got := lex(t, "^^a")
	want := []Token{CharToken('^'), CharToken('^'), CharToken('a')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(^^a) = %v, want %v", got, want)
	}

	// The aborting character is reprocessed from the normal state.
	got = lex(t, "^{")
	want = []Token{CharToken('^'), {Kind: TokenScopeStart}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(^{) = %v, want %v", got, want)
	}

	got = lex(t, "a^")
	want = []Token{CharToken('a'), CharToken('^')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(a^) = %v, want %v", got, want)
	}
}

func TestLexerWhitespaceCollapsing(t *testing.T) {
	for _, input := range []string{" ", "   ", "\t\n ", "\n\n\n"} {
		got := lex(t, input)
		if len(got) != 1 || got[0].Kind != TokenWhitespace {
			t.Errorf("Lexer(%q) = %v, want one whitespace token", input, got)
		}
	}

	got := lex(t, "a  \t b")
	want := []Token{CharToken('a'), WhitespaceToken(), CharToken('b')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(a  b) = %v, want %v", got, want)
	}
}

func TestLexerComments(t *testing.T) {
	withComment := lex(t, "a // comment { with } braces\nb")
	without := lex(t, "a\nb")
	if !reflect.DeepEqual(withComment, without) {
		t.Errorf("comment not stripped: got %v, want %v", withComment, without)
	}

	got := lex(t, "a/b")
	want := []Token{CharToken('a'), CharToken('/'), CharToken('b')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(a/b) = %v, want %v", got, want)
	}

	got = lex(t, "a/")
	want = []Token{CharToken('a'), CharToken('/')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(a/) = %v, want %v", got, want)
	}
}

func TestLexerEscape(t *testing.T) {
	tests := []struct {
		input string
		want  rune
	}{
		{`\{`, '{'},
		{`\}`, '}'},
		{`\$`, '$'},
		{`\:`, ':'},
		{`\\`, '\\'},
		{`\ `, ' '},
	}

	for _, tc := range tests {
		got := lex(t, tc.input)
		if len(got) != 1 || got[0] != CharToken(tc.want) {
			t.Errorf("Lexer(%q) = %v, want CHAR(%q)", tc.input, got, tc.want)
		}
	}
}

func TestLexerEscapeFlushesName(t *testing.T) {
	got := lex(t, `ab\{`)
	want := []Token{CharToken('a'), CharToken('b'), CharToken('{')}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(ab\\{) = %v, want %v", got, want)
	}
}

func TestLexerBuiltins(t *testing.T) {
	tests := []struct {
		input string
		want  Token
	}{
		{"get_input(Your name: )", Token{Kind: TokenGetInput, Text: "Your name: "}},
		{"error(no arm {matched})", Token{Kind: TokenError, Text: "no arm {matched}"}},
		{"print(hello $1 world)", Token{Kind: TokenPrint, Text: "hello $1 world"}},
		{`print(a\)b)`, Token{Kind: TokenPrint, Text: "a)b"}},
		{"print()", Token{Kind: TokenPrint, Text: ""}},
		{`print(a\b)`, Token{Kind: TokenPrint, Text: `a\b`}},
		{`print(a\\)`, Token{Kind: TokenPrint, Text: `a\`}},
		{`error(\d+\))`, Token{Kind: TokenError, Text: `\d+)`}},
	}

	for _, tc := range tests {
		got := lex(t, tc.input)
		if len(got) != 1 || got[0] != tc.want {
			t.Errorf("Lexer(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestLexerNonBuiltinParen(t *testing.T) {
	got := lex(t, "foo(x)")
	want := TextTokens("foo(x)")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(foo(x)) = %v, want %v", got, want)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input  string
		want   error
		offset int
	}{
		{"$a", ErrInvalidRegisterIndexChar, 1},
		{"$ ", ErrMissingRegisterIndex, 1},
		{"^$x", ErrInvalidRegisterIndexChar, 2},
		{"$1", ErrUnexpectedEnd, 2},
		{"def fo-o {", ErrInvalidFunctionNameChar, 6},
		{"def foo x", ErrExpectedScopeStart, 8},
		{"def foo ", ErrExpectedScopeStart, 8},
		{"def  foo {", ErrMissingFunctionName, 4},
		{"def foo", ErrUnexpectedEnd, 7},
		{"print(unterminated", ErrUnexpectedEnd, 18},
		{`a\`, ErrUnexpectedEnd, 2},
		{"a // trailing comment", ErrUnexpectedEnd, 21},
	}

	for _, tc := range tests {
		_, err := NewLexer(tc.input).Tokens()
		if err == nil {
			t.Errorf("Lexer(%q): expected error %v", tc.input, tc.want)
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("Lexer(%q): error = %v, want %v", tc.input, err, tc.want)
		}
		if !errors.Is(err, ErrLex) {
			t.Errorf("Lexer(%q): error %v does not wrap ErrLex", tc.input, err)
		}
		var lexErr *LexError
		if !errors.As(err, &lexErr) {
			t.Errorf("Lexer(%q): error %T is not a *LexError", tc.input, err)
			continue
		}
		if lexErr.Offset != tc.offset {
			t.Errorf("Lexer(%q): offset = %d, want %d", tc.input, lexErr.Offset, tc.offset)
		}
	}
}

func TestLexerProgram(t *testing.T) {
	input := "*def twice {\n  $0  : (.*) : $1 $1 \n}\ntwice{ ab }"
	want := []Token{
		DefToken("twice", true),
		WhitespaceToken(),
		RegisterToken(0, 0),
		WhitespaceToken(),
		{Kind: TokenColon},
		WhitespaceToken(),
		CharToken('('), CharToken('.'), CharToken('*'), CharToken(')'),
		WhitespaceToken(),
		{Kind: TokenColon},
		WhitespaceToken(),
		RegisterToken(0, 1),
		RegisterToken(0, 1),
		WhitespaceToken(),
		{Kind: TokenScopeEnd},
		WhitespaceToken(),
		CallToken("twice"),
		WhitespaceToken(),
		CharToken('a'), CharToken('b'),
		WhitespaceToken(),
		{Kind: TokenScopeEnd},
	}

	got := lex(t, input)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lexer(program) =\n%v\nwant\n%v", got, want)
	}
}
