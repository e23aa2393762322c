// Package compiler turns brace source text into tokens and holds them in an
// editable linked list.
package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Token kinds for the brace rewriting language
// ---------------------------------------------------------------------------

// TokenKind identifies what a Token stands for.
type TokenKind int

const (
	// Special tokens
	TokenRoot TokenKind = iota // placeholder held by arena index 0

	// Text
	TokenChar       // a single literal character
	TokenWhitespace // one collapsed run of spaces, tabs and newlines

	// Structure
	TokenScopeStart // {
	TokenScopeEnd   // }
	TokenColon      // : separates input, pattern and output
	TokenNewArm     // ; separates arms of a definition

	// Heads
	TokenCall      // name{
	TokenDef       // def name {
	TokenGlobalDef // *def name {

	// References
	TokenRegister // ^^$3

	// Built-ins
	TokenGetInput // get_input(prompt)
	TokenError    // error(message)
	TokenPrint    // print(message)
)

var tokenNames = map[TokenKind]string{
	TokenRoot:       "ROOT",
	TokenChar:       "CHAR",
	TokenWhitespace: "WS",
	TokenScopeStart: "{",
	TokenScopeEnd:   "}",
	TokenColon:      ":",
	TokenNewArm:     ";",
	TokenCall:       "CALL",
	TokenDef:        "DEF",
	TokenGlobalDef:  "*DEF",
	TokenRegister:   "REGISTER",
	TokenGetInput:   "GET_INPUT",
	TokenError:      "ERROR",
	TokenPrint:      "PRINT",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", k)
}

// Surface syntax shared by the lexer and the renderer.
const (
	indirectionMarker = '^'
	registerMarker    = '$'
	globalMarker      = '*'
	escapeMarker      = '\\'

	defKeyword       = "def"
	globalDefKeyword = "*def"

	getInputKeyword = "get_input"
	errorKeyword    = "error"
	printKeyword    = "print"
)

// builtinKinds maps a built-in keyword to the token its call produces.
var builtinKinds = map[string]TokenKind{
	getInputKeyword: TokenGetInput,
	errorKeyword:    TokenError,
	printKeyword:    TokenPrint,
}

// Token is an immutable lexical unit. Only the fields relevant to Kind are
// set: Char for TokenChar, Text for heads and built-ins, Depth and Index for
// TokenRegister.
type Token struct {
	Kind  TokenKind
	Char  rune
	Text  string
	Depth int
	Index int
}

// CharToken returns a literal character token.
func CharToken(r rune) Token { return Token{Kind: TokenChar, Char: r} }

// WhitespaceToken returns a collapsed whitespace token.
func WhitespaceToken() Token { return Token{Kind: TokenWhitespace} }

// CallToken returns a function-call head for name.
func CallToken(name string) Token { return Token{Kind: TokenCall, Text: name} }

// DefToken returns a definition head; global selects the *def form.
func DefToken(name string, global bool) Token {
	if global {
		return Token{Kind: TokenGlobalDef, Text: name}
	}
	return Token{Kind: TokenDef, Text: name}
}

// RegisterToken returns a register reference.
func RegisterToken(depth, index int) Token {
	return Token{Kind: TokenRegister, Depth: depth, Index: index}
}

// TextTokens converts s into literal character tokens.
func TextTokens(s string) []Token {
	tokens := make([]Token, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, CharToken(r))
	}
	return tokens
}

// IsHead reports whether the token opens a scope.
func (t Token) IsHead() bool {
	switch t.Kind {
	case TokenScopeStart, TokenCall, TokenDef, TokenGlobalDef:
		return true
	}
	return false
}

// IsBuiltin reports whether the token is one of the built-in pseudo-calls.
func (t Token) IsBuiltin() bool {
	switch t.Kind {
	case TokenGetInput, TokenError, TokenPrint:
		return true
	}
	return false
}

// Surface returns the canonical source form of the token.
func (t Token) Surface() string {
	var b strings.Builder
	t.writeSurface(&b)
	return b.String()
}

func (t Token) writeSurface(b *strings.Builder) {
	switch t.Kind {
	case TokenChar:
		b.WriteRune(t.Char)
	case TokenWhitespace:
		b.WriteByte(' ')
	case TokenScopeStart:
		b.WriteByte('{')
	case TokenScopeEnd:
		b.WriteByte('}')
	case TokenColon:
		b.WriteByte(':')
	case TokenNewArm:
		b.WriteByte(';')
	case TokenCall:
		b.WriteString(t.Text)
		b.WriteByte('{')
	case TokenDef:
		b.WriteString(defKeyword + " ")
		b.WriteString(t.Text)
		b.WriteString(" {")
	case TokenGlobalDef:
		b.WriteString(globalDefKeyword + " ")
		b.WriteString(t.Text)
		b.WriteString(" {")
	case TokenRegister:
		for i := 0; i < t.Depth; i++ {
			b.WriteRune(indirectionMarker)
		}
		b.WriteRune(registerMarker)
		b.WriteString(strconv.Itoa(t.Index))
		// the lexer needs whitespace to end the index
		b.WriteByte(' ')
	case TokenGetInput:
		writeBuiltin(b, getInputKeyword, t.Text)
	case TokenError:
		writeBuiltin(b, errorKeyword, t.Text)
	case TokenPrint:
		writeBuiltin(b, printKeyword, t.Text)
	}
}

func writeBuiltin(b *strings.Builder, keyword, payload string) {
	b.WriteString(keyword)
	b.WriteByte('(')
	for _, r := range payload {
		if r == ')' || r == escapeMarker {
			b.WriteRune(escapeMarker)
		}
		b.WriteRune(r)
	}
	b.WriteByte(')')
}

// Literal returns a source form that lexes back to this same token.
// Characters that would otherwise carry syntax are escaped.
func (t Token) Literal() string {
	if t.Kind != TokenChar {
		return t.Surface()
	}
	if isSyntax(t.Char) || IsWhitespace(t.Char) {
		return string([]rune{escapeMarker, t.Char})
	}
	return string(t.Char)
}

// EscapeText escapes every character of s that the lexer would otherwise
// read as syntax. Whitespace is left alone and still collapses, except after
// a bare "def" where it would start a definition head.
func EscapeText(s string) string {
	var b strings.Builder
	name := 0 // length of the name run just written
	def := false
	for _, r := range s {
		if isSyntax(r) || (IsWhitespace(r) && def) {
			b.WriteRune(escapeMarker)
		}
		b.WriteRune(r)

		if IsNameChar(r) {
			name++
			def = name == len(defKeyword) && strings.HasSuffix(b.String(), defKeyword)
		} else {
			name = 0
			def = false
		}
	}
	return b.String()
}

func isSyntax(r rune) bool {
	switch r {
	case '{', '}', ':', ';', '(', '/', indirectionMarker, registerMarker, globalMarker, escapeMarker:
		return true
	}
	return false
}

// String returns a debug representation of the token.
func (t Token) String() string {
	switch t.Kind {
	case TokenChar:
		return fmt.Sprintf("CHAR(%q)", t.Char)
	case TokenCall, TokenDef, TokenGlobalDef:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Text)
	case TokenRegister:
		return fmt.Sprintf("REGISTER(depth=%d, index=%d)", t.Depth, t.Index)
	case TokenGetInput, TokenError, TokenPrint:
		if len(t.Text) > 20 {
			return fmt.Sprintf("%s(%q...)", t.Kind, t.Text[:20])
		}
		return fmt.Sprintf("%s(%q)", t.Kind, t.Text)
	}
	return t.Kind.String()
}

// IsNameChar reports whether r may appear in a function or keyword name.
func IsNameChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// IsWhitespace reports whether r separates tokens.
func IsWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
