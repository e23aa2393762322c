package vm

import "github.com/chazu/brace/compiler"

// Span is a located scope: the offsets of its opening and closing braces.
type Span struct {
	Open  int
	Close int
}

var builtinKeywords = map[string]bool{
	"get_input": true,
	"error":     true,
	"print":     true,
}

// FindNextScope scans text from start for the next balanced {...} region.
// Escaped characters and comments never count as braces, and neither do
// built-in payloads inside a scope. It returns false when no opening brace
// remains.
func FindNextScope(text Runes, start int) (Span, bool, error) {
	n := text.Len()
	depth := 0
	open := -1
	nameStart := -1
	// The lexer buffers a '*' that starts a name, so "*print(" is text.
	star, starred := false, false

	for i := start; i < n; i++ {
		c := text.At(i)

		if compiler.IsNameChar(c) {
			if nameStart < 0 {
				nameStart = i
				starred = star
				star = false
			}
			continue
		}
		name := ""
		if nameStart >= 0 {
			name = runeString(text, nameStart, i)
			nameStart = -1
			if starred {
				name = "*" + name
			}
			starred = false
		}
		if c == '*' {
			star = name == "" && !star
			continue
		}
		star = false

		switch c {
		case '\\':
			i++
		case '/':
			if i+1 < n && text.At(i+1) == '/' {
				for i < n && text.At(i) != '\n' {
					i++
				}
			}
		case '(':
			if depth > 0 && builtinKeywords[name] {
				i = skipPayload(text, i+1)
			}
		case '{':
			if depth == 0 {
				open = i
			}
			depth++
		case '}':
			if depth == 0 {
				return Span{}, false, &ScopeError{Err: ErrClosingBeforeOpening, Offset: i}
			}
			depth--
			if depth == 0 {
				return Span{Open: open, Close: i}, true, nil
			}
		}
	}

	if depth > 0 {
		return Span{}, false, &ScopeError{Err: ErrNoClosingBrace, Offset: open}
	}
	return Span{}, false, nil
}

// skipPayload returns the offset of the unescaped ')' ending a built-in
// payload that starts at i, or the end of text.
func skipPayload(text Runes, i int) int {
	for ; i < text.Len(); i++ {
		switch text.At(i) {
		case '\\':
			i++
		case ')':
			return i
		}
	}
	return text.Len()
}

// HasOpenBrace reports whether an unescaped '{' occurs at or after start.
func HasOpenBrace(text Runes, start int) bool {
	for i := start; i < text.Len(); i++ {
		switch text.At(i) {
		case '\\':
			i++
		case '{':
			return true
		}
	}
	return false
}

// ScopeHead walks back from the opening brace at open to the first offset of
// the scope's head: "def name {", "*def name {", "name{" or a bare "{".
func ScopeHead(text Runes, open int) int {
	if start, ok := defHead(text, open); ok {
		return start
	}
	k := open
	for k > 0 && compiler.IsNameChar(text.At(k-1)) {
		k--
	}
	if k < open && escaped(text, k) {
		// the first name character is a literal
		k++
	}
	return k
}

func defHead(text Runes, open int) (int, bool) {
	if open < 1 || text.At(open-1) != ' ' {
		return 0, false
	}
	end := open - 1
	k := end
	for k > 0 && compiler.IsNameChar(text.At(k-1)) {
		k--
	}
	if k == end || k < 1 || !compiler.IsWhitespace(text.At(k-1)) {
		return 0, false
	}
	kw := k - 1
	d := kw - 3
	if d < 0 || runeString(text, d, kw) != "def" || escaped(text, d) {
		return 0, false
	}
	if d > 0 && compiler.IsNameChar(text.At(d-1)) && !escaped(text, d-1) {
		return 0, false
	}
	if d > 0 && text.At(d-1) == '*' && !escaped(text, d-1) {
		if d == 1 || escaped(text, d-2) || !(compiler.IsNameChar(text.At(d-2)) || text.At(d-2) == '*') {
			return d - 1, true
		}
	}
	return d, true
}

// escaped reports whether the character at i follows an odd run of
// backslashes.
func escaped(text Runes, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text.At(j) == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func runeString(text Runes, start, end int) string {
	rs := make([]rune, 0, end-start)
	for i := start; i < end; i++ {
		rs = append(rs, text.At(i))
	}
	return string(rs)
}
