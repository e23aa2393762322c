package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/chazu/brace/compiler"
	"github.com/chazu/brace/vm"
)

var errWorkerStopped = errors.New("worker stopped")

var defHeadPattern = regexp.MustCompile(`^(\*?)def[ \t\r\n]([A-Za-z0-9_]+) \{$`)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is a problem found in a document. Offsets count runes.
type Diagnostic struct {
	Start    int
	End      int
	Severity Severity
	Message  string
}

// Definition is a def or *def found in a document.
type Definition struct {
	Name   string
	Global bool
	Start  int // offset of the head
	NameAt int // offset of the name
	Close  int // offset of the closing brace
	Arms   []string
}

// CallSite is a name{ found in a document.
type CallSite struct {
	Name  string
	Start int
}

// Analysis is everything the server knows about one document.
type Analysis struct {
	Text        string
	Definitions []Definition
	Calls       []CallSite
	Diagnostics []Diagnostic

	buf        *vm.Buffer
	lineStarts []int
}

// Analyze scans text the way the interpreter would: it locates every scope,
// lexes each top-level region and compiles every definition.
func Analyze(text string) *Analysis {
	a := &Analysis{Text: text, buf: vm.NewBuffer(text)}
	a.lineStarts = []int{0}
	for i := 0; i < a.buf.Len(); i++ {
		if a.buf.At(i) == '\n' {
			a.lineStarts = append(a.lineStarts, i+1)
		}
	}
	a.scan()
	return a
}

func (a *Analysis) scan() {
	for start := 0; start < a.buf.Len(); {
		span, ok, err := vm.FindNextScope(a.buf, start)
		if err != nil {
			var scopeErr *vm.ScopeError
			if !errors.As(err, &scopeErr) {
				return
			}
			if errors.Is(err, vm.ErrClosingBeforeOpening) {
				severity := SeverityError
				if !vm.HasOpenBrace(a.buf, scopeErr.Offset+1) {
					// the interpreter stops here without failing
					severity = SeverityWarning
				}
				a.add(scopeErr.Offset, scopeErr.Offset+1, severity, err.Error())
				start = scopeErr.Offset + 1
				continue
			}
			a.add(scopeErr.Offset, a.buf.Len(), SeverityError, err.Error())
			return
		}
		if !ok {
			return
		}

		head := vm.ScopeHead(a.buf, span.Open)
		if _, err := compiler.Tokenize(a.buf.Slice(head, span.Close+1)); err != nil {
			offset := head
			var lexErr *compiler.LexError
			if errors.As(err, &lexErr) {
				offset += lexErr.Offset
			}
			a.add(offset, offset+1, SeverityError, err.Error())
		} else {
			a.visit(span)
			a.walk(span.Open+1, span.Close)
		}
		start = span.Close + 1
	}
}

// walk visits the scopes nested in [start, end).
func (a *Analysis) walk(start, end int) {
	for start < end {
		span, ok, err := vm.FindNextScope(a.buf, start)
		if err != nil || !ok || span.Open >= end {
			return
		}
		a.visit(span)
		a.walk(span.Open+1, span.Close)
		start = span.Close + 1
	}
}

func (a *Analysis) visit(span vm.Span) {
	head := vm.ScopeHead(a.buf, span.Open)
	if head == span.Open {
		return
	}
	headText := a.buf.Slice(head, span.Open+1)
	m := defHeadPattern.FindStringSubmatch(headText)
	if m == nil {
		a.Calls = append(a.Calls, CallSite{Name: a.buf.Slice(head, span.Open), Start: head})
		return
	}

	def := Definition{
		Name:   m[2],
		Global: m[1] != "",
		Start:  head,
		NameAt: span.Open - 1 - len([]rune(m[2])),
		Close:  span.Close,
	}

	e := vm.NewEvaluator(vm.NewFunctionTable(), vm.NewRegisters())
	if _, _, err := e.EvalRegion(context.Background(), a.buf.Slice(head, span.Close+1)); err != nil {
		a.add(def.NameAt, span.Open, SeverityError, err.Error())
	} else if fn, ok := e.Functions.Lookup(def.Name); ok {
		for _, arm := range fn.Arms {
			def.Arms = append(def.Arms, fmt.Sprintf("%s : %s : %s",
				surface(arm.Input), surface(arm.Pattern), surface(arm.Output)))
		}
	}
	a.Definitions = append(a.Definitions, def)
}

func (a *Analysis) add(start, end int, severity Severity, message string) {
	if end <= start {
		end = start + 1
	}
	a.Diagnostics = append(a.Diagnostics, Diagnostic{Start: start, End: end, Severity: severity, Message: message})
}

// Lookup returns the definitions of name, in document order.
func (a *Analysis) Lookup(name string) []Definition {
	var defs []Definition
	for _, d := range a.Definitions {
		if d.Name == name {
			defs = append(defs, d)
		}
	}
	return defs
}

// Names returns the distinct defined names, sorted.
func (a *Analysis) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range a.Definitions {
		if !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Position converts a rune offset to a line and UTF-16 column.
func (a *Analysis) Position(offset int) (line, col int) {
	if offset > a.buf.Len() {
		offset = a.buf.Len()
	}
	line = sort.Search(len(a.lineStarts), func(i int) bool { return a.lineStarts[i] > offset }) - 1
	for i := a.lineStarts[line]; i < offset; i++ {
		col += utf16.RuneLen(a.buf.At(i))
	}
	return line, col
}

func surface(tokens []compiler.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Surface())
	}
	return strings.TrimSpace(b.String())
}

// Workspace holds the analysis of every open document.
type Workspace struct {
	docs map[string]*Analysis
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{docs: make(map[string]*Analysis)}
}

// Update re-analyzes the document at uri.
func (ws *Workspace) Update(uri, text string) *Analysis {
	a := Analyze(text)
	ws.docs[uri] = a
	return a
}

// Close forgets the document at uri.
func (ws *Workspace) Close(uri string) {
	delete(ws.docs, uri)
}

// Get returns the analysis of the document at uri.
func (ws *Workspace) Get(uri string) (*Analysis, bool) {
	a, ok := ws.docs[uri]
	return a, ok
}
