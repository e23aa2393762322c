package server

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "brace-lsp"

var log = commonlog.GetLogger("brace.lsp")

// builtinNames are offered by completion alongside defined functions.
var builtinNames = []string{"def", "get_input", "print", "error"}

// LspServer provides editor features for brace programs.
type LspServer struct {
	worker *Worker

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server with an empty workspace.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace()),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("brace LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"{", " "},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.worker.Do(func(ws *Workspace) any {
		ws.Close(string(uri))
		return nil
	})

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Update(string(uri), text)
	})
	if err != nil {
		log.Errorf("analyzing %s: %s", uri, err.Error())
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(result.(*Analysis)),
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	uri := string(params.TextDocument.URI)
	pos := params.Position

	result, err := s.worker.Do(func(ws *Workspace) any {
		a, ok := ws.Get(uri)
		if !ok {
			return []protocol.CompletionItem(nil)
		}
		return complete(a, extractPrefix(a.Text, pos))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := string(params.TextDocument.URI)
	pos := params.Position

	result, err := s.worker.Do(func(ws *Workspace) any {
		a, ok := ws.Get(uri)
		if !ok {
			return (*protocol.Hover)(nil)
		}
		return hover(a, extractWord(a.Text, pos))
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	result, err := s.worker.Do(func(ws *Workspace) any {
		a, ok := ws.Get(string(uri))
		if !ok {
			return []protocol.Location(nil)
		}
		return definition(a, uri, extractWord(a.Text, pos))
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	result, err := s.worker.Do(func(ws *Workspace) any {
		a, ok := ws.Get(string(uri))
		if !ok {
			return []protocol.Location(nil)
		}
		return references(a, uri, extractWord(a.Text, pos))
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.([]protocol.Location), nil
}

// --- Analysis-backed logic (called on worker goroutine) ---

func complete(a *Analysis, prefix string) []protocol.CompletionItem {
	if prefix == "" {
		return nil
	}
	var items []protocol.CompletionItem

	for _, name := range a.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindFunction
		detail := "function"
		if defs := a.Lookup(name); len(defs) > 0 && defs[0].Global {
			detail = "global function"
		}
		insert := name + "{ "
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &insert,
		})
	}

	for _, name := range builtinNames {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := "built-in"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	return items
}

func hover(a *Analysis, word string) *protocol.Hover {
	defs := a.Lookup(word)
	if len(defs) == 0 {
		return nil
	}

	var b strings.Builder
	for i, d := range defs {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		line, _ := a.Position(d.Start)
		scope := "local"
		if d.Global {
			scope = "global"
		}
		fmt.Fprintf(&b, "**%s** (%s, line %d)\n\n", d.Name, scope, line+1)
		if len(d.Arms) == 0 {
			b.WriteString("no arms\n")
			continue
		}
		b.WriteString("```\n")
		for _, arm := range d.Arms {
			b.WriteString(arm)
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func definition(a *Analysis, uri protocol.DocumentUri, word string) []protocol.Location {
	var locations []protocol.Location
	for _, d := range a.Lookup(word) {
		locations = append(locations, protocol.Location{
			URI:   uri,
			Range: rangeOf(a, d.NameAt, d.NameAt+len([]rune(d.Name))),
		})
	}
	return locations
}

func references(a *Analysis, uri protocol.DocumentUri, word string) []protocol.Location {
	if word == "" {
		return nil
	}
	var locations []protocol.Location
	for _, c := range a.Calls {
		if c.Name == word {
			locations = append(locations, protocol.Location{
				URI:   uri,
				Range: rangeOf(a, c.Start, c.Start+len([]rune(c.Name))),
			})
		}
	}
	return locations
}

// --- Diagnostics ---

func diagnostics(a *Analysis) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	source := lspName
	for _, d := range a.Diagnostics {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    rangeOf(a, d.Start, d.End),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diags
}

func rangeOf(a *Analysis, start, end int) protocol.Range {
	sl, sc := a.Position(start)
	el, ec := a.Position(end)
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(sl), Character: protocol.UInteger(sc)},
		End:   protocol.Position{Line: protocol.UInteger(el), Character: protocol.UInteger(ec)},
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the name fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the name
	start := col
	for start > 0 && isWordRune(line[start-1]) {
		start--
	}

	return string(line[start:col])
}

// extractWord returns the full name under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isWordRune(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordRune(line[end]) {
		end++
	}

	return string(line[start:end])
}

// lineAt returns the line under pos and the cursor as a rune index. The
// protocol counts columns in UTF-16 code units.
func lineAt(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(lines[pos.Line])
	col, units := 0, 0
	for col < len(line) && units < int(pos.Character) {
		units += utf16.RuneLen(line[col])
		col++
	}
	return line, col, true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
