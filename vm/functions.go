package vm

import (
	"regexp"
	"sort"

	"github.com/chazu/brace/compiler"
)

// Arm is one input : pattern : output clause. The sections are token
// templates; re is set when the pattern could be compiled up front.
type Arm struct {
	Input   []compiler.Token
	Pattern []compiler.Token
	Output  []compiler.Token

	re *regexp.Regexp
}

// Function is a compiled definition.
type Function struct {
	Name   string
	Global bool
	Arms   []Arm
}

// FunctionTable maps names to definitions. Globals live for the whole run;
// local definitions live in a stack of scopes whose bottom entry is the
// program itself.
type FunctionTable struct {
	globals map[string]*Function
	locals  []map[string]*Function
}

// NewFunctionTable creates a table holding only the program scope.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{
		globals: make(map[string]*Function),
		locals:  []map[string]*Function{make(map[string]*Function)},
	}
}

// Define registers fn globally or in the innermost scope.
func (ft *FunctionTable) Define(fn *Function) {
	if fn.Global {
		ft.globals[fn.Name] = fn
		return
	}
	ft.locals[len(ft.locals)-1][fn.Name] = fn
}

// Lookup finds name in the local scopes, innermost first, then in globals.
func (ft *FunctionTable) Lookup(name string) (*Function, bool) {
	for i := len(ft.locals) - 1; i >= 0; i-- {
		if fn, ok := ft.locals[i][name]; ok {
			return fn, true
		}
	}
	fn, ok := ft.globals[name]
	return fn, ok
}

// PushScope opens a scope for local definitions.
func (ft *FunctionTable) PushScope() {
	ft.locals = append(ft.locals, make(map[string]*Function))
}

// PopScope drops the innermost scope and everything defined in it. The
// program scope is never popped.
func (ft *FunctionTable) PopScope() {
	if len(ft.locals) > 1 {
		ft.locals = ft.locals[:len(ft.locals)-1]
	}
}

// Names returns every visible function name, sorted.
func (ft *FunctionTable) Names() []string {
	seen := make(map[string]bool)
	for name := range ft.globals {
		seen[name] = true
	}
	for _, scope := range ft.locals {
		for name := range scope {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
