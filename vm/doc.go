// Package vm implements the brace rewriting engine.
//
// This package contains:
//   - the live program text buffer
//   - the scope locator that finds the next region to rewrite
//   - function definitions and register frames
//   - the rewrite evaluator and built-ins
//   - the fixpoint driver (Interpreter)
package vm
