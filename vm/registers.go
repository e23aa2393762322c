package vm

import (
	"fmt"
	"strings"
)

// Frame is one register frame. Slot 0 holds the whole argument or match.
type Frame []string

// Registers is the register-frame stack. It always holds at least the
// empty base frame.
type Registers struct {
	frames []Frame
}

// NewRegisters creates a stack holding only the base frame.
func NewRegisters() *Registers {
	return &Registers{frames: []Frame{{}}}
}

// Push makes f the innermost frame.
func (r *Registers) Push(f Frame) {
	r.frames = append(r.frames, f)
}

// Pop discards the innermost frame. The base frame is never popped.
func (r *Registers) Pop() {
	if len(r.frames) > 1 {
		r.frames = r.frames[:len(r.frames)-1]
	}
}

// Height returns the number of frames, including the base frame.
func (r *Registers) Height() int { return len(r.frames) }

// Lookup resolves a register reference. Depth 0 is the innermost frame.
func (r *Registers) Lookup(depth, index int) (string, error) {
	pos := len(r.frames) - 1 - depth
	if pos < 0 || index < 0 || index >= len(r.frames[pos]) {
		return "", &EvalError{Err: ErrUnboundRegister, Detail: registerName(depth, index)}
	}
	return r.frames[pos][index], nil
}

func registerName(depth, index int) string {
	return fmt.Sprintf("%s$%d", strings.Repeat("^", depth), index)
}
