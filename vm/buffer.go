package vm

import "fmt"

// Runes is read access to text by rune offset.
type Runes interface {
	Len() int
	At(i int) rune
}

// Buffer is the mutable program text. Offsets count runes.
type Buffer struct {
	runes []rune
}

// NewBuffer creates a buffer holding s.
func NewBuffer(s string) *Buffer {
	return &Buffer{runes: []rune(s)}
}

// Len returns the length in runes.
func (b *Buffer) Len() int { return len(b.runes) }

// At returns the rune at offset i.
func (b *Buffer) At(i int) rune { return b.runes[i] }

// Slice returns the text in [start, end).
func (b *Buffer) Slice(start, end int) string {
	return string(b.runes[start:end])
}

// Splice replaces [start, end) with text.
func (b *Buffer) Splice(start, end int, text string) error {
	if start < 0 || end < start || end > len(b.runes) {
		return fmt.Errorf("splice [%d, %d) out of range for length %d", start, end, len(b.runes))
	}
	repl := []rune(text)
	out := make([]rune, 0, len(b.runes)-(end-start)+len(repl))
	out = append(out, b.runes[:start]...)
	out = append(out, repl...)
	out = append(out, b.runes[end:]...)
	b.runes = out
	return nil
}

func (b *Buffer) String() string { return string(b.runes) }
