package compiler

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ---------------------------------------------------------------------------
// LinkedTokens: arena-backed editable token list
// ---------------------------------------------------------------------------

// ErrArenaIndex is the base of every arena contract violation.
var ErrArenaIndex = errors.New("token arena index error")

var (
	ErrInsertionIndex = fmt.Errorf("%w: insertion index out of bounds", ErrArenaIndex)
	ErrInsertionEmpty = fmt.Errorf("%w: nothing to insert", ErrArenaIndex)
	ErrRemovalIndex   = fmt.Errorf("%w: removal index out of bounds", ErrArenaIndex)
	ErrRemovalRange   = fmt.Errorf("%w: removal range exceeds list", ErrArenaIndex)
)

// NoNext marks the logical tail.
const NoNext = -1

// TokenNode holds one token and the arena index of its logical successor.
type TokenNode struct {
	Token Token
	Next  int
}

// LinkedTokens is an append-only arena of nodes. Logical order is defined by
// the Next links starting at the root node, which always lives at index 0 and
// carries no token of its own. Inserting at the very start means inserting
// after index 0. Unlinked nodes stay in the arena until Compact.
type LinkedTokens struct {
	arena []TokenNode
	tail  int // arena index of the logical tail while building
}

// NewLinkedTokens builds a list holding tokens in order.
func NewLinkedTokens(tokens ...Token) *LinkedTokens {
	lt := &LinkedTokens{
		arena: make([]TokenNode, 1, len(tokens)+1),
	}
	lt.arena[0] = TokenNode{Token: Token{Kind: TokenRoot}, Next: NoNext}
	for _, t := range tokens {
		lt.pushBack(t)
	}
	return lt
}

// Tokenize lexes text into a new list.
func Tokenize(text string) (*LinkedTokens, error) {
	lt := NewLinkedTokens()
	if err := NewLexer(text).Run(lt.pushBack); err != nil {
		return nil, err
	}
	return lt, nil
}

// pushBack appends a token to the arena and links it after the tail. Only
// valid while the list is being built, before any splicing.
func (lt *LinkedTokens) pushBack(t Token) {
	idx := len(lt.arena)
	lt.arena[lt.tail].Next = idx
	lt.arena = append(lt.arena, TokenNode{Token: t, Next: NoNext})
	lt.tail = idx
}

// Len returns the arena length, including the root and dead nodes.
func (lt *LinkedTokens) Len() int { return len(lt.arena) }

// Token returns the token stored at arena index i.
func (lt *LinkedTokens) Token(i int) Token { return lt.arena[i].Token }

// Next returns the successor of arena index i.
func (lt *LinkedTokens) Next(i int) (int, bool) {
	n := lt.arena[i].Next
	return n, n != NoNext
}

// All walks the logical order, yielding arena index and token. The root is
// not yielded.
func (lt *LinkedTokens) All() iter.Seq2[int, Token] {
	return func(yield func(int, Token) bool) {
		for i := lt.arena[0].Next; i != NoNext; i = lt.arena[i].Next {
			if !yield(i, lt.arena[i].Token) {
				return
			}
		}
	}
}

// Tokens returns the tokens in logical order.
func (lt *LinkedTokens) Tokens() []Token {
	var tokens []Token
	for _, t := range lt.All() {
		tokens = append(tokens, t)
	}
	return tokens
}

// Live counts the nodes reachable from the root, excluding the root.
func (lt *LinkedTokens) Live() int {
	n := 0
	for range lt.All() {
		n++
	}
	return n
}

// InsertAfter splices tokens in directly after arena index index. The last
// inserted node inherits the old successor of index.
func (lt *LinkedTokens) InsertAfter(index int, tokens []Token) error {
	if index < 0 || index >= len(lt.arena) {
		return fmt.Errorf("insert after %d: %w", index, ErrInsertionIndex)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("insert after %d: %w", index, ErrInsertionEmpty)
	}

	first := len(lt.arena)
	oldNext := lt.arena[index].Next
	for i, t := range tokens {
		next := first + i + 1
		if i == len(tokens)-1 {
			next = oldNext
		}
		lt.arena = append(lt.arena, TokenNode{Token: t, Next: next})
	}
	lt.arena[index].Next = first
	return nil
}

// RemoveRange unlinks the n nodes following arena index index. The node at
// index itself is kept.
func (lt *LinkedTokens) RemoveRange(index, n int) error {
	if index < 0 || index >= len(lt.arena) {
		return fmt.Errorf("remove %d after %d: %w", n, index, ErrRemovalIndex)
	}
	if n <= 0 {
		return nil
	}

	cur := index
	for i := 0; i < n; i++ {
		next := lt.arena[cur].Next
		if next == NoNext {
			return fmt.Errorf("remove %d after %d: %w", n, index, ErrRemovalRange)
		}
		cur = next
	}
	lt.arena[index].Next = lt.arena[cur].Next
	return nil
}

// RemoveBetween links start directly to end, dropping every node logically
// between them. end must follow start in logical order; an end that is not
// downstream of start would close a cycle and fails with ErrRemovalRange.
func (lt *LinkedTokens) RemoveBetween(start, end int) error {
	if start < 0 || start >= len(lt.arena) || end <= 0 || end >= len(lt.arena) {
		return fmt.Errorf("remove between %d and %d: %w", start, end, ErrRemovalIndex)
	}
	// Relinking to a node that is not downstream would create a cycle.
	found := false
	for i := lt.arena[start].Next; i != NoNext; i = lt.arena[i].Next {
		if i == end {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("remove between %d and %d: %w", start, end, ErrRemovalRange)
	}
	lt.arena[start].Next = end
	return nil
}

// Compact rebuilds the arena so that it holds exactly the live nodes in
// logical order with dense indices. Indices handed out earlier are invalid
// afterwards.
func (lt *LinkedTokens) Compact() {
	arena := make([]TokenNode, 1, lt.Live()+1)
	arena[0] = TokenNode{Token: Token{Kind: TokenRoot}, Next: NoNext}
	prev := 0
	for _, t := range lt.All() {
		idx := len(arena)
		arena[prev].Next = idx
		arena = append(arena, TokenNode{Token: t, Next: NoNext})
		prev = idx
	}
	lt.arena = arena
	lt.tail = prev
}

// String renders the list back to source text.
func (lt *LinkedTokens) String() string {
	var b strings.Builder
	for _, t := range lt.All() {
		t.writeSurface(&b)
	}
	return b.String()
}
