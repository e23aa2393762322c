// Package trace persists rewrite steps so that a run can be inspected after
// it finishes. Steps and program snapshots are CBOR-encoded and stored in a
// SQLite database; snapshots are content-addressed by their BLAKE3 digest so
// a text that recurs is stored once.
package trace

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Step is one persisted rewrite.
type Step struct {
	Run         int64    `cbor:"1,keyasint"`
	Step        int      `cbor:"2,keyasint"`
	Offset      int      `cbor:"3,keyasint"`
	Head        string   `cbor:"4,keyasint"`
	Name        string   `cbor:"5,keyasint,omitempty"`
	Region      string   `cbor:"6,keyasint"`
	Replacement string   `cbor:"7,keyasint"`
	Snapshot    [32]byte `cbor:"8,keyasint"` // digest of the text after the step
	ElapsedNs   int64    `cbor:"9,keyasint"`
}

// Snapshot is a full program text.
type Snapshot struct {
	Digest [32]byte `cbor:"1,keyasint"`
	Text   string   `cbor:"2,keyasint"`
}

// Digest returns the BLAKE3 digest of text.
func Digest(text string) [32]byte {
	return blake3.Sum256([]byte(text))
}

// ShortDigest renders the first bytes of d for display.
func ShortDigest(d [32]byte) string {
	return hex.EncodeToString(d[:6])
}

// MarshalStep serializes a Step to CBOR bytes.
func MarshalStep(s *Step) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalStep deserializes a Step from CBOR bytes.
func UnmarshalStep(data []byte) (*Step, error) {
	var s Step
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("trace: unmarshal step: %w", err)
	}
	return &s, nil
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot and checks its digest.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("trace: unmarshal snapshot: %w", err)
	}
	if Digest(s.Text) != s.Digest {
		return nil, fmt.Errorf("trace: snapshot %s: %w", ShortDigest(s.Digest), ErrCorruptSnapshot)
	}
	return &s, nil
}
