// Package swipe holds the decision and match records of the matching engine
// and the stores that persist them.
//
// Decisions are keyed by (source, target) and overwritten on re-swipe.
// Matches are keyed by the canonical unordered pet pair and created at most
// once through a conditional create.
package swipe

import (
	"strings"
	"time"

	perr "github.com/pawpal/matchengine/internal/platform/errors"
)

// Direction is the binary outcome of a swipe.
type Direction string

const (
	Like Direction = "like"
	Pass Direction = "pass"
)

// Valid reports whether d is Like or Pass.
func (d Direction) Valid() bool {
	return d == Like || d == Pass
}

// ParseDirection accepts "like" or "pass" in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", perr.Validationf("direction", "unknown direction %q", s)
	}
	return d, nil
}

// Decision is one pet's Like or Pass on another pet.
type Decision struct {
	SourcePetID string    `json:"source_pet_id"`
	TargetPetID string    `json:"target_pet_id"`
	Direction   Direction `json:"direction"`
	Timestamp   time.Time `json:"timestamp"`
}

// Pair is an unordered pet pair in canonical form: A sorts before B.
type Pair struct {
	A string
	B string
}

// CanonicalPair orders two pet ids byte-wise so either side of a mutual
// like produces the same pair.
func CanonicalPair(x, y string) Pair {
	if y < x {
		return Pair{A: y, B: x}
	}
	return Pair{A: x, B: y}
}

// Key is the store key for the pair.
func (p Pair) Key() string {
	return p.A + ":" + p.B
}

// Match is a mutual like between two pets.
type Match struct {
	PetA           string    `json:"pet_a"`
	PetB           string    `json:"pet_b"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Pair returns the canonical pair of the match.
func (m Match) Pair() Pair {
	return Pair{A: m.PetA, B: m.PetB}
}

// Partner returns the other pet of the match, or "" if petID is not in it.
func (m Match) Partner(petID string) string {
	switch petID {
	case m.PetA:
		return m.PetB
	case m.PetB:
		return m.PetA
	}
	return ""
}

// NewMatch builds a canonical match for the two pets.
func NewMatch(x, y string, now time.Time) Match {
	p := CanonicalPair(x, y)
	return Match{PetA: p.A, PetB: p.B, CreatedAt: now.UTC()}
}
