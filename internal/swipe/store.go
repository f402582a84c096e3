package swipe

import (
	"context"

	perr "github.com/pawpal/matchengine/internal/platform/errors"
)

// ErrMatchExists is returned by CreateMatch when the pair already has a
// match. Callers read the existing match back with GetMatch.
var ErrMatchExists = perr.New(perr.ErrorCodeConflict, "swipe: match already exists")

// Store persists decisions and matches.
type Store interface {
	// UpsertDecision writes d keyed by (source, target), replacing any
	// earlier decision for the same key.
	UpsertDecision(ctx context.Context, d Decision) error

	// GetDecision returns nil when source never swiped on target.
	GetDecision(ctx context.Context, sourcePetID, targetPetID string) (*Decision, error)

	// CreateMatch stores m only if its pair has no match yet and returns
	// ErrMatchExists otherwise. m must be canonical.
	CreateMatch(ctx context.Context, m Match) error

	// GetMatch returns nil when the pair has no match.
	GetMatch(ctx context.Context, pair Pair) (*Match, error)
}
