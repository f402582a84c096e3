// Package pet defines the pet records the matching engine swipes over and
// the registry and candidate pool it reads them from.
package pet

import (
	"context"
	"time"

	perr "github.com/pawpal/matchengine/internal/platform/errors"
)

// ErrNotFound is returned by Registry lookups for unknown pets.
var ErrNotFound = perr.New(perr.ErrorCodeNotFound, "pet: not found")

// Pet is a swipeable pet. Only ID and OwnerID matter to the engine; the
// display attributes are carried through untouched.
type Pet struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name,omitempty"`
	Species   string            `json:"species,omitempty"`
	Photos    []string          `json:"photos,omitempty"`
	Traits    map[string]string `json:"traits,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Filters narrow a candidate fetch. Zero values mean no restriction.
type Filters struct {
	Species []string
	Limit   int
}

// Registry resolves pets and their owners.
type Registry interface {
	GetPet(ctx context.Context, petID string) (*Pet, error)
	GetOwnerID(ctx context.Context, petID string) (string, error)
}

// CandidateProvider supplies the ordered candidate pool for a swiping pet.
type CandidateProvider interface {
	FetchCandidates(ctx context.Context, swipingPetID string, filters Filters) ([]Pet, error)
}
