package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pawpal/matchengine/internal/metrics"
	"github.com/pawpal/matchengine/internal/pet"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/swipe"
)

// ConversationBootstrapper creates or reuses the conversation between two
// owners. conversation.Bootstrapper satisfies it.
type ConversationBootstrapper interface {
	EnsureConversation(ctx context.Context, ownerA, ownerB string) (string, error)
}

// Notifier is told about every newly created match exactly once.
type Notifier interface {
	MatchCreated(ctx context.Context, m swipe.Match) error
}

// Detector turns a like into a match when the reverse like exists.
type Detector struct {
	store        swipe.Store
	registry     pet.Registry
	bootstrapper ConversationBootstrapper
	notifier     Notifier
	log          *logger.Logger
	now          func() time.Time
}

// NewDetector creates a Detector. notifier may be nil.
func NewDetector(store swipe.Store, registry pet.Registry, bootstrapper ConversationBootstrapper, notifier Notifier) *Detector {
	return &Detector{
		store:        store,
		registry:     registry,
		bootstrapper: bootstrapper,
		notifier:     notifier,
		log:          logger.Named("detector"),
		now:          time.Now,
	}
}

// CheckAndCreateMatch is called after sourcePetID liked targetPetID. It
// returns nil when targetPetID has not liked sourcePetID back.
//
// Concurrent callers for the same pair all get the same match: one creates
// it and the rest read it back. A failed conversation bootstrap leaves
// ConversationID empty but does not fail the call.
func (d *Detector) CheckAndCreateMatch(ctx context.Context, sourcePetID, targetPetID string) (*swipe.Match, error) {
	reverse, err := d.store.GetDecision(ctx, targetPetID, sourcePetID)
	if err != nil {
		return nil, perr.Unavailable(err, "matching: read reverse decision")
	}
	if reverse == nil || reverse.Direction != swipe.Like {
		return nil, nil
	}

	m := swipe.NewMatch(sourcePetID, targetPetID, d.now())
	created := true
	if err := d.store.CreateMatch(ctx, m); err != nil {
		if !errors.Is(err, swipe.ErrMatchExists) {
			return nil, perr.Unavailable(err, "matching: create match")
		}
		created = false
		existing, err := d.store.GetMatch(ctx, m.Pair())
		if err != nil {
			return nil, perr.Unavailable(err, "matching: read existing match")
		}
		if existing == nil {
			return nil, perr.Unavailable(nil, "matching: match vanished after conflict")
		}
		m = *existing
	}

	if created {
		metrics.MatchesTotal.WithLabelValues("created").Inc()
		d.log.Info().Str("pet_a", m.PetA).Str("pet_b", m.PetB).Msg("match created")
	} else {
		metrics.MatchesTotal.WithLabelValues("existing").Inc()
		d.log.Debug().Str("pet_a", m.PetA).Str("pet_b", m.PetB).Msg("match already existed")
	}

	id, err := d.Bootstrap(ctx, m)
	if err != nil {
		d.log.Warn().Err(err).Str("pet_a", m.PetA).Str("pet_b", m.PetB).Msg("conversation bootstrap failed")
	} else {
		m.ConversationID = id
	}

	if created && d.notifier != nil {
		if err := d.notifier.MatchCreated(ctx, m); err != nil {
			d.log.Warn().Err(err).Str("pet_a", m.PetA).Str("pet_b", m.PetB).Msg("match notification failed")
		}
	}

	return &m, nil
}

// Bootstrap ensures the owners of the matched pets share a conversation and
// returns its id. It is safe to call again after a failure.
func (d *Detector) Bootstrap(ctx context.Context, m swipe.Match) (string, error) {
	ownerA, err := d.registry.GetOwnerID(ctx, m.PetA)
	if err != nil {
		return "", fmt.Errorf("matching: owner of %s: %w", m.PetA, err)
	}
	ownerB, err := d.registry.GetOwnerID(ctx, m.PetB)
	if err != nil {
		return "", fmt.Errorf("matching: owner of %s: %w", m.PetB, err)
	}
	return d.bootstrapper.EnsureConversation(ctx, ownerA, ownerB)
}
