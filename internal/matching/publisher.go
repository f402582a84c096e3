package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/swipe"
)

// MatchFound is the payload published on match.found.<pet_id>. Each pet of
// the match receives it with the other pet as partner.
type MatchFound struct {
	PetID          string    `json:"pet_id"`
	PartnerPetID   string    `json:"partner_pet_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MatchedAt      time.Time `json:"matched_at"`
}

// MatchPublisher is the NATS side of NATSNotifier.
// messaging.NATSClient satisfies it.
type MatchPublisher interface {
	PublishMatchFound(petID string, data []byte) error
}

// NATSNotifier publishes new matches to both pets.
type NATSNotifier struct {
	nats MatchPublisher
	log  *logger.Logger
}

// NewNATSNotifier creates a NATSNotifier.
func NewNATSNotifier(nats MatchPublisher) *NATSNotifier {
	return &NATSNotifier{nats: nats, log: logger.Named("matcher")}
}

// MatchCreated publishes a MatchFound to each pet of m.
func (n *NATSNotifier) MatchCreated(_ context.Context, m swipe.Match) error {
	for _, petID := range []string{m.PetA, m.PetB} {
		data, err := json.Marshal(MatchFound{
			PetID:          petID,
			PartnerPetID:   m.Partner(petID),
			ConversationID: m.ConversationID,
			MatchedAt:      m.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("matching: marshal match.found for %s: %w", petID, err)
		}
		if err := n.nats.PublishMatchFound(petID, data); err != nil {
			return fmt.Errorf("matching: publish match.found for %s: %w", petID, err)
		}
	}

	n.log.Info().Str("pet_a", m.PetA).Str("pet_b", m.PetB).
		Str("conversation", m.ConversationID).Msg("match published")
	return nil
}
