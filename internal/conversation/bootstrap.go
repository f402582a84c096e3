package conversation

import (
	"context"

	"github.com/pawpal/matchengine/internal/metrics"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/platform/logger"
)

// Bootstrapper ensures a single conversation exists between two owners.
type Bootstrapper struct {
	messenger Messenger
	locker    Locker
	log       *logger.Logger
}

// NewBootstrapper creates a Bootstrapper. The locker must be shared by every
// caller that may bootstrap the same owner pair concurrently.
func NewBootstrapper(messenger Messenger, locker Locker) *Bootstrapper {
	return &Bootstrapper{
		messenger: messenger,
		locker:    locker,
		log:       logger.Named("bootstrap"),
	}
}

// EnsureConversation returns the conversation between ownerA and ownerB,
// creating it if none exists. Racing calls for the same pair return the
// same id. No message is sent.
func (b *Bootstrapper) EnsureConversation(ctx context.Context, ownerA, ownerB string) (string, error) {
	if ownerA == "" || ownerB == "" {
		return "", perr.Validationf("owner_id", "conversation: owner id is empty")
	}
	if ownerA == ownerB {
		return "", perr.Validationf("owner_id", "conversation: both pets belong to owner %s", ownerA)
	}

	pair := ownerPair(ownerA, ownerB)

	unlock, err := b.locker.Lock(ctx, pairKey(pair))
	if err != nil {
		metrics.ConversationsTotal.WithLabelValues("failed").Inc()
		return "", perr.Unavailable(err, "conversation: lock owner pair")
	}
	defer unlock()

	id, found, err := b.messenger.FindConversationBetween(ctx, pair[0], pair[1])
	if err != nil {
		metrics.ConversationsTotal.WithLabelValues("failed").Inc()
		return "", perr.Unavailable(err, "conversation: find")
	}
	if found {
		metrics.ConversationsTotal.WithLabelValues("reused").Inc()
		b.log.Debug().Str("conversation", id).Strs("owners", pair[:]).Msg("reusing conversation")
		return id, nil
	}

	id, err = b.messenger.CreateConversation(ctx, pair)
	if err != nil {
		metrics.ConversationsTotal.WithLabelValues("failed").Inc()
		return "", perr.Unavailable(err, "conversation: create")
	}
	metrics.ConversationsTotal.WithLabelValues("created").Inc()
	b.log.Info().Str("conversation", id).Strs("owners", pair[:]).Msg("conversation created")
	return id, nil
}
