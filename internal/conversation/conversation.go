// Package conversation opens, or reuses, the conversation between the two
// owners of a matched pet pair.
package conversation

import (
	"context"
	"time"
)

// Conversation is the messaging subsystem's record of a two-owner thread.
type Conversation struct {
	ID           string
	Participants [2]string
	CreatedAt    time.Time
}

// Messenger is the slice of the messaging subsystem the bootstrapper needs.
type Messenger interface {
	// FindConversationBetween reports the conversation shared by the two
	// users, in either order.
	FindConversationBetween(ctx context.Context, userA, userB string) (id string, found bool, err error)

	// CreateConversation opens a new conversation with exactly the given
	// participants and returns its id. When the pair already has one, that
	// id is returned instead and no second conversation is opened.
	CreateConversation(ctx context.Context, participants [2]string) (string, error)
}

// ownerPair orders two user ids so both sides of a race agree on the key.
func ownerPair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

func pairKey(p [2]string) string {
	return p[0] + ":" + p[1]
}
