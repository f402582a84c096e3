// Package matching records swipe decisions and turns mutual likes into
// matches with a bootstrapped owner conversation.
//
// The Recorder is the only writer of decisions and the Detector the only
// writer of matches. Service exposes the Recorder over NATS request/reply
// and Client is its remote counterpart.
package matching

import (
	"github.com/pawpal/matchengine/internal/swipe"
)

// Result is the outcome of recording one decision.
type Result struct {
	Decision swipe.Decision
	Match    *swipe.Match
}

// Matched reports whether the decision completed a mutual like.
func (r Result) Matched() bool {
	return r.Match != nil
}

// ConversationID returns the bootstrapped conversation id, or "" when there
// is no match or bootstrapping failed.
func (r Result) ConversationID() string {
	if r.Match == nil {
		return ""
	}
	return r.Match.ConversationID
}
