package matching

import (
	"context"
	"encoding/json"
	"time"

	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/swipe"
)

// Requester is the NATS side of Client. messaging.NATSClient satisfies it.
type Requester interface {
	RequestSwipeRecord(data []byte, timeout time.Duration) ([]byte, error)
}

// Client records decisions through a remote Service.
type Client struct {
	nats    Requester
	timeout time.Duration
	now     func() time.Time
}

// NewClient creates a Client. timeout bounds each request when ctx has no
// earlier deadline.
func NewClient(nats Requester, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{nats: nats, timeout: timeout, now: time.Now}
}

// Record sends the decision to the matcher and waits for the outcome.
// Decision.Timestamp is the matcher's commit time. Errors keep the code the
// matcher replied with; transport failures are retryable.
func (c *Client) Record(ctx context.Context, sourcePetID, targetPetID string, dir swipe.Direction) (Result, error) {
	if err := validateDecision(sourcePetID, targetPetID, dir); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, perr.Unavailable(err, "matching: record decision")
	}

	data, err := json.Marshal(RecordRequest{
		SourcePetID: sourcePetID,
		TargetPetID: targetPetID,
		Direction:   string(dir),
	})
	if err != nil {
		return Result{}, perr.Wrap(err, perr.ErrorCodeUnknown, "matching: marshal request")
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	raw, err := c.nats.RequestSwipeRecord(data, timeout)
	if err != nil {
		return Result{}, perr.Unavailable(err, "matching: swipe.record request")
	}

	var reply RecordReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Result{}, perr.Wrap(err, perr.ErrorCodeUnknown, "matching: decode reply")
	}
	if reply.Error != nil {
		return Result{}, perr.FromWire(reply.Error)
	}

	// Replies from older matchers carry no decision time.
	decidedAt := reply.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = c.now().UTC()
	}
	res := Result{
		Decision: swipe.Decision{
			SourcePetID: sourcePetID,
			TargetPetID: targetPetID,
			Direction:   dir,
			Timestamp:   decidedAt,
		},
		Match: reply.Match,
	}
	if reply.Matched && res.Match == nil {
		m := swipe.NewMatch(sourcePetID, targetPetID, decidedAt)
		m.ConversationID = reply.ConversationID
		res.Match = &m
	}
	return res, nil
}
