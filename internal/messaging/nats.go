// Package messaging provides a NATS client wrapper for the matching engine.
// It handles connection lifecycle, the decision request/reply subject and
// per-pet match notifications.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pawpal/matchengine/internal/platform/logger"
)

// NATS subjects used by the matcher and its clients.
const (
	SubjectSwipeRecord = "swipe.record" // request/reply
	SubjectMatchFound  = "match.found"  // + .<pet_id>

	// QueueMatcher load-balances swipe.record across matcher instances.
	QueueMatcher = "matcher"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
	log  *logger.Logger
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "pawpal",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
		log:  log,
	}, nil
}

// IsConnected reports whether the underlying connection is up.
func (c *NATSClient) IsConnected() bool {
	return c.conn.IsConnected()
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data on subject and waits up to timeout for one reply.
func (c *NATSClient) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe registers a queue-group handler; each message goes to one
// member of the group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}
	c.track(subject+"#"+queue, sub)
	return nil
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
}

// SubscribeSwipeRecord joins the matcher queue group on swipe.record.
// The handler must reply through msg.Respond.
func (c *NATSClient) SubscribeSwipeRecord(handler func(msg *nats.Msg)) error {
	return c.QueueSubscribe(SubjectSwipeRecord, QueueMatcher, handler)
}

// RequestSwipeRecord sends a decision request and waits for the reply.
func (c *NATSClient) RequestSwipeRecord(data []byte, timeout time.Duration) ([]byte, error) {
	return c.Request(SubjectSwipeRecord, data, timeout)
}

// PublishMatchFound publishes data to the match.found.<petID> subject.
func (c *NATSClient) PublishMatchFound(petID string, data []byte) error {
	return c.Publish(SubjectMatchFound+"."+petID, data)
}

// SubscribeMatchFound subscribes to the match.found.<petID> subject and
// passes the raw message data to the handler.
func (c *NATSClient) SubscribeMatchFound(petID string, handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchFound+"."+petID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeMatchFound unsubscribes from the match.found.<petID> subject.
func (c *NATSClient) UnsubscribeMatchFound(petID string) error {
	return c.unsubscribe(SubjectMatchFound + "." + petID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn().Err(err).Str("subject", subject).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("connection drain")
	}

	c.log.Info().Msg("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
