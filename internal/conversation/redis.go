package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ConversationPrefix keys conversation hashes: conversation:<id>
	ConversationPrefix = "conversation:"

	// PairIndexPrefix maps an owner pair to its conversation id:
	// conversation:pair:<userA>:<userB>
	PairIndexPrefix = "conversation:pair:"
)

// conversationRecord mirrors the conversation hash layout.
type conversationRecord struct {
	ID        string `redis:"id"`
	UserA     string `redis:"user_a"`
	UserB     string `redis:"user_b"`
	CreatedAt int64  `redis:"created_at"`
}

// RedisMessenger is a Messenger over Redis, used when the matcher runs
// without an external messaging service.
type RedisMessenger struct {
	rdb          *redis.Client
	createScript *redis.Script
}

// NewRedisMessenger creates a RedisMessenger.
func NewRedisMessenger(rdb *redis.Client) *RedisMessenger {
	return &RedisMessenger{
		rdb:          rdb,
		createScript: redis.NewScript(createConversationLua),
	}
}

func (m *RedisMessenger) FindConversationBetween(ctx context.Context, userA, userB string) (string, bool, error) {
	id, err := m.rdb.Get(ctx, PairIndexPrefix+pairKey(ownerPair(userA, userB))).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("conversation: find %s/%s: %w", userA, userB, err)
	}
	return id, true, nil
}

// createConversationLua claims the pair index and writes the conversation
// hash only when the pair has no conversation yet. It returns the id that
// owns the pair, which is ARGV[1] unless another caller got there first.
//
// KEYS[1] = pair index, KEYS[2] = conversation hash
// ARGV = id, user_a, user_b, created_at
const createConversationLua = `
local existing = redis.call('GET', KEYS[1])
if existing then
  return existing
end
redis.call('HSET', KEYS[2], 'id', ARGV[1], 'user_a', ARGV[2], 'user_b', ARGV[3], 'created_at', ARGV[4])
redis.call('SET', KEYS[1], ARGV[1])
return ARGV[1]
`

// CreateConversation opens a conversation for the pair unless one is
// already indexed, in which case the indexed id is returned and nothing is
// written.
func (m *RedisMessenger) CreateConversation(ctx context.Context, participants [2]string) (string, error) {
	id := uuid.NewString()
	pair := ownerPair(participants[0], participants[1])

	owner, err := m.createScript.Run(ctx, m.rdb,
		[]string{PairIndexPrefix + pairKey(pair), ConversationPrefix + id},
		id, pair[0], pair[1], time.Now().Unix(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("conversation: create: %w", err)
	}
	return owner, nil
}

// Get retrieves a conversation. Returns nil if not found.
func (m *RedisMessenger) Get(ctx context.Context, id string) (*Conversation, error) {
	var rec conversationRecord
	if err := m.rdb.HGetAll(ctx, ConversationPrefix+id).Scan(&rec); err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	if rec.ID == "" {
		return nil, nil
	}
	return &Conversation{
		ID:           rec.ID,
		Participants: [2]string{rec.UserA, rec.UserB},
		CreatedAt:    time.Unix(rec.CreatedAt, 0),
	}, nil
}
