package swipe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DecisionPrefix keys decision hashes: swipe:decision:<source>:<target>
	DecisionPrefix = "swipe:decision:"

	// MatchPrefix keys match hashes: swipe:match:<petA>:<petB>
	MatchPrefix = "swipe:match:"
)

// decisionRecord mirrors the decision hash layout.
type decisionRecord struct {
	Source    string `redis:"source"`
	Target    string `redis:"target"`
	Direction string `redis:"direction"`
	Ts        int64  `redis:"ts"` // unix millis
}

// matchRecord mirrors the match hash layout.
type matchRecord struct {
	PetA      string `redis:"pet_a"`
	PetB      string `redis:"pet_b"`
	CreatedAt int64  `redis:"created_at"` // unix millis
}

// RedisStore keeps decisions and matches in Redis hashes.
type RedisStore struct {
	rdb         *redis.Client
	matchScript *redis.Script
}

// NewRedisStore creates a Store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:         rdb,
		matchScript: redis.NewScript(createMatchLua),
	}
}

func decisionKey(source, target string) string {
	return DecisionPrefix + source + ":" + target
}

// UpsertDecision overwrites every field of the decision hash, so a re-swipe
// leaves exactly one record.
func (s *RedisStore) UpsertDecision(ctx context.Context, d Decision) error {
	err := s.rdb.HSet(ctx, decisionKey(d.SourcePetID, d.TargetPetID), map[string]interface{}{
		"source":    d.SourcePetID,
		"target":    d.TargetPetID,
		"direction": string(d.Direction),
		"ts":        d.Timestamp.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("swipe: upsert decision %s->%s: %w", d.SourcePetID, d.TargetPetID, err)
	}
	return nil
}

// GetDecision returns nil if no decision exists.
func (s *RedisStore) GetDecision(ctx context.Context, sourcePetID, targetPetID string) (*Decision, error) {
	var rec decisionRecord
	if err := s.rdb.HGetAll(ctx, decisionKey(sourcePetID, targetPetID)).Scan(&rec); err != nil {
		return nil, fmt.Errorf("swipe: get decision %s->%s: %w", sourcePetID, targetPetID, err)
	}
	if rec.Source == "" {
		return nil, nil
	}
	return &Decision{
		SourcePetID: rec.Source,
		TargetPetID: rec.Target,
		Direction:   Direction(rec.Direction),
		Timestamp:   time.UnixMilli(rec.Ts).UTC(),
	}, nil
}

// CreateMatch runs createMatchLua so the existence check and the write are
// one atomic step.
func (s *RedisStore) CreateMatch(ctx context.Context, m Match) error {
	key := MatchPrefix + m.Pair().Key()
	created, err := s.matchScript.Run(ctx, s.rdb, []string{key},
		m.PetA, m.PetB, strconv.FormatInt(m.CreatedAt.UnixMilli(), 10)).Int()
	if err != nil {
		return fmt.Errorf("swipe: create match %s: %w", m.Pair().Key(), err)
	}
	if created == 0 {
		return ErrMatchExists
	}
	return nil
}

// GetMatch returns nil if the pair has no match.
func (s *RedisStore) GetMatch(ctx context.Context, pair Pair) (*Match, error) {
	var rec matchRecord
	if err := s.rdb.HGetAll(ctx, MatchPrefix+pair.Key()).Scan(&rec); err != nil {
		return nil, fmt.Errorf("swipe: get match %s: %w", pair.Key(), err)
	}
	if rec.PetA == "" {
		return nil, nil
	}
	return &Match{
		PetA:      rec.PetA,
		PetB:      rec.PetB,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
	}, nil
}

// createMatchLua writes the match hash only if the key is absent.
// Returns 1 when created, 0 when a match already exists.
const createMatchLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'pet_a', ARGV[1], 'pet_b', ARGV[2], 'created_at', ARGV[3])
return 1
`
