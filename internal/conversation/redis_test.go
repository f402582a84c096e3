package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisMessenger(t *testing.T) (*RedisMessenger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisMessenger(rdb), mr
}

func TestRedisMessenger_FindMissing(t *testing.T) {
	m, _ := setupRedisMessenger(t)

	id, found, err := m.FindConversationBetween(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, id)
}

func TestRedisMessenger_CreateAndFind(t *testing.T) {
	m, mr := setupRedisMessenger(t)
	ctx := context.Background()

	id, err := m.CreateConversation(ctx, [2]string{"u2", "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, found, err := m.FindConversationBetween(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	got, found, err = m.FindConversationBetween(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	assert.True(t, mr.Exists(ConversationPrefix+id))
	assert.Equal(t, id, mustGet(t, mr, PairIndexPrefix+"u1:u2"))
}

func TestRedisMessenger_Get(t *testing.T) {
	m, _ := setupRedisMessenger(t)
	ctx := context.Background()

	id, err := m.CreateConversation(ctx, [2]string{"u1", "u2"})
	require.NoError(t, err)

	c, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, [2]string{"u1", "u2"}, c.Participants)
	assert.False(t, c.CreatedAt.IsZero())

	missing, err := m.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBootstrapper_WithRedisMessenger(t *testing.T) {
	m, _ := setupRedisMessenger(t)
	b := NewBootstrapper(m, NewLocalLocker())
	ctx := context.Background()

	id1, err := b.EnsureConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	id2, err := b.EnsureConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

// noLocker grants every lock at once, as if each holder's lease had
// already expired.
type noLocker struct{}

func (noLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func conversationHashes(mr *miniredis.Miniredis) int {
	n := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, ConversationPrefix) && !strings.HasPrefix(k, PairIndexPrefix) {
			n++
		}
	}
	return n
}

func TestCreateConversation_KeepsFirstForPair(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		m, mr := setupRedisMessenger(t)

		first, err := m.CreateConversation(ctx, [2]string{"u1", "u2"})
		require.NoError(t, err)
		second, err := m.CreateConversation(ctx, [2]string{"u2", "u1"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, conversationHashes(mr), "no orphan conversation hash")
		assert.Equal(t, first, mustGet(t, mr, PairIndexPrefix+"u1:u2"))
	})

	t.Run("memory", func(t *testing.T) {
		m := NewMemoryMessenger()

		first, err := m.CreateConversation(ctx, [2]string{"u1", "u2"})
		require.NoError(t, err)
		second, err := m.CreateConversation(ctx, [2]string{"u2", "u1"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, m.Count())
	})
}

func TestEnsureConversation_LostLeaseStillSharesConversation(t *testing.T) {
	m, mr := setupRedisMessenger(t)
	b := NewBootstrapper(&slowMessenger{Messenger: m, delay: 20 * time.Millisecond}, noLocker{})

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			id, err := b.EnsureConversation(context.Background(), "owner-1", "owner-2")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i], "caller %d saw a different conversation", i)
	}
	assert.Equal(t, 1, conversationHashes(mr))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
