package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pawpal/matchengine/internal/pet"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/swipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barrierStore holds every decision write until all parties have written,
// so both sides of a mutual like read each other's decision before either
// creates the match.
type barrierStore struct {
	swipe.Store
	wg *sync.WaitGroup
}

func (b *barrierStore) UpsertDecision(ctx context.Context, d swipe.Decision) error {
	err := b.Store.UpsertDecision(ctx, d)
	b.wg.Done()
	b.wg.Wait()
	return err
}

type stubBootstrapper struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubBootstrapper) EnsureConversation(_ context.Context, ownerA, ownerB string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "conv-" + ownerA + "-" + ownerB, nil
}

func TestConcurrentMutualLikes_OneMatchOneConversation(t *testing.T) {
	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		e := newEngine(t, func(s swipe.Store) swipe.Store {
			return &barrierStore{Store: s, wg: &wg}
		})

		var (
			start   = make(chan struct{})
			results [2]Result
			errs    [2]error
			done    sync.WaitGroup
		)
		done.Add(2)
		for j, pair := range [2][2]string{{"S", "P1"}, {"P1", "S"}} {
			go func(j int, src, tgt string) {
				defer done.Done()
				<-start
				results[j], errs[j] = e.recorder.Record(context.Background(), src, tgt, swipe.Like)
			}(j, pair[0], pair[1])
		}
		close(start)
		done.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		require.True(t, results[0].Matched(), "iteration %d", i)
		require.True(t, results[1].Matched(), "iteration %d", i)
		assert.NotEmpty(t, results[0].ConversationID())
		assert.Equal(t, results[0].ConversationID(), results[1].ConversationID())
		assert.Equal(t, 1, e.store.MatchCount())
		assert.Equal(t, 1, e.messenger.Count())
		assert.Equal(t, 1, e.notifier.count())
	}
}

func TestCheckAndCreateMatch_ReadsBackExistingMatch(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, e.store.UpsertDecision(ctx, swipe.Decision{SourcePetID: "P1", TargetPetID: "S", Direction: swipe.Like}))
	require.NoError(t, e.store.CreateMatch(ctx, swipe.NewMatch("S", "P1", created)))

	m, err := e.detector.CheckAndCreateMatch(ctx, "S", "P1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, created, m.CreatedAt, "existing match is returned, not replaced")
	assert.NotEmpty(t, m.ConversationID)
	assert.Equal(t, 0, e.notifier.count(), "losing creator does not notify")
}

func TestCheckAndCreateMatch_NoReverseDecision(t *testing.T) {
	e := newEngine(t, nil)
	m, err := e.detector.CheckAndCreateMatch(context.Background(), "S", "P2")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCheckAndCreateMatch_BootstrapFailureKeepsMatch(t *testing.T) {
	store := swipe.NewMemoryStore()
	pets := pet.NewMemoryStore(
		pet.Pet{ID: "S", OwnerID: "owner-s"},
		pet.Pet{ID: "P1", OwnerID: "owner-1"},
	)
	boot := &stubBootstrapper{err: perr.Unavailable(errors.New("messaging down"), "conversation: create")}
	notifier := &recordingNotifier{}
	d := NewDetector(store, pets, boot, notifier)
	ctx := context.Background()

	require.NoError(t, store.UpsertDecision(ctx, swipe.Decision{SourcePetID: "P1", TargetPetID: "S", Direction: swipe.Like}))

	m, err := d.CheckAndCreateMatch(ctx, "S", "P1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.ConversationID)
	assert.Equal(t, 1, store.MatchCount())
	assert.Equal(t, 1, notifier.count())

	// A later bootstrap retry succeeds.
	boot.err = nil
	id, err := d.Bootstrap(ctx, *m)
	require.NoError(t, err)
	assert.Equal(t, "conv-owner-1-owner-s", id)
}

func TestCheckAndCreateMatch_UnknownOwnerKeepsMatch(t *testing.T) {
	store := swipe.NewMemoryStore()
	pets := pet.NewMemoryStore(pet.Pet{ID: "S", OwnerID: "owner-s"})
	boot := &stubBootstrapper{}
	d := NewDetector(store, pets, boot, nil)
	ctx := context.Background()

	require.NoError(t, store.UpsertDecision(ctx, swipe.Decision{SourcePetID: "ghost", TargetPetID: "S", Direction: swipe.Like}))

	m, err := d.CheckAndCreateMatch(ctx, "S", "ghost")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.ConversationID)
	assert.Equal(t, 0, boot.calls)

	_, err = d.Bootstrap(ctx, *m)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestCheckAndCreateMatch_NotifierFailureKeepsMatch(t *testing.T) {
	e := newEngine(t, nil)
	e.notifier.err = errors.New("nats down")
	ctx := context.Background()

	require.NoError(t, e.store.UpsertDecision(ctx, swipe.Decision{SourcePetID: "P1", TargetPetID: "S", Direction: swipe.Like}))
	m, err := e.detector.CheckAndCreateMatch(ctx, "S", "P1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotEmpty(t, m.ConversationID)
}

func TestCheckAndCreateMatch_StoreFailureIsRetryable(t *testing.T) {
	fs := &failingStore{Store: swipe.NewMemoryStore(), getErr: errors.New("boom")}
	d := NewDetector(fs, pet.NewMemoryStore(), &stubBootstrapper{}, nil)

	_, err := d.CheckAndCreateMatch(context.Background(), "S", "P1")
	require.Error(t, err)
	assert.True(t, perr.IsRetryable(err))
}
