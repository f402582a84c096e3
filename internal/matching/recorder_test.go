package matching

import (
	"context"
	"errors"
	"testing"

	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/swipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails the selected operations.
type failingStore struct {
	swipe.Store
	upsertErr error
	getErr    error
}

func (f *failingStore) UpsertDecision(ctx context.Context, d swipe.Decision) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Store.UpsertDecision(ctx, d)
}

func (f *failingStore) GetDecision(ctx context.Context, src, tgt string) (*swipe.Decision, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.GetDecision(ctx, src, tgt)
}

func TestRecord_OneSidedLikeDoesNotMatch(t *testing.T) {
	e := newEngine(t, nil)

	res, err := e.recorder.Record(context.Background(), "S", "P1", swipe.Like)
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.Empty(t, res.ConversationID())
	assert.Equal(t, swipe.Like, res.Decision.Direction)
	assert.Equal(t, 0, e.store.MatchCount())
	assert.Equal(t, 0, e.notifier.count())
}

func TestRecord_PoolScenario(t *testing.T) {
	ctx := context.Background()

	t.Run("no reverse decision", func(t *testing.T) {
		e := newEngine(t, nil)
		res, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
		require.NoError(t, err)
		assert.False(t, res.Matched())
	})

	t.Run("prior reverse like", func(t *testing.T) {
		e := newEngine(t, nil)
		_, err := e.recorder.Record(ctx, "P1", "S", swipe.Like)
		require.NoError(t, err)

		res, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
		require.NoError(t, err)
		require.True(t, res.Matched())
		assert.NotEmpty(t, res.ConversationID())
		assert.Equal(t, swipe.CanonicalPair("S", "P1"), res.Match.Pair())
		assert.Equal(t, 1, e.messenger.Count())
		assert.Equal(t, 1, e.notifier.count())

		// P2 is still undecided and unmatched.
		res, err = e.recorder.Record(ctx, "S", "P2", swipe.Pass)
		require.NoError(t, err)
		assert.False(t, res.Matched())
		assert.Equal(t, 1, e.store.MatchCount())
	})
}

func TestRecord_PassNeverMatches(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	_, err := e.recorder.Record(ctx, "P1", "S", swipe.Like)
	require.NoError(t, err)
	res, err := e.recorder.Record(ctx, "S", "P1", swipe.Pass)
	require.NoError(t, err)
	assert.False(t, res.Matched())

	// A reverse pass blocks the match too.
	_, err = e.recorder.Record(ctx, "P2", "S", swipe.Pass)
	require.NoError(t, err)
	res, err = e.recorder.Record(ctx, "S", "P2", swipe.Like)
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.Equal(t, 0, e.store.MatchCount())
}

func TestRecord_Idempotent(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	_, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.NoError(t, err)
	_, err = e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.NoError(t, err)
	assert.Equal(t, 1, e.store.DecisionCount())

	// Re-swipe overwrites the same key.
	_, err = e.recorder.Record(ctx, "S", "P1", swipe.Pass)
	require.NoError(t, err)
	assert.Equal(t, 1, e.store.DecisionCount())
	d, err := e.store.GetDecision(ctx, "S", "P1")
	require.NoError(t, err)
	assert.Equal(t, swipe.Pass, d.Direction)
}

func TestRecord_RepeatedMutualLikeKeepsOneMatch(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	_, err := e.recorder.Record(ctx, "P1", "S", swipe.Like)
	require.NoError(t, err)
	first, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.NoError(t, err)
	again, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.NoError(t, err)
	back, err := e.recorder.Record(ctx, "P1", "S", swipe.Like)
	require.NoError(t, err)

	assert.True(t, again.Matched())
	assert.True(t, back.Matched())
	assert.Equal(t, first.ConversationID(), again.ConversationID())
	assert.Equal(t, first.ConversationID(), back.ConversationID())
	assert.Equal(t, 1, e.store.MatchCount())
	assert.Equal(t, 1, e.messenger.Count())
	assert.Equal(t, 1, e.notifier.count(), "only the creating call notifies")
}

func TestRecord_Validation(t *testing.T) {
	cases := []struct {
		name  string
		src   string
		tgt   string
		dir   swipe.Direction
		field string
	}{
		{"self swipe", "S", "S", swipe.Like, "target_pet_id"},
		{"empty source", "", "P1", swipe.Like, "source_pet_id"},
		{"empty target", "S", "", swipe.Pass, "target_pet_id"},
		{"bad direction", "S", "P1", swipe.Direction("superlike"), "direction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, nil)
			_, err := e.recorder.Record(context.Background(), tc.src, tc.tgt, tc.dir)
			require.Error(t, err)
			assert.True(t, perr.IsCode(err, perr.ErrorCodeValidation))
			assert.False(t, perr.IsRetryable(err))
			e2, ok := perr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.field, e2.Field())
			assert.Equal(t, 0, e.store.DecisionCount(), "no write on invalid input")
		})
	}
}

func TestRecord_StoreWriteFailureIsRetryable(t *testing.T) {
	fs := &failingStore{upsertErr: errors.New("connection reset")}
	e := newEngine(t, func(s swipe.Store) swipe.Store {
		fs.Store = s
		return fs
	})
	ctx := context.Background()
	require.NoError(t, e.store.UpsertDecision(ctx, swipe.Decision{SourcePetID: "P1", TargetPetID: "S", Direction: swipe.Like}))

	_, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.Error(t, err)
	assert.True(t, perr.IsRetryable(err))
	assert.Equal(t, 0, e.store.MatchCount(), "no detection after a failed write")

	// Once the store recovers, the retry completes the match.
	fs.upsertErr = nil
	res, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.NoError(t, err)
	assert.True(t, res.Matched())
}

func TestRecord_DetectionFailureKeepsDecision(t *testing.T) {
	fs := &failingStore{getErr: errors.New("timeout")}
	e := newEngine(t, func(s swipe.Store) swipe.Store {
		fs.Store = s
		return fs
	})
	ctx := context.Background()

	res, err := e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.Error(t, err)
	assert.True(t, perr.IsRetryable(err))
	assert.False(t, res.Matched())
	assert.Equal(t, 1, e.store.DecisionCount(), "decision is durable")
}

func TestRecord_ContextCancelledWhileWaiting(t *testing.T) {
	e := newEngine(t, nil)
	unlock, err := e.recorder.locks.Lock(context.Background(), "S")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.recorder.Record(ctx, "S", "P1", swipe.Like)
	require.Error(t, err)
	assert.True(t, perr.IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.store.DecisionCount())
}
