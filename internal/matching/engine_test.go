package matching

import (
	"context"
	"sync"
	"testing"

	"github.com/pawpal/matchengine/internal/conversation"
	"github.com/pawpal/matchengine/internal/pet"
	"github.com/pawpal/matchengine/internal/swipe"
)

// recordingNotifier counts MatchCreated calls.
type recordingNotifier struct {
	mu      sync.Mutex
	matches []swipe.Match
	err     error
}

func (n *recordingNotifier) MatchCreated(_ context.Context, m swipe.Match) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, m)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.matches)
}

type engine struct {
	store     *swipe.MemoryStore
	pets      *pet.MemoryStore
	messenger *conversation.MemoryMessenger
	notifier  *recordingNotifier
	detector  *Detector
	recorder  *Recorder
}

// newEngine wires a Recorder over memory stores with pets S, P1 and P2, each
// owned by a different owner. wrap, if set, decorates the swipe store.
func newEngine(t *testing.T, wrap func(swipe.Store) swipe.Store) *engine {
	t.Helper()
	e := &engine{
		store: swipe.NewMemoryStore(),
		pets: pet.NewMemoryStore(
			pet.Pet{ID: "S", OwnerID: "owner-s", Name: "Biscuit", Species: "dog"},
			pet.Pet{ID: "P1", OwnerID: "owner-1", Name: "Mochi", Species: "cat"},
			pet.Pet{ID: "P2", OwnerID: "owner-2", Name: "Rex", Species: "dog"},
		),
		messenger: conversation.NewMemoryMessenger(),
		notifier:  &recordingNotifier{},
	}
	var store swipe.Store = e.store
	if wrap != nil {
		store = wrap(store)
	}
	boot := conversation.NewBootstrapper(e.messenger, conversation.NewLocalLocker())
	e.detector = NewDetector(store, e.pets, boot, e.notifier)
	e.recorder = NewRecorder(store, e.detector)
	return e
}
