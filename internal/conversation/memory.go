package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryMessenger keeps conversations in process memory.
type MemoryMessenger struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	byPair        map[[2]string]string
}

// NewMemoryMessenger creates an empty MemoryMessenger.
func NewMemoryMessenger() *MemoryMessenger {
	return &MemoryMessenger{
		conversations: make(map[string]Conversation),
		byPair:        make(map[[2]string]string),
	}
}

func (m *MemoryMessenger) FindConversationBetween(_ context.Context, userA, userB string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[ownerPair(userA, userB)]
	return id, ok, nil
}

func (m *MemoryMessenger) CreateConversation(_ context.Context, participants [2]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := ownerPair(participants[0], participants[1])
	if id, ok := m.byPair[pair]; ok {
		return id, nil
	}
	c := Conversation{ID: uuid.NewString(), Participants: pair, CreatedAt: time.Now()}
	m.conversations[c.ID] = c
	m.byPair[pair] = c.ID
	return c.ID, nil
}

// Count returns how many conversations were created.
func (m *MemoryMessenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}
