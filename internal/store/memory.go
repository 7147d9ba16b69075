package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps threads in process memory. History per thread is
// trimmed to maxMessages.
type MemoryStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread
	messages    map[string][]Message
	maxMessages int
	now         func() time.Time
}

func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		threads:     make(map[string]*Thread),
		messages:    make(map[string][]Message),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (m *MemoryStore) ResolveThread(_ context.Context, ownerID, requestedID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ValidThreadID(requestedID) {
		if t, ok := m.threads[requestedID]; ok && t.OwnerID == ownerID {
			return t.ID, false, nil
		}
	}
	now := m.now().UTC()
	t := &Thread{ID: uuid.NewString(), OwnerID: ownerID, Title: DefaultTitle, CreatedAt: now, UpdatedAt: now}
	m.threads[t.ID] = t
	return t.ID, true, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[msg.ThreadID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	if msg.Card != nil {
		msg.Card = append([]byte(nil), msg.Card...)
	}
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	m.trimLocked(msg.ThreadID)
	return nil
}

func (m *MemoryStore) TouchThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) SetTitle(_ context.Context, threadID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.Title = title
	return nil
}

// ListThreads returns the owner's threads, most recently updated first.
func (m *MemoryStore) ListThreads(_ context.Context, ownerID string, limit int) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Thread, 0)
	for _, t := range m.threads {
		if t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, ownerID, threadID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[threadID]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	msgs := m.messages[threadID]
	copyMsgs := make([]Message, len(msgs))
	copy(copyMsgs, msgs)
	return copyMsgs, nil
}

func (m *MemoryStore) trimLocked(threadID string) {
	if m.maxMessages <= 0 {
		return
	}
	msgs := m.messages[threadID]
	if len(msgs) > m.maxMessages {
		m.messages[threadID] = msgs[len(msgs)-m.maxMessages:]
	}
}

var _ ThreadStore = (*MemoryStore)(nil)
