package memstore

// memstore is a map-backed Store used by tests and as a zero-setup backend
// for the demo binary. It mimics the contract of a real backend: ids and
// timestamps are assigned here, ordering is stable, and removal of a topic
// evicts its messages and clears a stale last-accessed marker.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/store"
)

type MemStore struct {
	mu sync.Mutex

	topics          []*store.TopicRecord
	messagesByTopic map[string][]*store.MessageRecord
	lastAccessedID  string

	now func() time.Time
}

var _ store.Store = (*MemStore)(nil)

type Option func(*MemStore)

// WithClock overrides the timestamp source, mostly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemStore) {
		m.now = now
	}
}

func New(options ...Option) *MemStore {
	ret := &MemStore{
		messagesByTopic: make(map[string][]*store.MessageRecord),
		now:             time.Now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *MemStore) GetAllTopics(_ context.Context) ([]*store.TopicRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// newest first, same contract as the sqlite backend
	ret := make([]*store.TopicRecord, 0, len(m.topics))
	for i := len(m.topics) - 1; i >= 0; i-- {
		copied := *m.topics[i]
		ret = append(ret, &copied)
	}
	return ret, nil
}

func (m *MemStore) GetMessagesByTopic(_ context.Context, topicID string) ([]*store.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findTopic(topicID); !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	msgs := m.messagesByTopic[topicID]
	ret := make([]*store.MessageRecord, 0, len(msgs))
	for _, msg := range msgs {
		copied := *msg
		ret = append(ret, &copied)
	}
	return ret, nil
}

func (m *MemStore) AddTopic(_ context.Context, name string) (*store.TopicRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	topic := &store.TopicRecord{
		ID:             uuid.NewString(),
		Name:           name,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	m.topics = append(m.topics, topic)
	m.messagesByTopic[topic.ID] = nil

	copied := *topic
	return &copied, nil
}

func (m *MemStore) RemoveTopic(_ context.Context, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.findTopic(topicID)
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	m.topics = append(m.topics[:idx], m.topics[idx+1:]...)
	delete(m.messagesByTopic, topicID)
	if m.lastAccessedID == topicID {
		m.lastAccessedID = ""
	}
	return nil
}

func (m *MemStore) EditTopicName(_ context.Context, topicID string, name string) (*store.TopicRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.findTopic(topicID)
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	m.topics[idx].Name = name
	copied := *m.topics[idx]
	return &copied, nil
}

func (m *MemStore) UpdateTopicAccess(_ context.Context, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.findTopic(topicID)
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	m.topics[idx].LastAccessedAt = m.now()
	m.lastAccessedID = topicID
	return nil
}

func (m *MemStore) GetLastAccessedTopic(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAccessedID, nil
}

func (m *MemStore) AddMessage(_ context.Context, req store.AddMessageRequest) (*store.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findTopic(req.TopicID); !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "topic %s", req.TopicID)
	}

	now := m.now()
	msg := &store.MessageRecord{
		ID:         uuid.NewString(),
		TopicID:    req.TopicID,
		Role:       req.Role,
		Content:    req.Content,
		TokensUsed: req.TokensUsed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Append order doubles as the tie-breaker for equal timestamps, which
	// keeps GetMessagesByTopic stable.
	m.messagesByTopic[req.TopicID] = append(m.messagesByTopic[req.TopicID], msg)

	copied := *msg
	return &copied, nil
}

func (m *MemStore) RemoveMessages(_ context.Context, messageIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRemove := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		toRemove[id] = true
	}

	found := 0
	for topicID, msgs := range m.messagesByTopic {
		kept := msgs[:0]
		for _, msg := range msgs {
			if toRemove[msg.ID] {
				found++
				continue
			}
			kept = append(kept, msg)
		}
		m.messagesByTopic[topicID] = kept
	}

	if found != len(toRemove) {
		return errors.Wrapf(store.ErrNotFound, "%d of %d messages", len(toRemove)-found, len(toRemove))
	}
	return nil
}

// findTopic returns the index of the topic in the list. Callers hold the lock.
func (m *MemStore) findTopic(topicID string) (int, bool) {
	for i, t := range m.topics {
		if t.ID == topicID {
			return i, true
		}
	}
	return -1, false
}
