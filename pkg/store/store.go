package store

// Package store defines the typed seam between the in-memory conversation
// cache and whatever durably owns topics and messages. Implementations
// assign identifiers and timestamps; the cache never invents either.
//
// Two implementations ship with this module: memstore (map-backed, used in
// tests and as a zero-setup backend) and sqlite (modernc.org/sqlite).

import (
	"context"
	"time"
)

// TopicRecord is the persisted shape of a topic, as returned by the backend.
type TopicRecord struct {
	ID             string
	Name           string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// MessageRecord is the persisted shape of a message. Content is the
// transport-encoded string (see chat.EncodeContent); decoding back into
// structured content is the cache's concern.
type MessageRecord struct {
	ID         string
	TopicID    string
	Role       string
	Content    string
	TokensUsed int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AddMessageRequest carries everything the backend needs to persist a new
// message. ID and timestamps are assigned by the backend.
type AddMessageRequest struct {
	TopicID    string
	Role       string
	Content    string
	TokensUsed int
}

// Store is the backend store client consumed by the cache. Message ordering
// from GetMessagesByTopic is ascending by creation time and stable across
// calls (ties broken by insertion order).
type Store interface {
	GetAllTopics(ctx context.Context) ([]*TopicRecord, error)
	GetMessagesByTopic(ctx context.Context, topicID string) ([]*MessageRecord, error)
	AddTopic(ctx context.Context, name string) (*TopicRecord, error)
	RemoveTopic(ctx context.Context, topicID string) error
	EditTopicName(ctx context.Context, topicID string, name string) (*TopicRecord, error)
	UpdateTopicAccess(ctx context.Context, topicID string) error

	// GetLastAccessedTopic returns the id of the most recently selected
	// topic, or "" when none has been recorded yet.
	GetLastAccessedTopic(ctx context.Context) (string, error)

	AddMessage(ctx context.Context, req AddMessageRequest) (*MessageRecord, error)
	RemoveMessages(ctx context.Context, messageIDs []string) error
}
