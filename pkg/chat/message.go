package chat

// Package chat provides the shared domain types for conversation state
// management: topics, messages, message content blocks, and the pairing
// rules that group a user turn with its assistant reply.
//
// The types here are pure data; persistence lives behind the store.Store
// interface and in-memory bookkeeping in the cache package. Content is
// treated opaquely by both: plain text and structured block lists are
// encoded to a single string for transport and decoded again on load.

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Topic is a single conversation thread. Identity is the backend-assigned ID;
// Name and LastAccessedAt are the only mutable fields.
type Topic struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`

	// Messages is derived state, owned by the cache. Not part of the
	// persisted topic record.
	Messages []*Message `json:"-"`
}

// Message is one turn in a conversation. Messages are immutable once
// persisted except for PairID, which is derived and recomputed whenever the
// topic's message list is rebuilt from a fresh load.
type Message struct {
	ID         string         `json:"id"`
	TopicID    string         `json:"topicId"`
	Role       Role           `json:"role"`
	Content    MessageContent `json:"-"`
	TokensUsed int            `json:"tokensUsed,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`

	// PairID groups a user message with its direct assistant reply. See
	// AssignPairs for the derivation rules.
	PairID string `json:"pairId,omitempty"`
}

type MessageOption func(*Message)

func WithTokensUsed(tokens int) MessageOption {
	return func(m *Message) {
		m.TokensUsed = tokens
	}
}

func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
		m.UpdatedAt = t
	}
}

func WithPairID(pairID string) MessageOption {
	return func(m *Message) {
		m.PairID = pairID
	}
}

func NewMessage(id string, topicID string, role Role, content MessageContent, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:        id,
		TopicID:   topicID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// NewTextMessage is the common case of a plain text turn.
func NewTextMessage(id string, topicID string, role Role, text string, options ...MessageOption) *Message {
	return NewMessage(id, topicID, role, &TextContent{Text: text}, options...)
}

func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	content := ""
	if m.Content != nil {
		var err error
		content, err = EncodeContent(m.Content)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(&struct {
		Content string `json:"content"`
		*Alias
	}{
		Content: content,
		Alias:   (*Alias)(m),
	})
}
