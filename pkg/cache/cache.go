package cache

// Package cache owns the in-memory topic/message collections and keeps them
// consistent with the backend store. Every mutation is backend-confirmed
// before the in-memory state changes (confirm-then-apply); the two documented
// exceptions are the optimistic access-time touch in SetCurrentTopic and the
// best-effort last-accessed restore in LoadAll.
//
// The cache is the sole mutator of its collections. A mutex serializes the
// apply step of every operation, so two racing backend confirmations append
// in confirmation order and readers never observe a partially applied batch.

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/store"
)

// DefaultTopicName is used when the backend reports zero topics on load.
const DefaultTopicName = "New Conversation"

type ChangeKind string

const (
	ChangeLoaded          ChangeKind = "loaded"
	ChangeTopicAdded      ChangeKind = "topic-added"
	ChangeTopicRemoved    ChangeKind = "topic-removed"
	ChangeTopicRenamed    ChangeKind = "topic-renamed"
	ChangeTopicSelected   ChangeKind = "topic-selected"
	ChangeMessageAdded    ChangeKind = "message-added"
	ChangeMessagesRemoved ChangeKind = "messages-removed"
)

// Change describes one committed mutation. Subscribers receive it after the
// in-memory batch has been applied.
type Change struct {
	Kind       ChangeKind
	TopicID    string
	MessageIDs []string
}

// MessageDraft is a message before the backend has assigned id and
// timestamps.
type MessageDraft struct {
	TopicID    string
	Role       chat.Role
	Content    chat.MessageContent
	TokensUsed int
}

type TopicCache struct {
	backend   store.Store
	publisher *events.PublisherManager
	now       func() time.Time

	mu              sync.Mutex
	topics          []*chat.Topic
	messagesByTopic map[string][]*chat.Message
	currentTopicID  string

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int
}

type Option func(*TopicCache)

// WithPublisher attaches an event publisher; the cache emits a
// message-committed event through it after every confirmed AddMessage.
func WithPublisher(publisher *events.PublisherManager) Option {
	return func(c *TopicCache) {
		c.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *TopicCache) {
		c.now = now
	}
}

// New constructs a cache bound to a backend store. There is no package-level
// instance; callers construct one at startup and pass it to whatever needs
// it.
func New(backend store.Store, options ...Option) *TopicCache {
	ret := &TopicCache{
		backend:         backend,
		now:             time.Now,
		messagesByTopic: make(map[string][]*chat.Message),
		subscribers:     make(map[int]func(Change)),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Subscribe registers a callback invoked after every committed mutation. The
// returned cancel function removes the subscription; it is safe to call more
// than once.
func (c *TopicCache) Subscribe(fn func(Change)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subscribers, id)
	}
}

// notify runs outside the state lock so subscribers can read the cache.
func (c *TopicCache) notify(change Change) {
	c.subMu.Lock()
	fns := make([]func(Change), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// Topics returns the topic list, newest first. The slice is a copy; the
// topics themselves are shared and must be treated as read-only.
func (c *TopicCache) Topics() []*chat.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()

	ret := make([]*chat.Topic, len(c.topics))
	copy(ret, c.topics)
	return ret
}

func (c *TopicCache) CurrentTopicID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTopicID
}

// CurrentTopicMessages returns the paired message list of the selected
// topic, or nil when no topic is selected.
func (c *TopicCache) CurrentTopicMessages() []*chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentTopicID == "" {
		return nil
	}
	return copyMessages(c.messagesByTopic[c.currentTopicID])
}

// MessagesByTopic returns the paired message list for one topic.
func (c *TopicCache) MessagesByTopic(topicID string) []*chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMessages(c.messagesByTopic[topicID])
}

func copyMessages(msgs []*chat.Message) []*chat.Message {
	if msgs == nil {
		return nil
	}
	ret := make([]*chat.Message, len(msgs))
	copy(ret, msgs)
	return ret
}

// LoadAll fetches every topic and, per topic, its messages, runs each list
// through pair assignment, and replaces the whole in-memory collection in one
// batch. The per-topic fetches run concurrently. When the backend reports
// zero topics, a default topic is created so the UI always has somewhere to
// type. The last-accessed restore is best-effort: its failure is logged, not
// surfaced.
func (c *TopicCache) LoadAll(ctx context.Context) error {
	topicRecords, err := c.backend.GetAllTopics(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load topics")
		return errors.Wrap(err, "load topics")
	}

	topics := make([]*chat.Topic, len(topicRecords))
	loaded := make([][]*chat.Message, len(topicRecords))

	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range topicRecords {
		i, rec := i, rec
		topics[i] = topicFromRecord(rec)
		g.Go(func() error {
			msgRecords, err := c.backend.GetMessagesByTopic(gctx, rec.ID)
			if err != nil {
				return errors.Wrapf(err, "load messages for topic %s", rec.ID)
			}
			msgs := make([]*chat.Message, len(msgRecords))
			for j, mr := range msgRecords {
				msgs[j] = messageFromRecord(mr)
			}
			loaded[i] = chat.AssignPairs(msgs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("failed to load topic messages")
		return err
	}

	index := make(map[string][]*chat.Message, len(topics))
	for i, topic := range topics {
		topic.Messages = loaded[i]
		index[topic.ID] = loaded[i]
	}

	if len(topics) == 0 {
		rec, err := c.backend.AddTopic(ctx, DefaultTopicName)
		if err != nil {
			log.Error().Err(err).Msg("failed to create initial topic")
			return errors.Wrap(err, "create initial topic")
		}
		topic := topicFromRecord(rec)
		topics = append(topics, topic)
		index[topic.ID] = nil
	}

	currentTopicID := ""
	lastAccessedID, err := c.backend.GetLastAccessedTopic(ctx)
	if err != nil {
		// non-critical: selection stays unset rather than failing the load
		log.Warn().Err(err).Msg("failed to get last accessed topic")
	} else if lastAccessedID != "" {
		if _, ok := index[lastAccessedID]; ok {
			currentTopicID = lastAccessedID
		} else {
			log.Debug().Str("topic_id", lastAccessedID).Msg("last accessed topic no longer exists")
		}
	}
	if currentTopicID == "" && len(topicRecords) == 0 && len(topics) > 0 {
		// a freshly seeded default topic becomes current
		currentTopicID = topics[0].ID
	}

	c.mu.Lock()
	c.topics = topics
	c.messagesByTopic = index
	c.currentTopicID = currentTopicID
	c.mu.Unlock()

	log.Debug().Int("topic_count", len(topics)).Str("current_topic_id", currentTopicID).Msg("topics loaded")
	c.notify(Change{Kind: ChangeLoaded})
	return nil
}

// SetCurrentTopic selects a topic. Selecting the already current topic or an
// empty id issues no backend call at all. The access-time touch is
// fire-and-forget: its failure is logged and the selection still happens.
func (c *TopicCache) SetCurrentTopic(ctx context.Context, topicID string) {
	c.mu.Lock()
	if topicID == "" || topicID == c.currentTopicID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// a slow backend must never delay selection; the touch runs detached and
	// outlives the caller's context
	touchCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.backend.UpdateTopicAccess(touchCtx, topicID); err != nil {
			log.Warn().Err(err).Str("topic_id", topicID).Msg("failed to update topic access")
		}
	}()

	now := c.now()
	c.mu.Lock()
	for _, topic := range c.topics {
		if topic.ID == topicID {
			topic.LastAccessedAt = now
			break
		}
	}
	c.currentTopicID = topicID
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeTopicSelected, TopicID: topicID})
}

// AddTopic creates a topic on the backend and, once confirmed, prepends it
// and makes it current. There is no optimistic pre-insert: the id is
// backend-assigned, so the cache waits for the round trip.
func (c *TopicCache) AddTopic(ctx context.Context, name string) (*chat.Topic, error) {
	rec, err := c.backend.AddTopic(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to add topic")
		return nil, errors.Wrap(err, "add topic")
	}

	topic := topicFromRecord(rec)
	c.mu.Lock()
	c.topics = append([]*chat.Topic{topic}, c.topics...)
	c.messagesByTopic[topic.ID] = nil
	c.currentTopicID = topic.ID
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeTopicAdded, TopicID: topic.ID})
	return topic, nil
}

// RemoveTopic deletes a topic on the backend and only then evicts it and its
// message index from memory. On failure the topic stays and the error
// propagates; the UI must not show it as removed when the backend did not
// confirm.
func (c *TopicCache) RemoveTopic(ctx context.Context, topicID string) error {
	if err := c.backend.RemoveTopic(ctx, topicID); err != nil {
		log.Error().Err(err).Str("topic_id", topicID).Msg("failed to remove topic")
		return errors.Wrap(err, "remove topic")
	}

	c.mu.Lock()
	found := false
	for i, topic := range c.topics {
		if topic.ID == topicID {
			c.topics = append(c.topics[:i], c.topics[i+1:]...)
			found = true
			break
		}
	}
	delete(c.messagesByTopic, topicID)
	if c.currentTopicID == topicID {
		c.currentTopicID = ""
	}
	c.mu.Unlock()

	if !found {
		err := errors.Wrapf(store.ErrInconsistentState, "removed topic %s was not cached", topicID)
		log.Error().Err(err).Str("topic_id", topicID).Msg("topic removed on backend but missing from cache")
		return err
	}

	c.notify(Change{Kind: ChangeTopicRemoved, TopicID: topicID})
	return nil
}

// EditTopicName renames a topic, confirm-then-apply.
func (c *TopicCache) EditTopicName(ctx context.Context, topicID string, name string) error {
	rec, err := c.backend.EditTopicName(ctx, topicID, name)
	if err != nil {
		log.Error().Err(err).Str("topic_id", topicID).Msg("failed to edit topic name")
		return errors.Wrap(err, "edit topic name")
	}

	c.mu.Lock()
	found := false
	for _, topic := range c.topics {
		if topic.ID == topicID {
			topic.Name = rec.Name
			found = true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		err := errors.Wrapf(store.ErrInconsistentState, "renamed topic %s is not cached", topicID)
		log.Error().Err(err).Str("topic_id", topicID).Msg("topic renamed on backend but missing from cache")
		return err
	}

	c.notify(Change{Kind: ChangeTopicRenamed, TopicID: topicID})
	return nil
}

// AddMessage persists a draft and appends the authoritative result to the
// topic's message list and the per-topic index in one batch. The pair id is
// assigned with the same rule a full recompute would use, so it survives
// reloads. After the append a message-committed event is published, which is
// what resets the live stream buffer.
func (c *TopicCache) AddMessage(ctx context.Context, draft MessageDraft) (*chat.Message, error) {
	content, err := chat.EncodeContent(draft.Content)
	if err != nil {
		log.Error().Err(err).Str("topic_id", draft.TopicID).Msg("failed to encode message content")
		return nil, errors.Wrap(err, "encode content")
	}

	rec, err := c.backend.AddMessage(ctx, store.AddMessageRequest{
		TopicID:    draft.TopicID,
		Role:       string(draft.Role),
		Content:    content,
		TokensUsed: draft.TokensUsed,
	})
	if err != nil {
		log.Error().Err(err).Str("topic_id", draft.TopicID).Msg("failed to add message")
		return nil, errors.Wrap(err, "add message")
	}

	msg := messageFromRecord(rec)

	c.mu.Lock()
	var topic *chat.Topic
	for _, t := range c.topics {
		if t.ID == draft.TopicID {
			topic = t
			break
		}
	}
	if topic == nil {
		c.mu.Unlock()
		err := errors.Wrapf(store.ErrInconsistentState, "message %s committed to unknown topic %s", msg.ID, draft.TopicID)
		log.Error().Err(err).Str("topic_id", draft.TopicID).Msg("message persisted but topic missing from cache")
		return nil, err
	}

	existing := c.messagesByTopic[draft.TopicID]
	msg.PairID = chat.NextPairID(existing, msg)
	appended := append(existing, msg)
	c.messagesByTopic[draft.TopicID] = appended
	topic.Messages = appended
	c.mu.Unlock()

	if c.publisher != nil {
		meta := events.EventMetadata{TopicID: draft.TopicID}
		c.publisher.PublishBlind(events.NewMessageCommittedEvent(meta, draft.TopicID, msg.ID))
	}

	c.notify(Change{Kind: ChangeMessageAdded, TopicID: draft.TopicID, MessageIDs: []string{msg.ID}})
	return msg, nil
}

// RemoveMessages bulk-deletes messages on the backend and then re-fetches the
// current topic's list from the backend instead of filtering locally. The
// authoritative re-sync protects against local/backend drift after a
// destructive operation.
func (c *TopicCache) RemoveMessages(ctx context.Context, messageIDs []string) error {
	if err := c.backend.RemoveMessages(ctx, messageIDs); err != nil {
		log.Error().Err(err).Strs("message_ids", messageIDs).Msg("failed to remove messages")
		return errors.Wrap(err, "remove messages")
	}

	topicID := c.CurrentTopicID()
	if topicID == "" {
		c.notify(Change{Kind: ChangeMessagesRemoved, MessageIDs: messageIDs})
		return nil
	}

	msgRecords, err := c.backend.GetMessagesByTopic(ctx, topicID)
	if err != nil {
		log.Error().Err(err).Str("topic_id", topicID).Msg("failed to re-sync messages after removal")
		return errors.Wrap(err, "re-sync messages")
	}
	msgs := make([]*chat.Message, len(msgRecords))
	for i, mr := range msgRecords {
		msgs[i] = messageFromRecord(mr)
	}
	msgs = chat.AssignPairs(msgs)

	c.mu.Lock()
	c.messagesByTopic[topicID] = msgs
	for _, topic := range c.topics {
		if topic.ID == topicID {
			topic.Messages = msgs
			break
		}
	}
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeMessagesRemoved, TopicID: topicID, MessageIDs: messageIDs})
	return nil
}

// RegenerateMessage is an explicit extension point: removing the assistant
// half of a pair and re-issuing the generation is not implemented.
func (c *TopicCache) RegenerateMessage(_ context.Context, messageID string) error {
	return errors.Wrapf(store.ErrNotImplemented, "regenerate message %s", messageID)
}

func topicFromRecord(rec *store.TopicRecord) *chat.Topic {
	return &chat.Topic{
		ID:             rec.ID,
		Name:           rec.Name,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
	}
}

func messageFromRecord(rec *store.MessageRecord) *chat.Message {
	return &chat.Message{
		ID:         rec.ID,
		TopicID:    rec.TopicID,
		Role:       chat.Role(rec.Role),
		Content:    chat.DecodeContent(rec.Content),
		TokensUsed: rec.TokensUsed,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
