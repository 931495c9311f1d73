package session

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/parley/pkg/cache"
	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/stream"
)

// Session is the front door for a chat client: it owns a topic cache, a
// stream merge controller and optionally an inference engine, and exposes the
// few operations a UI loop needs.
type Session struct {
	cache      *cache.TopicCache
	controller *stream.Controller
	engine     provider.Engine
}

type Option func(*Session)

// WithEngine attaches an inference engine. Without one, SendMessage only
// records the user turn.
func WithEngine(engine provider.Engine) Option {
	return func(s *Session) {
		s.engine = engine
	}
}

func New(topicCache *cache.TopicCache, controller *stream.Controller, options ...Option) *Session {
	ret := &Session{
		cache:      topicCache,
		controller: controller,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Session) Load(ctx context.Context) error {
	return s.cache.LoadAll(ctx)
}

func (s *Session) Topics() []*chat.Topic {
	return s.cache.Topics()
}

func (s *Session) CurrentTopicID() string {
	return s.cache.CurrentTopicID()
}

func (s *Session) CurrentTopicMessages() []*chat.Message {
	return s.cache.CurrentTopicMessages()
}

func (s *Session) SetCurrentTopic(ctx context.Context, topicID string) {
	s.cache.SetCurrentTopic(ctx, topicID)
}

func (s *Session) AddTopic(ctx context.Context, name string) (*chat.Topic, error) {
	return s.cache.AddTopic(ctx, name)
}

func (s *Session) RemoveTopic(ctx context.Context, topicID string) error {
	return s.cache.RemoveTopic(ctx, topicID)
}

func (s *Session) EditTopicName(ctx context.Context, topicID string, name string) error {
	return s.cache.EditTopicName(ctx, topicID, name)
}

func (s *Session) RemoveMessages(ctx context.Context, messageIDs []string) error {
	return s.cache.RemoveMessages(ctx, messageIDs)
}

// StreamingText returns the provisional completion to display under the
// current topic's messages. Once the finished text has landed in the cache as
// the last assistant message, the buffer is treated as spent even if the
// release event has not arrived yet, so the text is never shown twice.
func (s *Session) StreamingText() string {
	topicID := s.cache.CurrentTopicID()
	if topicID == "" {
		return ""
	}

	text := s.controller.Text(topicID)
	if text == "" {
		return ""
	}

	msgs := s.cache.CurrentTopicMessages()
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role == chat.RoleAssistant && last.Content.String() == text {
			return ""
		}
	}
	return text
}

// SendMessage records the user turn, runs inference over the topic's full
// history, and records the assistant reply. Without an engine the user turn
// is still recorded.
func (s *Session) SendMessage(ctx context.Context, text string) (*chat.Message, error) {
	topicID := s.cache.CurrentTopicID()
	if topicID == "" {
		return nil, errors.New("no topic selected")
	}

	userMsg, err := s.cache.AddMessage(ctx, cache.MessageDraft{
		TopicID: topicID,
		Role:    chat.RoleUser,
		Content: &chat.TextContent{Text: text},
	})
	if err != nil {
		return nil, err
	}

	if s.engine == nil {
		return userMsg, nil
	}

	reply, err := s.engine.RunInference(ctx, s.cache.MessagesByTopic(topicID))
	if err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	assistantMsg, err := s.cache.AddMessage(ctx, cache.MessageDraft{
		TopicID:    topicID,
		Role:       chat.RoleAssistant,
		Content:    &chat.TextContent{Text: reply.Text},
		TokensUsed: reply.TokensUsed,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("topic_id", topicID).
		Str("message_id", assistantMsg.ID).
		Int("tokens_used", reply.TokensUsed).
		Msg("assistant reply committed")

	return assistantMsg, nil
}

type transcriptEntry struct {
	Role       string    `json:"role" yaml:"role"`
	Content    string    `json:"content" yaml:"content"`
	PairID     string    `json:"pair_id,omitempty" yaml:"pair_id,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty" yaml:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

type transcript struct {
	Topic    string            `json:"topic" yaml:"topic"`
	Messages []transcriptEntry `json:"messages" yaml:"messages"`
}

// ExportTranscript writes the current topic's conversation to w as "json" or
// "yaml".
func (s *Session) ExportTranscript(w io.Writer, format string) error {
	topicID := s.cache.CurrentTopicID()
	if topicID == "" {
		return errors.New("no topic selected")
	}

	topicName := ""
	for _, topic := range s.cache.Topics() {
		if topic.ID == topicID {
			topicName = topic.Name
			break
		}
	}

	out := transcript{Topic: topicName}
	for _, msg := range s.cache.CurrentTopicMessages() {
		out.Messages = append(out.Messages, transcriptEntry{
			Role:       string(msg.Role),
			Content:    msg.Content.String(),
			PairID:     msg.PairID,
			TokensUsed: msg.TokensUsed,
			CreatedAt:  msg.CreatedAt,
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(out)
	default:
		return errors.Errorf("unsupported transcript format %q", format)
	}
}
