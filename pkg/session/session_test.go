package session

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/parley/pkg/cache"
	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/store/memstore"
	"github.com/go-go-golems/parley/pkg/stream"
)

func newPartial(topicID string, text string) events.Event {
	meta := events.EventMetadata{ID: uuid.New(), TopicID: topicID}
	return events.NewPartialCompletionEvent(meta, text, text)
}

type scriptedEngine struct {
	replies []provider.Reply
	seen    [][]*chat.Message
}

func (e *scriptedEngine) RunInference(_ context.Context, messages []*chat.Message) (*provider.Reply, error) {
	e.seen = append(e.seen, messages)
	reply := e.replies[0]
	if len(e.replies) > 1 {
		e.replies = e.replies[1:]
	}
	return &reply, nil
}

func newTestSession(t *testing.T, engine provider.Engine) (*Session, *stream.Controller) {
	t.Helper()
	c := cache.New(memstore.New())
	controller := stream.NewController()
	opts := []Option{}
	if engine != nil {
		opts = append(opts, WithEngine(engine))
	}
	s := New(c, controller, opts...)
	require.NoError(t, s.Load(context.Background()))
	return s, controller
}

func TestSendMessageRecordsPairedExchange(t *testing.T) {
	engine := &scriptedEngine{replies: []provider.Reply{{Text: "Hello!", TokensUsed: 5, Model: "test"}}}
	s, _ := newTestSession(t, engine)
	ctx := context.Background()

	topic, err := s.AddTopic(ctx, "Demo")
	require.NoError(t, err)
	require.Equal(t, topic.ID, s.CurrentTopicID())

	reply, err := s.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	assert.Equal(t, chat.RoleAssistant, reply.Role)
	assert.Equal(t, 5, reply.TokensUsed)

	msgs := s.CurrentTopicMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[0].Content.String())
	assert.Equal(t, "Hello!", msgs[1].Content.String())
	assert.Equal(t, msgs[0].PairID, msgs[1].PairID)

	// the engine saw the user turn in the history it was given
	require.Len(t, engine.seen, 1)
	require.Len(t, engine.seen[0], 1)
	assert.Equal(t, chat.RoleUser, engine.seen[0][0].Role)
}

func TestSendMessageWithoutEngineRecordsUserTurnOnly(t *testing.T) {
	s, _ := newTestSession(t, nil)
	ctx := context.Background()

	_, err := s.AddTopic(ctx, "Solo")
	require.NoError(t, err)

	msg, err := s.SendMessage(ctx, "just me")
	require.NoError(t, err)
	assert.Equal(t, chat.RoleUser, msg.Role)
	assert.Len(t, s.CurrentTopicMessages(), 1)
}

func TestStreamingTextDiscardedOnceCommitted(t *testing.T) {
	s, controller := newTestSession(t, nil)
	ctx := context.Background()

	topic, err := s.AddTopic(ctx, "Streamy")
	require.NoError(t, err)

	controller.Apply(newPartial(topic.ID, "Hello!"))
	assert.Equal(t, "Hello!", s.StreamingText())

	// once the same text lands as the last assistant message the buffer is
	// spent, even before the release event arrives
	_, err = s.cache.AddMessage(ctx, cache.MessageDraft{
		TopicID: topic.ID,
		Role:    chat.RoleAssistant,
		Content: &chat.TextContent{Text: "Hello!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "", s.StreamingText())
}

func TestStreamingTextScopedToCurrentTopic(t *testing.T) {
	s, controller := newTestSession(t, nil)
	ctx := context.Background()

	first, err := s.AddTopic(ctx, "first")
	require.NoError(t, err)
	second, err := s.AddTopic(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, second.ID, s.CurrentTopicID())

	controller.Apply(newPartial(first.ID, "elsewhere"))
	assert.Equal(t, "", s.StreamingText())

	s.SetCurrentTopic(ctx, first.ID)
	assert.Equal(t, "elsewhere", s.StreamingText())
}

func TestExportTranscriptJSONAndYAML(t *testing.T) {
	engine := &scriptedEngine{replies: []provider.Reply{{Text: "Hello!", TokensUsed: 5}}}
	s, _ := newTestSession(t, engine)
	ctx := context.Background()

	_, err := s.AddTopic(ctx, "Exported")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "Hi")
	require.NoError(t, err)

	var jsonBuf bytes.Buffer
	require.NoError(t, s.ExportTranscript(&jsonBuf, "json"))

	var decoded struct {
		Topic    string `json:"topic"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			PairID  string `json:"pair_id"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "Exported", decoded.Topic)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, decoded.Messages[0].PairID, decoded.Messages[1].PairID)

	var yamlBuf bytes.Buffer
	require.NoError(t, s.ExportTranscript(&yamlBuf, "yaml"))
	var yamlDecoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(yamlBuf.Bytes(), &yamlDecoded))
	assert.Equal(t, "Exported", yamlDecoded["topic"])

	assert.Error(t, s.ExportTranscript(&bytes.Buffer{}, "csv"))
}
