package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJsonPartialCompletion(t *testing.T) {
	meta := EventMetadata{ID: uuid.New(), TopicID: "topic-1", Model: "gpt-4o-mini"}
	original := NewPartialCompletionEvent(meta, "lo", "Hello")

	b, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	require.Equal(t, EventTypePartialCompletion, decoded.Type())

	partial, ok := decoded.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "lo", partial.Delta)
	assert.Equal(t, "Hello", partial.Completion)
	assert.Equal(t, "topic-1", partial.Metadata().TopicID)
}

func TestNewEventFromJsonMessageCommitted(t *testing.T) {
	meta := EventMetadata{ID: uuid.New(), TopicID: "topic-1"}
	original := NewMessageCommittedEvent(meta, "topic-1", "msg-42")

	b, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)

	committed, ok := decoded.(*EventMessageCommitted)
	require.True(t, ok)
	assert.Equal(t, "topic-1", committed.TopicID)
	assert.Equal(t, "msg-42", committed.MessageID)
}

func TestNewEventFromJsonRejectsUnknownType(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"type": "mystery"}`))
	assert.Error(t, err)
}

func TestNewEventFromJsonErrorEvent(t *testing.T) {
	original := NewErrorEvent(EventMetadata{ID: uuid.New()}, errors.New("boom"))

	b, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	assert.Equal(t, "boom", decoded.(*EventError).ErrorString)
}

type capturingPublisher struct {
	messages []*message.Message
	topics   []string
}

func (c *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	c.topics = append(c.topics, topic)
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *capturingPublisher) Close() error { return nil }

func TestCorrelationPublisherDecorator(t *testing.T) {
	captured := &capturingPublisher{}
	decorated := CorrelationPublisherDecorator{Publisher: captured}

	withID := message.NewMessage("1", []byte("{}"))
	withID.SetContext(ContextWithCorrelationID(context.Background(), "corr-42"))

	preSet := message.NewMessage("2", []byte("{}"))
	preSet.Metadata.Set("correlation_id", "already-there")

	bare := message.NewMessage("3", []byte("{}"))

	require.NoError(t, decorated.Publish("chat", withID, preSet, bare))
	require.Len(t, captured.messages, 3)

	assert.Equal(t, "corr-42", captured.messages[0].Metadata.Get("correlation_id"))
	// an existing id is never overwritten
	assert.Equal(t, "already-there", captured.messages[1].Metadata.Get("correlation_id"))
	// messages without one get a generated, marked id
	assert.True(t, strings.HasPrefix(captured.messages[2].Metadata.Get("correlation_id"), "gen_"))
}

func TestPublisherManagerSequenceNumbers(t *testing.T) {
	pm := NewPublisherManager()
	captured := &capturingPublisher{}
	pm.SubscribePublisher("chat", captured)

	meta := EventMetadata{ID: uuid.New(), TopicID: "topic-1"}
	require.NoError(t, pm.Publish(NewStartEvent(meta)))
	require.NoError(t, pm.Publish(NewPartialCompletionEvent(meta, "H", "H")))
	require.NoError(t, pm.Publish(NewFinalEvent(meta, "H")))

	require.Len(t, captured.messages, 3)
	for i, msg := range captured.messages {
		assert.Equal(t, "chat", captured.topics[i])
		assert.Equal(t, fmt.Sprintf("%d", i), msg.Metadata.Get("sequence_number"))
	}
}
