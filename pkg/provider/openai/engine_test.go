package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
)

// stubCompletionServer streams the given chunks as SSE completion deltas.
func stubCompletionServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		for _, chunk := range chunks {
			payload, err := json.Marshal(go_openai.ChatCompletionStreamResponse{
				ID:     "chunk",
				Object: "chat.completion.chunk",
				Model:  go_openai.GPT4oMini,
				Choices: []go_openai.ChatCompletionStreamChoice{
					{Delta: go_openai.ChatCompletionStreamChoiceDelta{Content: chunk}},
				},
			})
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newStubEngine(t *testing.T, server *httptest.Server, manager *events.PublisherManager) *Engine {
	t.Helper()
	config := go_openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	return New("test-key",
		WithClient(go_openai.NewClientWithConfig(config)),
		WithSubscriptionManager(manager),
	)
}

type recordingPublisher struct {
	decoded []events.Event
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		r.decoded = append(r.decoded, e)
	}
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestRunInferenceStampsEventsWithHistoryTopic(t *testing.T) {
	server := stubCompletionServer(t, []string{"He", "llo"})
	defer server.Close()

	manager := events.NewPublisherManager()
	recorded := &recordingPublisher{}
	manager.SubscribePublisher("chat", recorded)

	engine := newStubEngine(t, server, manager)
	reply, err := engine.RunInference(context.Background(), []*chat.Message{
		chat.NewTextMessage("m1", "topic-7", chat.RoleUser, "Hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)
	assert.Greater(t, reply.TokensUsed, 0)

	// start, two partials, final; all keyed to the history's topic
	require.Len(t, recorded.decoded, 4)
	for _, e := range recorded.decoded {
		assert.Equal(t, "topic-7", e.Metadata().TopicID)
	}

	partial, ok := recorded.decoded[2].(*events.EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "llo", partial.Delta)
	assert.Equal(t, "Hello", partial.Completion)

	final, ok := recorded.decoded[3].(*events.EventFinal)
	require.True(t, ok)
	assert.Equal(t, "Hello", final.Text)
}

func TestTopicIDOfUsesNewestMessage(t *testing.T) {
	msgs := []*chat.Message{
		chat.NewTextMessage("m1", "topic-old", chat.RoleUser, "a"),
		chat.NewTextMessage("m2", "topic-new", chat.RoleUser, "b"),
	}
	assert.Equal(t, "topic-new", topicIDOf(msgs))
	assert.Equal(t, "", topicIDOf(nil))
}

func TestToOpenAIMessagesText(t *testing.T) {
	msgs := []*chat.Message{
		chat.NewTextMessage("m1", "t1", chat.RoleUser, "Hi"),
		chat.NewTextMessage("m2", "t1", chat.RoleAssistant, "Hello!"),
	}

	converted := toOpenAIMessages(msgs)
	require.Len(t, converted, 2)
	assert.Equal(t, "user", converted[0].Role)
	assert.Equal(t, "Hi", converted[0].Content)
	assert.Equal(t, "assistant", converted[1].Role)
	assert.Equal(t, "Hello!", converted[1].Content)
}

func TestToOpenAIMessagesBlocks(t *testing.T) {
	content := &chat.BlocksContent{Blocks: []chat.ContentBlock{
		{Type: "text", Text: "what is this"},
		{Type: "image", Source: &chat.ImageSource{Type: "base64", MediaType: "image/png", Data: "aGk="}},
	}}
	msgs := []*chat.Message{
		chat.NewMessage("m1", "t1", chat.RoleUser, content),
	}

	converted := toOpenAIMessages(msgs)
	require.Len(t, converted, 1)
	require.Len(t, converted[0].MultiContent, 2)
	assert.Equal(t, go_openai.ChatMessagePartTypeText, converted[0].MultiContent[0].Type)
	assert.Equal(t, "what is this", converted[0].MultiContent[0].Text)
	assert.Equal(t, go_openai.ChatMessagePartTypeImageURL, converted[0].MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,aGk=", converted[0].MultiContent[1].ImageURL.URL)
}
