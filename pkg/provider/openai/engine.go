package openai

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/provider"
)

// Engine streams chat completions from the OpenAI API, publishing
// start/partial/final events as they happen.
type Engine struct {
	client              *go_openai.Client
	model               string
	subscriptionManager *events.PublisherManager
}

type Option func(*Engine)

func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithClient overrides the API client, mostly to point tests at a stub
// server.
func WithClient(client *go_openai.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

func WithSubscriptionManager(manager *events.PublisherManager) Option {
	return func(e *Engine) {
		e.subscriptionManager = manager
	}
}

func New(apiKey string, options ...Option) *Engine {
	ret := &Engine{
		client:              go_openai.NewClient(apiKey),
		model:               go_openai.GPT4oMini,
		subscriptionManager: events.NewPublisherManager(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

var _ provider.Engine = (*Engine)(nil)

func (e *Engine) RunInference(ctx context.Context, messages []*chat.Message) (*provider.Reply, error) {
	req := go_openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}

	// the history carries the topic; stamping events from it keeps the
	// stream controller's buffer keyed correctly across topic switches
	metadata := events.EventMetadata{
		ID:      uuid.New(),
		TopicID: topicIDOf(messages),
		Model:   e.model,
	}

	cancellableCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := e.client.CreateChatCompletionStream(cancellableCtx, req)
	if err != nil {
		e.subscriptionManager.PublishBlind(events.NewErrorEvent(metadata, err))
		return nil, errors.Wrap(err, "failed to open completion stream")
	}
	defer func() {
		_ = stream.Close()
	}()

	e.subscriptionManager.PublishBlind(events.NewStartEvent(metadata))

	message := ""

	for {
		select {
		case <-cancellableCtx.Done():
			e.subscriptionManager.PublishBlind(events.NewInterruptEvent(metadata, message))
			return nil, cancellableCtx.Err()

		default:
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				tokens, err := EstimateTokens(e.model, message)
				if err != nil {
					log.Warn().Err(err).Str("model", e.model).Msg("could not estimate token usage")
				}
				metadata.Usage = &events.Usage{OutputTokens: tokens}
				e.subscriptionManager.PublishBlind(events.NewFinalEvent(metadata, message))
				return &provider.Reply{
					Text:       message,
					TokensUsed: tokens,
					Model:      e.model,
				}, nil
			}
			if err != nil {
				e.subscriptionManager.PublishBlind(events.NewErrorEvent(metadata, err))
				return nil, errors.Wrap(err, "completion stream failed")
			}

			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			message += delta
			e.subscriptionManager.PublishBlind(events.NewPartialCompletionEvent(metadata, delta, message))
		}
	}
}

// topicIDOf returns the topic of the newest message that carries one.
func topicIDOf(messages []*chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].TopicID != "" {
			return messages[i].TopicID
		}
	}
	return ""
}

func toOpenAIMessages(messages []*chat.Message) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := go_openai.ChatCompletionMessage{
			Role: string(msg.Role),
		}

		switch content := msg.Content.(type) {
		case *chat.TextContent:
			m.Content = content.Text

		case *chat.BlocksContent:
			for _, block := range content.Blocks {
				switch block.Type {
				case "text":
					m.MultiContent = append(m.MultiContent, go_openai.ChatMessagePart{
						Type: go_openai.ChatMessagePartTypeText,
						Text: block.Text,
					})
				case "image":
					if block.Source == nil {
						continue
					}
					m.MultiContent = append(m.MultiContent, go_openai.ChatMessagePart{
						Type: go_openai.ChatMessagePartTypeImageURL,
						ImageURL: &go_openai.ChatMessageImageURL{
							URL: "data:" + block.Source.MediaType + ";base64," + block.Source.Data,
						},
					})
				}
			}

		default:
			m.Content = msg.Content.String()
		}

		ret = append(ret, m)
	}
	return ret
}
