package provider

import (
	"context"

	"github.com/go-go-golems/parley/pkg/chat"
)

// Reply is one finished assistant turn.
type Reply struct {
	Text       string
	TokensUsed int
	Model      string
}

// Engine runs a single inference over a conversation history. Implementations
// stream progress through a PublisherManager; RunInference itself returns only
// the finished reply.
type Engine interface {
	RunInference(ctx context.Context, messages []*chat.Message) (*Reply, error)
}
