package stream

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/events"
)

// Phase describes where a streamed completion currently is.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseDone      Phase = "done"
	PhaseErrored   Phase = "errored"
)

// Buffer is the provisional assistant turn for one topic. Text always holds
// the full completion so far, never a delta.
type Buffer struct {
	TopicID string
	Text    string
	Phase   Phase
	Err     string
}

// Controller folds completion events into a single provisional buffer. The
// buffer survives the final chunk and is released only once the finished
// message has been committed to the conversation, so the text never blinks
// out between stream end and commit.
type Controller struct {
	mu          sync.Mutex
	buffer      Buffer
	closed      bool
	subMu       sync.Mutex
	subscribers map[int]func(Buffer)
	nextSubID   int
}

func NewController() *Controller {
	return &Controller{
		subscribers: make(map[int]func(Buffer)),
	}
}

// Subscribe registers a callback invoked after every buffer change, with a
// copy of the new buffer. The returned function cancels the subscription.
func (c *Controller) Subscribe(fn func(Buffer)) func() {
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

func (c *Controller) notify(buf Buffer) {
	c.subMu.Lock()
	fns := make([]func(Buffer), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(buf)
	}
}

// Snapshot returns a copy of the current buffer.
func (c *Controller) Snapshot() Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// Text returns the buffered completion for topicID, or "" when nothing is
// streaming there.
func (c *Controller) Text(topicID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer.TopicID != topicID {
		return ""
	}
	return c.buffer.Text
}

// Apply folds one event into the buffer. Duplicate and stale chunks collapse
// because the buffer is replaced with the cumulative completion instead of
// appended to. Returns true when the buffer changed.
func (c *Controller) Apply(e events.Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	topicID := e.Metadata().TopicID
	changed := false

	switch ev := e.(type) {
	case *events.EventStart:
		c.buffer = Buffer{TopicID: topicID, Phase: PhaseStreaming}
		changed = true

	case *events.EventPartialCompletion:
		// a chunk for another topic takes over the buffer wholesale
		if c.buffer.TopicID != topicID || c.buffer.Text != ev.Completion || c.buffer.Phase != PhaseStreaming {
			c.buffer = Buffer{TopicID: topicID, Text: ev.Completion, Phase: PhaseStreaming}
			changed = true
		}

	case *events.EventFinal:
		// keep the text visible until the commit lands
		if c.buffer.TopicID != topicID || c.buffer.Text != ev.Text || c.buffer.Phase != PhaseDone {
			c.buffer = Buffer{TopicID: topicID, Text: ev.Text, Phase: PhaseDone}
			changed = true
		}

	case *events.EventError:
		c.buffer = Buffer{TopicID: topicID, Text: c.buffer.Text, Phase: PhaseErrored, Err: ev.ErrorString}
		changed = true

	case *events.EventInterrupt:
		c.buffer = Buffer{TopicID: topicID, Text: ev.Text, Phase: PhaseDone}
		changed = true

	case *events.EventMessageCommitted:
		// only a commit releases the buffer
		if c.buffer.TopicID == ev.TopicID {
			c.buffer = Buffer{}
			changed = true
		}
	}

	buf := c.buffer
	c.mu.Unlock()

	if changed {
		c.notify(buf)
	}
	return changed
}

// Attach registers the controller as a handler on router, decoding every
// message on topic into an event and folding it in.
func (c *Controller) Attach(router *events.EventRouter, topic string) *message.Handler {
	return router.AddHandler("stream-controller-"+topic, topic, func(msg *message.Message) error {
		defer msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable event")
			return nil
		}
		c.Apply(e)
		return nil
	})
}

// Close releases the buffer and stops the controller. Events applied after
// Close are dropped.
func (c *Controller) Close(ctx context.Context) error {
	_ = ctx

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.buffer = Buffer{}
	c.mu.Unlock()

	c.notify(Buffer{})
	return nil
}
