package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeBlocks ContentType = "blocks"
)

// MessageContent is the opaque payload of a message: either plain text or a
// structured list of content blocks (text and image parts).
type MessageContent interface {
	ContentType() ContentType
	String() string
}

type TextContent struct {
	Text string `json:"text"`
}

func (c *TextContent) ContentType() ContentType {
	return ContentTypeText
}

func (c *TextContent) String() string {
	return c.Text
}

var _ MessageContent = (*TextContent)(nil)

// ContentBlock is one part of a structured message: a text fragment or an
// inline image.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	Source *ImageSource `json:"source,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type BlocksContent struct {
	Blocks []ContentBlock `json:"blocks"`
}

func (c *BlocksContent) ContentType() ContentType {
	return ContentTypeBlocks
}

func (c *BlocksContent) String() string {
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			name := "image"
			if b.Source != nil {
				name = fmt.Sprintf("image %s", b.Source.MediaType)
			}
			parts = append(parts, fmt.Sprintf("[%s]", name))
		}
	}
	return strings.Join(parts, "\n")
}

var _ MessageContent = (*BlocksContent)(nil)

// EncodeContent serializes content to a single transportable string. Plain
// text passes through unchanged; block lists are serialized as a JSON array.
func EncodeContent(c MessageContent) (string, error) {
	switch content := c.(type) {
	case *TextContent:
		return content.Text, nil
	case *BlocksContent:
		b, err := json.Marshal(content.Blocks)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported content type %s", c.ContentType())
	}
}

// DecodeContent reverses EncodeContent. A stored string that looks like
// serialized structure (leading '[' or '{') is parsed back into blocks;
// anything that fails to parse is treated as plain text, so user text that
// merely resembles JSON round-trips unharmed.
func DecodeContent(s string) MessageContent {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var blocks []ContentBlock
		if err := json.Unmarshal([]byte(trimmed), &blocks); err == nil && len(blocks) > 0 && blocks[0].Type != "" {
			return &BlocksContent{Blocks: blocks}
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var block ContentBlock
		if err := json.Unmarshal([]byte(trimmed), &block); err == nil && block.Type != "" {
			return &BlocksContent{Blocks: []ContentBlock{block}}
		}
	}
	return &TextContent{Text: s}
}
