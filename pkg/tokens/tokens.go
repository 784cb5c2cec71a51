// Package tokens counts tokens with tiktoken encodings so context
// assembly can budget precisely instead of guessing by byte length.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Chat-format constants, per OpenAI's published counting recipe:
// every message costs a fixed framing overhead on top of its role and
// content tokens, and every reply is primed with an assistant header.
const (
	perMessageOverhead = 3
	replyPriming       = 3
)

// Counter counts tokens for one model's encoding. Safe for concurrent
// use.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// Message is the minimal shape needed to count a chat message.
type Message struct {
	Role    string
	Content string
}

// Encodings are expensive to build (they load the BPE ranks), so they
// are shared process-wide per model name.
var (
	encodingsMu sync.Mutex
	encodings   = make(map[string]*tiktoken.Tiktoken)
)

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	if enc, ok := encodings[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Models tiktoken doesn't know get cl100k_base, which is close
		// enough for budgeting.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load encoding: %w", err)
		}
	}

	encodings[model] = enc
	return enc, nil
}

// NewCounter builds a counter for model. Unknown models fall back to the
// cl100k_base encoding rather than failing.
func NewCounter(model string) (*Counter, error) {
	enc, err := encodingFor(model)
	if err != nil {
		return nil, err
	}
	return &Counter{encoding: enc, model: model}, nil
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages returns the cost of sending messages in the chat format,
// framing overhead and reply priming included.
func (c *Counter) CountMessages(messages []Message) int {
	total := replyPriming
	for _, msg := range messages {
		total += c.messageCost(msg)
	}
	return total
}

func (c *Counter) messageCost(msg Message) int {
	return perMessageOverhead + c.Count(msg.Role) + c.Count(msg.Content)
}

// FitWithinLimit returns the longest suffix of messages whose chat-format
// cost stays within maxTokens. Newest messages win: selection walks
// backwards from the end and stops at the first message that would
// overflow.
func (c *Counter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	total := replyPriming
	cut := len(messages)
	for cut > 0 {
		cost := c.messageCost(messages[cut-1])
		if total+cost > maxTokens {
			break
		}
		total += cost
		cut--
	}
	return append([]Message{}, messages[cut:]...)
}
