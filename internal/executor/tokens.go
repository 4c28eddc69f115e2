package executor

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// truncationMarker is inserted where older history was cut from the prompt.
const truncationMarker = "[Earlier messages truncated]"

// tokenCounter counts prompt tokens with the cl100k_base encoding, falling
// back to a bytes/4 estimate when the encoding data is unavailable.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (c *tokenCounter) count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

func (c *tokenCounter) countMessage(msg types.Message) int {
	// Per-message overhead for role framing and separators.
	n := 4 + c.count(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += 8 + c.count(tc.Name)
	}
	return n
}

// buildWindow fits the conversation into the token budget. The leading
// system message always survives; after that the most recent messages win,
// with a marker noting the cut. A budget too small for even the newest
// message still returns that message.
func buildWindow(c *tokenCounter, messages []types.Message, budget int) []types.Message {
	if len(messages) == 0 {
		return nil
	}

	var head []types.Message
	rest := messages
	if messages[0].Role == types.RoleSystem {
		head = messages[:1]
		rest = messages[1:]
	}

	used := 0
	for _, m := range head {
		used += c.countMessage(m)
	}

	// Walk backwards collecting the newest messages that fit.
	kept := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := c.countMessage(rest[i])
		if kept > 0 && used+cost > budget {
			break
		}
		used += cost
		kept++
	}

	if kept == len(rest) {
		return messages
	}

	// The suffix must not open on a tool message whose assistant tool-call
	// turn was cut; skip forward to the next coherent boundary.
	start := len(rest) - kept
	for start < len(rest) && rest[start].Role == types.RoleToolMessage {
		start++
	}
	if start == len(rest) {
		start = len(rest) - 1
	}

	out := make([]types.Message, 0, len(head)+(len(rest)-start)+1)
	out = append(out, head...)
	out = append(out, types.Message{Role: types.RoleSystem, Content: truncationMarker})
	out = append(out, rest[start:]...)
	return out
}
