package executor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

func conversation(turns int) []types.Message {
	msgs := []types.Message{{Role: types.RoleSystem, Content: "You are a helpful assistant."}}
	for i := 0; i < turns; i++ {
		msgs = append(msgs,
			types.Message{Role: types.RoleUser, Content: fmt.Sprintf("question %d: %s", i, strings.Repeat("detail ", 20))},
			types.Message{Role: types.RoleAssistant, Content: fmt.Sprintf("answer %d: %s", i, strings.Repeat("reply ", 20))},
		)
	}
	return msgs
}

func TestBuildWindowKeepsEverythingWithinBudget(t *testing.T) {
	var c tokenCounter
	msgs := conversation(3)
	out := buildWindow(&c, msgs, 100000)
	assert.Equal(t, msgs, out, "nothing should be cut under a generous budget")
}

func TestBuildWindowTruncatesOldestFirst(t *testing.T) {
	var c tokenCounter
	msgs := conversation(20)
	out := buildWindow(&c, msgs, 500)

	require.Less(t, len(out), len(msgs))
	// System message survives, followed by the truncation marker.
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Equal(t, "You are a helpful assistant.", out[0].Content)
	assert.Equal(t, truncationMarker, out[1].Content)

	// The newest message is always present.
	assert.Equal(t, msgs[len(msgs)-1], out[len(out)-1])

	// Everything kept after the marker is a contiguous suffix.
	kept := out[2:]
	assert.Equal(t, msgs[len(msgs)-len(kept):], kept)
}

func TestBuildWindowTinyBudgetKeepsNewest(t *testing.T) {
	var c tokenCounter
	msgs := conversation(5)
	out := buildWindow(&c, msgs, 1)

	// Even an absurd budget keeps the system message, marker, and the
	// newest message so the model has something to answer.
	require.Len(t, out, 3)
	assert.Equal(t, msgs[len(msgs)-1], out[2])
}

func TestBuildWindowNoSystemMessage(t *testing.T) {
	var c tokenCounter
	msgs := conversation(10)[1:]
	out := buildWindow(&c, msgs, 300)

	require.Less(t, len(out), len(msgs))
	assert.Equal(t, truncationMarker, out[0].Content)
	assert.Equal(t, msgs[len(msgs)-1], out[len(out)-1])
}

func TestBuildWindowNeverOpensOnToolMessage(t *testing.T) {
	var c tokenCounter
	msgs := []types.Message{{Role: types.RoleSystem, Content: "You are a helpful assistant."}}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("call-%d", i)
		msgs = append(msgs,
			types.Message{Role: types.RoleUser, Content: fmt.Sprintf("request %d %s", i, strings.Repeat("x ", 15))},
			types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: id, Name: "read_file"}}},
			types.Message{Role: types.RoleToolMessage, Content: strings.Repeat("data ", 25), ToolCallID: id},
			types.Message{Role: types.RoleAssistant, Content: fmt.Sprintf("answer %d %s", i, strings.Repeat("y ", 15))},
		)
	}

	// Sweep budgets so cuts land on every kind of boundary. Whatever follows
	// the marker must never be a tool message missing its tool-call turn.
	for budget := 50; budget <= 800; budget += 25 {
		out := buildWindow(&c, msgs, budget)
		for i, m := range out {
			if m.Content == truncationMarker && i+1 < len(out) {
				assert.NotEqual(t, types.RoleToolMessage, out[i+1].Role, "budget %d", budget)
			}
		}
	}
}

func TestBuildWindowEmpty(t *testing.T) {
	var c tokenCounter
	assert.Nil(t, buildWindow(&c, nil, 100))
}

func TestCountMessageIncludesToolCalls(t *testing.T) {
	var c tokenCounter
	plain := types.Message{Role: types.RoleAssistant, Content: "hello"}
	withCalls := types.Message{
		Role:      types.RoleAssistant,
		Content:   "hello",
		ToolCalls: []types.ToolCall{{Name: "read_file"}, {Name: "search_text"}},
	}
	assert.Greater(t, c.countMessage(withCalls), c.countMessage(plain))
}
