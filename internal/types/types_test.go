package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCloneIsDeep(t *testing.T) {
	orig := &Session{
		ID:      "s1",
		Channel: ChannelChat,
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "c1", Name: "echo", Arguments: map[string]any{"path": "/a"}},
			}},
		},
	}

	clone := orig.Clone()
	require.NotNil(t, clone)
	require.NotSame(t, orig, clone)
	assert.Equal(t, orig, clone)

	// Mutating the clone must leave the original untouched.
	clone.Messages[0].Content = "changed"
	clone.Messages[1].ToolCalls[0].Name = "other"
	clone.Messages = append(clone.Messages, Message{Role: RoleUser, Content: "extra"})

	assert.Equal(t, "hi", orig.Messages[0].Content)
	assert.Equal(t, "echo", orig.Messages[1].ToolCalls[0].Name)
	assert.Len(t, orig.Messages, 2)
}

func TestSessionCloneNil(t *testing.T) {
	var s *Session
	assert.Nil(t, s.Clone())
}

func TestModeTransitionHelpers(t *testing.T) {
	assert.Equal(t, ModeAlert, StricterMode(ModeNormal))
	assert.Equal(t, ModeDegraded, StricterMode(ModeAlert))
	assert.Equal(t, ModeLockdown, StricterMode(ModeDegraded))
	assert.Equal(t, ModeLockdown, StricterMode(ModeLockdown))

	assert.Equal(t, ModeRecovery, RelaxedMode(ModeAlert))
	assert.Equal(t, ModeNormal, RelaxedMode(ModeRecovery))
	assert.Equal(t, ModeNormal, RelaxedMode(ModeNormal))

	assert.True(t, ValidMode(ModeLockdown))
	assert.False(t, ValidMode(Mode("PANIC")))
}
