// Package types holds the domain types shared across components: operational
// modes, channels, model roles, conversation messages, and tool contracts.
package types

import "time"

// Mode is the process-wide operational mode. Exactly one mode is current at
// any time; it changes only through Mode Manager transitions.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeAlert    Mode = "ALERT"
	ModeDegraded Mode = "DEGRADED"
	ModeLockdown Mode = "LOCKDOWN"
	ModeRecovery Mode = "RECOVERY"
)

// ValidMode reports whether m names a known mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeNormal, ModeAlert, ModeDegraded, ModeLockdown, ModeRecovery:
		return true
	}
	return false
}

// StricterMode returns the next escalation step for m. LOCKDOWN has no
// stricter mode and returns itself.
func StricterMode(m Mode) Mode {
	switch m {
	case ModeNormal, ModeRecovery:
		return ModeAlert
	case ModeAlert:
		return ModeDegraded
	case ModeDegraded:
		return ModeLockdown
	default:
		return ModeLockdown
	}
}

// RelaxedMode returns the step-down target for m when thresholds clear.
// Any elevated mode steps down into RECOVERY; NORMAL stays NORMAL.
func RelaxedMode(m Mode) Mode {
	switch m {
	case ModeAlert, ModeDegraded, ModeLockdown:
		return ModeRecovery
	case ModeRecovery:
		return ModeNormal
	default:
		return ModeNormal
	}
}

// Channel categorises an incoming request for routing hints.
type Channel string

const (
	ChannelChat         Channel = "CHAT"
	ChannelCodeTask     Channel = "CODE_TASK"
	ChannelSystemHealth Channel = "SYSTEM_HEALTH"
)

// ModelRole is the abstract classification the router targets; the LLM
// adapter maps it to a concrete backend model.
type ModelRole string

const (
	RoleRouter    ModelRole = "ROUTER"
	RoleStandard  ModelRole = "STANDARD"
	RoleReasoning ModelRole = "REASONING"
	RoleCoding    ModelRole = "CODING"
)

// Role is a conversation message role.
type Role string

const (
	RoleSystem        Role = "system"
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleToolMessage   Role = "tool"
)

// Message is one conversation turn. A tool message must follow an assistant
// message carrying the matching tool_call_id.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Property describes one tool parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ParameterSchema is the object schema for a tool's arguments.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition describes a registered tool. Dynamically-discovered entries
// carry the "mcp_" name prefix.
type ToolDefinition struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Parameters     ParameterSchema `json:"parameters"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	ToolName  string         `json:"tool_name"`
	Success   bool           `json:"success"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	LatencyMs float64        `json:"latency_ms"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RoutingDecision says whether the router model handles the request itself or
// delegates to a specialist role.
type RoutingDecision string

const (
	DecisionHandle   RoutingDecision = "HANDLE"
	DecisionDelegate RoutingDecision = "DELEGATE"
)

// RoutingResult is the outcome of one routing pass.
type RoutingResult struct {
	Decision    RoutingDecision `json:"decision"`
	TargetModel ModelRole       `json:"target_model,omitempty"`
	Confidence  float64         `json:"confidence"`
	Reason      string          `json:"reason"`
}

// TaskState is the executor state machine position.
type TaskState string

const (
	StateInit          TaskState = "INIT"
	StateLLMCall       TaskState = "LLM_CALL"
	StateToolExecution TaskState = "TOOL_EXECUTION"
	StateSynthesis     TaskState = "SYNTHESIS"
	StateCompleted     TaskState = "COMPLETED"
	StateFailed        TaskState = "FAILED"
)

// Session is a persisted conversation. The executor operates on a defensive
// copy per request; the store owns the canonical record.
type Session struct {
	ID        string    `json:"session_id"`
	Channel   Channel   `json:"channel"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Clone returns a deep copy of the session safe for per-request mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i := range out.Messages {
		if len(s.Messages[i].ToolCalls) > 0 {
			out.Messages[i].ToolCalls = make([]ToolCall, len(s.Messages[i].ToolCalls))
			copy(out.Messages[i].ToolCalls, s.Messages[i].ToolCalls)
		}
	}
	return &out
}
