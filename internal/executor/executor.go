// Package executor drives one request through its lifecycle: context
// assembly, routing, model calls, governed tool execution, and synthesis of
// the final answer. Every phase is timed and lands in the request trace.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/monitor"
	"github.com/alextra-lab/personal-agent-sub000/internal/reflection"
	"github.com/alextra-lab/personal-agent-sub000/internal/router"
	"github.com/alextra-lab/personal-agent-sub000/internal/session"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/tools"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

const systemPrompt = `You are a personal assistant running entirely on the user's own machine. Be concise and direct. Use the available tools when the request needs filesystem access, search, or live system information; answer directly when it does not.`

// Config bounds one request.
type Config struct {
	MaxToolIterations    int
	MaxRepeatedToolCalls int
	ContextWindowTokens  int
	ToolBudget           time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 8
	}
	if c.MaxRepeatedToolCalls <= 0 {
		c.MaxRepeatedToolCalls = 3
	}
	if c.ContextWindowTokens <= 0 {
		c.ContextWindowTokens = 8000
	}
	if c.ToolBudget <= 0 {
		c.ToolBudget = 2 * time.Minute
	}
}

// Deps are the collaborators a request runs against. LLM, Router, and Tools
// are required; the rest degrade gracefully when nil.
type Deps struct {
	LLM      llm.Client
	Router   *router.Router
	Tools    *tools.Executor
	Registry *tools.Registry
	Store    *governance.Store
	Sessions *session.Store
	Sensors  monitor.SnapshotSource
	Journal  *reflection.Writer
	Bus      *telemetry.Bus
	Mode     func() types.Mode
}

// Result is the outcome of one request.
type Result struct {
	TraceID     string              `json:"trace_id"`
	State       types.TaskState     `json:"state"`
	Content     string              `json:"content"`
	Routing     types.RoutingResult `json:"routing"`
	ToolResults []types.ToolResult  `json:"tool_results,omitempty"`
	Timing      telemetry.Summary   `json:"timing"`
	Resources   monitor.Summary     `json:"resources"`
	// Usage sums backend token accounting across every model call made for
	// the request, nil when no backend reported any.
	Usage *llm.Usage `json:"usage,omitempty"`
}

// Executor runs the request state machine.
type Executor struct {
	cfg     Config
	deps    Deps
	counter tokenCounter
	logger  *logging.Logger
}

func New(cfg Config, deps Deps, logger *logging.Logger) *Executor {
	cfg.applyDefaults()
	return &Executor{cfg: cfg, deps: deps, logger: logging.OrNop(logger).Component("executor")}
}

// task carries the mutable state of one request through the machine.
type task struct {
	trace        telemetry.TraceContext
	timer        *telemetry.Timer
	mon          *monitor.Monitor
	session      *types.Session
	userMessage  string
	mode         types.Mode
	constraints  governance.ModelConstraints
	window       []types.Message
	routing      types.RoutingResult
	role         types.ModelRole
	newMessages  []types.Message
	toolResults  []types.ToolResult
	fingerprints map[string]int
	state        types.TaskState
	content      string
	failure      error
	usage        llm.Usage
	usageSeen    bool
}

// addUsage folds one backend usage report into the request total.
func (t *task) addUsage(u llm.Usage) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return
	}
	t.usage.PromptTokens += u.PromptTokens
	t.usage.CompletionTokens += u.CompletionTokens
	t.usage.TotalTokens += u.TotalTokens
	t.usageSeen = true
}

// Execute runs one user message against a session. The session is cloned;
// persistence happens only on completion.
func (e *Executor) Execute(ctx context.Context, sess *types.Session, userMessage string, compress bool) (*Result, error) {
	t := &task{
		trace:        telemetry.NewTrace(),
		timer:        telemetry.NewTimer(),
		session:      sess.Clone(),
		userMessage:  userMessage,
		mode:         e.currentMode(),
		fingerprints: make(map[string]int),
		state:        types.StateInit,
	}
	t.constraints = e.modelConstraints(t.mode)
	thresholds, _ := e.modeThresholds(t.mode)
	t.mon = monitor.Start(t.trace, e.deps.Sensors, thresholds)

	e.emit(t, "task_started", telemetry.LevelInfo, map[string]any{
		"session_id": t.session.ID,
		"channel":    string(t.session.Channel),
		"mode":       string(t.mode),
	})

	e.init(ctx, t, userMessage, compress)
	for t.state == types.StateLLMCall || t.state == types.StateToolExecution {
		if err := ctx.Err(); err != nil {
			t.failure = errors.Wrap(errors.KindCancelled, "request cancelled", err)
			t.state = types.StateFailed
			break
		}
		switch t.state {
		case types.StateLLMCall:
			e.llmCall(ctx, t)
		case types.StateToolExecution:
			e.toolExecution(ctx, t)
		}
	}
	if t.state == types.StateSynthesis {
		e.synthesis(t)
	}
	return e.complete(ctx, t, userMessage)
}

// init assembles the prompt window, optionally compressing the history
// first, and performs routing.
func (e *Executor) init(ctx context.Context, t *task, userMessage string, compress bool) {
	t.timer.Start("setup")
	if len(t.session.Messages) == 0 {
		sys := types.Message{Role: types.RoleSystem, Content: systemPrompt}
		t.session.Messages = append(t.session.Messages, sys)
		t.newMessages = append(t.newMessages, sys)
	}
	if compress {
		e.compressHistory(ctx, t)
	}
	t.session.Messages = append(t.session.Messages, types.Message{Role: types.RoleUser, Content: userMessage})
	t.newMessages = append(t.newMessages, types.Message{Role: types.RoleUser, Content: userMessage})
	t.timer.End("setup", nil)

	t.timer.Start("context_window")
	t.window = buildWindow(&e.counter, t.session.Messages, e.cfg.ContextWindowTokens)
	t.timer.End("context_window", map[string]any{"messages": len(t.window)})

	t.timer.Start("routing")
	t.routing = e.deps.Router.Route(ctx, t.trace, userMessage, t.session.Channel, t.mode)
	t.role = t.routing.TargetModel
	if t.routing.Decision == types.DecisionHandle {
		t.role = types.RoleRouter
	}
	t.timer.End("routing", map[string]any{"decision": string(t.routing.Decision)})

	t.state = types.StateLLMCall
}

// compressHistory replaces the conversation with a model-written summary.
// On any failure the original history is kept.
func (e *Executor) compressHistory(ctx context.Context, t *task) {
	var transcript strings.Builder
	for _, m := range t.session.Messages {
		if m.Role == types.RoleSystem || m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	if transcript.Len() == 0 {
		return
	}

	resp, err := e.deps.LLM.Chat(ctx, llm.Request{
		Role: types.RoleStandard,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "Summarise this conversation in a short paragraph preserving every fact, decision, and open task. Output only the summary."},
			{Role: types.RoleUser, Content: transcript.String()},
		},
		MaxTokens: 500,
	})
	if err != nil || resp.Content == "" {
		e.logger.Warn("history compression failed, keeping full history", "err", err)
		return
	}
	t.addUsage(resp.Usage)

	compressed := []types.Message{
		{Role: types.RoleSystem, Content: systemPrompt},
		{Role: types.RoleAssistant, Content: "Summary of the conversation so far: " + resp.Content},
	}
	t.session.Messages = compressed
	if e.deps.Sessions != nil {
		if err := e.deps.Sessions.Replace(ctx, t.session.ID, compressed); err != nil {
			e.logger.Warn("persisting compressed history failed", "err", err)
		}
	}
	e.emit(t, "history_compressed", telemetry.LevelInfo, map[string]any{
		"summary_chars": len(resp.Content),
	})
}

func (e *Executor) llmCall(ctx context.Context, t *task) {
	t.timer.Start("llm_call")

	req := llm.Request{Role: t.role, Messages: t.window}
	if t.role == types.RoleRouter {
		// A HANDLE verdict answers from the bare message: no history, no
		// memory, no tools. Anything needing context was delegated.
		req.Messages = []types.Message{{Role: types.RoleUser, Content: t.userMessage}}
	}
	if t.constraints.MaxTokens > 0 {
		req.MaxTokens = t.constraints.MaxTokens
	}
	// The router role answers trivial requests directly and never drives
	// tools; specialists get the mode-filtered tool catalogue.
	if t.role != types.RoleRouter && !t.constraints.DisableTools && e.deps.Registry != nil && e.deps.Store != nil {
		req.Tools = e.deps.Registry.ListForMode(e.deps.Store, t.mode)
	}

	resp, err := e.deps.LLM.Chat(ctx, req)
	t.timer.End("llm_call", map[string]any{"role": string(t.role)})
	if err != nil {
		if errors.KindOf(err) == errors.KindCancelled {
			t.failure = err
			t.state = types.StateFailed
			return
		}
		e.logger.Warn("model call failed", "role", string(t.role), "err", err)
		t.failure = err
		t.state = types.StateSynthesis
		return
	}
	t.addUsage(resp.Usage)

	if len(resp.ToolCalls) > 0 {
		assistant := types.Message{Role: types.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		t.window = append(t.window, assistant)
		t.newMessages = append(t.newMessages, assistant)
		t.state = types.StateToolExecution
		return
	}

	t.content = resp.Content
	t.state = types.StateSynthesis
}

func (e *Executor) toolExecution(ctx context.Context, t *task) {
	t.timer.Start("tool_execution")
	defer t.timer.End("tool_execution", nil)

	last := t.window[len(t.window)-1]
	for _, call := range last.ToolCalls {
		fp := fingerprint(call)
		t.fingerprints[fp]++
		if t.fingerprints[fp] > e.cfg.MaxRepeatedToolCalls {
			t.failure = errors.Exhausted(fmt.Sprintf("tool %s repeated more than %d times with identical arguments",
				call.Name, e.cfg.MaxRepeatedToolCalls))
			t.state = types.StateSynthesis
			return
		}

		result, err := e.deps.Tools.Execute(ctx, t.trace, call, t.mode, t.session.ID, e.cfg.ToolBudget)
		if err != nil && errors.KindOf(err) == errors.KindCancelled {
			t.failure = err
			t.state = types.StateFailed
			return
		}
		t.toolResults = append(t.toolResults, *result)

		toolMsg := types.Message{
			Role:       types.RoleToolMessage,
			Content:    toolMessageContent(result),
			ToolCallID: call.ID,
		}
		t.window = append(t.window, toolMsg)
		t.newMessages = append(t.newMessages, toolMsg)

		if len(t.toolResults) >= e.cfg.MaxToolIterations {
			t.failure = errors.Exhausted(fmt.Sprintf("tool iteration cap (%d) reached", e.cfg.MaxToolIterations))
			t.state = types.StateSynthesis
			return
		}
	}

	t.state = types.StateLLMCall
}

// synthesis produces the final answer. When the model already answered,
// that answer stands; otherwise a deterministic fallback summarises
// whatever the tools produced.
func (e *Executor) synthesis(t *task) {
	t.timer.Start("synthesis")
	defer t.timer.End("synthesis", nil)

	if t.content == "" {
		t.content = fallbackSummary(t.failure, t.toolResults)
	}
	t.state = types.StateCompleted
}

// complete closes the trace, persists the turn, and queues the journal
// entry. It always returns a result, even for failures.
func (e *Executor) complete(ctx context.Context, t *task, userMessage string) (*Result, error) {
	t.timer.Start("persistence")
	if t.state == types.StateCompleted && t.content != "" {
		t.newMessages = append(t.newMessages, types.Message{Role: types.RoleAssistant, Content: t.content})
	}
	if e.deps.Sessions != nil && t.state == types.StateCompleted {
		// Persist with a detached context so a client disconnect cannot
		// lose the completed turn.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.deps.Sessions.Append(persistCtx, t.session.ID, t.newMessages...); err != nil {
			e.logger.Error("persisting conversation failed", "session_id", t.session.ID, "err", err)
		}
	}
	t.timer.End("persistence", nil)

	timing := t.timer.Summarize()
	resources := t.mon.Stop()

	result := &Result{
		TraceID:     t.trace.TraceID,
		State:       t.state,
		Content:     t.content,
		Routing:     t.routing,
		ToolResults: t.toolResults,
		Timing:      timing,
		Resources:   resources,
	}
	if t.usageSeen {
		usage := t.usage
		result.Usage = &usage
	}

	e.emitTrace(t, userMessage, timing, resources)
	if e.deps.Sessions != nil {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.deps.Sessions.RecordMetric(persistCtx, t.session.ID, t.trace.TraceID, "total_ms", timing.TotalMs); err != nil {
			e.logger.Warn("recording request metric failed", "err", err)
		}
	}
	if e.deps.Journal != nil {
		e.deps.Journal.Record(reflection.Entry{
			TraceID:  t.trace.TraceID,
			Insights: journalInsights(t),
			MetricsStructured: map[string]any{
				"total_ms":   timing.TotalMs,
				"tool_calls": len(t.toolResults),
				"state":      string(t.state),
			},
		})
	}

	if t.state == types.StateFailed {
		return result, t.failure
	}
	return result, nil
}

// emitTrace writes the request_trace event plus one request_trace_step per
// timed span, carrying the sequence numbers downstream sinks key on.
func (e *Executor) emitTrace(t *task, userMessage string, timing telemetry.Summary, resources monitor.Summary) {
	if e.deps.Bus == nil {
		return
	}
	fields := map[string]any{
		"session_id":   t.session.ID,
		"channel":      string(t.session.Channel),
		"mode":         string(t.mode),
		"state":        string(t.state),
		"decision":     string(t.routing.Decision),
		"target_model": string(t.routing.TargetModel),
		"tool_calls":   len(t.toolResults),
		"total_ms":     timing.TotalMs,
		"user_chars":   len(userMessage),
	}
	for k, v := range resources.Fields() {
		fields[k] = v
	}
	if t.failure != nil {
		fields["error"] = t.failure.Error()
		fields["error_kind"] = errors.KindOf(t.failure).String()
	}
	e.deps.Bus.Emit(telemetry.NewEvent("request_trace", t.trace, fields))

	for _, span := range t.timer.Breakdown() {
		e.deps.Bus.Emit(telemetry.NewEvent("request_trace_step", t.trace, map[string]any{
			"sequence":    span.Sequence,
			"step":        span.Name,
			"phase":       string(span.Phase),
			"offset_ms":   span.OffsetMs,
			"duration_ms": span.DurationMs,
		}))
	}
}

func (e *Executor) emit(t *task, name string, level telemetry.Level, fields map[string]any) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Emit(telemetry.NewEvent(name, t.trace, fields).WithLevel(level))
}

func (e *Executor) currentMode() types.Mode {
	if e.deps.Mode != nil {
		return e.deps.Mode()
	}
	return types.ModeNormal
}

func (e *Executor) modelConstraints(mode types.Mode) governance.ModelConstraints {
	if e.deps.Store == nil {
		return governance.ModelConstraints{}
	}
	return e.deps.Store.GetModelConstraints(mode)
}

func (e *Executor) modeThresholds(mode types.Mode) (governance.Thresholds, bool) {
	if e.deps.Store == nil {
		return governance.Thresholds{}, false
	}
	return e.deps.Store.ModeThresholds(mode)
}

// fingerprint identifies a tool call by name plus canonical argument JSON.
func fingerprint(call types.ToolCall) string {
	args, _ := json.Marshal(call.Arguments)
	return call.Name + "\x00" + string(args)
}

func toolMessageContent(result *types.ToolResult) string {
	if result.Success {
		return result.Output
	}
	return "tool error: " + result.Error
}

// fallbackSummary is the deterministic answer used when the model cannot
// finish the request itself.
func fallbackSummary(failure error, results []types.ToolResult) string {
	var b strings.Builder
	if failure != nil {
		switch errors.KindOf(failure) {
		case errors.KindExhausted:
			b.WriteString("I stopped before finishing: ")
		case errors.KindUpstream:
			b.WriteString("The language model backend is unavailable. ")
		default:
			b.WriteString("I could not complete the request. ")
		}
		b.WriteString(failure.Error())
		b.WriteString("\n")
	}
	if len(results) > 0 {
		b.WriteString("Here is what the tools returned before stopping:\n")
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(&b, "- %s: %s\n", r.ToolName, firstLine(r.Output))
			} else {
				fmt.Fprintf(&b, "- %s failed: %s\n", r.ToolName, r.Error)
			}
		}
	}
	if b.Len() == 0 {
		return "I could not produce an answer for this request."
	}
	return strings.TrimSpace(b.String())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func journalInsights(t *task) []string {
	insights := []string{
		fmt.Sprintf("request finished in state %s via %s/%s", t.state, t.routing.Decision, t.routing.TargetModel),
	}
	if t.failure != nil {
		insights = append(insights, "failure: "+t.failure.Error())
	}
	if len(t.toolResults) > 0 {
		insights = append(insights, fmt.Sprintf("%d tool calls executed", len(t.toolResults)))
	}
	return insights
}
