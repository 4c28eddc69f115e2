package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Approver answers approval prompts for high-risk tool calls. The CLI
// implementation asks the operator; servers without an approver deny.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApprovalRequest describes the pending call shown to the operator.
type ApprovalRequest struct {
	ToolName  string
	Arguments map[string]any
	RiskLevel governance.RiskLevel
	Reason    string
}

// ExecutorConfig tunes the execution pipeline.
type ExecutorConfig struct {
	MaxConcurrent int
	CacheSize     int
	CacheTTL      time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
}

// Executor runs tool calls through lookup, governance, approval, argument
// validation, and a bounded worker pool.
type Executor struct {
	registry *Registry
	store    *governance.Store
	bus      *telemetry.Bus
	logger   *logging.Logger
	approver Approver
	sem      *semaphore.Weighted
	cache    *expirable.LRU[string, types.ToolResult]
}

func NewExecutor(cfg ExecutorConfig, registry *Registry, store *governance.Store, approver Approver, bus *telemetry.Bus, logger *logging.Logger) *Executor {
	cfg.applyDefaults()
	return &Executor{
		registry: registry,
		store:    store,
		bus:      bus,
		logger:   logging.OrNop(logger).Component("tools"),
		approver: approver,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cache:    expirable.NewLRU[string, types.ToolResult](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Execute runs one tool call. The returned result always names the tool; a
// denied or failed call reports Success=false with the reason, and the
// classified error travels alongside for state-machine decisions.
func (e *Executor) Execute(ctx context.Context, trace telemetry.TraceContext, call types.ToolCall, mode types.Mode, caller string, budget time.Duration) (*types.ToolResult, error) {
	start := time.Now()
	e.emitStarted(trace, call, mode)

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return e.fail(trace, call, start, errors.UserInput(fmt.Sprintf("unknown tool %s", call.Name)))
	}

	policy, hasPolicy := e.store.ToolPolicyFor(call.Name)
	decision := e.store.CheckToolAllowed(call.Name, mode, caller)
	if !decision.Allowed {
		kind := errors.KindPolicyDenied
		if decision.RateLimited {
			kind = errors.KindExhausted
		}
		return e.fail(trace, call, start, errors.New(kind, decision.Reason))
	}

	if decision.RequiresApproval {
		approved, err := e.requestApproval(ctx, call, policy)
		if err != nil {
			return e.fail(trace, call, start, err)
		}
		if !approved {
			return e.fail(trace, call, start, errors.PolicyDenied(
				fmt.Sprintf("tool %s denied by operator", call.Name)))
		}
	}

	if err := e.validateArguments(tool.Definition(), call.Arguments); err != nil {
		return e.fail(trace, call, start, err)
	}
	if hasPolicy {
		if err := e.validatePaths(call.Arguments, policy); err != nil {
			return e.fail(trace, call, start, errors.Wrap(errors.KindPolicyDenied, "path validation", err))
		}
	}

	cacheable := hasPolicy && policy.RiskLevel == governance.RiskLow
	key := resultCacheKey(call)
	if cacheable {
		if cached, ok := e.cache.Get(key); ok {
			result := cached
			result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
			e.emitCompleted(trace, call, &result, true)
			return &result, nil
		}
	}

	timeout := budget
	if hasPolicy {
		policyTimeout := time.Duration(policy.TimeoutSeconds) * time.Second
		if timeout <= 0 || policyTimeout < timeout {
			timeout = policyTimeout
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.fail(trace, call, start, errors.Wrap(errors.KindCancelled, "waiting for tool slot", err))
	}
	defer e.sem.Release(1)

	result, err := e.run(ctx, tool, call)
	if err != nil {
		return e.fail(trace, call, start, err)
	}
	result.ToolName = call.Name
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	if cacheable && result.Success {
		e.cache.Add(key, *result)
	}
	e.emitCompleted(trace, call, result, false)
	return result, nil
}

// run guards the tool body against panics so one bad tool cannot take the
// request down.
func (e *Executor) run(ctx context.Context, tool Tool, call types.ToolCall) (result *types.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			result = nil
			err = errors.New(errors.KindInternal, fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
	}()
	result, err = tool.Execute(ctx, call.Arguments)
	if err == nil && result == nil {
		err = errors.New(errors.KindInternal, fmt.Sprintf("tool %s returned no result", call.Name))
	}
	return result, err
}

func (e *Executor) requestApproval(ctx context.Context, call types.ToolCall, policy governance.ToolPolicy) (bool, error) {
	if e.approver == nil {
		return false, errors.PolicyDenied(
			fmt.Sprintf("tool %s requires approval and no approver is attached", call.Name))
	}
	approved, err := e.approver.Approve(ctx, ApprovalRequest{
		ToolName:  call.Name,
		Arguments: call.Arguments,
		RiskLevel: policy.RiskLevel,
		Reason:    fmt.Sprintf("%s risk tool in category %s", policy.RiskLevel, policy.Category),
	})
	if err != nil {
		return false, errors.Wrap(errors.KindInternal, "approval prompt failed", err)
	}
	return approved, nil
}

// validateArguments checks required parameters and rough JSON types against
// the tool's schema.
func (e *Executor) validateArguments(def types.ToolDefinition, args map[string]any) error {
	for _, required := range def.Parameters.Required {
		if _, ok := args[required]; !ok {
			return errors.UserInput(fmt.Sprintf("tool %s: missing required argument %q", def.Name, required))
		}
	}
	for name, value := range args {
		prop, ok := def.Parameters.Properties[name]
		if !ok {
			return errors.UserInput(fmt.Sprintf("tool %s: unknown argument %q", def.Name, name))
		}
		if !typeMatches(prop.Type, value) {
			return errors.UserInput(fmt.Sprintf("tool %s: argument %q must be %s", def.Name, name, prop.Type))
		}
	}
	return nil
}

func typeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// validatePaths applies the governance path rules to every path-like string
// argument.
func (e *Executor) validatePaths(args map[string]any, policy governance.ToolPolicy) error {
	for _, key := range []string{"path", "file_path", "directory", "target"} {
		raw, ok := args[key]
		if !ok {
			continue
		}
		path, ok := raw.(string)
		if !ok || path == "" {
			continue
		}
		if err := e.store.ValidatePath(path, policy); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) fail(trace telemetry.TraceContext, call types.ToolCall, start time.Time, err error) (*types.ToolResult, error) {
	result := &types.ToolResult{
		ToolName:  call.Name,
		Success:   false,
		Error:     err.Error(),
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Metadata:  map[string]any{"error_kind": errors.KindOf(err).String()},
	}
	e.logger.Warn("tool call failed", "tool", call.Name,
		"error", err, "kind", errors.KindOf(err).String())
	if e.bus != nil {
		e.bus.Emit(telemetry.NewEvent("tool_call_failed", trace, map[string]any{
			"tool":       call.Name,
			"error":      err.Error(),
			"error_kind": errors.KindOf(err).String(),
			"latency_ms": result.LatencyMs,
		}).WithLevel(telemetry.LevelWarn))
	}
	return result, err
}

func (e *Executor) emitStarted(trace telemetry.TraceContext, call types.ToolCall, mode types.Mode) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(telemetry.NewEvent("tool_call_started", trace, map[string]any{
		"tool": call.Name,
		"mode": string(mode),
	}))
}

func (e *Executor) emitCompleted(trace telemetry.TraceContext, call types.ToolCall, result *types.ToolResult, cached bool) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(telemetry.NewEvent("tool_call_completed", trace, map[string]any{
		"tool":       call.Name,
		"success":    result.Success,
		"cached":     cached,
		"latency_ms": result.LatencyMs,
	}))
}

// resultCacheKey fingerprints a call by name plus canonical argument JSON.
// json.Marshal sorts map keys, so equal argument sets share a key.
func resultCacheKey(call types.ToolCall) string {
	args, _ := json.Marshal(call.Arguments)
	sum := sha256.Sum256(append([]byte(call.Name+"\x00"), args...))
	return hex.EncodeToString(sum[:16])
}
