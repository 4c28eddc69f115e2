// Package router decides which model role serves a request. A keyword
// heuristic pass answers most requests for free; ambiguous ones are escalated
// to the small router model with a strict JSON contract.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kaptinlin/jsonrepair"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Policy selects how the heuristic and LLM passes combine.
type Policy string

const (
	PolicyHeuristicOnly    Policy = "heuristic_only"
	PolicyHeuristicThenLLM Policy = "heuristic_then_llm"
	PolicyLLMOnly          Policy = "llm_only"
)

// Config tunes the router.
type Config struct {
	Policy              Policy
	ConfidenceThreshold float64
	LLMTimeout          time.Duration
	CacheSize           int
}

func (c *Config) applyDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyHeuristicThenLLM
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 5 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
}

// Router produces routing results for incoming requests.
type Router struct {
	cfg    Config
	client llm.Client
	store  *governance.Store
	bus    *telemetry.Bus
	logger *logging.Logger
	cache  *lru.Cache[string, types.RoutingResult]
}

func New(cfg Config, client llm.Client, store *governance.Store, bus *telemetry.Bus, logger *logging.Logger) (*Router, error) {
	cfg.applyDefaults()
	cache, err := lru.New[string, types.RoutingResult](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create routing cache: %w", err)
	}
	return &Router{
		cfg:    cfg,
		client: client,
		store:  store,
		bus:    bus,
		logger: logging.OrNop(logger).Component("router"),
		cache:  cache,
	}, nil
}

// Route decides the target role for a user message. Channel overrides short-
// circuit the heuristics; mode constraints can downgrade the chosen role.
func (r *Router) Route(ctx context.Context, trace telemetry.TraceContext, message string, channel types.Channel, mode types.Mode) types.RoutingResult {
	start := time.Now()
	result, source := r.route(ctx, message, channel, mode)
	result = r.applyModeConstraints(result, mode)

	if r.bus != nil {
		r.bus.Emit(telemetry.NewEvent("routing_decision", trace, map[string]any{
			"decision":     string(result.Decision),
			"target_model": string(result.TargetModel),
			"confidence":   result.Confidence,
			"reason":       result.Reason,
			"source":       source,
			"channel":      string(channel),
			"latency_ms":   time.Since(start).Milliseconds(),
		}))
	}
	return result
}

func (r *Router) route(ctx context.Context, message string, channel types.Channel, mode types.Mode) (types.RoutingResult, string) {
	switch channel {
	case types.ChannelCodeTask:
		return types.RoutingResult{
			Decision: types.DecisionDelegate, TargetModel: types.RoleCoding,
			Confidence: 1.0, Reason: "code task channel",
		}, "channel"
	case types.ChannelSystemHealth:
		return types.RoutingResult{
			Decision: types.DecisionDelegate, TargetModel: types.RoleStandard,
			Confidence: 1.0, Reason: "system health channel",
		}, "channel"
	}

	key := cacheKey(message, channel, mode)
	if cached, ok := r.cache.Get(key); ok {
		return cached, "cache"
	}

	heuristic := classify(message)
	var result types.RoutingResult
	var source string
	switch r.cfg.Policy {
	case PolicyHeuristicOnly:
		result, source = heuristic, "heuristic"
	case PolicyLLMOnly:
		result, source = r.routeWithModel(ctx, message, heuristic), "llm"
	default:
		if heuristic.Confidence >= r.cfg.ConfidenceThreshold {
			result, source = heuristic, "heuristic"
		} else {
			result, source = r.routeWithModel(ctx, message, heuristic), "llm"
		}
	}

	// Only heuristic verdicts are cached. Model verdicts can vary between
	// calls, and a fallback taken during an outage must not outlive it.
	if source == "heuristic" {
		r.cache.Add(key, result)
	}
	return result, source
}

const routingPrompt = `You are a request router. Classify the user message and respond with a single JSON object, nothing else:
{"decision": "HANDLE" or "DELEGATE", "target_model": "STANDARD" or "REASONING" or "CODING", "confidence": 0.0-1.0, "reason": "short explanation"}
Use HANDLE only for trivial messages you can answer in one sentence. Everything else is DELEGATE with the best-fitting target_model.`

type modelVerdict struct {
	Decision    string  `json:"decision"`
	TargetModel string  `json:"target_model"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// routeWithModel consults the router model. Any failure, including malformed
// JSON after repair, falls back to the heuristic verdict.
func (r *Router) routeWithModel(ctx context.Context, message string, fallback types.RoutingResult) types.RoutingResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	resp, err := r.client.Chat(ctx, llm.Request{
		Role: types.RoleRouter,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: routingPrompt},
			{Role: types.RoleUser, Content: message},
		},
		MaxTokens:      200,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		r.logger.Warn("router model unavailable, using heuristic verdict", "error", err)
		cause := "router model unavailable"
		if stderrors.Is(err, context.DeadlineExceeded) {
			cause = "router model timeout"
		}
		fallback.Reason = fmt.Sprintf("%s (%s, heuristic fallback)", fallback.Reason, cause)
		return fallback
	}

	result, err := parseVerdict(resp.Content)
	if err != nil {
		r.logger.Warn("router model returned unusable verdict", "error", err,
			"content_prefix", prefix(resp.Content, 120))
		return fallback
	}
	return result
}

func parseVerdict(content string) (types.RoutingResult, error) {
	var v modelVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return types.RoutingResult{}, errors.Parse("routing verdict is not JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return types.RoutingResult{}, errors.Parse("repaired routing verdict is not JSON", err)
		}
	}

	decision := types.RoutingDecision(v.Decision)
	if decision != types.DecisionHandle && decision != types.DecisionDelegate {
		return types.RoutingResult{}, errors.Parse(fmt.Sprintf("unknown routing decision %q", v.Decision), nil)
	}
	target := types.ModelRole(v.TargetModel)
	if decision == types.DecisionHandle {
		target = types.RoleRouter
	} else {
		switch target {
		case types.RoleStandard, types.RoleReasoning, types.RoleCoding:
		default:
			return types.RoutingResult{}, errors.Parse(fmt.Sprintf("missing or unknown target_model %q", v.TargetModel), nil)
		}
	}
	confidence := v.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return types.RoutingResult{
		Decision:    decision,
		TargetModel: target,
		Confidence:  confidence,
		Reason:      v.Reason,
	}, nil
}

// applyModeConstraints downgrades the target role when the current mode
// forbids it. STANDARD is the floor; a mode that forbids STANDARD too keeps
// the downgrade anyway and governance rejects the call later.
func (r *Router) applyModeConstraints(result types.RoutingResult, mode types.Mode) types.RoutingResult {
	if r.store == nil || result.Decision == types.DecisionHandle {
		return result
	}
	constraints := r.store.GetModelConstraints(mode)
	if constraints.AllowsRole(result.TargetModel) {
		return result
	}
	r.logger.Info("downgrading routing target for mode",
		"mode", string(mode), "from", string(result.TargetModel))
	result.Reason = fmt.Sprintf("%s (role %s disabled in mode %s)", result.Reason, result.TargetModel, mode)
	result.TargetModel = types.RoleStandard
	return result
}

func cacheKey(message string, channel types.Channel, mode types.Mode) string {
	sum := sha256.Sum256([]byte(string(channel) + "\x00" + string(mode) + "\x00" + message))
	return hex.EncodeToString(sum[:16])
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
