package router

import (
	"regexp"
	"strings"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Keyword tables for the zero-cost routing pass. Matching is case-insensitive
// over the latest user message.
var (
	codingKeywords = []string{
		"debug", "refactor", "implement", "fix bug", "fix this bug", "unit test",
		"compile", "stack trace", "segfault", "write a function", "code review",
	}
	reasoningKeywords = []string{
		"prove", "derive", "rigorously", "step by step", "think carefully",
		"analyze deeply", "research synthesis", "trade-off", "pros and cons",
	}
	toolIntentKeywords = []string{
		"search the web", "look up", "list files", "read the file", "read file",
		"check disk", "check the disk", "current cpu", "memory usage",
	}
	greetingKeywords = []string{
		"hi", "hello", "hey", "thanks", "thank you", "good morning", "good night",
	}

	codeFenceRe  = regexp.MustCompile("(?s)```")
	codeTokenRe  = regexp.MustCompile(`(?m)^\s*(def |class |import |func |package |#include)`)
	stackTraceRe = regexp.MustCompile(`(?i)(traceback \(most recent call last\)|panic:|at .+\(.+:\d+\)|exception in thread)`)
)

// classify runs the keyword heuristics over a user message and returns a
// routing result with a confidence grade. Low confidence tells the policy
// layer to consult the router model.
func classify(message string) types.RoutingResult {
	lower := strings.ToLower(strings.TrimSpace(message))

	if codeFenceRe.MatchString(message) || codeTokenRe.MatchString(message) || stackTraceRe.MatchString(message) {
		return types.RoutingResult{
			Decision:    types.DecisionDelegate,
			TargetModel: types.RoleCoding,
			Confidence:  0.9,
			Reason:      "code or stack trace detected",
		}
	}
	if kw := firstMatch(lower, codingKeywords); kw != "" {
		return types.RoutingResult{
			Decision:    types.DecisionDelegate,
			TargetModel: types.RoleCoding,
			Confidence:  0.8,
			Reason:      "coding keyword: " + kw,
		}
	}
	if kw := firstMatch(lower, reasoningKeywords); kw != "" {
		return types.RoutingResult{
			Decision:    types.DecisionDelegate,
			TargetModel: types.RoleReasoning,
			Confidence:  0.8,
			Reason:      "reasoning keyword: " + kw,
		}
	}
	if kw := firstMatch(lower, toolIntentKeywords); kw != "" {
		return types.RoutingResult{
			Decision:    types.DecisionDelegate,
			TargetModel: types.RoleStandard,
			Confidence:  0.8,
			Reason:      "tool intent: " + kw,
		}
	}
	if isGreeting(lower) {
		return types.RoutingResult{
			Decision:    types.DecisionDelegate,
			TargetModel: types.RoleStandard,
			Confidence:  0.9,
			Reason:      "short greeting",
		}
	}
	return types.RoutingResult{
		Decision:    types.DecisionDelegate,
		TargetModel: types.RoleStandard,
		Confidence:  0.4,
		Reason:      "no heuristic signal",
	}
}

func firstMatch(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

// isGreeting matches short social messages. These delegate to the standard
// model with high confidence so the router model is never consulted; only an
// explicit HANDLE verdict from the model keeps a request on the router role.
func isGreeting(lower string) bool {
	if len(strings.Fields(lower)) > 6 {
		return false
	}
	trimmed := strings.Trim(lower, "!.?, ")
	for _, kw := range greetingKeywords {
		if trimmed == kw || strings.HasPrefix(trimmed, kw+" ") {
			return true
		}
	}
	return false
}
