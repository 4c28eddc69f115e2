package governance

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Store answers permission queries against a loaded policy document.
// The document is immutable after load; discovery appends in-memory entries
// under the write lock and persists them best-effort.
type Store struct {
	mu      sync.RWMutex
	doc     Document
	path    string
	limiter *rateLimiter
	logger  *logging.Logger
}

// Load reads and validates the policy file. An unreadable or invalid policy
// file fails startup.
func Load(path string, logger *logging.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	expandPaths(&doc)

	return &Store{
		doc:     doc,
		path:    path,
		limiter: newRateLimiter(),
		logger:  logging.OrNop(logger).Component("governance"),
	}, nil
}

// NewFromDocument builds a store from an in-memory document. Used by tests
// and by components that synthesise policies.
func NewFromDocument(doc Document, logger *logging.Logger) (*Store, error) {
	if err := validate(&doc); err != nil {
		return nil, err
	}
	expandPaths(&doc)
	return &Store{
		doc:     doc,
		limiter: newRateLimiter(),
		logger:  logging.OrNop(logger).Component("governance"),
	}, nil
}

func validate(doc *Document) error {
	if len(doc.Modes) == 0 {
		return fmt.Errorf("no modes defined")
	}
	for mode, def := range doc.Modes {
		if !types.ValidMode(mode) {
			return fmt.Errorf("unknown mode %q", mode)
		}
		for _, target := range def.AllowedTransitions {
			if !types.ValidMode(target) {
				return fmt.Errorf("mode %s allows transition to unknown mode %q", mode, target)
			}
		}
	}
	for name, policy := range doc.Tools {
		if policy.TimeoutSeconds <= 0 {
			return fmt.Errorf("tool %s: timeout_seconds must be positive", name)
		}
		switch policy.RiskLevel {
		case RiskLow, RiskMedium, RiskHigh:
		default:
			return fmt.Errorf("tool %s: unknown risk level %q", name, policy.RiskLevel)
		}
	}
	return nil
}

// expandPaths performs environment-variable expansion ($HOME, ${VAR}) once at
// load time so per-call validation never touches the environment.
func expandPaths(doc *Document) {
	expand := func(paths []string) {
		for i, p := range paths {
			paths[i] = os.ExpandEnv(p)
		}
	}
	for name, policy := range doc.Tools {
		expand(policy.ForbiddenPaths)
		expand(policy.AllowedPaths)
		policy.Name = name
		doc.Tools[name] = policy
	}
	expand(doc.Safety.ForbiddenPaths)
}

// ToolPolicyFor returns the policy for a tool, if configured.
func (s *Store) ToolPolicyFor(name string) (ToolPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.doc.Tools[name]
	return policy, ok
}

// CheckToolAllowed answers whether the named tool may run in the current
// mode, including the sliding-window rate limit for the caller.
func (s *Store) CheckToolAllowed(toolName string, mode types.Mode, caller string) Decision {
	s.mu.RLock()
	policy, ok := s.doc.Tools[toolName]
	s.mu.RUnlock()

	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("tool %s has no policy", toolName)}
	}
	if !policy.AllowedIn(mode) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("tool %s not allowed in mode %s", toolName, mode)}
	}
	if policy.RateLimit != nil && policy.RateLimit.N > 0 {
		if !s.limiter.allow(toolName, caller, policy.RateLimit.N, policy.RateLimit.Window()) {
			return Decision{
				Allowed:     false,
				RateLimited: true,
				Reason:      fmt.Sprintf("tool %s rate limit exceeded (%d per %s)", toolName, policy.RateLimit.N, policy.RateLimit.Window()),
			}
		}
	}
	return Decision{Allowed: true, RequiresApproval: policy.RequiresApproval}
}

// ValidatePath checks a filesystem path against the tool's path policy plus
// the global safety denylist. Deny always precedes allow: a forbidden match
// is final even when an allowed pattern also matches.
func (s *Store) ValidatePath(path string, policy ToolPolicy) error {
	s.mu.RLock()
	globalForbidden := s.doc.Safety.ForbiddenPaths
	s.mu.RUnlock()

	for _, pattern := range globalForbidden {
		if matchGlob(pattern, path) {
			return fmt.Errorf("path denied: %s matches safety pattern %s", path, pattern)
		}
	}
	for _, pattern := range policy.ForbiddenPaths {
		if matchGlob(pattern, path) {
			return fmt.Errorf("path denied: %s matches forbidden pattern %s", path, pattern)
		}
	}
	if len(policy.AllowedPaths) > 0 {
		for _, pattern := range policy.AllowedPaths {
			if matchGlob(pattern, path) {
				return nil
			}
		}
		return fmt.Errorf("path denied: %s matches no allowed pattern", path)
	}
	return nil
}

// GetModelConstraints returns the model constraints for a mode. Modes with no
// entry inherit an unconstrained default.
func (s *Store) GetModelConstraints(mode types.Mode) ModelConstraints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Models[mode]
}

// ModeThresholds returns the threshold set for a mode.
func (s *Store) ModeThresholds(mode types.Mode) (Thresholds, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.doc.Modes[mode]
	return def.Thresholds, ok
}

// ModeDefinitionFor returns the full definition for a mode.
func (s *Store) ModeDefinitionFor(mode types.Mode) (ModeDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.doc.Modes[mode]
	return def, ok
}

// ToolNames returns the configured tool names, sorted.
func (s *Store) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.doc.Tools))
	for name := range s.doc.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serialize renders the current document back to YAML. Load followed by
// Serialize yields a structurally equivalent document.
func (s *Store) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return yaml.Marshal(s.doc)
}

// matchGlob matches path against pattern. The syntax is filepath.Match per
// path segment, extended with a leading "**/" (any directory prefix) and a
// trailing "/**" (everything under a directory). This is the documented glob
// dialect for allowed_paths/forbidden_paths.
func matchGlob(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	if pattern == path {
		return true
	}
	if rest, ok := strings.CutSuffix(pattern, "/**"); ok {
		if path == rest || strings.HasPrefix(path, rest+"/") {
			return true
		}
	}
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		segments := strings.Split(path, "/")
		for i := range segments {
			if matchSegments(rest, strings.Join(segments[i:], "/")) {
				return true
			}
		}
		return false
	}
	return matchSegments(pattern, path)
}

func matchSegments(pattern, path string) bool {
	patParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patParts) != len(pathParts) {
		return false
	}
	for i := range patParts {
		ok, err := matchSegment(patParts[i], pathParts[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
