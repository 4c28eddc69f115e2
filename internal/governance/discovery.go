package governance

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

var (
	highRiskKeywords = []string{"write", "delete", "execute", "send", "create", "modify", "update", "remove"}
	lowRiskKeywords  = []string{"read", "get", "list", "search", "query", "view", "show", "fetch"}
)

// InferRisk grades a tool by keyword inspection of its name and description.
// High-risk keywords win over low-risk ones; no match means medium.
func InferRisk(name, description string) RiskLevel {
	text := strings.ToLower(name + " " + description)
	for _, kw := range highRiskKeywords {
		if strings.Contains(text, kw) {
			return RiskHigh
		}
	}
	for _, kw := range lowRiskKeywords {
		if strings.Contains(text, kw) {
			return RiskLow
		}
	}
	return RiskMedium
}

// EnsureToolConfigured guarantees a discovered tool has a policy entry.
// Existing entries are never touched. Generated entries get the given risk,
// approval for high risk, and modes derived from the risk level. The updated
// document is persisted best-effort; a write failure keeps the in-memory
// entry and logs a warning.
func (s *Store) EnsureToolConfigured(name, description string, risk RiskLevel) ToolPolicy {
	s.mu.Lock()
	if existing, ok := s.doc.Tools[name]; ok {
		s.mu.Unlock()
		return existing
	}

	policy := generatedPolicy(name, risk)
	if s.doc.Tools == nil {
		s.doc.Tools = make(map[string]ToolPolicy)
	}
	s.doc.Tools[name] = policy
	data, marshalErr := yaml.Marshal(s.doc)
	path := s.path
	s.mu.Unlock()

	s.logger.Info("generated policy for discovered tool",
		"tool", name, "risk", string(risk), "requires_approval", policy.RequiresApproval)

	if path == "" {
		return policy
	}
	if marshalErr != nil {
		s.logger.Warn("failed to serialise policy for persistence", "error", marshalErr)
		return policy
	}
	if err := writeFileAtomic(path, data); err != nil {
		s.logger.Warn("failed to persist generated tool policy", "tool", name, "error", err)
	}
	return policy
}

func generatedPolicy(name string, risk RiskLevel) ToolPolicy {
	policy := ToolPolicy{
		Name:             name,
		Category:         "mcp",
		RiskLevel:        risk,
		RequiresApproval: risk == RiskHigh,
		TimeoutSeconds:   60,
	}
	switch risk {
	case RiskLow:
		policy.AllowedInModes = []types.Mode{types.ModeNormal, types.ModeAlert, types.ModeDegraded, types.ModeRecovery}
	case RiskMedium:
		policy.AllowedInModes = []types.Mode{types.ModeNormal, types.ModeAlert, types.ModeRecovery}
	default:
		policy.AllowedInModes = []types.Mode{types.ModeNormal}
	}
	return policy
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp policy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace policy file: %w", err)
	}
	return nil
}
