// Package governance loads the mode/tool/model/safety policy document and
// answers permission queries for every effectful step in the service.
package governance

import (
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Thresholds are the sensor limits attached to a mode definition. A zero
// value means the threshold is not enforced.
type Thresholds struct {
	CPUPercent    float64 `yaml:"cpu_percent" json:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent" json:"memory_percent"`
	DiskPercent   float64 `yaml:"disk_percent" json:"disk_percent"`
	GPUPercent    float64 `yaml:"gpu_percent" json:"gpu_percent"`
}

// ModeDefinition configures one operational mode.
type ModeDefinition struct {
	Thresholds         Thresholds   `yaml:"thresholds" json:"thresholds"`
	SustainedSeconds   int          `yaml:"sustained_seconds" json:"sustained_seconds"`
	AllowedTransitions []types.Mode `yaml:"allowed_transitions" json:"allowed_transitions"`
}

// Allows reports whether a transition to target is permitted from this mode.
func (d ModeDefinition) Allows(target types.Mode) bool {
	for _, m := range d.AllowedTransitions {
		if m == target {
			return true
		}
	}
	return false
}

// RateLimit caps tool invocations within a sliding window.
type RateLimit struct {
	N             int `yaml:"n" json:"n"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

// Window returns the configured window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// RiskLevel grades how dangerous a tool is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolPolicy is the per-tool governance record.
type ToolPolicy struct {
	Name             string       `yaml:"-" json:"name"`
	Category         string       `yaml:"category" json:"category"`
	RiskLevel        RiskLevel    `yaml:"risk_level" json:"risk_level"`
	AllowedInModes   []types.Mode `yaml:"allowed_in_modes" json:"allowed_in_modes"`
	RequiresApproval bool         `yaml:"requires_approval" json:"requires_approval"`
	ForbiddenPaths   []string     `yaml:"forbidden_paths" json:"forbidden_paths,omitempty"`
	AllowedPaths     []string     `yaml:"allowed_paths" json:"allowed_paths,omitempty"`
	TimeoutSeconds   int          `yaml:"timeout_seconds" json:"timeout_seconds"`
	RateLimit        *RateLimit   `yaml:"rate_limit" json:"rate_limit,omitempty"`
}

// AllowedIn reports whether the tool may run in the given mode.
func (p ToolPolicy) AllowedIn(mode types.Mode) bool {
	for _, m := range p.AllowedInModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ModelConstraints limit model usage per mode.
type ModelConstraints struct {
	AllowedRoles  []types.ModelRole `yaml:"allowed_roles" json:"allowed_roles"`
	MaxTokens     int               `yaml:"max_tokens" json:"max_tokens,omitempty"`
	DisableTools  bool              `yaml:"disable_tools" json:"disable_tools,omitempty"`
	LocalOnlyHint bool              `yaml:"local_only" json:"local_only,omitempty"`
}

// AllowsRole reports whether the role may be targeted under these
// constraints. An empty list allows every role.
func (c ModelConstraints) AllowsRole(role types.ModelRole) bool {
	if len(c.AllowedRoles) == 0 {
		return true
	}
	for _, r := range c.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// SafetyPolicy holds the global path restrictions applied to every tool on
// top of its own policy.
type SafetyPolicy struct {
	ForbiddenPaths []string `yaml:"forbidden_paths" json:"forbidden_paths,omitempty"`
}

// Document is the whole policy file. Immutable after load; a reload swaps
// the entire Store atomically.
type Document struct {
	Modes  map[types.Mode]ModeDefinition     `yaml:"modes" json:"modes"`
	Tools  map[string]ToolPolicy             `yaml:"tools" json:"tools"`
	Models map[types.Mode]ModelConstraints   `yaml:"models" json:"models"`
	Safety SafetyPolicy                      `yaml:"safety" json:"safety"`
}

// Decision is the answer to a permission query.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
	RateLimited      bool   `json:"rate_limited,omitempty"`
}
