package app

import (
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// DefaultPolicy is the built-in governance document used when no policy file
// is installed. It mirrors config/governance.yaml; edit that file rather
// than this one to tune a deployment.
func DefaultPolicy() governance.Document {
	allModes := []types.Mode{
		types.ModeNormal, types.ModeAlert, types.ModeDegraded,
		types.ModeLockdown, types.ModeRecovery,
	}
	readModes := []types.Mode{
		types.ModeNormal, types.ModeAlert, types.ModeDegraded, types.ModeRecovery,
	}

	return governance.Document{
		Modes: map[types.Mode]governance.ModeDefinition{
			types.ModeNormal: {
				Thresholds:         governance.Thresholds{CPUPercent: 85, MemoryPercent: 85, DiskPercent: 90},
				SustainedSeconds:   30,
				AllowedTransitions: []types.Mode{types.ModeAlert, types.ModeLockdown},
			},
			types.ModeAlert: {
				Thresholds:         governance.Thresholds{CPUPercent: 95, MemoryPercent: 95, DiskPercent: 95},
				SustainedSeconds:   30,
				AllowedTransitions: []types.Mode{types.ModeNormal, types.ModeDegraded, types.ModeLockdown},
			},
			types.ModeDegraded: {
				SustainedSeconds:   60,
				AllowedTransitions: []types.Mode{types.ModeAlert, types.ModeLockdown, types.ModeRecovery},
			},
			types.ModeLockdown: {
				AllowedTransitions: []types.Mode{types.ModeRecovery},
			},
			types.ModeRecovery: {
				SustainedSeconds:   60,
				AllowedTransitions: []types.Mode{types.ModeNormal, types.ModeLockdown},
			},
		},
		Tools: map[string]governance.ToolPolicy{
			"read_file": {
				Category:       "filesystem",
				RiskLevel:      governance.RiskLow,
				AllowedInModes: readModes,
				ForbiddenPaths: []string{"/etc/**", "$HOME/.ssh/**"},
				TimeoutSeconds: 10,
			},
			"list_directory": {
				Category:       "filesystem",
				RiskLevel:      governance.RiskLow,
				AllowedInModes: readModes,
				ForbiddenPaths: []string{"/etc/**", "$HOME/.ssh/**"},
				TimeoutSeconds: 10,
			},
			"search_text": {
				Category:       "filesystem",
				RiskLevel:      governance.RiskLow,
				AllowedInModes: readModes,
				ForbiddenPaths: []string{"/etc/**", "$HOME/.ssh/**"},
				TimeoutSeconds: 30,
			},
			"write_file": {
				Category:         "filesystem",
				RiskLevel:        governance.RiskMedium,
				AllowedInModes:   []types.Mode{types.ModeNormal, types.ModeAlert},
				RequiresApproval: true,
				ForbiddenPaths:   []string{"/etc/**", "/usr/**", "$HOME/.ssh/**"},
				TimeoutSeconds:   10,
				RateLimit:        &governance.RateLimit{N: 30, WindowSeconds: 60},
			},
			"system_metrics_snapshot": {
				Category:       "diagnostics",
				RiskLevel:      governance.RiskLow,
				AllowedInModes: allModes,
				TimeoutSeconds: 5,
			},
		},
		Models: map[types.Mode]governance.ModelConstraints{
			types.ModeNormal: {},
			types.ModeAlert:  {MaxTokens: 2048},
			types.ModeDegraded: {
				AllowedRoles: []types.ModelRole{types.RoleRouter, types.RoleStandard},
				MaxTokens:    1024,
			},
			types.ModeLockdown: {
				AllowedRoles:  []types.ModelRole{types.RoleRouter},
				MaxTokens:     512,
				DisableTools:  true,
				LocalOnlyHint: true,
			},
			types.ModeRecovery: {
				AllowedRoles: []types.ModelRole{types.RoleRouter, types.RoleStandard},
				MaxTokens:    1024,
			},
		},
		Safety: governance.SafetyPolicy{
			ForbiddenPaths: []string{"/proc/**", "/sys/**", "/dev/**"},
		},
	}
}
