// Package modes owns the operational mode state machine. Transitions are
// driven either by sensor evaluation or by explicit operator requests, and
// every attempt is recorded on the telemetry bus.
package modes

import (
	"fmt"
	"sync"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

const historyCapacity = 64

// Transition is one recorded mode change.
type Transition struct {
	From      types.Mode `json:"from"`
	To        types.Mode `json:"to"`
	Reason    string     `json:"reason"`
	Initiator string     `json:"initiator"`
	Timestamp time.Time  `json:"timestamp"`
}

// Observer is notified after each successful transition. Observers run on the
// caller's goroutine and must not block.
type Observer func(from, to types.Mode, reason string)

// Manager holds the current mode and enforces the allowed-transition graph
// from the policy document.
type Manager struct {
	store  *governance.Store
	bus    *telemetry.Bus
	logger *logging.Logger

	mu          sync.Mutex
	current     types.Mode
	history     []Transition
	observers   []Observer
	breachSince time.Time
	clearSince  time.Time
}

func NewManager(store *governance.Store, bus *telemetry.Bus, logger *logging.Logger) *Manager {
	return &Manager{
		store:   store,
		bus:     bus,
		logger:  logging.OrNop(logger).Component("modes"),
		current: types.ModeNormal,
	}
}

// Current returns the mode in effect right now.
func (m *Manager) Current() types.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns the most recent transitions, newest last.
func (m *Manager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers an observer for successful transitions.
func (m *Manager) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// TransitionTo requests an explicit mode change. The transition must be on
// the current mode's allowed list; a same-mode request is a no-op.
func (m *Manager) TransitionTo(target types.Mode, reason, initiator string) error {
	if !types.ValidMode(target) {
		return fmt.Errorf("unknown mode %q", target)
	}

	m.mu.Lock()
	from := m.current
	if from == target {
		m.mu.Unlock()
		return nil
	}
	def, ok := m.store.ModeDefinitionFor(from)
	if !ok || !def.Allows(target) {
		m.mu.Unlock()
		m.emitRejected(from, target, reason, initiator)
		return fmt.Errorf("transition %s -> %s not allowed", from, target)
	}
	m.applyLocked(target, reason, initiator)
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, obs := range observers {
		obs(from, target, reason)
	}
	return nil
}

// applyLocked records the transition. Caller holds m.mu.
func (m *Manager) applyLocked(target types.Mode, reason, initiator string) {
	from := m.current
	m.current = target
	m.breachSince = time.Time{}
	m.clearSince = time.Time{}
	m.history = append(m.history, Transition{
		From: from, To: target, Reason: reason, Initiator: initiator, Timestamp: time.Now().UTC(),
	})
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}

	m.logger.Info("mode transition", "from", string(from), "to", string(target),
		"reason", reason, "initiator", initiator)
	if m.bus != nil {
		m.bus.Emit(telemetry.NewEvent("mode_transition", telemetry.TraceContext{}, map[string]any{
			"from": string(from), "to": string(target), "reason": reason, "initiator": initiator,
		}))
	}
}

func (m *Manager) emitRejected(from, target types.Mode, reason, initiator string) {
	m.logger.Warn("mode transition rejected", "from", string(from), "to", string(target),
		"reason", reason, "initiator", initiator)
	if m.bus != nil {
		m.bus.Emit(telemetry.NewEvent("mode_transition_rejected", telemetry.TraceContext{}, map[string]any{
			"from": string(from), "to": string(target), "reason": reason, "initiator": initiator,
		}).WithLevel(telemetry.LevelWarn))
	}
}

// EvaluateFromMetrics feeds one sensor snapshot through the escalation and
// recovery rules. Escalation needs a sustained breach of the current mode's
// thresholds; stepping down needs a clear window twice as long, passing
// through RECOVERY before NORMAL.
func (m *Manager) EvaluateFromMetrics(snap sensors.Snapshot) {
	m.mu.Lock()
	current := m.current
	def, ok := m.store.ModeDefinitionFor(current)
	if !ok {
		m.mu.Unlock()
		return
	}
	sustained := time.Duration(def.SustainedSeconds) * time.Second
	now := snap.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if breached, detail := exceeds(def.Thresholds, snap); breached {
		m.clearSince = time.Time{}
		if m.breachSince.IsZero() {
			m.breachSince = now
		}
		if now.Sub(m.breachSince) >= sustained {
			target := types.StricterMode(current)
			if target != current && def.Allows(target) {
				m.applyLocked(target, detail, "sensor")
				observers := append([]Observer(nil), m.observers...)
				m.mu.Unlock()
				for _, obs := range observers {
					obs(current, target, detail)
				}
				return
			}
			if target != current {
				m.mu.Unlock()
				m.emitRejected(current, target, detail, "sensor")
				return
			}
		}
		m.mu.Unlock()
		return
	}

	m.breachSince = time.Time{}
	if current == types.ModeNormal {
		m.clearSince = time.Time{}
		m.mu.Unlock()
		return
	}
	if m.clearSince.IsZero() {
		m.clearSince = now
	}
	required := sustained
	if current != types.ModeRecovery {
		required = 2 * sustained
	}
	if now.Sub(m.clearSince) >= required {
		target := types.RelaxedMode(current)
		if def.Allows(target) {
			m.applyLocked(target, "thresholds clear", "sensor")
			observers := append([]Observer(nil), m.observers...)
			m.mu.Unlock()
			for _, obs := range observers {
				obs(current, target, "thresholds clear")
			}
			return
		}
	}
	m.mu.Unlock()
}

// exceeds reports whether any configured threshold is breached. Zero-valued
// thresholds are not enforced.
func exceeds(th governance.Thresholds, snap sensors.Snapshot) (bool, string) {
	switch {
	case th.CPUPercent > 0 && snap.CPUPercent > th.CPUPercent:
		return true, fmt.Sprintf("cpu %.1f%% over %.1f%%", snap.CPUPercent, th.CPUPercent)
	case th.MemoryPercent > 0 && snap.MemoryPercent > th.MemoryPercent:
		return true, fmt.Sprintf("memory %.1f%% over %.1f%%", snap.MemoryPercent, th.MemoryPercent)
	case th.DiskPercent > 0 && snap.DiskPercent > th.DiskPercent:
		return true, fmt.Sprintf("disk %.1f%% over %.1f%%", snap.DiskPercent, th.DiskPercent)
	case th.GPUPercent > 0 && snap.GPUAvailable && snap.GPUPercent > th.GPUPercent:
		return true, fmt.Sprintf("gpu %.1f%% over %.1f%%", snap.GPUPercent, th.GPUPercent)
	}
	return false, ""
}
