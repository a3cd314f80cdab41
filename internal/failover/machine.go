package failover

import (
	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// Machine is the two-state hysteresis state machine that owns the
// authoritative belief about which backend is currently active.
//
// A sample strictly above TripHigh while primary is active targets the
// backup; a sample strictly below TripLow while backup is active targets the
// primary. Every other (state, sample) combination is a no-op. The gap
// between the two thresholds is what prevents flapping when utilization
// hovers near a single boundary.
//
// Evaluate never applies a transition itself: it emits the desired target
// role, and the caller commits the new active value only after the
// administration channel reports success. A failed enactment leaves the
// belief unchanged, so the same rule fires again on the next qualifying tick.
type Machine struct {
	thresholds domain.Thresholds
	active     domain.BackendRole
	logger     *logger.Logger
}

// New creates a state machine with the given hysteresis band. The active
// belief always initializes to primary; it is not persisted across restarts.
func New(thresholds domain.Thresholds, log *logger.Logger) *Machine {
	return &Machine{
		thresholds: thresholds,
		active:     domain.RolePrimary,
		logger:     log.StateMachineLogger(),
	}
}

// Active returns the current belief about the active backend role
func (m *Machine) Active() domain.BackendRole {
	return m.active
}

// Thresholds returns the configured hysteresis band
func (m *Machine) Thresholds() domain.Thresholds {
	return m.thresholds
}

// Evaluate decides whether the sample warrants a transition. It is a pure
// function of the current state and the sample: no side effects, no mutation.
// The second return value is false when the sample lands in the no-op region.
func (m *Machine) Evaluate(sample domain.Sample) (domain.BackendRole, bool) {
	switch m.active {
	case domain.RolePrimary:
		if sample.CPUPercent > m.thresholds.TripHigh {
			return domain.RoleBackup, true
		}
	case domain.RoleBackup:
		if sample.CPUPercent < m.thresholds.TripLow {
			return domain.RolePrimary, true
		}
	}
	return m.active, false
}

// Commit records a successfully enacted transition. Callers must only commit
// after the administration channel acknowledged both commands.
func (m *Machine) Commit(target domain.BackendRole) {
	if target == m.active {
		return
	}

	m.logger.WithFields(map[string]interface{}{
		"from": m.active.String(),
		"to":   target.String(),
	}).Info("Active backend belief updated")

	m.active = target
}
