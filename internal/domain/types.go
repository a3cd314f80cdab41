package domain

import (
	"context"
	"fmt"
	"time"
)

// BackendRole identifies one of the two backend database servers known to the
// load balancer. Exactly two roles exist; the mapping from role to server
// identity is fixed at startup.
type BackendRole int

const (
	// RolePrimary is the preferred backend under normal load
	RolePrimary BackendRole = iota
	// RoleBackup is the standby backend that receives traffic during failover
	RoleBackup
)

// String returns the string representation of BackendRole
func (r BackendRole) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// Other returns the opposite role
func (r BackendRole) Other() BackendRole {
	if r == RolePrimary {
		return RoleBackup
	}
	return RolePrimary
}

// Sample is a single CPU utilization reading, produced once per tick
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
}

// TransitionOutcome records how an attempted failover/failback ended
type TransitionOutcome int

const (
	// OutcomeApplied - the administration channel acknowledged both commands
	OutcomeApplied TransitionOutcome = iota
	// OutcomeFailed - the administration channel rejected a command or was unreachable
	OutcomeFailed
	// OutcomeSkippedDryRun - the controller runs in dry-run mode and issued no commands
	OutcomeSkippedDryRun
)

// String returns the string representation of TransitionOutcome
func (o TransitionOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkippedDryRun:
		return "skipped_dry_run"
	default:
		return "unknown"
	}
}

// TransitionRecord describes one attempted transition between backend roles.
// Records are append-only and never mutated after creation.
type TransitionRecord struct {
	Timestamp         time.Time         `json:"timestamp"`
	From              BackendRole       `json:"from"`
	To                BackendRole       `json:"to"`
	TriggerCPUPercent float64           `json:"trigger_cpu_percent"`
	Outcome           TransitionOutcome `json:"outcome"`
	Error             string            `json:"error,omitempty"`
}

// Thresholds holds the hysteresis band configuration, fixed for the
// controller's lifetime. TripLow must be strictly less than TripHigh.
type Thresholds struct {
	TripHigh float64 `json:"trip_high" yaml:"trip_high"`
	TripLow  float64 `json:"trip_low" yaml:"trip_low"`
}

// Validate checks the hysteresis band invariant
func (t Thresholds) Validate() error {
	if t.TripHigh <= 0 || t.TripHigh > 100 {
		return fmt.Errorf("trip_high must be in (0,100]: %v", t.TripHigh)
	}
	if t.TripLow < 0 {
		return fmt.Errorf("trip_low cannot be negative: %v", t.TripLow)
	}
	if t.TripLow >= t.TripHigh {
		return fmt.Errorf("trip_low (%v) must be strictly less than trip_high (%v)", t.TripLow, t.TripHigh)
	}
	return nil
}

// BackendMap fixes the role-to-server mapping the administration commands use
type BackendMap struct {
	Pool    string `json:"pool" yaml:"pool"`
	Primary string `json:"primary" yaml:"primary"`
	Backup  string `json:"backup" yaml:"backup"`
}

// ServerFor returns the load balancer server identity mapped to a role
func (m BackendMap) ServerFor(role BackendRole) string {
	if role == RolePrimary {
		return m.Primary
	}
	return m.Backup
}

// ControllerStatus is a point-in-time snapshot of the controller, exposed
// read-only through the status API
type ControllerStatus struct {
	ActiveRole         string    `json:"active_role"`
	LastCPUPercent     float64   `json:"last_cpu_percent"`
	LastSampleAt       time.Time `json:"last_sample_at"`
	Ticks              uint64    `json:"ticks"`
	SampleFailures     uint64    `json:"sample_failures"`
	TransitionsApplied uint64    `json:"transitions_applied"`
	TransitionsFailed  uint64    `json:"transitions_failed"`
	DryRun             bool      `json:"dry_run"`
	CheckInterval      string    `json:"check_interval"`
	TripHigh           float64   `json:"trip_high"`
	TripLow            float64   `json:"trip_low"`
}

// Sampler produces the current CPU utilization of the observed host
type Sampler interface {
	// Sample returns the most recent instantaneous CPU utilization in [0,100].
	// It fails with a SampleUnavailable error rather than returning a stale
	// or fabricated value.
	Sample(ctx context.Context) (Sample, error)
}

// AdminClient issues administrative commands against the load balancer's
// runtime control channel
type AdminClient interface {
	// Apply disables the server mapped to disable and enables the server
	// mapped to enable, in that order. Any non-success acknowledgment,
	// connection failure or timeout fails the whole operation.
	Apply(ctx context.Context, disable, enable BackendRole) error
}

// Recorder is the append-only event log consumed by operators
type Recorder interface {
	// RecordSample appends a routine sample entry
	RecordSample(sample Sample, active BackendRole)
	// RecordSampleFailure appends an entry for a tick whose sample could not be taken
	RecordSampleFailure(at time.Time, err error)
	// RecordTransition appends a transition record
	RecordTransition(record TransitionRecord)
}
