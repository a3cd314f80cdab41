package controller

import (
	"context"
	"sync"
	"time"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/failover"
	"github.com/mir00r/failover-controller/internal/metrics"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// Config holds controller loop configuration
type Config struct {
	CheckInterval time.Duration
	AdminTimeout  time.Duration
	DryRun        bool
}

// Controller drives the sample → decide → act → log cycle on a fixed
// interval. One tick executes fully before the next begins; there is no
// overlap, so the state machine needs no locking. Shutdown is cooperative: a
// cancellation is observed between ticks, never in the middle of an apply, so
// the load balancer is never left in an ambiguous disable/enable state.
type Controller struct {
	config   Config
	sampler  domain.Sampler
	admin    domain.AdminClient
	machine  *failover.Machine
	recorder domain.Recorder
	metrics  *metrics.Metrics
	logger   *logger.Logger

	stopChan chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	status domain.ControllerStatus
}

// New creates a controller loop around the given collaborators
func New(
	config Config,
	sampler domain.Sampler,
	admin domain.AdminClient,
	machine *failover.Machine,
	recorder domain.Recorder,
	m *metrics.Metrics,
	log *logger.Logger,
) *Controller {
	c := &Controller{
		config:   config,
		sampler:  sampler,
		admin:    admin,
		machine:  machine,
		recorder: recorder,
		metrics:  m,
		logger:   log.ControllerLogger(),
		stopChan: make(chan struct{}),
	}

	c.status = domain.ControllerStatus{
		ActiveRole:    machine.Active().String(),
		DryRun:        config.DryRun,
		CheckInterval: config.CheckInterval.String(),
		TripHigh:      machine.Thresholds().TripHigh,
		TripLow:       machine.Thresholds().TripLow,
	}
	c.metrics.SetActiveRole(machine.Active())

	return c
}

// Run executes the tick loop until the context is canceled or Stop is called.
// The in-flight tick always completes before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.WithFields(map[string]interface{}{
		"check_interval": c.config.CheckInterval.String(),
		"trip_high":      c.machine.Thresholds().TripHigh,
		"trip_low":       c.machine.Thresholds().TripLow,
		"dry_run":        c.config.DryRun,
		"active_role":    c.machine.Active().String(),
	}).Info("Starting failover controller")

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	// First evaluation happens immediately rather than one interval in.
	c.Tick()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Controller stopped due to context cancellation")
			return nil
		case <-c.stopChan:
			c.logger.Info("Controller stopped")
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stop requests a cooperative shutdown
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// Tick runs one full sample → decide → act → log cycle. Its I/O budgets are
// deliberately detached from the run context: shutdown is observed between
// ticks only, so an in-flight apply is never aborted halfway.
func (c *Controller) Tick() {
	sampleCtx, cancel := context.WithTimeout(context.Background(), c.config.AdminTimeout)
	sample, err := c.sampler.Sample(sampleCtx)
	cancel()

	if err != nil {
		// No decision this tick; the failure itself is logged and recorded.
		c.recorder.RecordSampleFailure(time.Now(), err)
		c.metrics.ObserveSampleFailure()
		c.metrics.ObserveTick()
		c.observeTick(func(s *domain.ControllerStatus) {
			s.Ticks++
			s.SampleFailures++
		})
		return
	}

	if target, fire := c.machine.Evaluate(sample); fire {
		c.transition(sample, target)
	}

	active := c.machine.Active()
	c.recorder.RecordSample(sample, active)
	c.metrics.ObserveSample(sample, active)
	c.metrics.ObserveTick()
	c.observeTick(func(s *domain.ControllerStatus) {
		s.Ticks++
		s.ActiveRole = active.String()
		s.LastCPUPercent = sample.CPUPercent
		s.LastSampleAt = sample.Timestamp
	})
}

// transition enacts a decided transition through the administration channel
// and commits the new belief only on success
func (c *Controller) transition(sample domain.Sample, target domain.BackendRole) {
	from := c.machine.Active()

	// The record carries the trigger instant, not the enactment instant, so
	// event log timestamps stay non-decreasing in append order within a tick.
	record := domain.TransitionRecord{
		Timestamp:         sample.Timestamp,
		From:              from,
		To:                target,
		TriggerCPUPercent: sample.CPUPercent,
	}

	switch {
	case c.config.DryRun:
		record.Outcome = domain.OutcomeSkippedDryRun
		c.logger.WithFields(map[string]interface{}{
			"from":                from.String(),
			"to":                  target.String(),
			"trigger_cpu_percent": sample.CPUPercent,
		}).Info("Dry run: transition decided but not enacted")

	default:
		applyCtx, cancel := context.WithTimeout(context.Background(), c.config.AdminTimeout)
		err := c.admin.Apply(applyCtx, from, target)
		cancel()

		if err != nil {
			// Belief stays unchanged; the same rule fires again on the next
			// qualifying tick.
			record.Outcome = domain.OutcomeFailed
			record.Error = err.Error()
		} else {
			record.Outcome = domain.OutcomeApplied
			c.machine.Commit(target)
		}
	}

	c.recorder.RecordTransition(record)
	c.metrics.ObserveTransition(record)
	c.observeTick(func(s *domain.ControllerStatus) {
		switch record.Outcome {
		case domain.OutcomeApplied:
			s.TransitionsApplied++
		case domain.OutcomeFailed:
			s.TransitionsFailed++
		}
	})
}

// Status returns a point-in-time snapshot for the status API
func (c *Controller) Status() domain.ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// observeTick applies a status mutation under the write lock
func (c *Controller) observeTick(update func(*domain.ControllerStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.status)
}
