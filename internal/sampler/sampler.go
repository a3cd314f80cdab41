package sampler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/errors"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// measureFunc returns per-interval CPU utilization percentages. It exists so
// tests can substitute the host measurement.
type measureFunc func(ctx context.Context) ([]float64, error)

// CPUSampler implements domain.Sampler using host CPU utilization.
//
// A reading outside [0,100] or an unreachable metric source fails with a
// SampleUnavailable error; the sampler never fabricates or clamps a value,
// because the controller treats a failed sample as "no decision this tick".
type CPUSampler struct {
	measure measureFunc
	logger  *logger.Logger
}

// New creates a CPU sampler for the host the controller observes. The first
// gopsutil reading is relative to process start, so the sampler primes an
// initial snapshot here; subsequent calls report utilization since the
// previous tick.
func New(log *logger.Logger) *CPUSampler {
	s := &CPUSampler{
		measure: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, false)
		},
		logger: log.SamplerLogger(),
	}

	// Prime the utilization counters; the result is discarded.
	if _, err := s.measure(context.Background()); err != nil {
		s.logger.WithError(err).Warn("Failed to prime CPU utilization counters")
	}

	return s
}

// Sample returns the most recent instantaneous CPU utilization in [0,100]
func (s *CPUSampler) Sample(ctx context.Context) (domain.Sample, error) {
	percents, err := s.measure(ctx)
	if err != nil {
		return domain.Sample{}, errors.NewSampleUnavailableError(err)
	}

	if len(percents) == 0 {
		return domain.Sample{}, errors.NewSampleUnavailableError(
			fmt.Errorf("measurement returned no values"))
	}

	p := percents[0]
	if math.IsNaN(p) || p < 0 || p > 100 {
		return domain.Sample{}, errors.NewSampleUnavailableError(
			fmt.Errorf("measurement out of range: %v", p))
	}

	sample := domain.Sample{
		Timestamp:  time.Now(),
		CPUPercent: p,
	}

	s.logger.WithField("cpu_percent", p).Debug("Sampled CPU utilization")

	return sample, nil
}
