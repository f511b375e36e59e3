// Package monitoring periodically samples this process's own resource
// usage and publishes it to the metrics registry. It is purely
// observational: nothing in the multiplexing engine reads these values
// back to gate admission or backpressure.
package monitoring

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/gatewaymux/internal/metrics"
)

// SystemSampler periodically updates CPU/RSS gauges.
type SystemSampler struct {
	interval time.Duration
	metrics  *metrics.Registry
	logger   zerolog.Logger
}

// NewSystemSampler builds a sampler reporting every interval.
func NewSystemSampler(interval time.Duration, m *metrics.Registry, logger zerolog.Logger) *SystemSampler {
	return &SystemSampler{
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "monitoring").Logger(),
	}
}

// Run blocks, sampling on every tick, until ctx is cancelled.
func (s *SystemSampler) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get self process handle, system sampling disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(proc)
		}
	}
}

func (s *SystemSampler) sample(proc *process.Process) {
	if cpuPct, err := proc.CPUPercent(); err == nil {
		s.metrics.ProcessCPUPercent.Set(cpuPct)
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		s.metrics.ProcessRSSBytes.Set(float64(memInfo.RSS))
	}
}
