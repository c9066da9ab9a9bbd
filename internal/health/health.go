// Package health periodically samples process resource usage and turns it
// into backpressure signals: the capacity-aware scheduler policy's
// admission rate, and a reject/pause decision publishers can consult
// directly.
package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/relaybus/rtbus/internal/metrics"
)

// RateAdjuster is the subset of *scheduler.Capacity health needs; admission
// throttling degrades to a no-op when the active policy isn't
// capacity-aware.
type RateAdjuster interface {
	SetRate(perSecond float64)
}

// Sampler tracks current CPU/memory usage and the configured thresholds
// that turn usage into a reject/pause decision.
type Sampler struct {
	rejectThreshold float64
	pauseThreshold  float64
	admitBaseline   float64
	policy          RateAdjuster // nil if the active scheduler policy isn't capacity-aware
	logger          zerolog.Logger

	cpuPercent atomic.Value // float64
	memBytes   atomic.Int64
}

// New builds a Sampler. admitBaseline is the Capacity policy's nominal
// admission rate (tokens/sec) restored once CPU usage is back under
// rejectThreshold; policy may be nil.
func New(rejectThreshold, pauseThreshold, admitBaseline float64, policy RateAdjuster, logger zerolog.Logger) *Sampler {
	s := &Sampler{
		rejectThreshold: rejectThreshold,
		pauseThreshold:  pauseThreshold,
		admitBaseline:   admitBaseline,
		policy:          policy,
		logger:          logger,
	}
	s.cpuPercent.Store(float64(0))
	return s
}

// Update takes one CPU/memory sample and applies it: Prometheus gauges are
// refreshed, and — if usage is between rejectThreshold and 100% — the
// capacity policy's admission rate is scaled down proportionally to the
// remaining headroom; it is set to zero at 100% or above and restored to
// admitBaseline at or below rejectThreshold. A 100ms CPU
// sample window is long enough to be meaningful and short enough not to
// stall a periodic caller, the same tradeoff the teacher's ResourceGuard
// makes over a blocking 1s sample.
func (s *Sampler) Update() {
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		s.cpuPercent.Store(pct[0])
		metrics.CPUUsagePercent.Set(pct[0])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.memBytes.Store(int64(mem.Alloc))
	metrics.MemoryUsageBytes.Set(float64(mem.Alloc))

	s.applyRateAdjustment()
}

// applyRateAdjustment pushes the current CPU sample into the capacity
// policy's admission rate. Split out from Update so tests can drive it
// from a synthetic CPU reading instead of the real sampler.
func (s *Sampler) applyRateAdjustment() {
	if s.policy == nil {
		return
	}
	cur := s.CPUPercent()
	switch {
	case cur <= s.rejectThreshold:
		s.policy.SetRate(s.admitBaseline)
	case cur >= 100:
		s.policy.SetRate(0)
	default:
		headroom := (100 - cur) / (100 - s.rejectThreshold)
		s.policy.SetRate(s.admitBaseline * headroom)
	}
}

// CPUPercent reports the most recently sampled CPU usage percentage.
func (s *Sampler) CPUPercent() float64 {
	v, _ := s.cpuPercent.Load().(float64)
	return v
}

// MemoryBytes reports the most recently sampled process heap allocation.
func (s *Sampler) MemoryBytes() int64 {
	return s.memBytes.Load()
}

// ShouldReject reports whether a publisher should be told CAPACITY_EXCEEDED
// right now, and a human-readable reason.
func (s *Sampler) ShouldReject() (bool, string) {
	if cur := s.CPUPercent(); cur > s.rejectThreshold {
		return true, "cpu over reject threshold"
	}
	return false, "ok"
}

// ShouldPause reports whether background consumption (e.g. a bridge
// adapter's ingest loop) should pause until the next sample.
func (s *Sampler) ShouldPause() bool {
	return s.CPUPercent() > s.pauseThreshold
}

// Run samples on every tick until ctx is cancelled. It is meant to run in
// its own goroutine for the lifetime of the process.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Update()
		case <-ctx.Done():
			s.logger.Info().Msg("resource sampler stopped")
			return
		}
	}
}
