package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// Capacity is the capacity-aware policy: assignment picks the worker with
// the lowest projected load (weight + ewma*queue_len); local ordering is
// priority-major, FIFO-minor; stealing is allowed from overloaded workers.
// A token-bucket limiter caps how fast new coroutines may be admitted at
// all, independent of per-worker placement, giving the scheduler a
// backpressure knob under sustained overload (internal/health samples
// system load and adjusts the limiter's rate).
type Capacity struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewCapacity builds a Capacity policy whose admission limiter starts at
// admitPerSecond tokens/sec with a burst of int(admitPerSecond)+1.
func NewCapacity(admitPerSecond float64) *Capacity {
	return &Capacity{limiter: rate.NewLimiter(rate.Limit(admitPerSecond), int(admitPerSecond)+1)}
}

func (p *Capacity) Name() string { return "capacity" }

// SetRate lets internal/health throttle admission down under resource
// pressure and back up once it recovers.
func (p *Capacity) SetRate(perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter.SetLimit(rate.Limit(perSecond))
}

// Allow reports whether a new coroutine may be admitted right now. The
// scheduler calls this from Submit before ever assigning a worker.
func (p *Capacity) Allow() bool {
	return p.limiter.Allow()
}

func (p *Capacity) AssignWorker(s *Scheduler, j *job) int {
	best := 0
	bestLoad := projectedLoad(s.workers[0], j.co.Weight)
	for i := 1; i < len(s.workers); i++ {
		l := projectedLoad(s.workers[i], j.co.Weight)
		if l < bestLoad {
			bestLoad = l
			best = i
		}
	}
	return best
}

func projectedLoad(w *Worker, weight float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return weight + w.ewma*float64(len(w.queue))
}

func (p *Capacity) Less(a, b *job) bool {
	if a.co.Priority != b.co.Priority {
		return a.co.Priority > b.co.Priority // priority-major, higher first
	}
	return a.readySince.Before(b.readySince) // FIFO-minor
}

func (p *Capacity) CanSteal() bool { return true }

func (p *Capacity) CanStealFrom(victimQueueLen int) bool {
	return victimQueueLen > 0
}
