package scheduler

import (
	"sync/atomic"
	"time"
)

// Classic assigns a fixed worker affinity round-robin at creation, orders
// each worker's local queue FIFO, and prevents starvation by letting the
// scheduler bump a job that's been READY longer than StarvationNS to the
// queue head (see Worker.next).
type Classic struct {
	StarvationNS int64
	next         atomic.Uint64 // round-robin cursor; Submit has no single-goroutine guarantee
}

func NewClassic(starvation time.Duration) *Classic {
	return &Classic{StarvationNS: int64(starvation)}
}

func (p *Classic) Name() string { return "classic" }

func (p *Classic) AssignWorker(s *Scheduler, j *job) int {
	n := p.next.Add(1) - 1
	return int(n % uint64(len(s.workers)))
}

func (p *Classic) Less(a, b *job) bool {
	aAged := time.Since(a.readySince).Nanoseconds() > p.StarvationNS
	bAged := time.Since(b.readySince).Nanoseconds() > p.StarvationNS
	if aAged != bAged {
		return aAged // an aged job jumps to the head ahead of a non-aged one
	}
	return a.readySince.Before(b.readySince) // FIFO otherwise
}

func (p *Classic) CanSteal() bool { return false }

func (p *Classic) CanStealFrom(int) bool { return false }
