// Package scheduler implements the cooperative coroutine processor: a
// fixed pool of OS-thread-locked workers, a pluggable placement/ordering Policy
// (classic, choreography, capacity-aware), and the notify/sleep wakeup
// machinery that moves a coroutine back to READY.
package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaybus/rtbus/internal/coroutine"
	"github.com/relaybus/rtbus/internal/metrics"
)

// ErrAdmissionThrottled is returned by Submit when the capacity-aware
// policy's admission limiter has no tokens left.
var ErrAdmissionThrottled = errors.New("rtbus: scheduler admission throttled")

// ErrSchedulerStopped is returned by Submit after Shutdown. Notify and Stop
// return no value; they do nothing for an id the scheduler no longer tracks.
var ErrSchedulerStopped = errors.New("rtbus: scheduler stopped")

// Scheduler owns the worker pool and dispatches coroutines onto it
// according to Policy.
type Scheduler struct {
	policy  Policy
	workers []*Worker

	globalMu    sync.Mutex
	globalQueue []*job

	byIDMu sync.Mutex
	byID   map[uint64]*job

	parkedMu     sync.Mutex
	parkedSleep  map[uint64]*job
	sweepStop    chan struct{}
	sweepOnce    sync.Once
	sweepPeriod  time.Duration

	wg       sync.WaitGroup
	draining atomic.Bool // set first: rejects new Submits during Shutdown's force-wake pass
	stopping atomic.Bool // set after the force-wake pass: tells idle workers to exit
}

// New builds a Scheduler with numWorkers workers running policy. Workers
// start immediately; Shutdown stops and joins them.
func New(numWorkers int, policy Policy) *Scheduler {
	s := &Scheduler{
		policy:      policy,
		byID:        make(map[uint64]*job),
		parkedSleep: make(map[uint64]*job),
		sweepStop:   make(chan struct{}),
		sweepPeriod: time.Millisecond,
	}
	s.workers = make([]*Worker, numWorkers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	s.wg.Add(numWorkers)
	for _, w := range s.workers {
		go w.run()
	}
	go s.sweepSleepers()
	return s
}

// Submit registers co with the scheduler and places it on the worker its
// policy assigns. co.Start is called here; the caller must not have
// started it already.
func (s *Scheduler) Submit(co *coroutine.Coroutine) error {
	if s.draining.Load() {
		metrics.SchedulerDropped.WithLabelValues(s.policy.Name()).Inc()
		return ErrSchedulerStopped
	}
	if cp, ok := s.policy.(*Capacity); ok && !cp.Allow() {
		metrics.SchedulerDropped.WithLabelValues(s.policy.Name()).Inc()
		return ErrAdmissionThrottled
	}

	j := newJob(co, 0)
	w := s.policy.AssignWorker(s, j)
	j.worker = w

	s.byIDMu.Lock()
	s.byID[co.ID] = j
	s.byIDMu.Unlock()

	co.Start()
	s.workers[w].enqueue(j)
	return nil
}

// Migrate moves a coroutine off its current worker's local queue and onto
// the shared global queue, where any idle worker may claim it next. This
// is the path spec.md's "global runqueue holds newly-created or migrated
// coroutines" describes for rebalancing; ordinary Submit placement goes
// straight to the assigned worker's local queue, so the global queue is
// exercised only by migration. Migrate reports false if the coroutine is
// unknown or not currently waiting in its worker's local queue.
func (s *Scheduler) Migrate(id uint64) bool {
	s.byIDMu.Lock()
	j, ok := s.byID[id]
	s.byIDMu.Unlock()
	if !ok {
		return false
	}
	w := s.workers[j.worker]
	w.mu.Lock()
	queued := false
	for i, q := range w.queue {
		if q == j {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			queued = true
			break
		}
	}
	w.mu.Unlock()
	if !queued {
		return false
	}
	s.globalMu.Lock()
	s.globalQueue = append(s.globalQueue, j)
	s.globalMu.Unlock()
	for _, w := range s.workers {
		w.cond.Signal()
	}
	return true
}

// Notify transitions coroutine id from DATA_WAIT or SLEEP to READY and
// places it back on its assigned worker's queue, unparking that worker if
// it was idle. It is idempotent on an already-READY (or RUNNING, or
// FINISHED) coroutine.
func (s *Scheduler) Notify(id uint64) {
	s.byIDMu.Lock()
	j, ok := s.byID[id]
	s.byIDMu.Unlock()
	if !ok {
		return
	}
	if !j.co.TransitionToReady() {
		return
	}
	s.parkedMu.Lock()
	delete(s.parkedSleep, id)
	s.parkedMu.Unlock()

	s.workers[j.worker].enqueue(j)
}

// Stop requests cooperative cancellation of coroutine id. If it is
// currently parked (DATA_WAIT/SLEEP), it is forced back to READY so its
// worker resumes it once more, observes the stop flag and lets the body
// return — otherwise a cancelled coroutine waiting on data that never
// arrives would never be joined at Shutdown.
func (s *Scheduler) Stop(id uint64) {
	s.byIDMu.Lock()
	j, ok := s.byID[id]
	s.byIDMu.Unlock()
	if !ok {
		return
	}
	j.co.Stop()
	if j.co.TransitionToReady() {
		s.parkedMu.Lock()
		delete(s.parkedSleep, id)
		s.parkedMu.Unlock()
		s.workers[j.worker].enqueue(j)
	}
}

// park records j as suspended in DATA_WAIT or SLEEP. SLEEP jobs are
// additionally tracked for the wakeup sweep; DATA_WAIT jobs wait purely
// for an explicit Notify.
func (s *Scheduler) park(j *job, state coroutine.State) {
	if state == coroutine.Sleep {
		s.parkedMu.Lock()
		s.parkedSleep[j.co.ID] = j
		s.parkedMu.Unlock()
	}
}

// forget drops a finished coroutine's bookkeeping.
func (s *Scheduler) forget(id uint64) {
	s.byIDMu.Lock()
	delete(s.byID, id)
	s.byIDMu.Unlock()
	s.parkedMu.Lock()
	delete(s.parkedSleep, id)
	s.parkedMu.Unlock()
}

func (s *Scheduler) popGlobal() *job {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if len(s.globalQueue) == 0 {
		return nil
	}
	j := s.globalQueue[0]
	s.globalQueue = s.globalQueue[1:]
	return j
}

func (s *Scheduler) stealFor(thief *Worker) *job {
	for _, w := range s.workers {
		if w == thief {
			continue
		}
		if j := w.stealOne(); j != nil {
			metrics.SchedulerStolen.WithLabelValues(s.policy.Name()).Inc()
			return j
		}
	}
	return nil
}

// sweepSleepers periodically promotes SLEEP jobs whose wake time has
// elapsed back to READY. A real timer-wheel would scale to far more
// concurrently-sleeping coroutines than this middleware expects to ever
// have live at once; a short-interval scan keeps the implementation
// simple, at the cost of a wake latency of up to one sweep period (1ms by
// default) past the requested wake time.
func (s *Scheduler) sweepSleepers() {
	ticker := time.NewTicker(s.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			s.parkedMu.Lock()
			var due []*job
			for id, j := range s.parkedSleep {
				if !now.Before(j.co.WakeAt()) {
					due = append(due, j)
					delete(s.parkedSleep, id)
				}
			}
			s.parkedMu.Unlock()

			for _, j := range due {
				if j.co.TransitionToReady() {
					s.workers[j.worker].enqueue(j)
				}
			}
		}
	}
}

// Shutdown stops accepting new coroutines, force-wakes every still-live
// coroutine (including ones parked on data or sleep) so its worker can
// resume it once and observe the stop flag, then joins every worker.
func (s *Scheduler) Shutdown() {
	if !s.draining.CompareAndSwap(false, true) {
		return // already shut down
	}
	s.sweepOnce.Do(func() { close(s.sweepStop) })

	s.byIDMu.Lock()
	all := make([]*job, 0, len(s.byID))
	for _, j := range s.byID {
		all = append(all, j)
	}
	s.byIDMu.Unlock()

	for _, j := range all {
		j.co.Stop()
		if j.co.TransitionToReady() {
			s.workers[j.worker].enqueue(j)
		}
	}

	// Only now may a worker's next() treat an empty queue as "nothing ever
	// coming": every job live at the start of Shutdown has already been
	// force-woken and enqueued above, so no worker can race past its
	// stopping-check before the job meant for it arrives.
	s.stopping.Store(true)
	for _, w := range s.workers {
		w.cond.Broadcast()
	}
	s.wg.Wait()
}
