package scheduler

import (
	"runtime"
	"sort"
	"strconv"
	"time"

	"sync"

	"github.com/relaybus/rtbus/internal/coroutine"
	"github.com/relaybus/rtbus/internal/metrics"
)

// Worker owns one local runqueue and one dedicated goroutine, locked to its
// OS thread with runtime.LockOSThread. Exactly one coroutine body runs on a
// Worker at a time. The lock applies to the worker goroutine only: each
// coroutine body runs on its own, unlocked goroutine, and no CPU affinity
// is set for either.
type Worker struct {
	id    int
	sched *Scheduler

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*job
	ewma  float64 // seconds, capacity-aware policy only
}

func newWorker(id int, s *Scheduler) *Worker {
	w := &Worker{id: id, sched: s}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Worker) label() string { return strconv.Itoa(w.id) }

// enqueue adds j to this worker's local queue and wakes it if parked.
func (w *Worker) enqueue(j *job) {
	w.mu.Lock()
	j.worker = w.id
	j.readySince = time.Now()
	w.queue = append(w.queue, j)
	metrics.SchedulerQueueDepth.WithLabelValues(w.label()).Set(float64(len(w.queue)))
	w.mu.Unlock()
	w.cond.Signal()
}

// queueLen reports the current local queue depth.
func (w *Worker) queueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// popBest removes and returns the best job per the policy's Less
// ordering, or nil if the queue is empty. Caller must not hold w.mu.
func (w *Worker) popBest() *job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	policy := w.sched.policy
	sort.SliceStable(w.queue, func(i, k int) bool { return policy.Less(w.queue[i], w.queue[k]) })
	j := w.queue[0]
	w.queue = w.queue[1:]
	metrics.SchedulerQueueDepth.WithLabelValues(w.label()).Set(float64(len(w.queue)))
	return j
}

// stealOne removes and returns the job at the head of this worker's queue
// for another worker to run, or nil if the policy forbids it right now.
func (w *Worker) stealOne() *job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.sched.policy.CanStealFrom(len(w.queue)) || len(w.queue) == 0 {
		return nil
	}
	j := w.queue[0]
	w.queue = w.queue[1:]
	metrics.SchedulerQueueDepth.WithLabelValues(w.label()).Set(float64(len(w.queue)))
	return j
}

// run is the worker's dedicated goroutine body.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.sched.wg.Done()

	for {
		j := w.next()
		if j == nil {
			return // Shutdown requested and queue drained
		}

		if j.co.Stopped() {
			// Still must Resume once so the backing goroutine observes the
			// stop flag and exits rather than leaking, blocked forever on
			// its first <-resume.
			j.co.Resume()
			w.sched.forget(j.co.ID)
			continue
		}

		start := time.Now()
		state := j.co.Resume()
		elapsed := time.Since(start)
		w.recordService(elapsed)
		metrics.WorkerServiceSeconds.WithLabelValues(w.label()).Observe(elapsed.Seconds())

		switch state {
		case coroutine.Ready:
			w.enqueue(j)
		case coroutine.DataWait, coroutine.Sleep:
			w.sched.park(j, state)
		case coroutine.Finished:
			w.sched.forget(j.co.ID)
		default:
			// IOWait is not driven by this scheduler; treat as DataWait
			// (parked until an explicit Notify) rather than silently
			// dropping the coroutine.
			w.sched.park(j, coroutine.DataWait)
		}
	}
}

func (w *Worker) recordService(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	const alpha = 0.2
	s := d.Seconds()
	if w.ewma == 0 {
		w.ewma = s
		return
	}
	w.ewma = alpha*s + (1-alpha)*w.ewma
}

// next blocks until a job is available, a steal succeeds, or shutdown is
// requested (returning nil). It checks, in order: local queue, the global
// queue (always drainable, any policy), then — if the policy allows
// stealing — every other worker's local queue.
func (w *Worker) next() *job {
	for {
		if j := w.popBest(); j != nil {
			return j
		}
		if j := w.sched.popGlobal(); j != nil {
			j.worker = w.id
			return j
		}
		if w.sched.policy.CanSteal() {
			if j := w.sched.stealFor(w); j != nil {
				j.worker = w.id
				return j
			}
		}

		w.mu.Lock()
		if w.sched.stopping.Load() && len(w.queue) == 0 {
			w.mu.Unlock()
			return nil
		}
		w.cond.Wait()
		w.mu.Unlock()
	}
}
