// Package coroutine maps spec.md's stackful-coroutine abstraction onto Go:
// each Coroutine owns one dedicated goroutine, gated by a pair of
// unbuffered channels so that exactly one coroutine body runs at a time
// per owning Worker, with no OS-thread-per-coroutine and no busy polling.
// A Go goroutine already is a stackful, independently-scheduled execution
// context with its own growable stack — the runtime's own green-thread
// primitive — so it serves directly as the "context" spec.md asks for,
// rather than requiring a ucontext/assembly shim.
package coroutine

import (
	"sync"
	"sync/atomic"
	"time"
)

// State mirrors spec.md's coroutine state machine.
type State int

const (
	Ready State = iota
	Running
	IOWait
	DataWait
	Sleep
	Finished
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case IOWait:
		return "IO_WAIT"
	case DataWait:
		return "DATA_WAIT"
	case Sleep:
		return "SLEEP"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Yield is the handle a coroutine body uses to suspend itself. It is only
// valid to call from within the body's own goroutine.
type Yield interface {
	// Yield suspends the coroutine, reporting next as its new state, and
	// blocks until the owning Worker resumes it. It returns true if the
	// coroutine should continue running, false if Stop was called while
	// it was suspended (the body must return promptly in that case).
	Yield(next State) (resume bool)

	// Sleep suspends until at least d has elapsed.
	Sleep(d time.Duration) (resume bool)

	// Stopped reports whether Stop has been requested, for bodies that
	// poll it between yields instead of checking Yield's return value.
	Stopped() bool
}

// Body is the function a Coroutine runs. It receives a Yield handle and
// must call Yield/Sleep at its own suspension points; the scheduler never
// preempts it.
type Body func(Yield)

// Coroutine is one schedulable unit of work.
type Coroutine struct {
	ID       uint64
	GroupID  uint64 // choreography policy pinning; 0 means ungrouped
	Weight   float64
	Priority int

	state   atomic.Int32 // State, accessed by whichever side currently owns it
	stopped atomic.Bool

	resume  chan struct{} // sent only by the owning Worker
	yielded chan State    // sent only by the coroutine's own goroutine

	wakeAt   atomic.Int64 // unix nanos; valid while state == Sleep
	doneOnce sync.Once
	done     chan struct{}

	body Body
}

// New constructs a Coroutine in state Ready. It does not start the
// backing goroutine; Start does.
func New(id uint64, body Body) *Coroutine {
	c := &Coroutine{
		ID:      id,
		resume:  make(chan struct{}),
		yielded: make(chan State),
		done:    make(chan struct{}),
		body:    body,
	}
	c.state.Store(int32(Ready))
	return c
}

// Start launches the backing goroutine. The goroutine blocks immediately
// waiting for the first Resume; it performs no work until a Worker calls
// Resume. Start must be called exactly once.
func (c *Coroutine) Start() {
	go func() {
		defer c.doneOnce.Do(func() { close(c.done) })
		<-c.resume
		if c.stopped.Load() {
			c.state.Store(int32(Finished))
			c.yielded <- Finished
			return
		}
		c.state.Store(int32(Running))
		c.body(c)
		c.state.Store(int32(Finished))
		c.yielded <- Finished
	}()
}

// Resume hands control to the coroutine body and blocks until it
// suspends again (Yield, Sleep, or returns). Only the owning Worker calls
// this, and only when the coroutine is Ready.
func (c *Coroutine) Resume() State {
	c.state.Store(int32(Running))
	c.resume <- struct{}{}
	return <-c.yielded
}

// Yield implements Yield.Yield for the body's own goroutine.
func (c *Coroutine) Yield(next State) bool {
	c.state.Store(int32(next))
	c.yielded <- next
	<-c.resume
	return !c.stopped.Load()
}

// Sleep implements Yield.Sleep.
func (c *Coroutine) Sleep(d time.Duration) bool {
	c.wakeAt.Store(time.Now().Add(d).UnixNano())
	return c.Yield(Sleep)
}

// Stopped implements Yield.Stopped.
func (c *Coroutine) Stopped() bool {
	return c.stopped.Load()
}

// TransitionToReady moves the coroutine from DataWait or Sleep to Ready. It
// is the only way an external caller (the scheduler) may mutate state while
// the coroutine is not Running, and reports false — a no-op — if the
// coroutine is already Ready, currently Running, or Finished.
func (c *Coroutine) TransitionToReady() bool {
	for {
		cur := State(c.state.Load())
		if cur != DataWait && cur != Sleep {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(Ready)) {
			return true
		}
	}
}

// State reports the coroutine's current state. Safe from any goroutine;
// while Running, only the owning worker's view of it (via Resume's return
// value) is authoritative for scheduling decisions.
func (c *Coroutine) State() State {
	return State(c.state.Load())
}

// WakeAt reports the absolute time a Sleep-ing coroutine becomes eligible
// for Ready again. Only meaningful while State() == Sleep.
func (c *Coroutine) WakeAt() time.Time {
	return time.Unix(0, c.wakeAt.Load())
}

// Stop requests cooperative cancellation. If the coroutine has not been
// resumed yet, its body never runs. If it is suspended (DataWait/Sleep/
// Ready), the next Resume makes the pending Yield/Sleep return false; if
// Running, the body observes it on its next Yield/Sleep call. Either way
// the body must then return.
func (c *Coroutine) Stop() {
	c.stopped.Store(true)
}

// Done returns a channel closed once the backing goroutine has returned
// (state Finished), for callers that need to wait out a coroutine's exit
// during shutdown.
func (c *Coroutine) Done() <-chan struct{} {
	return c.done
}
