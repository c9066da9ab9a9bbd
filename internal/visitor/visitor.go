// Package visitor implements the Data Visitor: an N-way (1-4) fan-in of
// bounded per-channel queues, with optional cross-channel timestamp
// alignment, feeding a scheduler coroutine's try_fetch loop.
package visitor

import (
	"sync"
	"time"

	"github.com/relaybus/rtbus/internal/metrics"
)

// Ref is anything a Visitor can queue: internal/transport.Message[T]
// implements it for whatever T a channel carries, which is what lets a
// single Visitor fan in channels of different message types.
type Ref interface {
	SeqVal() uint64
	TimestampNanoVal() int64
}

// AlignMode controls cross-channel timestamp alignment in TryFetch.
type AlignMode int

const (
	// AlignOff returns whatever the oldest head of each queue is, with no
	// cross-channel comparison. This is the default.
	AlignOff AlignMode = iota

	// AlignDropStale discards queue heads older than the newest head
	// across all queues by more than MaxSkew before evaluating
	// completeness.
	AlignDropStale

	// AlignWait behaves like AlignDropStale but returns false instead of
	// dropping when a head is outside the skew window, waiting for a
	// fresher offer to arrive instead of discarding data.
	AlignWait
)

// Visitor is the N-way fan-in. The zero value is not usable; construct
// with New.
type Visitor struct {
	mu         sync.Mutex
	name       string
	queues     [][]Ref
	capacities []int
	align      AlignMode
	maxSkew    time.Duration
	onComplete func()
	closed     bool
}

// New builds a Visitor with n (1-4) input queues, each bounded to the
// matching entry of capacities. onComplete is invoked exactly once per
// transition into "every queue non-empty", never while Offer's caller
// holds any lock the callback might need — see Offer.
func New(name string, capacities []int, align AlignMode, maxSkew time.Duration, onComplete func()) *Visitor {
	n := len(capacities)
	if n < 1 || n > 4 {
		panic("visitor: n must be in 1..4")
	}
	return &Visitor{
		name:       name,
		queues:     make([][]Ref, n),
		capacities: capacities,
		align:      align,
		maxSkew:    maxSkew,
		onComplete: onComplete,
	}
}

// Offer pushes ref onto queue channelIndex, dropping the oldest entry if
// the queue is already at capacity. If this push transitions every queue
// from "at least one empty" to "all non-empty", onComplete fires exactly
// once, after the lock is released.
func (v *Visitor) Offer(channelIndex int, ref Ref) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}

	wasComplete := v.allNonEmptyLocked()

	q := v.queues[channelIndex]
	if len(q) >= v.capacities[channelIndex] {
		q = q[1:]
		metrics.VisitorDropped.WithLabelValues(v.name, indexLabel(channelIndex)).Inc()
	}
	v.queues[channelIndex] = append(q, ref)
	metrics.VisitorOffered.WithLabelValues(v.name, indexLabel(channelIndex)).Inc()

	nowComplete := v.allNonEmptyLocked()
	fire := !wasComplete && nowComplete
	v.mu.Unlock()

	if fire {
		metrics.VisitorComplete.WithLabelValues(v.name).Inc()
		if v.onComplete != nil {
			v.onComplete()
		}
	}
}

// TryFetch pops the oldest entry from every queue into a single tuple, iff
// every queue is currently non-empty (and, under AlignWait, within the
// configured skew of each other). It returns false otherwise, leaving the
// queues untouched except that under AlignDropStale the stale heads have
// already been discarded.
func (v *Visitor) TryFetch() ([]Ref, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.align == AlignDropStale {
		v.dropStaleLocked()
	}
	if !v.allNonEmptyLocked() {
		return nil, false
	}
	if v.align == AlignWait && !v.withinSkewLocked() {
		return nil, false
	}

	out := make([]Ref, len(v.queues))
	for i, q := range v.queues {
		out[i] = q[0]
		v.queues[i] = q[1:]
	}
	return out, true
}

// Close drains every queue and rejects further offers.
func (v *Visitor) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for i := range v.queues {
		v.queues[i] = nil
	}
}

func (v *Visitor) allNonEmptyLocked() bool {
	for _, q := range v.queues {
		if len(q) == 0 {
			return false
		}
	}
	return true
}

// dropStaleLocked discards heads older than the newest head by more than
// maxSkew, repeating per queue until every remaining head is within the
// window or its queue runs dry.
func (v *Visitor) dropStaleLocked() {
	for {
		newest, ok := v.newestHeadLocked()
		if !ok {
			return
		}
		dropped := false
		for i, q := range v.queues {
			if len(q) == 0 {
				continue
			}
			age := time.Duration(newest - q[0].TimestampNanoVal())
			if age > v.maxSkew {
				v.queues[i] = q[1:]
				dropped = true
			}
		}
		if !dropped {
			return
		}
	}
}

func (v *Visitor) withinSkewLocked() bool {
	newest, ok := v.newestHeadLocked()
	if !ok {
		return false
	}
	for _, q := range v.queues {
		age := time.Duration(newest - q[0].TimestampNanoVal())
		if age > v.maxSkew {
			return false
		}
	}
	return true
}

func (v *Visitor) newestHeadLocked() (int64, bool) {
	var newest int64
	found := false
	for _, q := range v.queues {
		if len(q) == 0 {
			continue
		}
		ts := q[0].TimestampNanoVal()
		if !found || ts > newest {
			newest = ts
			found = true
		}
	}
	return newest, found
}

func indexLabel(i int) string {
	return [...]string{"0", "1", "2", "3"}[i]
}
