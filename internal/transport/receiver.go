package transport

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/relaybus/rtbus/internal/bus"
	"github.com/relaybus/rtbus/internal/codec"
	"github.com/relaybus/rtbus/internal/metrics"
	"github.com/relaybus/rtbus/internal/replay"
	"github.com/relaybus/rtbus/internal/shm"
	"github.com/relaybus/rtbus/internal/visitor"
)

// crossProcessPollInterval is how often a Receiver attached in
// shm.ModeSharedMemory polls the segment's sequence counter for publishes
// made by a writer in another process. Registry.Fanout only ever reaches
// receivers registered in the publishing process's own Registry, so this
// poll is the only wakeup a cross-process subscriber gets; it trades a
// bounded delivery latency (at most one interval) for not needing a
// kernel wakeup primitive (futex/eventfd) this package doesn't otherwise
// depend on.
const crossProcessPollInterval = 2 * time.Millisecond

// Receiver is the subscribe side of a channel. It registers itself as a
// bus.Notifiable at construction, and on every notification acquires the
// named block, decodes the payload and offers the resulting Message into
// its owning Data Visitor at channelIndex. In shm.ModeSharedMemory it also
// runs a background poll of the segment's sequence counter, since a writer
// in a different process has no way to reach into this process's Registry
// to call Notify directly.
type Receiver[T any] struct {
	channel      bus.Channel
	roleID       uint64
	channelIndex int
	desc         codec.TypeDescriptor[T]
	seg          *shm.Segment
	registry     *bus.Registry
	qos          QoS
	sink         *visitor.Visitor
	replay       *replay.Buffer[T] // optional; nil unless WithReplay was used

	lastSeen atomic.Uint64 // highest seq delivered or skipped so far

	pollStop chan struct{} // non-nil only in shm.ModeSharedMemory
	pollDone chan struct{}
}

// NewReceiver attaches the channel's segment and registers for
// notifications. channelIndex is this receiver's slot in sink's N-way
// fan-in.
func NewReceiver[T any](channel bus.Channel, desc codec.TypeDescriptor[T], registry *bus.Registry, qos QoS, mode shm.Mode, sink *visitor.Visitor, channelIndex int) (*Receiver[T], error) {
	geometry := shm.Geometry{
		CeilingMsgSize: uint32(desc.MaxSize()),
		BlockNum:       uint32(max(qos.HistoryDepth, 4)),
	}
	seg, err := shm.OpenOrCreate(channel.ID, geometry, mode)
	if err != nil {
		return nil, bus.ErrSegmentUnavailable
	}
	seg.ReclaimStaleWriters()

	r := &Receiver[T]{
		channel:      channel,
		channelIndex: channelIndex,
		desc:         desc,
		seg:          seg,
		registry:     registry,
		qos:          qos,
		sink:         sink,
	}
	// A publish already committed before this attach is not ours to
	// deliver (spec.md's cross-process-open scenario: a late attacher
	// observes only what's published afterward), so the low-water mark
	// starts at whatever the segment has already seen rather than at 0.
	r.lastSeen.Store(seg.ObservedSeq())
	r.roleID = newRoleID()
	registry.RegisterReceiver(channel.ID, r.roleID, r)

	if mode == shm.ModeSharedMemory {
		r.pollStop = make(chan struct{})
		r.pollDone = make(chan struct{})
		go r.pollCrossProcess()
	}
	return r, nil
}

// pollCrossProcess periodically checks the segment's sequence counter for
// publishes this Receiver's own process-local Registry was never told
// about, because they came from a Writer attached in a different process.
func (r *Receiver[T]) pollCrossProcess() {
	defer close(r.pollDone)
	ticker := time.NewTicker(crossProcessPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.pollStop:
			return
		case <-ticker.C:
			r.pump(r.seg.ObservedSeq())
		}
	}
}

// WithReplay attaches a bounded replay log of the last maxHistory messages
// this receiver has observed, recoverable later via Replay. It is purely
// additive; the log is installed with a plain field write that is not
// synchronized with a delivery running at the same time.
func (r *Receiver[T]) WithReplay(maxHistory int) *Receiver[T] {
	r.replay = replay.New[T](maxHistory)
	return r
}

// Replay returns every message this receiver has observed since sinceSeq,
// drawn from its replay log. It reports an empty slice if WithReplay was
// never called or the gap has already been evicted from the log.
func (r *Receiver[T]) Replay(sinceSeq uint64) []replay.Entry[T] {
	if r.replay == nil {
		return nil
	}
	return r.replay.GetSince(sinceSeq)
}

// Notify implements bus.Notifiable. It is called synchronously from
// Registry.Fanout outside of the registry's lock, so it may safely block
// briefly (ReliableLocal spinning) or recurse into registry operations.
// It only ever fires for a same-process Writer; a cross-process one is
// caught by pollCrossProcess instead. Both paths fall through to pump, so
// whichever one observes the higher sequence number first is the one that
// walks the gap forward.
func (r *Receiver[T]) Notify(seq uint64) {
	r.pump(seq)
}

// pump delivers every sequence between lastSeen and latest, in order,
// claiming each one with a CAS on lastSeen before delivering it so that
// Notify (same-process fanout) and pollCrossProcess (cross-process poll)
// can both observe the same latest value without double-delivering a
// sequence number or losing one to a lost CAS race between them.
func (r *Receiver[T]) pump(latest uint64) {
	for {
		last := r.lastSeen.Load()
		if latest <= last {
			return
		}
		next := last + 1
		if !r.lastSeen.CompareAndSwap(last, next) {
			continue
		}
		r.deliver(next)
	}
}

// deliver acquires the block holding seq, decodes it and offers it to the
// owning Data Visitor. A seq whose block has already been overwritten by
// the time it's claimed (a slow subscriber on a deep backlog) is counted
// as lost rather than retried, same as any other stale-reference miss.
func (r *Receiver[T]) deliver(seq uint64) {
	blockNum := uint64(r.seg.BlockNum())
	idx := int((seq - 1) % blockNum) // seq is 1-based; slot 0 holds seq 1
	block := r.seg.Block(idx)

	spin := 0
	if r.qos.Reliability == ReliableLocal {
		spin = r.qos.SpinBudget
	}
	if !block.TryAcquireReader(seq, spin) {
		metrics.ReceiverLost.WithLabelValues(r.channel.Name, "stale_reference").Inc()
		return
	}
	defer block.ReleaseReader()

	length := block.Length.Load()
	payload := r.seg.BufferAt(idx)[:length]
	value, err := r.desc.Deserialize(bytes.NewReader(payload))
	if err != nil {
		metrics.ReceiverLost.WithLabelValues(r.channel.Name, "deserialize_failed").Inc()
		return
	}

	metrics.ReceiverNotified.WithLabelValues(r.channel.Name).Inc()
	ts := block.WriteTSNano.Load()
	if r.replay != nil {
		r.replay.Add(replay.Entry[T]{Seq: seq, TimestampNano: ts, Value: value})
	}
	r.sink.Offer(r.channelIndex, Message[T]{
		Seq:           seq,
		TimestampNano: ts,
		Value:         value,
	})
}

// Close stops the cross-process poll (if running), unregisters the
// receiver and releases its segment handle.
func (r *Receiver[T]) Close() error {
	if r.pollStop != nil {
		close(r.pollStop)
		<-r.pollDone
	}
	r.registry.Unregister(r.channel.ID, r.roleID)
	return r.seg.Close()
}
