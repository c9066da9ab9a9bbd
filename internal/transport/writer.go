package transport

import (
	"bytes"
	"sync"

	"github.com/relaybus/rtbus/internal/bus"
	"github.com/relaybus/rtbus/internal/codec"
	"github.com/relaybus/rtbus/internal/metrics"
	"github.com/relaybus/rtbus/internal/shm"
)

// Writer is the publish side of a channel. Publish never blocks on slow
// readers: a full ring means the oldest unread data is about to be
// overwritten, not that the writer waits for room.
type Writer[T any] struct {
	channel  bus.Channel
	roleID   uint64
	desc     codec.TypeDescriptor[T]
	seg      *shm.Segment
	registry *bus.Registry

	mu       sync.Mutex
	lastSlot int
	staging  bytes.Buffer
}

// NewWriter opens (or attaches) the channel's segment and registers this
// writer in the process-wide registry so Receivers constructed afterward
// can discover it.
func NewWriter[T any](channel bus.Channel, desc codec.TypeDescriptor[T], registry *bus.Registry, qos QoS, mode shm.Mode) (*Writer[T], error) {
	geometry := shm.Geometry{
		CeilingMsgSize: uint32(desc.MaxSize()),
		BlockNum:       uint32(max(qos.HistoryDepth, 4)),
	}
	seg, err := shm.OpenOrCreate(channel.ID, geometry, mode)
	if err != nil {
		return nil, bus.ErrSegmentUnavailable
	}
	seg.ReclaimStaleWriters()

	roleID := newRoleID()
	registry.RegisterWriter(channel.ID, roleID)

	return &Writer[T]{
		channel:  channel,
		roleID:   roleID,
		desc:     desc,
		seg:      seg,
		registry: registry,
		lastSlot: -1,
	}, nil
}

// Publish serializes msg, reserves a ring slot, copies the payload in and
// fans out the new sequence id to local receivers. It returns the assigned
// sequence id on success.
func (w *Writer[T]) Publish(msg T) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.staging.Reset()
	n, err := w.desc.Serialize(&w.staging, msg)
	if err != nil {
		metrics.ChannelErrors.WithLabelValues(w.channel.Name, "serialization_failed").Inc()
		return 0, bus.ErrSerializationFailed
	}
	if n > int(w.seg.CeilingMsgSize()) {
		metrics.ChannelErrors.WithLabelValues(w.channel.Name, "capacity_exceeded").Inc()
		return 0, bus.ErrCapacityExceeded
	}

	blockNum := w.seg.BlockNum()
	start := (w.lastSlot + 1) % blockNum
	slot := -1
	for i := 0; i < blockNum; i++ {
		idx := (start + i) % blockNum
		if w.seg.Block(idx).TryReserve() {
			slot = idx
			break
		}
	}
	if slot == -1 {
		metrics.ChannelErrors.WithLabelValues(w.channel.Name, "no_free_slot").Inc()
		return 0, bus.ErrNoFreeSlot
	}
	w.lastSlot = slot

	buf := w.seg.BufferAt(slot)
	copy(buf, w.staging.Bytes())
	seq := w.seg.Commit(slot, uint32(n))

	metrics.ChannelPublished.WithLabelValues(w.channel.Name).Inc()
	w.registry.Fanout(w.channel.ID, seq)
	return seq, nil
}

// Close unregisters the writer and releases its segment handle.
func (w *Writer[T]) Close() error {
	w.registry.Unregister(w.channel.ID, w.roleID)
	return w.seg.Close()
}
