// Package rtbus is the public facade over the local real-time pub/sub
// middleware: a Node groups Writers and Receivers under a shared scheduler
// and channel registry, the way an application embeds the library without
// reaching into its internal packages directly.
package rtbus

import (
	"time"

	"github.com/relaybus/rtbus/internal/bus"
	"github.com/relaybus/rtbus/internal/codec"
	"github.com/relaybus/rtbus/internal/node"
	"github.com/relaybus/rtbus/internal/replay"
	"github.com/relaybus/rtbus/internal/scheduler"
	"github.com/relaybus/rtbus/internal/shm"
	"github.com/relaybus/rtbus/internal/transport"
	"github.com/relaybus/rtbus/internal/visitor"
)

// Concrete (non-generic) re-exports so callers never need to import an
// internal package to name a type that appears in this package's API.
type (
	QoS         = transport.QoS
	Reliability = transport.Reliability
	Mode        = shm.Mode
	AlignMode   = visitor.AlignMode
)

const (
	BestEffort    = transport.BestEffort
	ReliableLocal = transport.ReliableLocal

	ModeSharedMemory = shm.ModeSharedMemory
	ModeProcessLocal = shm.ModeProcessLocal

	AlignOff       = visitor.AlignOff
	AlignDropStale = visitor.AlignDropStale
	AlignWait      = visitor.AlignWait
)

// DefaultQoS returns spec.md's implicit default QoS: best-effort delivery,
// a handful of buffered history entries.
func DefaultQoS() QoS { return transport.DefaultQoS() }

// JSONCodec builds a JSON-backed TypeDescriptor for T, bounded to maxSize
// serialized bytes.
func JSONCodec[T any](name string, maxSize int) codec.TypeDescriptor[T] {
	return codec.NewJSON[T](name, maxSize)
}

// GobCodec builds a gob-backed TypeDescriptor for T, bounded to maxSize
// serialized bytes.
func GobCodec[T any](name string, maxSize int) codec.TypeDescriptor[T] {
	return codec.NewGob[T](name, maxSize)
}

// Node groups Writers and Receivers under a name, sharing the process-wide
// scheduler pool and a private channel registry.
type Node struct {
	registry *bus.Registry
	inner    *node.Node
	mode     Mode
}

// NewNode builds a Node named name. numWorkers and policy size and select
// the scheduler pool shared by every Node in the process (only the first
// Node constructed actually spends them); mode picks shared-memory or
// process-local segment backing for every channel this Node opens.
func NewNode(name string, numWorkers int, policy scheduler.Policy, mode Mode) *Node {
	registry := bus.NewRegistry()
	return &Node{
		registry: registry,
		inner:    node.New(name, registry, numWorkers, policy),
		mode:     mode,
	}
}

// Shutdown tears down every Writer/Receiver this Node created, in reverse
// creation order, then releases this Node's reference to the shared
// scheduler. Safe to call more than once.
func (n *Node) Shutdown() {
	n.inner.Shutdown()
}

// Writer is the publish side of a channel.
type Writer[T any] struct {
	inner *transport.Writer[T]
}

// NewWriter opens channelName on n and registers the resulting Writer for
// teardown at n.Shutdown.
func NewWriter[T any](n *Node, channelName string, desc codec.TypeDescriptor[T], qos QoS) (*Writer[T], error) {
	w, err := transport.NewWriter[T](bus.NewChannel(channelName), desc, n.registry, qos, n.mode)
	if err != nil {
		return nil, err
	}
	n.inner.AddWriter(w)
	return &Writer[T]{inner: w}, nil
}

// Publish serializes and posts msg, returning its assigned sequence id.
func (w *Writer[T]) Publish(msg T) (uint64, error) {
	return w.inner.Publish(msg)
}

// Close unregisters the writer and releases its segment handle.
func (w *Writer[T]) Close() error {
	return w.inner.Close()
}

// Receiver is the subscribe side of a channel, feeding a Visitor's fan-in.
type Receiver[T any] struct {
	inner *transport.Receiver[T]
}

// NewReceiver attaches channelName on n and wires it into sink at
// channelIndex, registering the resulting Receiver for teardown at
// n.Shutdown.
func NewReceiver[T any](n *Node, channelName string, desc codec.TypeDescriptor[T], qos QoS, sink *Visitor, channelIndex int) (*Receiver[T], error) {
	r, err := transport.NewReceiver[T](bus.NewChannel(channelName), desc, n.registry, qos, n.mode, sink.inner, channelIndex)
	if err != nil {
		return nil, err
	}
	n.inner.AddReader(r)
	return &Receiver[T]{inner: r}, nil
}

// WithReplay attaches a bounded replay log of the last maxHistory messages
// observed on this receiver.
func (r *Receiver[T]) WithReplay(maxHistory int) *Receiver[T] {
	r.inner = r.inner.WithReplay(maxHistory)
	return r
}

// Replay returns every message observed since sinceSeq, drawn from the
// replay log attached via WithReplay.
func (r *Receiver[T]) Replay(sinceSeq uint64) []replay.Entry[T] {
	return r.inner.Replay(sinceSeq)
}

// Close unregisters the receiver and releases its segment handle.
func (r *Receiver[T]) Close() error {
	return r.inner.Close()
}

// Visitor is an N-way (1-4) fan-in of bounded per-channel queues feeding a
// scheduler coroutine's try_fetch loop.
type Visitor struct {
	inner *visitor.Visitor
}

// NewVisitor builds a Visitor with one queue per entry of capacities (1-4
// total), optional cross-channel timestamp alignment, and onComplete
// invoked once per transition into "every queue non-empty".
func NewVisitor(name string, capacities []int, align AlignMode, maxSkew time.Duration, onComplete func()) *Visitor {
	return &Visitor{inner: visitor.New(name, capacities, align, maxSkew, onComplete)}
}

// TryFetch attempts to dequeue one ready entry per queue atomically.
func (v *Visitor) TryFetch() ([]visitor.Ref, bool) {
	return v.inner.TryFetch()
}

// Close marks the visitor closed; subsequent Offer calls are no-ops.
func (v *Visitor) Close() {
	v.inner.Close()
}
