// Package node implements the Node facade: a logical grouping of endpoints
// (readers and writers) under a user-visible name, with orderly, idempotent
// teardown.
package node

import (
	"sync"

	"github.com/relaybus/rtbus/internal/bus"
	"github.com/relaybus/rtbus/internal/scheduler"
)

// Endpoint is anything a Node owns and must close on shutdown. Both
// transport.Writer[T] and transport.Receiver[T] satisfy this for any T.
type Endpoint interface {
	Close() error
}

var (
	schedMu     sync.Mutex
	sharedSched *scheduler.Scheduler
	sharedRefs  int
)

// acquireScheduler returns the process-wide scheduler, creating it on the
// first call and bumping its reference count on every subsequent one.
// Nodes may share a single scheduler instance rather than each owning a
// private worker pool.
func acquireScheduler(numWorkers int, policy scheduler.Policy) *scheduler.Scheduler {
	schedMu.Lock()
	defer schedMu.Unlock()
	if sharedSched == nil {
		sharedSched = scheduler.New(numWorkers, policy)
	}
	sharedRefs++
	return sharedSched
}

// releaseScheduler drops one reference, shutting the shared scheduler down
// once the last node holding it releases.
func releaseScheduler() {
	schedMu.Lock()
	defer schedMu.Unlock()
	sharedRefs--
	if sharedRefs <= 0 {
		if sharedSched != nil {
			sharedSched.Shutdown()
		}
		sharedSched = nil
		sharedRefs = 0
	}
}

// Node groups endpoints under a name. Constructing a Node is side-effect
// free beyond acquiring a reference to the shared scheduler; channel
// segments and registrations only appear once a caller creates endpoints
// through it.
type Node struct {
	Name      string
	Registry  *bus.Registry
	Scheduler *scheduler.Scheduler

	mu        sync.Mutex
	readers   []Endpoint
	writers   []Endpoint
	closeOnce sync.Once
}

// New builds a Node named name, sharing the process-wide scheduler pool
// (numWorkers/policy only take effect if this is the first Node to ask for
// one) and using registry for channel lookups.
func New(name string, registry *bus.Registry, numWorkers int, policy scheduler.Policy) *Node {
	return &Node{
		Name:      name,
		Registry:  registry,
		Scheduler: acquireScheduler(numWorkers, policy),
	}
}

// AddReader registers r as one of this node's reader endpoints, in
// creation order, for teardown at Shutdown.
func (n *Node) AddReader(r Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readers = append(n.readers, r)
}

// AddWriter registers w as one of this node's writer endpoints, in
// creation order, for teardown at Shutdown.
func (n *Node) AddWriter(w Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writers = append(n.writers, w)
}

// Shutdown destroys readers first (stop receiving), then writers (stop
// publishing), each in reverse creation order, then releases this node's
// reference to the shared scheduler. Safe to call more than once; only the
// first call has any effect.
func (n *Node) Shutdown() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		readers := n.readers
		writers := n.writers
		n.mu.Unlock()

		for i := len(readers) - 1; i >= 0; i-- {
			readers[i].Close()
		}
		for i := len(writers) - 1; i >= 0; i-- {
			writers[i].Close()
		}
		releaseScheduler()
	})
}
