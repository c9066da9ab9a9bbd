// Package transport implements the Writer and Receiver endpoints that sit
// on top of a channel's shared-memory segment (internal/shm), plus the QoS
// contract both endpoints honor.
package transport

// Reliability controls how a Receiver behaves when the block it was
// notified about is still held by the writer at the moment it tries to
// read it.
type Reliability int

const (
	// BestEffort gives up immediately if the block isn't readable yet; the
	// message is counted as lost rather than retried.
	BestEffort Reliability = iota

	// ReliableLocal spins briefly (bounded by QoS.SpinBudget) to ride out
	// a narrow race with a writer still finishing its commit, rather than
	// dropping a message that was in fact about to become available.
	ReliableLocal
)

// QoS is the contract a Writer or Receiver is constructed with.
type QoS struct {
	// HistoryDepth sets the ring's block count (at least 4) when this
	// Writer or Receiver creates the channel's segment; an existing segment
	// keeps its geometry. It does not bound any Data Visitor queue: those
	// capacities are passed to visitor.New separately.
	HistoryDepth int

	// Reliability selects BestEffort vs ReliableLocal block acquisition.
	Reliability Reliability

	// SpinBudget bounds the optimistic retry count ReliableLocal uses when
	// racing a writer still mid-commit. Ignored under BestEffort.
	SpinBudget int
}

// DefaultQoS matches spec.md's implicit default: a handful of buffered
// history entries, best-effort delivery.
func DefaultQoS() QoS {
	return QoS{HistoryDepth: 16, Reliability: BestEffort, SpinBudget: 0}
}
