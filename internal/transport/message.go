package transport

// Message is the decoded, immutable value a Receiver hands to its Data
// Visitor. The transport decodes eagerly and releases the ring block
// before enqueueing: holding a block's read reference across a queue
// hand-off to another goroutine would let a GC-managed slice outlive the
// window in which the writer is forbidden to recycle it, so the
// zero-copy reference spec.md describes ends at the Receiver's Notify
// callback rather than crossing into the Data Visitor.
type Message[T any] struct {
	Seq           uint64
	TimestampNano int64
	Value         T
}

// SeqVal and TimestampNanoVal satisfy internal/visitor.Ref without requiring
// Message itself to depend on that package (the visitor operates on refs
// from up to 4 differently-typed channels, so it can't parameterize on a
// single T).
func (m Message[T]) SeqVal() uint64        { return m.Seq }
func (m Message[T]) TimestampNanoVal() int64 { return m.TimestampNano }
