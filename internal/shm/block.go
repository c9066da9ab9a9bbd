package shm

import (
	"sync/atomic"
	"unsafe"
)

// Block is one ring slot: a fixed-size buffer plus the atomics that
// classify it as WRITABLE or READABLE per the channel invariant:
//
//	WRITABLE := WriterLock == 0 && ReaderCount == 0
//	READABLE := WriterLock == 0 && Length > 0 && ReaderCount > 0
//
// WriterLock and ReaderCount are not separate fields: both live packed into
// State so a reservation can check-and-claim (or a read can check-and-join)
// with a single CAS. Two independent atomics here would let a writer's
// "readers == 0" check and a reader's "writer == 0" check interleave with
// each other's CAS, producing a state where both are true at once — which
// is exactly the invariant this packing exists to make unrepresentable.
//
// A block's payload buffer is addressed by index into the segment's buffer
// region (see Segment.bufferAt), never by raw pointer, so the same Block
// value is meaningful to every process attached to the segment.
type Block struct {
	State  atomic.Uint32 // bit 31: writer held; bits 0-30: reader count
	Length atomic.Uint32

	Seq         atomic.Uint64 // global seq_counter value stamped at publish
	WriteTSNano atomic.Int64  // wall-clock publish time, for align_by_timestamp
	WriterPID   atomic.Int32  // pid that last held the writer bit, for liveness sweep
	_           int32
}

const sizeofBlock = 32

// stateWriterBit marks the writer as holding the block. The remaining 31
// bits of State count active readers, far more headroom than any realistic
// fan-out needs.
const stateWriterBit = uint32(1) << 31

func init() {
	var b Block
	if unsafe.Sizeof(b) != sizeofBlock {
		panic("shm: sizeofBlock out of sync with Block layout")
	}
}

// TryReserve attempts to claim the block for writing. It succeeds only
// from the WRITABLE state (State == 0: no writer, no readers), checked and
// claimed by a single CAS so no reader can join between the "readers == 0"
// check and the claim. Fails immediately otherwise — the writer side scans
// forward to the next block rather than blocking on one that's still being
// read.
func (b *Block) TryReserve() bool {
	return b.State.CompareAndSwap(0, stateWriterBit)
}

// Commit publishes a filled slot: stamps sequence, length and timestamp,
// then releases the writer bit so the block becomes READABLE. pid is
// stamped for the crash-liveness sweep in Segment.ReclaimStaleWriters.
func (b *Block) Commit(seq uint64, length uint32, writeTSNano int64, pid int32) {
	b.WriterPID.Store(pid)
	b.WriteTSNano.Store(writeTSNano)
	b.Seq.Store(seq)
	b.Length.Store(length)
	b.State.Store(0)
}

// TryAcquireReader attempts to take a read reference on the block,
// verifying it still carries seq after joining as a reader (guards against
// the writer recycling the slot between the caller's lookup and the join).
// Each attempt reads State and CASes in one more reader only if the writer
// bit is clear in that same snapshot, so a concurrent TryReserve can never
// observe State == 0 after a reader has already joined: either the CAS
// claims the block first (reader then sees the writer bit and fails to
// join), or a reader's CAS lands first (the writer's CAS, which requires
// State == 0, then fails). spinBudget bounds how many optimistic retries
// are attempted before giving up, used by QoS ReliableLocal delivery (see
// internal/transport) to ride out a narrow race with a concurrent writer
// rather than fail outright.
func (b *Block) TryAcquireReader(seq uint64, spinBudget int) bool {
	for attempt := 0; attempt <= spinBudget; attempt++ {
		if b.tryJoinAsReader(seq) {
			return true
		}
	}
	return false
}

// tryJoinAsReader makes one attempt to join as a reader, retrying its own
// CAS (not counted against spinBudget) only when it loses the race to
// another reader joining or leaving in the same instant.
func (b *Block) tryJoinAsReader(seq uint64) bool {
	for {
		s := b.State.Load()
		if s&stateWriterBit != 0 {
			return false
		}
		if !b.State.CompareAndSwap(s, s+1) {
			continue
		}
		if b.Seq.Load() == seq {
			return true
		}
		b.State.Add(^uint32(0))
		return false
	}
}

// ReleaseReader drops a previously acquired read reference.
func (b *Block) ReleaseReader() {
	b.State.Add(^uint32(0))
}

// IsWritable reports the WRITABLE predicate, used by diagnostics and tests.
func (b *Block) IsWritable() bool {
	return b.State.Load() == 0
}

// IsReadable reports the READABLE predicate.
func (b *Block) IsReadable() bool {
	s := b.State.Load()
	return s&stateWriterBit == 0 && b.Length.Load() > 0 && s&^stateWriterBit > 0
}

// IsWriterHeld reports whether the writer bit is currently set, used by
// Segment.ReclaimStaleWriters to find blocks a dead writer left claimed.
func (b *Block) IsWriterHeld() bool {
	return b.State.Load()&stateWriterBit != 0
}

// ForceReleaseWriter clears the writer bit without touching the reader
// count, for reclaiming a block whose writer died mid-commit. Only valid
// to call once the caller has independently established the writer's pid
// is no longer alive (see Segment.ReclaimStaleWriters).
func (b *Block) ForceReleaseWriter() {
	for {
		s := b.State.Load()
		if s&stateWriterBit == 0 {
			return
		}
		if b.State.CompareAndSwap(s, s&^stateWriterBit) {
			return
		}
	}
}
