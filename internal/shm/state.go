// Package shm implements the per-channel shared-memory ring: a dense array
// of fixed-size Block slots plus the State header describing them, backed
// either by a real SysV shared-memory mapping (cross-process) or by a plain
// heap arena (single-process / tests). Both modes use the identical layout
// and atomic protocol, so the block-reservation logic never needs to know
// which one it's running over.
package shm

import (
	"sync/atomic"
	"unsafe"
)

// segmentMagic identifies a well-formed segment header. It is not a
// cross-version wire format guarantee (this is a from-scratch Go
// reimplementation, not binary-compatible with any other language's
// runtime) — it only lets an attaching peer sanity-check that it mapped a
// segment this package created.
const segmentMagic uint64 = 0x5254_4255_5330_3031 // "RTBUS001"

// segmentVersion bumps whenever the State/Block layout changes in a way
// that would misread an older segment.
const segmentVersion uint32 = 1

// State is the segment header: the channel's frozen ring geometry plus the
// counters every attached peer shares. It sits at offset 0 of the segment;
// the Block array immediately follows it (see Segment.bind). The four
// uint32 fields after Magic already end on an 8-byte boundary, so
// SeqCounter needs no padding before it.
type State struct {
	Magic          uint64
	Version        uint32
	CeilingMsgSize uint32
	BlockNum       uint32
	BlockBufSize   uint32

	SeqCounter    atomic.Uint64 // monotonic; never wraps (assumed non-exhausting)
	RefCount      atomic.Uint32 // live attach count; last releaser unlinks
	LivenessEpoch atomic.Uint32 // bumped each time a peer resets stale writer locks
}

// sizeofState is the fixed on-wire size of State, used to compute segment
// offsets. It is pinned to a constant, and init panics if unsafe.Sizeof
// of State ever disagrees with it.
const sizeofState = 40

func init() {
	// Defend the offset arithmetic in Segment.bind against a field added
	// to State, or a padding change, that isn't reflected in sizeofState.
	var s State
	if unsafe.Sizeof(s) != sizeofState {
		panic("shm: sizeofState out of sync with State layout")
	}
}
