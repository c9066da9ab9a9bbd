package bus

import "errors"

// Error kinds surfaced to publishers and receivers. None of these ever
// crashes the process; every loss is accounted for in a per-channel counter
// (see internal/metrics) and returned to the caller as a plain value.
var (
	// ErrCapacityExceeded is returned when a published payload is larger
	// than the channel's ceiling message size.
	ErrCapacityExceeded = errors.New("rtbus: message exceeds channel ceiling size")

	// ErrNoFreeSlot is returned when every block in the segment's ring is
	// held (by a writer or by readers) at publish time.
	ErrNoFreeSlot = errors.New("rtbus: no free slot in channel segment")

	// ErrSerializationFailed is returned when a TypeDescriptor fails to
	// serialize a message.
	ErrSerializationFailed = errors.New("rtbus: serialization failed")

	// ErrStaleReference is returned when a message reference's sequence id
	// no longer matches the block it points to (the block was recycled).
	ErrStaleReference = errors.New("rtbus: stale message reference")

	// ErrSegmentUnavailable is returned when a channel's segment could
	// neither be created nor attached.
	ErrSegmentUnavailable = errors.New("rtbus: segment unavailable")

	// ErrSchedulerStopped is returned by operations attempted after the
	// scheduler has been shut down.
	ErrSchedulerStopped = errors.New("rtbus: scheduler stopped")
)
