package shm

import "errors"

var (
	// ErrSegmentExists is returned by a create-exclusive attempt when a
	// segment already exists for the key.
	ErrSegmentExists = errors.New("shm: segment already exists")

	// ErrSegmentNotFound is returned when attaching to a key that has no
	// live segment.
	ErrSegmentNotFound = errors.New("shm: segment not found")

	// ErrCeilingMismatch is returned when an attaching peer requests a
	// ceiling message size the existing segment cannot satisfy and the
	// segment cannot be recreated because other peers still hold it.
	ErrCeilingMismatch = errors.New("shm: existing segment ceiling too small, in use by other peers")

	// ErrUnsupportedMode is returned when ModeSharedMemory is requested on
	// a platform without a SysV shared-memory backend.
	ErrUnsupportedMode = errors.New("shm: shared-memory mode unsupported on this platform")
)
