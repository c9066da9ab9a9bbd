package shm

// Mode selects a Segment's backing memory. Both modes share the identical
// State/Block layout and atomic protocol; only how the raw bytes are
// obtained differs.
type Mode int

const (
	// ModeSharedMemory maps the segment via SysV shared memory, visible to
	// any process on the host that attaches the same key. This is the
	// production transport.
	ModeSharedMemory Mode = iota

	// ModeProcessLocal backs the segment with a plain heap arena shared
	// only within the current process (via a package-level registry keyed
	// by channel id). It exercises the exact same ring protocol as
	// ModeSharedMemory, which is what lets unit tests cover block
	// reservation, reader races and crash-liveness sweeps without forking
	// real OS processes or requiring IPC permissions in CI.
	ModeProcessLocal
)

func (m Mode) String() string {
	switch m {
	case ModeSharedMemory:
		return "shared-memory"
	case ModeProcessLocal:
		return "process-local"
	default:
		return "unknown"
	}
}
