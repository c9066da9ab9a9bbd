package shm

import (
	"os"
	"time"
	"unsafe"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/relaybus/rtbus/internal/bus"
)

// Geometry describes the frozen shape of a channel's ring, derived once
// from the channel's ceiling message size and never changed for the
// lifetime of the segment: resizing would invalidate every index any
// attached peer is holding.
type Geometry struct {
	CeilingMsgSize uint32
	BlockNum       uint32
}

// bufSize rounds the ceiling size up to an 8-byte boundary so payload
// buffers never split an atomic word in the block that precedes them.
func (g Geometry) bufSize() uint32 {
	return (g.CeilingMsgSize + 7) &^ 7
}

func (g Geometry) size() int {
	return sizeofState + int(g.BlockNum)*sizeofBlock + int(g.BlockNum)*int(g.bufSize())
}

// Segment is one attached handle onto a channel's shared-memory ring. Every
// Writer and Receiver for a channel holds its own Segment, all mapping the
// same underlying bytes (via the kernel in ModeSharedMemory, via the
// package-local arena registry in ModeProcessLocal).
type Segment struct {
	mode     Mode
	channel  bus.ID
	key      int
	mem      []byte
	state    *State
	blocks   []*Block
	geometry Geometry
	shmID    int // ModeSharedMemory only
}

// OpenOrCreate attaches the segment for channel, creating it with the given
// geometry if it doesn't exist yet. If it exists but was created with a
// smaller ceiling than requested, the segment is recreated only when no
// other peer currently holds it (RefCount == 0); otherwise ErrCeilingMismatch
// is returned; a capacity-incompatible attach must not silently truncate
// messages for peers already depending on the larger size.
func OpenOrCreate(channel bus.ID, geometry Geometry, mode Mode) (*Segment, error) {
	key := channelKey(channel)

	seg, err := create(channel, key, geometry, mode)
	if err == nil {
		return seg, nil
	}
	if err != ErrSegmentExists {
		return nil, err
	}

	seg, err = attach(channel, key, mode)
	if err != nil {
		return nil, err
	}
	if seg.geometry.CeilingMsgSize >= geometry.CeilingMsgSize {
		return seg, nil
	}

	// Existing segment is too small. Only recreate if unused.
	if seg.state.RefCount.Load() > 1 { // our own attach already counted
		seg.Close()
		return nil, ErrCeilingMismatch
	}
	if err := seg.destroy(); err != nil {
		seg.Close()
		return nil, err
	}
	return create(channel, key, geometry, mode)
}

func create(channel bus.ID, key int, geometry Geometry, mode Mode) (*Segment, error) {
	size := geometry.size()

	var mem []byte
	var shmID int
	var err error
	switch mode {
	case ModeSharedMemory:
		shmID, mem, err = sysvCreate(key, size)
	case ModeProcessLocal:
		var arena *localArena
		arena, err = localArenaCreate(int64(key), size)
		if err == nil {
			mem = arena.mem
		}
	}
	if err != nil {
		return nil, err
	}

	seg := &Segment{mode: mode, channel: channel, key: key, mem: mem, geometry: geometry, shmID: shmID}
	seg.bind()
	seg.state.Magic = segmentMagic
	seg.state.Version = segmentVersion
	seg.state.CeilingMsgSize = geometry.CeilingMsgSize
	seg.state.BlockNum = geometry.BlockNum
	seg.state.BlockBufSize = geometry.bufSize()
	seg.state.RefCount.Store(1)
	return seg, nil
}

func attach(channel bus.ID, key int, mode Mode) (*Segment, error) {
	var mem []byte
	var shmID int
	var err error
	switch mode {
	case ModeSharedMemory:
		shmID, mem, err = sysvAttach(key)
	case ModeProcessLocal:
		arena, ok := localArenaAttach(int64(key))
		if !ok {
			err = ErrSegmentNotFound
		} else {
			mem = arena.mem
		}
	}
	if err != nil {
		return nil, err
	}

	seg := &Segment{mode: mode, channel: channel, key: key, mem: mem, shmID: shmID}
	seg.bindFromHeader()
	seg.state.RefCount.Add(1)
	return seg, nil
}

// bind wires Segment.state/blocks onto mem for a freshly created segment,
// where geometry is already known.
func (s *Segment) bind() {
	s.state = (*State)(unsafe.Pointer(&s.mem[0]))
	s.blocks = make([]*Block, s.geometry.BlockNum)
	base := sizeofState
	for i := range s.blocks {
		s.blocks[i] = (*Block)(unsafe.Pointer(&s.mem[base+i*sizeofBlock]))
	}
}

// bindFromHeader reads geometry back out of an attached segment's header
// before wiring up the block index.
func (s *Segment) bindFromHeader() {
	s.state = (*State)(unsafe.Pointer(&s.mem[0]))
	s.geometry = Geometry{CeilingMsgSize: s.state.CeilingMsgSize, BlockNum: s.state.BlockNum}
	s.blocks = make([]*Block, s.geometry.BlockNum)
	base := sizeofState
	for i := range s.blocks {
		s.blocks[i] = (*Block)(unsafe.Pointer(&s.mem[base+i*sizeofBlock]))
	}
}

// BufferAt returns the payload buffer for block index i. Receivers and
// writers must only read/write within this slice, never beyond
// geometry.bufSize(), enforcing the ceiling invariant.
func (s *Segment) BufferAt(i int) []byte {
	blocksEnd := sizeofState + int(s.geometry.BlockNum)*sizeofBlock
	bufSize := int(s.geometry.bufSize())
	start := blocksEnd + i*bufSize
	return s.mem[start : start+bufSize]
}

// BlockNum reports the ring depth.
func (s *Segment) BlockNum() int { return int(s.geometry.BlockNum) }

// CeilingMsgSize reports the frozen maximum payload size.
func (s *Segment) CeilingMsgSize() uint32 { return s.geometry.CeilingMsgSize }

// NextSeq allocates the next global sequence number for a publish.
func (s *Segment) NextSeq() uint64 { return s.state.SeqCounter.Add(1) }

// ObservedSeq reports the highest sequence number committed to this
// segment so far, without allocating a new one. SeqCounter lives in the
// mapped segment itself, so this is visible to every process attached to
// the same key — it's what lets a Receiver in a different process than
// the Writer notice a publish it has no in-process Registry.Fanout call
// for (see transport.Receiver's poll loop).
func (s *Segment) ObservedSeq() uint64 { return s.state.SeqCounter.Load() }

// Block returns the ring slot at index i.
func (s *Segment) Block(i int) *Block { return s.blocks[i] }

// ReclaimStaleWriters scans the ring for blocks still marked held by a
// writer pid that is no longer alive, and force-releases them. Length
// stays whatever it was (0 for a block that never finished a commit), so a
// reclaimed block is simply treated as not-yet-published rather than
// delivered half-written. Called by every transport Writer and Receiver
// when it opens the segment.
func (s *Segment) ReclaimStaleWriters() (reclaimed int) {
	for _, b := range s.blocks {
		if !b.IsWriterHeld() {
			continue
		}
		pid := b.WriterPID.Load()
		if pid == 0 || processAlive(pid) {
			continue
		}
		b.ForceReleaseWriter()
		reclaimed++
	}
	if reclaimed > 0 {
		s.state.LivenessEpoch.Add(1)
	}
	return reclaimed
}

func processAlive(pid int32) bool {
	alive, err := process.PidExists(pid)
	return err == nil && alive
}

// Commit fills and publishes block i: it stamps the current time, the
// block's freshly allocated sequence number and the owning process's pid,
// then releases the writer lock.
func (s *Segment) Commit(i int, length uint32) uint64 {
	seq := s.NextSeq()
	s.blocks[i].Commit(seq, length, time.Now().UnixNano(), int32(os.Getpid()))
	return seq
}

// destroy unlinks the segment. Only valid to call while holding the only
// live attach (RefCount == 1 observed by the caller).
func (s *Segment) destroy() error {
	switch s.mode {
	case ModeSharedMemory:
		if err := sysvUnlink(s.shmID); err != nil {
			return err
		}
		return sysvDetach(s.mem)
	case ModeProcessLocal:
		localArenaRelease(int64(s.key))
	}
	return nil
}

// Close detaches this handle from the segment. The handle that brings
// RefCount to 0 unlinks the segment: in ModeSharedMemory it marks the id
// IPC_RMID (the kernel frees it once every process has detached), and in
// ModeProcessLocal it releases the arena. A segment left behind by a
// process that exited without Close is removed by cmd/rtbus-sweep.
func (s *Segment) Close() error {
	left := s.state.RefCount.Add(^uint32(0))
	switch s.mode {
	case ModeSharedMemory:
		var unlinkErr error
		if left == 0 {
			unlinkErr = sysvUnlink(s.shmID)
		}
		if err := sysvDetach(s.mem); err != nil {
			return err
		}
		return unlinkErr
	case ModeProcessLocal:
		if left == 0 {
			localArenaRelease(int64(s.key))
		}
	}
	return nil
}

// channelKey derives the IPC key used for SysV shmget/ProcessLocal lookup
// from the channel id. SysV keys are a signed 32-bit int, so only the low
// 31 bits of the (already well-distributed) xxhash are used; a collision
// between two channel names sharing that slice is astronomically unlikely
// and, since the header carries the real channel id nowhere today, is left
// as a known limitation rather than solved with a second indirection table.
func channelKey(id bus.ID) int {
	return int(uint32(id) & 0x7fffffff)
}
