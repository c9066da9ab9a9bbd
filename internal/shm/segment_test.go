package shm

import (
	"os"
	"testing"

	"github.com/relaybus/rtbus/internal/bus"
)

func testGeometry() Geometry {
	return Geometry{CeilingMsgSize: 64, BlockNum: 4}
}

func TestOpenOrCreateThenAttach(t *testing.T) {
	ch := bus.ChannelID("test.open-or-create")

	writer, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer writer.Close()

	reader, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer reader.Close()

	if reader.BlockNum() != writer.BlockNum() {
		t.Fatalf("attached segment geometry mismatch")
	}
}

func TestPublishAndReadRoundTrip(t *testing.T) {
	ch := bus.ChannelID("test.roundtrip")
	seg, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer seg.Close()

	block := seg.Block(0)
	if !block.IsWritable() {
		t.Fatalf("fresh block must be WRITABLE")
	}
	if !block.TryReserve() {
		t.Fatalf("reserve should succeed on a writable block")
	}

	buf := seg.BufferAt(0)
	copy(buf, []byte("hello"))
	seq := seg.Commit(0, 5)
	if seq != 1 {
		t.Fatalf("first commit should allocate seq 1, got %d", seq)
	}

	// READABLE requires reader_count > 0, so a committed-but-unread block is
	// not READABLE yet; with no writer and no readers it is WRITABLE again.
	if !block.IsWritable() {
		t.Fatalf("committed block with no readers must be WRITABLE")
	}
	if block.IsReadable() {
		t.Fatalf("committed block with no readers yet must not be READABLE")
	}

	if !block.TryAcquireReader(seq, 0) {
		t.Fatalf("reader acquire should succeed on a freshly committed block")
	}
	if !block.IsReadable() {
		t.Fatalf("block with an active reader must be READABLE")
	}
	if got := string(buf[:block.Length.Load()]); got != "hello" {
		t.Fatalf("payload mismatch: %q", got)
	}
	block.ReleaseReader()
	if !block.IsWritable() {
		t.Fatalf("block must return to WRITABLE once the reader releases")
	}
}

func TestTryAcquireReaderRejectsStaleReference(t *testing.T) {
	ch := bus.ChannelID("test.stale-reference")
	seg, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer seg.Close()

	block := seg.Block(0)
	block.TryReserve()
	seq := seg.Commit(0, 1)

	if block.TryAcquireReader(seq+1, 2) {
		t.Fatalf("acquire must reject a sequence id that doesn't match the block")
	}
}

func TestReclaimStaleWritersResetsDeadOwner(t *testing.T) {
	ch := bus.ChannelID("test.reclaim")
	seg, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer seg.Close()

	block := seg.Block(0)
	block.TryReserve()
	block.WriterPID.Store(1<<30 + 1) // a pid essentially guaranteed not to exist

	n := seg.ReclaimStaleWriters()
	if n != 1 {
		t.Fatalf("expected 1 block reclaimed, got %d", n)
	}
	if !block.IsWritable() {
		t.Fatalf("block held by a dead writer must be reclaimed to WRITABLE")
	}
}

func TestReclaimStaleWritersLeavesLiveOwnerAlone(t *testing.T) {
	ch := bus.ChannelID("test.reclaim-live")
	seg, err := OpenOrCreate(ch, testGeometry(), ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer seg.Close()

	block := seg.Block(0)
	block.TryReserve()
	block.WriterPID.Store(int32(os.Getpid()))

	if n := seg.ReclaimStaleWriters(); n != 0 {
		t.Fatalf("expected a live owner's block left alone, reclaimed %d", n)
	}
}

func TestOpenOrCreateRefusesGrowingCeilingWhileInUse(t *testing.T) {
	ch := bus.ChannelID("test.ceiling-mismatch")
	small, err := OpenOrCreate(ch, Geometry{CeilingMsgSize: 32, BlockNum: 4}, ModeProcessLocal)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer small.Close()

	// small is still attached, so a peer requesting a bigger ceiling cannot
	// force a recreate out from under it.
	_, err = OpenOrCreate(ch, Geometry{CeilingMsgSize: 128, BlockNum: 4}, ModeProcessLocal)
	if err != ErrCeilingMismatch {
		t.Fatalf("expected ErrCeilingMismatch, got %v", err)
	}
}
