package rtbus

import (
	"testing"
	"time"

	"github.com/relaybus/rtbus/internal/scheduler"
)

type order struct {
	ID int
}

func TestNodePublishSubscribeRoundTrip(t *testing.T) {
	n := NewNode("test-node", 2, scheduler.NewClassic(time.Second), ModeProcessLocal)
	defer n.Shutdown()

	sink := NewVisitor("orders", []int{4}, AlignOff, 0, nil)
	desc := JSONCodec[order]("order", 256)

	recv, err := NewReceiver[order](n, "orders.created", desc, DefaultQoS(), sink, 0)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	defer recv.Close()

	w, err := NewWriter[order](n, "orders.created", desc, DefaultQoS())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Publish(order{ID: 42}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	refs, ok := sink.TryFetch()
	if !ok {
		t.Fatal("expected a delivered message")
	}
	got, ok := refs[0].(interface{ SeqVal() uint64 })
	if !ok {
		t.Fatalf("unexpected ref type: %T", refs[0])
	}
	if got.SeqVal() != 1 {
		t.Fatalf("expected first message to carry seq 1, got %d", got.SeqVal())
	}
}

func TestReceiverReplayRoundTrip(t *testing.T) {
	n := NewNode("test-node-replay", 1, scheduler.NewClassic(time.Second), ModeProcessLocal)
	defer n.Shutdown()

	sink := NewVisitor("orders", []int{4}, AlignOff, 0, nil)
	desc := JSONCodec[order]("order", 256)

	recv, err := NewReceiver[order](n, "orders.replay", desc, DefaultQoS(), sink, 0)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	defer recv.Close()
	recv.WithReplay(2)

	w, err := NewWriter[order](n, "orders.replay", desc, DefaultQoS())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if _, err := w.Publish(order{ID: i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		sink.TryFetch()
	}

	entries := recv.Replay(0)
	if len(entries) != 2 {
		t.Fatalf("expected replay bounded to 2 entries, got %d", len(entries))
	}
	if entries[0].Value.ID != 1 || entries[1].Value.ID != 2 {
		t.Fatalf("unexpected replay contents: %+v", entries)
	}
}
