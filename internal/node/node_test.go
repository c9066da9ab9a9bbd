package node

import (
	"errors"
	"testing"

	"github.com/relaybus/rtbus/internal/bus"
	"github.com/relaybus/rtbus/internal/scheduler"
)

type recordingEndpoint struct {
	name  string
	order *[]string
	err   error
}

func (e *recordingEndpoint) Close() error {
	*e.order = append(*e.order, e.name)
	return e.err
}

func TestShutdownClosesReadersThenWritersInReverseCreationOrder(t *testing.T) {
	registry := bus.NewRegistry()
	n := New("test-node", registry, 1, scheduler.NewClassic(0))

	var order []string
	n.AddReader(&recordingEndpoint{name: "r1", order: &order})
	n.AddReader(&recordingEndpoint{name: "r2", order: &order})
	n.AddWriter(&recordingEndpoint{name: "w1", order: &order})
	n.AddWriter(&recordingEndpoint{name: "w2", order: &order})

	n.Shutdown()

	want := []string{"r2", "r1", "w2", "w1"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	registry := bus.NewRegistry()
	n := New("test-node-2", registry, 1, scheduler.NewClassic(0))

	calls := 0
	n.AddReader(&recordingEndpoint{name: "r1", order: &[]string{}, err: errors.New("boom")})
	_ = calls

	n.Shutdown()
	n.Shutdown() // must not panic or double-close
}

func TestSharedSchedulerReleasedOnLastNodeShutdown(t *testing.T) {
	registry := bus.NewRegistry()
	n1 := New("shared-1", registry, 2, scheduler.NewClassic(0))
	n2 := New("shared-2", registry, 2, scheduler.NewClassic(0))

	if n1.Scheduler != n2.Scheduler {
		t.Fatal("expected both nodes to share one process-wide scheduler")
	}

	n1.Shutdown()
	schedMu.Lock()
	stillUp := sharedSched != nil
	schedMu.Unlock()
	if !stillUp {
		t.Fatal("scheduler should stay up while node 2 still holds a reference")
	}

	n2.Shutdown()
	schedMu.Lock()
	gone := sharedSched == nil
	schedMu.Unlock()
	if !gone {
		t.Fatal("scheduler should shut down once the last node releases it")
	}
}
