package visitor

import "testing"

type testRef struct {
	seq uint64
	ts  int64
}

func (r testRef) SeqVal() uint64          { return r.seq }
func (r testRef) TimestampNanoVal() int64 { return r.ts }

func TestOfferTryFetchBasic(t *testing.T) {
	v := New("t1", []int{2, 2}, AlignOff, 0, nil)

	if _, ok := v.TryFetch(); ok {
		t.Fatalf("try_fetch must fail with empty queues")
	}

	v.Offer(0, testRef{seq: 1})
	if _, ok := v.TryFetch(); ok {
		t.Fatalf("try_fetch must fail with only one queue populated")
	}

	v.Offer(1, testRef{seq: 2})
	out, ok := v.TryFetch()
	if !ok {
		t.Fatalf("try_fetch should succeed once both queues are non-empty")
	}
	if out[0].(testRef).seq != 1 || out[1].(testRef).seq != 2 {
		t.Fatalf("unexpected tuple: %+v", out)
	}
}

func TestOfferDropOldestOnOverflow(t *testing.T) {
	v := New("t2", []int{1}, AlignOff, 0, nil)
	v.Offer(0, testRef{seq: 1})
	v.Offer(0, testRef{seq: 2}) // overflow: seq 1 dropped

	out, ok := v.TryFetch()
	if !ok || out[0].(testRef).seq != 2 {
		t.Fatalf("expected oldest to have been dropped, got %+v ok=%v", out, ok)
	}
}

func TestOnCompleteFiresOncePerTransition(t *testing.T) {
	fires := 0
	v := New("t3", []int{4, 4}, AlignOff, 0, func() { fires++ })

	v.Offer(0, testRef{seq: 1})
	v.Offer(0, testRef{seq: 2}) // still incomplete (queue 1 empty)
	if fires != 0 {
		t.Fatalf("onComplete should not fire while a queue is still empty")
	}

	v.Offer(1, testRef{seq: 3}) // becomes complete
	if fires != 1 {
		t.Fatalf("expected exactly one onComplete fire, got %d", fires)
	}

	v.Offer(1, testRef{seq: 4}) // already complete, must not re-fire
	if fires != 1 {
		t.Fatalf("onComplete must not re-fire while already complete, got %d fires", fires)
	}

	v.TryFetch()
	v.TryFetch()
	// both queues empty again; one re-offer completing both should fire once more
	v.Offer(0, testRef{seq: 5})
	v.Offer(1, testRef{seq: 6})
	if fires != 2 {
		t.Fatalf("expected a second onComplete after re-completing, got %d", fires)
	}
}

func TestAlignDropStaleDiscardsOldHeads(t *testing.T) {
	v := New("t4", []int{4, 4}, AlignDropStale, 100, nil) // maxSkew=100ns

	v.Offer(0, testRef{seq: 1, ts: 0})   // stale: will be dropped
	v.Offer(0, testRef{seq: 3, ts: 950}) // within skew of queue 1's head
	v.Offer(1, testRef{seq: 2, ts: 1000})

	out, ok := v.TryFetch()
	if !ok {
		t.Fatalf("expected try_fetch to succeed after dropping the stale head")
	}
	if out[0].(testRef).seq != 3 {
		t.Fatalf("expected the stale head (seq 1) dropped and seq 3 fetched, got %+v", out)
	}
}

func TestAlignWaitBlocksUntilWithinSkew(t *testing.T) {
	// channel 0's queue has capacity 1: a later offer replaces its stale
	// head rather than queuing behind it, simulating a fresh sample
	// superseding one that's aged out of the wait window.
	v := New("t5", []int{1, 4}, AlignWait, 100, nil)

	v.Offer(0, testRef{seq: 1, ts: 0})
	v.Offer(1, testRef{seq: 2, ts: 1000})

	if _, ok := v.TryFetch(); ok {
		t.Fatalf("try_fetch must wait while heads exceed max skew")
	}

	v.Offer(0, testRef{seq: 3, ts: 950})
	out, ok := v.TryFetch()
	if !ok {
		t.Fatalf("expected try_fetch to succeed once heads are within skew")
	}
	if out[0].(testRef).seq != 3 {
		t.Fatalf("expected the fresher head to be fetched, got %+v", out)
	}
}

func TestCloseRejectsFurtherOffers(t *testing.T) {
	v := New("t6", []int{2, 2}, AlignOff, 0, nil)
	v.Offer(0, testRef{seq: 1})
	v.Close()
	v.Offer(1, testRef{seq: 2})

	if _, ok := v.TryFetch(); ok {
		t.Fatalf("closed visitor must not complete a tuple from a post-close offer")
	}
}
