package coroutine

import (
	"testing"
	"time"
)

func TestResumeYieldRoundTrip(t *testing.T) {
	var observed []State
	c := New(1, func(y Yield) {
		if !y.Yield(DataWait) {
			return
		}
		observed = append(observed, DataWait)
		if !y.Yield(Ready) {
			return
		}
		observed = append(observed, Ready)
	})
	c.Start()

	if got := c.Resume(); got != DataWait {
		t.Fatalf("expected first yield state DataWait, got %v", got)
	}
	if got := c.Resume(); got != Ready {
		t.Fatalf("expected second yield state Ready, got %v", got)
	}
	if got := c.Resume(); got != Finished {
		t.Fatalf("expected body to finish, got %v", got)
	}
	<-c.Done()

	if len(observed) != 2 {
		t.Fatalf("expected body to observe both resumes, got %v", observed)
	}
}

func TestStopBeforeFirstResumeSkipsBody(t *testing.T) {
	ran := false
	c := New(1, func(y Yield) { ran = true })
	c.Start()
	c.Stop()

	if got := c.Resume(); got != Finished {
		t.Fatalf("expected Finished immediately, got %v", got)
	}
	<-c.Done()
	if ran {
		t.Fatalf("body must not run once stopped before its first resume")
	}
}

func TestStopDuringRunObservedOnNextYield(t *testing.T) {
	reachedSecondYield := false
	c := New(1, func(y Yield) {
		if !y.Yield(DataWait) {
			return
		}
		reachedSecondYield = true
	})
	c.Start()
	c.Resume()
	c.Stop()
	c.Resume()
	<-c.Done()

	if reachedSecondYield {
		t.Fatalf("body must return without reaching past the stop check")
	}
}

func TestSleepRecordsWakeAt(t *testing.T) {
	c := New(1, func(y Yield) {
		y.Sleep(50 * time.Millisecond)
	})
	c.Start()
	before := time.Now()
	if got := c.Resume(); got != Sleep {
		t.Fatalf("expected Sleep state, got %v", got)
	}
	if c.WakeAt().Before(before.Add(40 * time.Millisecond)) {
		t.Fatalf("WakeAt too early: %v", c.WakeAt())
	}
	c.Stop()
	c.Resume()
	<-c.Done()
}
