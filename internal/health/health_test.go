package health

import (
	"testing"

	"github.com/rs/zerolog"
)

type fakeAdjuster struct {
	lastRate float64
	calls    int
}

func (f *fakeAdjuster) SetRate(perSecond float64) {
	f.lastRate = perSecond
	f.calls++
}

func TestShouldRejectAboveThreshold(t *testing.T) {
	s := New(75, 80, 1000, nil, zerolog.Nop())
	s.cpuPercent.Store(90.0)

	reject, _ := s.ShouldReject()
	if !reject {
		t.Fatal("expected reject at 90% with 75% threshold")
	}
}

func TestShouldNotRejectBelowThreshold(t *testing.T) {
	s := New(75, 80, 1000, nil, zerolog.Nop())
	s.cpuPercent.Store(50.0)

	reject, _ := s.ShouldReject()
	if reject {
		t.Fatal("expected no reject at 50% with 75% threshold")
	}
}

func TestShouldPauseAbovePauseThreshold(t *testing.T) {
	s := New(75, 80, 1000, nil, zerolog.Nop())
	s.cpuPercent.Store(85.0)

	if !s.ShouldPause() {
		t.Fatal("expected pause at 85% with 80% pause threshold")
	}
}

func TestUpdateRestoresBaselineRateUnderReject(t *testing.T) {
	adj := &fakeAdjuster{}
	s := New(75, 80, 1000, adj, zerolog.Nop())
	s.cpuPercent.Store(10.0)

	s.applyRateAdjustment()
	if adj.lastRate != 1000 {
		t.Fatalf("expected baseline rate restored, got %v", adj.lastRate)
	}
}

func TestUpdateScalesRateDownInHeadroomBand(t *testing.T) {
	adj := &fakeAdjuster{}
	s := New(50, 80, 1000, adj, zerolog.Nop())
	s.cpuPercent.Store(75.0) // halfway between 50 reject and 100

	s.applyRateAdjustment()
	want := 1000 * (100 - 75.0) / (100 - 50.0) // == 500
	if adj.lastRate != want {
		t.Fatalf("expected scaled rate %v, got %v", want, adj.lastRate)
	}
}

func TestUpdateZeroesRateAtFullSaturation(t *testing.T) {
	adj := &fakeAdjuster{}
	s := New(50, 80, 1000, adj, zerolog.Nop())
	s.cpuPercent.Store(100.0)

	s.applyRateAdjustment()
	if adj.lastRate != 0 {
		t.Fatalf("expected rate zeroed at full saturation, got %v", adj.lastRate)
	}
}
