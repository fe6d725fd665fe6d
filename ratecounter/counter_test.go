package ratecounter

import (
	"testing"
	"time"
)

func TestRateZeroWithNoSamples(t *testing.T) {
	c := New()
	if r := c.Rate(); r != 0 {
		t.Fatalf("rate = %f, want 0", r)
	}
}

func TestRateReflectsRecordedBytes(t *testing.T) {
	c := New()
	now := time.Now()
	c.Record(1024, now)
	c.Record(1024, now.Add(time.Second))

	r := c.Rate()
	if r <= 0 {
		t.Fatalf("rate = %f, want > 0 after recording bytes", r)
	}
}

func TestResetClearsSamples(t *testing.T) {
	c := New()
	c.Record(4096, time.Now())
	c.Reset()
	if r := c.Rate(); r != 0 {
		t.Fatalf("rate = %f after Reset, want 0", r)
	}
	if total := c.Total(); total != 0 {
		t.Fatalf("total = %d after Reset, want 0", total)
	}
}

func TestSetLimitAllowsTransferUnderCap(t *testing.T) {
	c := New()
	c.SetLimit(10)
	if !c.Allow(5) {
		t.Fatalf("expected small transfer under cap to be allowed")
	}
}

func TestSetLimitZeroClearsCap(t *testing.T) {
	c := New()
	c.SetLimit(10)
	c.SetLimit(0)
	if !c.Allow(1_000_000) {
		t.Fatalf("expected no cap to allow any size transfer")
	}
}
