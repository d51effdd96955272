package runner

import (
	"context"
	"testing"
	"time"
)

func TestRateAtRamp(t *testing.T) {
	p := newPacer(100, 5*time.Second, time.Now())

	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 0},
		{2500 * time.Millisecond, 50},
		{5 * time.Second, 100},
		{10 * time.Second, 100},
	}
	for _, tc := range cases {
		if got := p.rateAt(tc.elapsed); got != tc.want {
			t.Errorf("rateAt(%s) = %f, want %f", tc.elapsed, got, tc.want)
		}
	}
}

func TestRateAtNoRamp(t *testing.T) {
	p := newPacer(50, 0, time.Now())
	if got := p.rateAt(0); got != 50 {
		t.Errorf("expected full rate immediately without ramp, got %f", got)
	}
}

func TestUnpacedWaitReturnsImmediately(t *testing.T) {
	p := newPacer(0, 0, time.Now())

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unpaced mode slept: %s", elapsed)
	}
}

func TestPacedWaitSpacing(t *testing.T) {
	// 100 TPS => 10ms spacing; 10 waits should take roughly 100ms.
	p := newPacer(100, 0, time.Now())

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 80*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("expected ~100ms for 10 paced waits, got %s", elapsed)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	p := newPacer(0.1, 0, time.Now()) // 10s interval

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_ = p.Wait(ctx)
	err := p.Wait(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation took too long")
	}
}

func TestRampOpensGradually(t *testing.T) {
	// With a 200ms ramp to 200 TPS, early waits must not stall on the
	// tiny initial rate.
	p := newPacer(200, 200*time.Millisecond, time.Now())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ramp stalled the pacer: %s", elapsed)
	}
}
