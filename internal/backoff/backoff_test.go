package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	p := New(0, 2*time.Second, 10*time.Second, 30*time.Second)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 10 * time.Second},
		{3, 30 * time.Second},
		{4, 30 * time.Second},  // capped at the last delay
		{99, 30 * time.Second}, // stays capped
		{-1, 0},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestFixed(t *testing.T) {
	p := Fixed(30 * time.Second)
	for _, attempt := range []int{0, 1, 10} {
		if got := p.Delay(attempt); got != 30*time.Second {
			t.Errorf("Delay(%d) = %v, want 30s", attempt, got)
		}
	}
}

func TestEmptyPolicy(t *testing.T) {
	var p Policy
	if got := p.Delay(5); got != 0 {
		t.Errorf("empty policy Delay = %v, want 0", got)
	}
	if err := p.Wait(context.Background(), 5); err != nil {
		t.Errorf("empty policy Wait: %v", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := Fixed(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, 0); err == nil {
		t.Fatal("expected context error from cancelled Wait")
	}
}

func TestWaitCompletes(t *testing.T) {
	p := Fixed(5 * time.Millisecond)
	start := time.Now()
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("Wait returned before the delay elapsed")
	}
}
