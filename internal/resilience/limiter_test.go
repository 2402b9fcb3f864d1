package resilience

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(10, time.Second)
	for i := 0; i < 10; i++ {
		if !rl.Allow() {
			t.Fatalf("token %d should be inside the burst", i)
		}
	}
	if rl.Allow() {
		t.Fatalf("11th token should not be immediately available")
	}
}

func TestRateLimiterAcquireWaits(t *testing.T) {
	rl := NewRateLimiter(10, time.Second)
	for i := 0; i < 10; i++ {
		if err := rl.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Refill rate is 10/s, so the 11th token takes roughly 100ms.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected a wait near 100ms, got %v", elapsed)
	}
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); err == nil {
		t.Fatalf("expected context error for an empty bucket")
	}
}
