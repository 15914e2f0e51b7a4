package limitforge_test

import (
	"context"
	"testing"
	"time"

	limitforge "github.com/limitforge/limitforge"
	"github.com/limitforge/limitforge/store/memory"
)

func TestTokenBucket_DrainAndRefill(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	defer s.Close()

	tb := limitforge.TokenBucket{Store: s}
	p := limitforge.TokenBucketParams{Capacity: 5, RefillRatePerSec: 2}
	key := "lf:tb:t1:user:1:orders"
	base := time.UnixMilli(1700000000000)

	d, err := tb.Evaluate(ctx, key, p, 5, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("draining call should be allowed")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining after drain = %d, want 0", d.Remaining)
	}
	if d.RetryAfterMS != 0 {
		t.Errorf("retry_after_ms should be 0 when allowed, got %d", d.RetryAfterMS)
	}

	// 100ms later only 0.2 tokens refilled.
	d, err = tb.Evaluate(ctx, key, p, 1, base.Add(100*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("call at 100ms should be blocked")
	}
	if d.RetryAfterMS < 200 || d.RetryAfterMS > 600 {
		t.Errorf("retry_after_ms = %d, want within [200, 600]", d.RetryAfterMS)
	}

	d, err = tb.Evaluate(ctx, key, p, 1, base.Add(1000*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("call at 1000ms should be allowed after refill")
	}

	// cost=0 probes state without spending.
	d, err = tb.Evaluate(ctx, key, p, 0, base.Add(10000*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("zero-cost probe should be allowed")
	}
	if d.Remaining != 5 {
		t.Errorf("remaining after full refill = %d, want 5", d.Remaining)
	}
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	defer s.Close()

	tb := limitforge.TokenBucket{Store: s}
	p := limitforge.TokenBucketParams{Capacity: 3, RefillRatePerSec: 100}
	key := "lf:tb:t1:user:2:orders"
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 3; i++ {
		if d, _ := tb.Evaluate(ctx, key, p, 1, base); !d.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	// A long idle period refills to capacity, not beyond.
	allowed := 0
	at := base.Add(time.Minute)
	for i := 0; i < 6; i++ {
		d, err := tb.Evaluate(ctx, key, p, 1, at)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected exactly 3 allowed after refill, got %d", allowed)
	}
}

func TestTokenBucket_ZeroRefillBlocksForever(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	defer s.Close()

	tb := limitforge.TokenBucket{Store: s}
	p := limitforge.TokenBucketParams{Capacity: 1, RefillRatePerSec: 0}
	key := "lf:tb:t1:user:3:orders"
	base := time.UnixMilli(1700000000000)

	if d, _ := tb.Evaluate(ctx, key, p, 1, base); !d.Allowed {
		t.Fatal("first call should spend the only token")
	}

	d, err := tb.Evaluate(ctx, key, p, 1, base.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("bucket with zero refill should stay empty")
	}
	if d.RetryAfterMS != 3600*1000 {
		t.Errorf("retry_after_ms = %d, want the one-hour sentinel", d.RetryAfterMS)
	}
}

func TestTokenBucket_SeparateKeys(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	defer s.Close()

	tb := limitforge.TokenBucket{Store: s}
	p := limitforge.TokenBucketParams{Capacity: 1, RefillRatePerSec: 1}
	base := time.UnixMilli(1700000000000)

	if d, _ := tb.Evaluate(ctx, "lf:tb:t1:user:a:orders", p, 1, base); !d.Allowed {
		t.Error("user a first call should be allowed")
	}
	if d, _ := tb.Evaluate(ctx, "lf:tb:t1:user:a:orders", p, 1, base); d.Allowed {
		t.Error("user a second call should be blocked")
	}
	if d, _ := tb.Evaluate(ctx, "lf:tb:t1:user:b:orders", p, 1, base); !d.Allowed {
		t.Error("user b should have an untouched bucket")
	}
}
