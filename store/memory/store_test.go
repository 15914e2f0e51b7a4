package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/limitforge/limitforge/store"
)

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Error("expected ErrKeyNotFound for missing key")
	} else {
		var notFound *store.ErrKeyNotFound
		if !errors.As(err, &notFound) {
			t.Errorf("error = %v, want ErrKeyNotFound", err)
		}
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "v" {
		t.Errorf("Get = %q, want v", v)
	}

	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Error("key should be gone after Del")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	s.Set(ctx, "k", "v", 30*time.Millisecond)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("key should exist before expiry: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Error("key should have expired")
	}
}

func TestIncrDecr(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	n, err := s.IncrBy(ctx, "c", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("IncrBy on fresh key = %d, want 3", n)
	}

	n, _ = s.IncrBy(ctx, "c", 2)
	if n != 5 {
		t.Errorf("IncrBy = %d, want 5", n)
	}

	n, _ = s.DecrBy(ctx, "c", 6)
	if n != -1 {
		t.Errorf("DecrBy = %d, want -1", n)
	}
}

func TestTTLStates(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	ttl, _ := s.TTL(ctx, "missing")
	if ttl != -2*time.Second {
		t.Errorf("TTL of missing key = %v, want -2s", ttl)
	}

	s.Set(ctx, "k", "v", 0)
	ttl, _ = s.TTL(ctx, "k")
	if ttl != -1*time.Second {
		t.Errorf("TTL of persistent key = %v, want -1s", ttl)
	}

	s.Expire(ctx, "k", time.Minute)
	ttl, _ = s.TTL(ctx, "k")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
}

func TestHashOps(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	m, err := s.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("HGetAll of missing key = %v, want empty map", m)
	}

	if err := s.HSet(ctx, "h", "tokens", "4.5", "ts", int64(1700000000000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, _ = s.HGetAll(ctx, "h")
	if m["tokens"] != "4.5" {
		t.Errorf("tokens field = %q, want 4.5", m["tokens"])
	}
	if m["ts"] != "1700000000000" {
		t.Errorf("ts field = %q, want 1700000000000", m["ts"])
	}
}

func TestSortedSetOps(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	s.ZAdd(ctx, "z", 30, "c")
	s.ZAdd(ctx, "z", 10, "a")
	s.ZAdd(ctx, "z", 20, "b")

	n, _ := s.ZCard(ctx, "z")
	if n != 3 {
		t.Errorf("ZCard = %d, want 3", n)
	}

	head, err := s.ZRangeWithScores(ctx, "z", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(head) != 1 || head[0].Member != "a" || head[0].Score != 10 {
		t.Errorf("head = %+v, want member a score 10", head)
	}

	// Re-adding a member moves it, never duplicates it.
	s.ZAdd(ctx, "z", 40, "a")
	if n, _ := s.ZCard(ctx, "z"); n != 3 {
		t.Errorf("ZCard after re-add = %d, want 3", n)
	}

	if err := s.ZRemRangeByScore(ctx, "z", "0", "25"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := s.ZCard(ctx, "z"); n != 2 {
		t.Errorf("ZCard after trim = %d, want 2", n)
	}
}

func TestEvalReportsNoScripting(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Eval(context.Background(), "return 1", nil)
	var notSupported *store.ErrScriptNotSupported
	if !errors.As(err, &notSupported) {
		t.Errorf("error = %v, want ErrScriptNotSupported", err)
	}
}

func TestPipelineAppliesAtomically(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	pipe := s.Pipeline()
	pipe.ZAdd(ctx, "z", 1, "a")
	pipe.ZAdd(ctx, "z", 2, "b")
	pipe.Expire(ctx, "z", time.Minute)
	if n, _ := s.ZCard(ctx, "z"); n != 0 {
		t.Error("pipeline must not apply before Exec")
	}

	if err := pipe.Exec(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := s.ZCard(ctx, "z"); n != 2 {
		t.Errorf("ZCard after Exec = %d, want 2", n)
	}
	ttl, _ := s.TTL(ctx, "z")
	if ttl <= 0 {
		t.Errorf("TTL after Exec = %v, want positive", ttl)
	}
}
