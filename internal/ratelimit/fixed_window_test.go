package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindow(client, "test:ratelimit", limit, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, mr
}

func TestFixedWindowBlocksOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("third request should be blocked")
	}
	// Independent keys get independent windows.
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("other key should pass")
	}
}

func TestFixedWindowFailsClosed(t *testing.T) {
	limiter, mr := newTestLimiter(t, 5)
	mr.Close()
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowRejectsBadConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	if _, err := NewFixedWindow(client, "p", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewFixedWindow(nil, "p", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
