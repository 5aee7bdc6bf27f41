package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), "u:member01", 3, now)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if result.Remaining != 3-i-1 {
			t.Fatalf("remaining = %d, want %d", result.Remaining, 3-i-1)
		}
	}

	result, err := limiter.Allow(context.Background(), "u:member01", 3, now)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Fatal("fourth request in the window should be rejected")
	}

	// A new window resets the count.
	result, err = limiter.Allow(context.Background(), "u:member01", 3, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !result.Allowed {
		t.Fatal("next window should allow again")
	}
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(2000, 0)

	if result, _ := limiter.Allow(context.Background(), "u:member01", 1, now); !result.Allowed {
		t.Fatal("first caller should pass")
	}
	if result, _ := limiter.Allow(context.Background(), "u:member01", 1, now); result.Allowed {
		t.Fatal("first caller should now be limited")
	}
	if result, _ := limiter.Allow(context.Background(), "u:member02", 1, now); !result.Allowed {
		t.Fatal("second caller must not share the first caller's window")
	}
}

func TestMemoryLimiterPruneDropsPastWindows(t *testing.T) {
	limiter := NewMemoryLimiter()
	limiter.counters["u:stale"] = &windowCounter{windowStart: 10, hits: 3}
	limiter.counters["u:live"] = &windowCounter{windowStart: 20, hits: 1}

	limiter.prune(20)

	if _, ok := limiter.counters["u:stale"]; ok {
		t.Fatal("past window should be pruned")
	}
	if _, ok := limiter.counters["u:live"]; !ok {
		t.Fatal("current window must survive pruning")
	}
}

func TestRedisWindowKeyDefaultPrefix(t *testing.T) {
	limiter := &RedisLimiter{}
	if got := limiter.windowKey("u:member01", 1234); got != "loyalty:rl:u:member01:1234" {
		t.Fatalf("windowKey = %q", got)
	}
	prefixed := &RedisLimiter{prefix: "custom"}
	if got := prefixed.windowKey("u:member01", 1234); got != "custom:u:member01:1234" {
		t.Fatalf("windowKey = %q", got)
	}
}

func TestManagerFallsBackToMemory(t *testing.T) {
	provider := func() SettingsConfig {
		return SettingsConfig{Limit: 2}
	}
	manager := NewManager(provider, func() time.Time { return time.Unix(3000, 0) }, nil)

	for i := 0; i < 2; i++ {
		result, err := manager.Allow(context.Background(), "u:member01", 2)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	result, err := manager.Allow(context.Background(), "u:member01", 2)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Fatal("limit should be enforced without redis")
	}
}

func TestKeyForUser(t *testing.T) {
	if got := KeyForUser(" member01 "); got != "u:member01" {
		t.Fatalf("KeyForUser = %q", got)
	}
	if got := KeyForUser(""); got != "" {
		t.Fatalf("empty utorid should yield empty key, got %q", got)
	}
}

func TestZeroLimitAllowsEverything(t *testing.T) {
	limiter := NewMemoryLimiter()
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(context.Background(), "u:member01", 0, time.Unix(4000, 0))
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatal("zero limit means unlimited")
		}
	}
}
