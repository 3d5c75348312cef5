package api

import (
	"testing"
	"time"
)

func TestIPRateLimiter_BurstThenWait(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("203.0.113.1", now); !ok {
			t.Fatalf("request %d within burst was denied", i)
		}
	}

	ok, retry := l.allow("203.0.113.1", now)
	if ok {
		t.Fatalf("expected third request to be denied")
	}
	if retry < 59*time.Second || retry > 61*time.Second {
		t.Fatalf("retry=%v want about 1m", retry)
	}

	// Other clients have their own bucket.
	if ok, _ := l.allow("203.0.113.2", now); !ok {
		t.Fatalf("separate IP must not share a bucket")
	}

	// A denied attempt does not spend a token.
	if ok, _ := l.allow("203.0.113.1", now.Add(61*time.Second)); !ok {
		t.Fatalf("expected token to refill after a minute")
	}
}

func TestIPRateLimiter_SweepsIdleBuckets(t *testing.T) {
	l := newIPRateLimiter(10, 5)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	l.allow("a", now)
	l.allow("b", now.Add(time.Minute))
	if n := l.size(); n != 2 {
		t.Fatalf("size=%d want 2", n)
	}

	l.allow("c", now.Add(11*time.Minute))
	if n := l.size(); n != 2 {
		t.Fatalf("size=%d want 2 after sweeping idle bucket", n)
	}
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	l := newIPRateLimiter(0, 5)
	if l != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
	now := time.Now()
	for i := 0; i < 100; i++ {
		if ok, _ := l.allow("x", now); !ok {
			t.Fatalf("disabled limiter denied a request")
		}
	}
}
