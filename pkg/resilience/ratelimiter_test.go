package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllowBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 3})
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected rejection after burst exhausted")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("zero rate should be unlimited")
		}
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	ctx := context.Background()
	if err := l.Call(ctx, passing); err != nil {
		t.Fatal(err)
	}
	if err := l.Call(ctx, passing); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := l.CallWait(ctx, func(context.Context) error { called = true; return nil })
	if err == nil || called {
		t.Fatal("expected wait to fail before the next token")
	}
}

func TestLimiterWaitSucceeds(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.CallWait(ctx, passing); err != nil {
			t.Fatal(err)
		}
	}
}
