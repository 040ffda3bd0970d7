package authguard

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ingresso-cascade-cli/clock"
)

var errExpired = errors.New("token expired")

func TestGuard_NotifiesOncePerWindow(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC))
	g := New(time.Minute, clk, nil)

	first, ok := g.Observe("venue", errExpired)
	if !ok {
		t.Fatal("expected first detection to notify")
	}
	if first.Source != "venue" || !errors.Is(first.Err, errExpired) || !first.At.Equal(clk.Now()) {
		t.Fatalf("unexpected notification: %+v", first)
	}
	clk.Advance(59 * time.Second)
	if _, ok := g.Observe("item", errExpired); ok {
		t.Fatal("expected detection inside the window to be suppressed")
	}
	if g.Suppressed() != 1 {
		t.Fatalf("expected 1 suppressed detection, got %d", g.Suppressed())
	}

	clk.Advance(time.Second)
	if _, ok := g.Observe("session", errExpired); !ok {
		t.Fatal("expected detection after the window to notify again")
	}
}

func TestGuard_ConcurrentDetectionsNotifyOnce(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC))
	var notifications atomic.Int32
	g := New(0, clk, nil)

	const workers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := g.Observe("seatmap", errExpired); ok {
				notifications.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := notifications.Load(); got != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", got)
	}
	if got := g.Suppressed(); got != workers-1 {
		t.Fatalf("expected %d suppressed, got %d", workers-1, got)
	}
}

func TestGuard_DefaultWindow(t *testing.T) {
	g := New(0, nil, nil)
	if g.Window() != DefaultWindow {
		t.Fatalf("expected %v, got %v", DefaultWindow, g.Window())
	}
}

func TestExtractorFunc_NilError(t *testing.T) {
	called := false
	f := ExtractorFunc(func(error) bool { called = true; return true })
	if f.IsAuthExpired(nil) {
		t.Fatal("expected nil error not to be an auth signal")
	}
	if called {
		t.Fatal("expected predicate to be skipped for nil error")
	}
}

func TestGuard_UnlockedAfterNotification(t *testing.T) {
	g := New(time.Minute, clock.Fake(time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC)), nil)
	if _, ok := g.Observe("city", errExpired); !ok {
		t.Fatal("expected first detection to notify")
	}

	done := make(chan int, 1)
	go func() { done <- g.Suppressed() }()
	select {
	case got := <-done:
		if got != 0 {
			t.Fatalf("expected 0 suppressed, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("guard still locked after Observe returned")
	}
}
