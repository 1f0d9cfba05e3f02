package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRouteKeyCollapsesNumericSegments(t *testing.T) {
	key := RouteKey("PUT", "/guilds/123456789/members/987654321/roles/111")
	want := "PUT /guilds/#/members/#/roles/#"
	if key != want {
		t.Fatalf("got %q want %q", key, want)
	}

	key = RouteKey("GET", "/guilds/123/members")
	if key != "GET /guilds/#/members" {
		t.Fatalf("got %q", key)
	}
}

func TestRouteCeilingNeverExceeded(t *testing.T) {
	l := New(Rule{Limit: 100, Window: time.Second}, Rule{Limit: 3, Window: time.Second})

	base := time.Now()
	clock := base
	l.now = func() time.Time { return clock }

	admitted := 0
	for i := 0; i < 10; i++ {
		if ok, _ := l.reserve("GET /guilds/#"); ok {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d calls, route ceiling is 3", admitted)
	}

	// Other routes still have capacity.
	if ok, _ := l.reserve("GET /channels/#"); !ok {
		t.Fatal("independent route should not be blocked")
	}

	// After the window slides past, capacity returns.
	clock = base.Add(1100 * time.Millisecond)
	if ok, _ := l.reserve("GET /guilds/#"); !ok {
		t.Fatal("expected capacity after window elapsed")
	}
}

func TestGlobalCeilingSpansRoutes(t *testing.T) {
	l := New(Rule{Limit: 4, Window: time.Second}, Rule{Limit: 10, Window: time.Second})

	clock := time.Now()
	l.now = func() time.Time { return clock }

	routes := []string{"a", "b", "c", "d", "e", "f"}
	admitted := 0
	for _, r := range routes {
		if ok, _ := l.reserve(r); ok {
			admitted++
		}
	}
	if admitted != 4 {
		t.Fatalf("admitted %d calls across routes, global ceiling is 4", admitted)
	}
}

func TestRouteOverride(t *testing.T) {
	l := New(Rule{Limit: 100, Window: time.Second}, Rule{Limit: 10, Window: time.Second})
	l.SetRouteRule("POST /guilds/#/bans/#", Rule{Limit: 1, Window: time.Second})

	clock := time.Now()
	l.now = func() time.Time { return clock }

	if ok, _ := l.reserve("POST /guilds/#/bans/#"); !ok {
		t.Fatal("first call should be admitted")
	}
	if ok, _ := l.reserve("POST /guilds/#/bans/#"); ok {
		t.Fatal("override ceiling of 1 should block the second call")
	}
}

func TestZeroLimitClampedToOne(t *testing.T) {
	l := New(Rule{Limit: 0, Window: time.Second}, Rule{Limit: -3, Window: time.Second})
	l.SetRouteRule("r", Rule{Limit: 0, Window: time.Second})

	clock := time.Now()
	l.now = func() time.Time { return clock }

	if ok, _ := l.reserve("r"); !ok {
		t.Fatal("clamped ceiling should still admit one call")
	}
	if ok, _ := l.reserve("r"); ok {
		t.Fatal("second call should be blocked at the clamped ceiling")
	}
}

func TestWaitForSlotBlocksUntilCapacity(t *testing.T) {
	l := New(Rule{Limit: 1, Window: 50 * time.Millisecond}, Rule{Limit: 1, Window: 50 * time.Millisecond})

	ctx := context.Background()
	if err := l.WaitForSlot(ctx, "r"); err != nil {
		t.Fatalf("first slot: %v", err)
	}

	start := time.Now()
	if err := l.WaitForSlot(ctx, "r"); err != nil {
		t.Fatalf("second slot: %v", err)
	}
	if waited := time.Since(start); waited < 30*time.Millisecond {
		t.Fatalf("second caller should have waited out the window, waited %v", waited)
	}
}

func TestWaitForSlotHonorsContext(t *testing.T) {
	l := New(Rule{Limit: 1, Window: time.Hour}, Rule{Limit: 1, Window: time.Hour})
	if err := l.WaitForSlot(context.Background(), "r"); err != nil {
		t.Fatalf("first slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitForSlot(ctx, "r"); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentReservations(t *testing.T) {
	l := New(Rule{Limit: 5, Window: time.Hour}, Rule{Limit: 5, Window: time.Hour})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.reserve("r"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 5 {
		t.Fatalf("admitted %d under race, ceiling is 5", admitted)
	}
}

func TestCooldown(t *testing.T) {
	c := NewCooldown(time.Hour)
	if !c.CanUse("u1") {
		t.Fatal("first use should pass")
	}
	if c.CanUse("u1") {
		t.Fatal("second use inside cooldown should fail")
	}
	if c.TimeUntilNext("u1") <= 0 {
		t.Fatal("expected positive remaining cooldown")
	}
	if c.TimeUntilNext("u2") != 0 {
		t.Fatal("unknown user has no cooldown")
	}
}
