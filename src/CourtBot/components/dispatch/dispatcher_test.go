package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ratelimit"
)

func TestPriorityOrder(t *testing.T) {
	// Single worker, blocked on a gate so we can queue behind it.
	d := New(nil, 1)
	defer d.Close()

	gate := make(chan struct{})
	blocker := d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		<-gate
		return nil, nil
	})

	var mu sync.Mutex
	var order []string
	record := func(name string) Job {
		return func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	chans := []<-chan Result{
		d.Add(context.Background(), "r", PriorityLow, record("low")),
		d.Add(context.Background(), "r", PriorityNormal, record("normal-1")),
		d.Add(context.Background(), "r", PriorityHigh, record("high")),
		d.Add(context.Background(), "r", PriorityNormal, record("normal-2")),
	}
	close(gate)
	<-blocker
	for _, ch := range chans {
		<-ch
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "normal-1", "normal-2", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}
}

func TestJobErrorReachesOnlyItsCaller(t *testing.T) {
	d := New(nil, 2)
	defer d.Close()

	boom := errors.New("boom")
	bad := d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	good := d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})

	if res := <-bad; !errors.Is(res.Err, boom) {
		t.Fatalf("expected boom, got %v", res.Err)
	}
	if res := <-good; res.Err != nil || res.Value != 42 {
		t.Fatalf("queue should keep draining, got %v %v", res.Value, res.Err)
	}
}

func TestJobPanicIsIsolated(t *testing.T) {
	d := New(nil, 1)
	defer d.Close()

	panicked := d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		panic("kaboom")
	})
	after := d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	res := <-panicked
	if res.Err == nil {
		t.Fatal("expected error from panicking job")
	}
	if res := <-after; res.Err != nil {
		t.Fatalf("worker should survive a panic: %v", res.Err)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	d := New(nil, 2)
	defer d.Close()

	var mu sync.Mutex
	running, peak := 0, 0

	var chans []<-chan Result
	for i := 0; i < 8; i++ {
		chans = append(chans, d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		}))
	}
	for _, ch := range chans {
		<-ch
	}

	if peak > 2 {
		t.Fatalf("peak concurrency %d exceeds worker bound 2", peak)
	}
}

func TestRateLimitedExecution(t *testing.T) {
	l := ratelimit.New(
		ratelimit.Rule{Limit: 2, Window: 40 * time.Millisecond},
		ratelimit.Rule{Limit: 2, Window: 40 * time.Millisecond},
	)
	d := New(l, 4)
	defer d.Close()

	start := time.Now()
	var chans []<-chan Result
	for i := 0; i < 4; i++ {
		chans = append(chans, d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}))
	}
	for _, ch := range chans {
		if res := <-ch; res.Err != nil {
			t.Fatalf("job: %v", res.Err)
		}
	}

	// Four calls at 2 per 40ms means the last two waited for the window.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected rate limiting to slow the batch, took %v", elapsed)
	}
}

func TestAddAfterClose(t *testing.T) {
	d := New(nil, 1)
	d.Close()

	res := <-d.Add(context.Background(), "r", PriorityNormal, func(ctx context.Context) (interface{}, error) {
		return nil, fmt.Errorf("should never run")
	})
	if res.Err == nil {
		t.Fatal("expected closed error")
	}
}
