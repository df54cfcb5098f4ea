package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeferred_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	starter := StarterFunc(func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})

	d := NewDeferred()
	if d.StartedOrStarting() {
		t.Fatalf("fresh handle reports started")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Start(context.Background(), starter); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}

	deadline := time.After(2 * time.Second)
	for !d.StartedOrStarting() {
		select {
		case <-deadline:
			t.Fatal("start never began")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("starter calls=%d", got)
	}
	if err := d.Start(context.Background(), starter); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("starter re-run, calls=%d", got)
	}
	if d.StartedAt().IsZero() {
		t.Fatalf("started_at not set")
	}
}

func TestDeferred_FailedStartCanRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d := NewDeferred()
	err := d.Start(context.Background(), StarterFunc(func(context.Context) error { return boom }))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if d.StartedOrStarting() {
		t.Fatalf("failed start still reported as started")
	}
	if err := d.Start(context.Background(), StarterFunc(func(context.Context) error { return nil })); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := d.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestDeferred_AwaitWithoutStart(t *testing.T) {
	t.Parallel()

	if err := NewDeferred().Await(context.Background()); !errors.Is(err, ErrNodeNotStarted) {
		t.Fatalf("err=%v", err)
	}
}
