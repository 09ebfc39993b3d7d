package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"montage/internal/pkg/logger"
)

func TestShutdownRunsHandlersLIFO(t *testing.T) {
	mgr := NewManager(logger.Nop(), 5*time.Second)

	var order []string
	for _, name := range []string{"postgres", "redis", "http-server"} {
		name := name
		mgr.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	mgr.Shutdown()

	want := []string{"http-server", "redis", "postgres"}
	if len(order) != len(want) {
		t.Fatalf("expected %d handlers, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	mgr := NewManager(logger.Nop(), time.Second)

	var ran bool
	mgr.Register("first", func(ctx context.Context) error {
		ran = true
		return nil
	})
	mgr.Register("broken", func(ctx context.Context) error {
		return errors.New("boom")
	})

	mgr.Shutdown()
	if !ran {
		t.Error("expected handler after a failing one to run")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Nop(), time.Second)

	calls := 0
	mgr.Register("count", func(ctx context.Context) error {
		calls++
		return nil
	})

	mgr.Shutdown()
	mgr.Shutdown()

	if calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls)
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("expected done channel to be closed")
	}
}

func TestGoStopsWithContext(t *testing.T) {
	mgr := NewManager(logger.Nop(), time.Second)

	stopped := make(chan struct{})
	mgr.Go("sweeper", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	mgr.Shutdown()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("background loop did not observe cancellation")
	}
	if mgr.Context().Err() == nil {
		t.Error("expected manager context to be canceled")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.Nop(), 50*time.Millisecond)

	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	mgr.Shutdown()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v, expected it to honour the timeout", elapsed)
	}
}
