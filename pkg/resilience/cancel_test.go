package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_Cause(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	<-ctx.Done()

	if !errors.Is(context.Cause(ctx), ErrTimeout) {
		t.Errorf("expected ErrTimeout cause, got %v", context.Cause(ctx))
	}
	if Cause(ctx) != ErrTimeout {
		t.Errorf("expected Cause to report ErrTimeout, got %v", Cause(ctx))
	}
}

func TestWithTimeout_ParentFiresFirst(t *testing.T) {
	parent, cancelParent := context.WithCancelCause(context.Background())
	ctx, cancel := WithTimeout(parent, time.Hour)
	defer cancel()

	cancelParent(ErrCancelled)
	<-ctx.Done()

	if Cause(ctx) != ErrCancelled {
		t.Errorf("expected parent's cancellation to win, got %v", Cause(ctx))
	}
}

func TestJoin(t *testing.T) {
	t.Run("second source fires", func(t *testing.T) {
		a := context.Background()
		b, cancelB := context.WithCancelCause(context.Background())

		ctx, cancel := Join(a, b)
		defer cancel()

		if ctx.Err() != nil {
			t.Fatal("joined context should be live")
		}

		cancelB(ErrTimeout)

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("joined context did not fire")
		}
		if Cause(ctx) != ErrTimeout {
			t.Errorf("expected ErrTimeout, got %v", Cause(ctx))
		}
	})

	t.Run("first reason wins", func(t *testing.T) {
		a, cancelA := context.WithCancelCause(context.Background())
		b, cancelB := context.WithCancelCause(context.Background())

		ctx, cancel := Join(a, b)
		defer cancel()

		cancelA(ErrCancelled)
		<-ctx.Done()
		cancelB(ErrTimeout)

		if Cause(ctx) != ErrCancelled {
			t.Errorf("expected first cause to be kept, got %v", Cause(ctx))
		}
	})

	t.Run("values from first", func(t *testing.T) {
		type key struct{}
		a := context.WithValue(context.Background(), key{}, "v")

		ctx, cancel := Join(a, context.Background())
		defer cancel()

		if ctx.Value(key{}) != "v" {
			t.Error("expected value from the first context")
		}

		cancel()
		if Cause(ctx) != ErrCancelled {
			t.Errorf("expected ErrCancelled after cancel, got %v", Cause(ctx))
		}
	})
}

func TestCause_CustomReason(t *testing.T) {
	shutdown := errors.New("shutdown")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(shutdown)

	err := Cause(ctx)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, shutdown) {
		t.Errorf("expected cancellation wrapping the reason, got %v", err)
	}

	if Cause(context.Background()) != nil {
		t.Error("live context has no cause")
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); err != ErrCancelled {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}
