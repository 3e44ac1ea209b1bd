package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"exec-pipeline/pkg/resilience"
)

func TestTimeout_Success(t *testing.T) {
	ti := &Timeout{Duration: time.Second}

	v, err := ti.Intercept(context.Background(), NewExecutionContext("p", "", ""), func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Expected next to receive a context with a deadline")
		}
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Errorf("Expected (done, nil), got (%v, %v)", v, err)
	}
}

func TestTimeout_FiresWhenNextIgnoresContext(t *testing.T) {
	ti := &Timeout{Duration: 30 * time.Millisecond}
	ec := NewExecutionContext("p", "", "")

	start := time.Now()
	_, err := ti.Intercept(context.Background(), ec, func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	})

	if !errors.Is(err, resilience.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Expected return near the deadline, took %v", elapsed)
	}
	if ec.Metadata()["timeout"] != "30ms" {
		t.Errorf("Expected timeout metadata, got %v", ec.Metadata())
	}
}

func TestTimeout_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	ti := &Timeout{Duration: time.Second}
	_, err := ti.Intercept(ctx, NewExecutionContext("p", "", ""), func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		called = true
		return nil, nil
	})

	if called {
		t.Error("next must not run when the context is already cancelled")
	}
	if !errors.Is(err, resilience.ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

func TestTimeout_ParentCancelKeepsCause(t *testing.T) {
	shutdown := errors.New("shutdown")
	ctx, cancel := context.WithCancelCause(context.Background())

	ti := &Timeout{Duration: time.Second}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(shutdown)
	}()

	_, err := ti.Intercept(ctx, NewExecutionContext("p", "", ""), func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	if !errors.Is(err, resilience.ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, shutdown) {
		t.Errorf("Expected original cause to be preserved, got %v", err)
	}
	if resilience.Classify(err) != resilience.KindCancellation {
		t.Errorf("Expected cancellation kind, got %s", resilience.Classify(err))
	}
}

func TestTimeout_NextPanics(t *testing.T) {
	ti := &Timeout{Duration: time.Second}
	_, err := ti.Intercept(context.Background(), NewExecutionContext("p", "", ""), func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		panic("inside timeout")
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Errorf("Expected PanicError, got %v", err)
	}
}
