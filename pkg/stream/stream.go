package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"

	"go.uber.org/zap"
)

// State is the lifecycle state of a stream.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var heartbeatFrame = []byte(": heartbeat\n\n")

// Stream is one live delivery. Send, Fail, and Finish may be called from the
// producer goroutine while the heartbeat writes concurrently; writes are
// serialized so data events never interleave.
type Stream struct {
	id       string
	manager  *Manager
	sink     Sink
	ctx      context.Context
	cancel   context.CancelCauseFunc
	stopJoin context.CancelFunc
	opened   time.Time

	mu    sync.Mutex
	state State

	stopped chan struct{}
	once    sync.Once
}

// ID identifies the stream in logs.
func (s *Stream) ID() string { return s.id }

// Context is done when the stream is cancelled for any reason.
func (s *Stream) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send emits v as one event. The event type comes from an Event wrapper or
// an EventTyper; other values use the default type.
func (s *Stream) Send(v interface{}) error {
	switch e := v.(type) {
	case Event:
		return s.SendEvent(e.Type, e.Data)
	case *Event:
		return s.SendEvent(e.Type, e.Data)
	case EventTyper:
		return s.SendEvent(e.EventType(), v)
	default:
		return s.SendEvent("", v)
	}
}

// SendEvent emits data as an event of the given type. Nothing is written
// once the stream is cancelled.
func (s *Stream) SendEvent(eventType string, data interface{}) error {
	if err := resilience.Cause(s.ctx); err != nil {
		return err
	}

	cfg := s.manager.config
	eventType = SanitizeEventType(eventType, cfg.MaxEventTypeLength, cfg.DefaultEventType)

	payload, err := json.Marshal(data)
	if err != nil {
		return resilience.Validation(fmt.Errorf("stream: encode %s event: %w", eventType, err))
	}

	if err := s.write(frame(eventType, payload)); err != nil {
		return err
	}

	s.manager.metrics.RecordStreamEvent(eventType)
	return nil
}

func frame(eventType string, payload []byte) []byte {
	buf := make([]byte, 0, len(eventType)+len(payload)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, payload...)
	buf = append(buf, "\n\n"...)
	return buf
}

// write sends one frame while the stream is open. A failed write closes the
// stream.
func (s *Stream) write(p []byte) error {
	return s.writeThen(p, StateOpen)
}

// writeThen sends one frame and moves the stream to next before releasing
// the lock, so a terminal frame is always the last one written.
func (s *Stream) writeThen(p []byte, next State) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrStreamClosed
	}

	_, err := s.sink.Write(p)
	if err == nil {
		err = s.sink.Flush()
	}
	s.state = next
	s.mu.Unlock()

	if err != nil {
		s.terminate(StateClosed, metrics.CloseDisconnected, fmt.Errorf("%w: %v", ErrDisconnected, err), false)
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return nil
}

// Fail emits a terminal error event and closes the stream. It does nothing
// if the stream is already closed or cancelled.
func (s *Stream) Fail(err error) {
	if err == nil {
		s.Finish()
		return
	}
	if s.ctx.Err() != nil {
		s.terminate(StateClosed, reasonFor(s.ctx), context.Cause(s.ctx), true)
		return
	}

	msg := SanitizeMessage(err.Error(), s.manager.config.MaxErrorLength)
	payload, _ := json.Marshal(ErrorPayload{Error: msg})

	if werr := s.writeThen(frame("error", payload), StateClosed); werr == nil {
		s.manager.metrics.RecordStreamEvent("error")
	}

	s.manager.logger.Debug("stream failed", zap.String("stream_id", s.id), zap.Error(err))
	s.terminate(StateClosed, metrics.CloseFailed, err, true)
}

// Finish closes the stream after the producer is exhausted.
func (s *Stream) Finish() {
	if s.ctx.Err() != nil {
		s.terminate(StateClosed, reasonFor(s.ctx), context.Cause(s.ctx), true)
		return
	}
	s.terminate(StateClosed, metrics.CloseFinished, context.Canceled, true)
}

// Abort cancels the stream and stops its heartbeat.
func (s *Stream) Abort() {
	s.terminate(StateAborted, metrics.CloseAborted, ErrAborted, true)
}

// Done is closed once the stream has terminated.
func (s *Stream) Done() <-chan struct{} {
	return s.stopped
}

// terminate moves the stream out of the open state exactly once: it stops
// the heartbeat, cancels the context, deregisters, and optionally closes
// the sink.
func (s *Stream) terminate(state State, reason string, cause error, closeSink bool) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()

		close(s.stopped)
		s.cancel(cause)
		s.stopJoin()
		s.manager.remove(s.id)

		if closeSink {
			if err := s.sink.Close(); err != nil {
				s.manager.logger.Debug("sink close failed", zap.String("stream_id", s.id), zap.Error(err))
			}
		}

		duration := time.Since(s.opened)
		s.manager.metrics.RecordStreamClosed(reason, duration)
		s.manager.logger.Debug("stream closed",
			zap.String("stream_id", s.id),
			zap.String("reason", reason),
			zap.Duration("duration", duration),
		)
	})
}

func (s *Stream) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.write(heartbeatFrame); err != nil {
				return
			}
		case <-s.stopped:
			return
		}
	}
}

// watch closes the stream when the client disconnects or the context is
// cancelled from outside.
func (s *Stream) watch() {
	select {
	case <-s.sink.Done():
		s.terminate(StateClosed, metrics.CloseDisconnected, ErrDisconnected, false)
	case <-s.ctx.Done():
		reason := reasonFor(s.ctx)
		state := StateClosed
		if reason == metrics.CloseAborted {
			state = StateAborted
		}
		s.terminate(state, reason, context.Cause(s.ctx), true)
	case <-s.stopped:
	}
}

func reasonFor(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), ErrAborted) {
		return metrics.CloseAborted
	}
	return metrics.CloseDisconnected
}

// Pipe sends every value of seq in order. It stops at the first producer
// error, which it returns, or when sending fails.
func Pipe[T any](s *Stream, seq iter.Seq2[T, error]) error {
	for v, err := range seq {
		if err != nil {
			return err
		}
		if err := s.Send(v); err != nil {
			return err
		}
	}
	return nil
}
