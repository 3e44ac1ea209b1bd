package engine

import (
	"context"
	"fmt"
	"iter"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/interceptor"
	"exec-pipeline/pkg/manager"
	"exec-pipeline/pkg/resilience"
	"exec-pipeline/pkg/stream"

	"go.uber.org/zap"
)

// SeqFunc produces the sequence a streamed call delivers.
type SeqFunc[T any] func(ctx context.Context) (iter.Seq2[T, error], error)

// ExecuteStreamed opens a stream on sink and delivers the values produced by
// factory through the pipeline. Failures are reported to the client as a
// terminal error event and also returned.
//
// With caching active the sequence is collected into a slice so the cached
// value can be replayed; otherwise values are forwarded as they are
// produced and the timeout bounds the whole delivery. Once a value has been
// sent, failures are no longer retried.
func ExecuteStreamed[T any](ctx context.Context, e *Engine, sink stream.Sink, call Call, factory SeqFunc[T]) error {
	if e.streams == nil {
		return ErrNoStreams
	}

	s, err := e.streams.Open(ctx, sink)
	if err != nil {
		return err
	}

	chain := e.build(e.Resolve(call))
	ec := interceptor.NewExecutionContext(call.Plugin, call.Operation, call.UserKey)
	ec.SetMetadata("stream_id", s.ID())

	if hasCache(chain) {
		ec.Decode = cache.DecoderFor[[]T]()

		h := interceptor.Compose(interceptor.Protect(collect(factory)), chain...)
		v, err := h(s.Context(), ec)
		if err == nil {
			var items []T
			items, err = cache.Decode[[]T](v)
			if err != nil {
				err = fmt.Errorf("%w: %v", manager.ErrTypeMismatch, err)
			} else {
				err = stream.Pipe(s, Slice(items))
			}
		}
		return e.finish(s, call, err)
	}

	h := interceptor.Compose(interceptor.Protect(forward(factory, s)), chain...)
	_, err = h(s.Context(), ec)
	return e.finish(s, call, err)
}

func hasCache(chain []interceptor.Interceptor) bool {
	for _, ic := range chain {
		if _, ok := ic.(*interceptor.Cache); ok {
			return true
		}
	}
	return false
}

// collect materializes the sequence into a []T.
func collect[T any](factory SeqFunc[T]) interceptor.Handler {
	return func(ctx context.Context, ec *interceptor.ExecutionContext) (interface{}, error) {
		seq, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		items := []T{}
		for v, err := range seq {
			if err != nil {
				return nil, err
			}
			if err := resilience.Cause(ctx); err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		if err := resilience.Cause(ctx); err != nil {
			return nil, err
		}
		return items, nil
	}
}

// forward sends values to s as they are produced.
func forward[T any](factory SeqFunc[T], s *stream.Stream) interceptor.Handler {
	return func(ctx context.Context, ec *interceptor.ExecutionContext) (interface{}, error) {
		seq, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		sent := 0
		for v, err := range seq {
			if err != nil {
				if sent > 0 {
					return nil, resilience.Permanent(err)
				}
				return nil, err
			}
			if err := resilience.Cause(ctx); err != nil {
				return nil, err
			}
			if err := s.Send(v); err != nil {
				return nil, resilience.Permanent(err)
			}
			sent++
		}

		ec.SetMetadata("events", sent)
		if err := resilience.Cause(ctx); err != nil {
			return nil, resilience.Permanent(err)
		}
		return nil, nil
	}
}

func (e *Engine) finish(s *stream.Stream, call Call, err error) error {
	if err != nil {
		e.logger.Warn("streamed execution failed",
			zap.String("plugin", call.Plugin),
			zap.String("operation", call.Operation),
			zap.String("stream_id", s.ID()),
			zap.String("kind", resilience.Classify(err).String()),
			zap.Error(err),
		)
		s.Fail(err)
		return err
	}
	s.Finish()
	return nil
}
