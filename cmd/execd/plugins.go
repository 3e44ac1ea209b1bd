package main

import (
	"context"
	"iter"
	"net/http"
	"strconv"
	"time"

	"exec-pipeline/pkg/api"
	"exec-pipeline/pkg/config"
	"exec-pipeline/pkg/engine"
	"exec-pipeline/pkg/resilience"
)

const maxTicks = 1000

type echoReply struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type tick struct {
	N  int       `json:"n"`
	At time.Time `json:"at"`
}

func (tick) EventType() string { return "tick" }

// registerPlugins mounts the demo plugin routes.
func registerPlugins(s *api.Server) {
	r := s.Router()
	r.HandleFunc("/v1/echo", api.HandleSingle(s, echoCall, echo)).Methods(http.MethodGet)
	r.HandleFunc("/v1/ticks", api.HandleStream(s, ticksCall, ticks)).Methods(http.MethodGet)
}

func echoCall(r *http.Request) engine.Call {
	return engine.Call{
		Plugin:    "echo",
		Operation: "say",
		Component: config.ExecutionConfig{
			Cache: &config.CacheConfig{
				CacheKeyParts: []interface{}{"echo", r.URL.Query().Get("msg")},
				TTLSeconds:    config.Int64(60),
			},
		},
	}
}

func echo(ctx context.Context, r *http.Request) (echoReply, error) {
	msg := r.URL.Query().Get("msg")
	if msg == "" {
		return echoReply{}, resilience.Validationf("msg is required")
	}
	return echoReply{Message: msg, At: time.Now().UTC()}, nil
}

func ticksCall(r *http.Request) engine.Call {
	return engine.Call{
		Plugin:    "ticks",
		Operation: "count",
		Component: config.ExecutionConfig{TimeoutMillis: config.Int64(0)},
	}
}

// ticks emits count ticks (default 5) spaced by interval (default 1s).
func ticks(ctx context.Context, r *http.Request) (iter.Seq2[tick, error], error) {
	q := r.URL.Query()

	count := 5
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTicks {
			return nil, resilience.Validationf("count must be between 1 and %d", maxTicks)
		}
		count = n
	}

	interval := time.Second
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, resilience.Validationf("invalid interval %q", v)
		}
		interval = d
	}

	return func(yield func(tick, error) bool) {
		for i := 1; i <= count; i++ {
			if i > 1 {
				if err := resilience.SleepContext(ctx, interval); err != nil {
					yield(tick{}, err)
					return
				}
			}
			if !yield(tick{N: i, At: time.Now().UTC()}, nil) {
				return
			}
		}
	}, nil
}
