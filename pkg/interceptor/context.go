package interceptor

import (
	"sync"
	"sync/atomic"
	"time"

	"exec-pipeline/pkg/cache"

	"github.com/google/uuid"
)

// ExecutionContext carries per-call identity and a metadata side channel
// through the interceptor chain. Cancellation travels separately as the
// context.Context handed to each Handler.
type ExecutionContext struct {
	// ID uniquely identifies this call in logs and spans.
	ID string

	// Plugin and Operation name the wrapped work.
	Plugin    string
	Operation string

	// UserKey scopes cache entries. Use cache.GlobalUserKey to share them.
	UserKey string

	Start time.Time

	// Decode converts encoded cache hits back into the caller's type.
	Decode cache.Decoder

	mu       sync.RWMutex
	metadata map[string]interface{}
	attempts atomic.Int32
}

// NewExecutionContext creates a context for one logical call.
func NewExecutionContext(plugin, operation, userKey string) *ExecutionContext {
	if userKey == "" {
		userKey = cache.GlobalUserKey
	}
	return &ExecutionContext{
		ID:        uuid.NewString(),
		Plugin:    plugin,
		Operation: operation,
		UserKey:   userKey,
		Start:     time.Now(),
		metadata:  make(map[string]interface{}),
	}
}

// Name is the span and log name of the call.
func (ec *ExecutionContext) Name() string {
	if ec.Operation == "" {
		return ec.Plugin
	}
	return ec.Plugin + "." + ec.Operation
}

// SetMetadata records a value for observability.
func (ec *ExecutionContext) SetMetadata(key string, value interface{}) {
	ec.mu.Lock()
	ec.metadata[key] = value
	ec.mu.Unlock()
}

// Metadata returns a copy of the recorded metadata.
func (ec *ExecutionContext) Metadata() map[string]interface{} {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	out := make(map[string]interface{}, len(ec.metadata))
	for k, v := range ec.metadata {
		out[k] = v
	}
	return out
}

// Attempts returns the number of attempts made so far.
// Calls without a retry interceptor report 1 once executed.
func (ec *ExecutionContext) Attempts() int {
	return int(ec.attempts.Load())
}

func (ec *ExecutionContext) setAttempt(n int) {
	ec.attempts.Store(int32(n))
}
