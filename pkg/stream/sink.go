package stream

import (
	"errors"
	"net/http"
	"sync"
)

// Sink is the push channel a stream writes to.
type Sink interface {
	// SetHeader sets a protocol header. It only has effect before the first Flush.
	SetHeader(key, value string)

	Write(p []byte) (int, error)
	Flush() error

	// Done is closed when the client goes away.
	Done() <-chan struct{}

	// Close ends the response from the server side.
	Close() error
}

var (
	// ErrNotFlushable is returned when a response writer cannot flush.
	ErrNotFlushable = errors.New("stream: response writer does not support flushing")

	// ErrSinkClosed is returned when writing to a closed sink.
	ErrSinkClosed = errors.New("stream: sink closed")
)

// HTTPSink adapts an http.ResponseWriter and its request to a Sink.
// The request context signals client disconnects.
type HTTPSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}

	mu     sync.Mutex
	closed bool
	ended  chan struct{}
}

// NewHTTPSink returns a sink for w. Returns ErrNotFlushable if w cannot flush.
func NewHTTPSink(w http.ResponseWriter, r *http.Request) (*HTTPSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotFlushable
	}
	return &HTTPSink{
		w:       w,
		flusher: flusher,
		done:    r.Context().Done(),
		ended:   make(chan struct{}),
	}, nil
}

func (s *HTTPSink) SetHeader(key, value string) {
	s.w.Header().Set(key, value)
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSinkClosed
	}
	return s.w.Write(p)
}

func (s *HTTPSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.flusher.Flush()
	return nil
}

func (s *HTTPSink) Done() <-chan struct{} {
	return s.done
}

// Close stops further writes. The handler returning ends the HTTP response.
func (s *HTTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ended)
	}
	return nil
}

// Ended is closed once the stream closed the sink.
func (s *HTTPSink) Ended() <-chan struct{} {
	return s.ended
}
