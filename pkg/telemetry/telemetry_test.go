package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_WithoutEndpoint(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer shutdown(context.Background())

	if otel.GetTracerProvider() != provider {
		t.Error("expected provider to be installed globally")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context")
	}
	span.End()
}

func TestInit_ExportsToCollector(t *testing.T) {
	var requests atomic.Int32
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.Endpoint = server.URL
	provider, shutdown, err := Init(context.Background(), config)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if requests.Load() == 0 {
		t.Fatal("expected the exporter to reach the collector")
	}
	if got := path.Load(); got != "/v1/traces" {
		t.Errorf("expected /v1/traces, got %v", got)
	}
}

func TestInit_InvalidEndpoint(t *testing.T) {
	config := DefaultConfig()
	config.Endpoint = "localhost:4318"
	if _, _, err := Init(context.Background(), config); err == nil {
		t.Error("expected an error for an endpoint without a scheme")
	}
}
