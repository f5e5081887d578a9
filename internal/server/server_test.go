package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func startTestServer(t *testing.T, ingest http.Handler) *Server {
	t.Helper()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()

	checker := &mockHealthChecker{liveness: true, readiness: true}
	server := NewServer(Config{}, checker, registry, ingest, zap.NewNop())
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

func get(t *testing.T, server *Server, name, path string) (int, string) {
	t.Helper()

	addr := server.Addr(name)
	if addr == nil {
		t.Fatalf("%s server is not bound", name)
	}
	port := addr.(*net.TCPAddr).Port

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	server := startTestServer(t, nil)

	if code, _ := get(t, server, "health", "/health/live"); code != http.StatusOK {
		t.Errorf("liveness status = %d, want %d", code, http.StatusOK)
	}
	if code, _ := get(t, server, "health", "/health/ready"); code != http.StatusOK {
		t.Errorf("readiness status = %d, want %d", code, http.StatusOK)
	}

	code, body := get(t, server, "metrics", "/metrics")
	if code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", code, http.StatusOK)
	}
	if !strings.Contains(body, "test_metric_total 1") {
		t.Errorf("metrics body missing test_metric_total:\n%s", body)
	}

	if server.Addr("ingest") != nil {
		t.Error("ingest server should not run without a handler")
	}
}

func TestServer_IngestServer(t *testing.T) {
	ingest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	server := startTestServer(t, ingest)

	if code, _ := get(t, server, "ingest", "/v1/records"); code != http.StatusAccepted {
		t.Errorf("ingest status = %d, want %d", code, http.StatusAccepted)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	server := NewServer(Config{HealthPort: port}, &mockHealthChecker{}, prometheus.NewRegistry(), nil, zap.NewNop())
	if err := server.Start(); err == nil {
		t.Error("Start() should fail when the health port is taken")
	}
}

func TestServer_Shutdown(t *testing.T) {
	registry := prometheus.NewRegistry()
	server := NewServer(Config{}, &mockHealthChecker{liveness: true}, registry, nil, zap.NewNop())
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port := server.Addr("health").(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if _, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health/live", port)); err == nil {
		t.Error("Expected error connecting to stopped health server")
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	server := NewServer(Config{}, &mockHealthChecker{liveness: true}, nil, nil, zap.NewNop())
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer server.Shutdown(context.Background())

	if server.Addr("metrics") != nil {
		t.Error("metrics server should not run without a registry")
	}
	if code, _ := get(t, server, "health", "/health/live"); code != http.StatusOK {
		t.Errorf("liveness status = %d, want %d", code, http.StatusOK)
	}
}
