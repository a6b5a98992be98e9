package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "marketplace_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(context.Context) error {
		return errors.New("down")
	}))
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthHandler, registry)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}
	waitForServer(t, port)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/metrics", status: http.StatusOK, body: "marketplace_test_total 1"},
		{path: "/healthz", status: http.StatusOK, body: `"degraded"`},
		{path: "/livez", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", port, tt.path))
			if err != nil {
				t.Fatalf("failed to get %s: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d for %s, got %d", tt.status, tt.path, resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.body) {
				t.Errorf("expected %s body to contain %q, got %q", tt.path, tt.body, string(body))
			}
		})
	}
}

func TestStartMetricsServer_NotReadyWhenStorageIsDown(t *testing.T) {
	logger := log.WithField("test", "http-not-ready")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthHandler)
	waitForServer(t, port)

	for _, path := range []string{"/readyz", "/healthz"} {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", port, path))
		if err != nil {
			t.Fatalf("failed to get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthcheck.NewHandler(version.String()))
	waitForServer(t, port)

	cancel()
	time.Sleep(200 * time.Millisecond)

	if _, err := http.Get(fmt.Sprintf("http://localhost:%d/livez", port)); err == nil {
		t.Error("server should be stopped after context cancellation")
	}
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestShutdownHTTP_WithServer(t *testing.T) {
	port := findFreePort(t)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: http.HandlerFunc(healthcheck.LivenessHandler)}
	go func() { _ = srv.ListenAndServe() }()
	waitForServer(t, port)

	shutdownHTTP(srv, log.WithField("test", "http-shutdown-func"))

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get(fmt.Sprintf("http://localhost:%d/", port)); err == nil {
		t.Error("server should be stopped after shutdownHTTP")
	}
}

func TestStartMetricsServer_BusyAddr(t *testing.T) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := fmt.Sprintf(":%d", listener.Addr().(*net.TCPAddr).Port)
	if srv := startMetricsServer(ctx, addr, log.WithField("test", "http-busy"), healthcheck.NewHandler(version.String())); srv == nil {
		t.Error("startMetricsServer should not return nil even when the port is busy")
	}
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

// waitForServer ждёт, пока порт начнёт принимать соединения.
func waitForServer(t *testing.T, port int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server on port %d did not start", port)
}
