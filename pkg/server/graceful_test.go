package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/config"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
)

func testConfig() config.HTTPConfig {
	cfg := config.Default().HTTP
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

// TestGracefulServer_RunAndShutdown serves a request, reloads on SIGHUP and
// stops when the context ends
func TestGracefulServer_RunAndShutdown(t *testing.T) {
	gs := NewGracefulServer(testConfig(), okHandler(), logging.NewNopLogger())

	var reloads atomic.Int32
	gs.SetConfigReloadFunc(func() error {
		reloads.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	addr, err := gs.Addr(waitCtx)
	if err != nil {
		t.Fatalf("Server never bound: %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("Body = %q, want ok", body)
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("Failed to send SIGHUP: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("SIGHUP did not trigger a reload")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gs.IsShuttingDown() {
		t.Error("SIGHUP stopped the server")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	if !gs.IsShuttingDown() {
		t.Error("Server not marked as shutting down")
	}
	<-gs.ShutdownChannel()
}

func TestGracefulServer_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:-1"
	gs := NewGracefulServer(cfg, okHandler(), logging.NewNopLogger())
	if err := gs.Run(context.Background()); err == nil {
		t.Error("Expected a listen error")
	}
}

// TestGracefulServer_ReloadConfig tests the ReloadConfig method
func TestGracefulServer_ReloadConfig(t *testing.T) {
	gs := NewGracefulServer(testConfig(), okHandler(), logging.NewNopLogger())

	// No reload function is not an error.
	if err := gs.ReloadConfig(); err != nil {
		t.Errorf("ReloadConfig without a function failed: %v", err)
	}

	reloadCalled := false
	gs.SetConfigReloadFunc(func() error {
		reloadCalled = true
		return nil
	})
	if err := gs.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if !reloadCalled {
		t.Error("Reload function was not called")
	}
}

// TestGracefulServer_ReloadConfigWithError tests error handling during reload
func TestGracefulServer_ReloadConfigWithError(t *testing.T) {
	gs := NewGracefulServer(testConfig(), okHandler(), logging.NewNopLogger())
	gs.SetConfigReloadFunc(func() error {
		return http.ErrServerClosed
	})

	if err := gs.ReloadConfig(); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}
