package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/netpharm/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(config.DefaultConfig().Server.Listen, newTestLogger(), nil)
	require.Error(t, err)
}

func TestNewUsesConfiguredAddress(t *testing.T) {
	srv, err := New(config.ListenConfig{Address: "127.0.0.1", Port: 9090}, newTestLogger(), http.NewServeMux())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", srv.httpServer.Addr)
}

func TestRunShutsDownWhenContextCancelled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv, err := New(config.ListenConfig{Address: "127.0.0.1", Port: 0}, newTestLogger(), handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not return after cancellation")
	}
}
