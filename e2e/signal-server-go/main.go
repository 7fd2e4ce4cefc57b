// Command signal-server-go is a permissive signaling relay for browser E2E
// tests: every origin is accepted, rooms live in memory, and the chosen port
// is printed as "READY <port>" once the listener is up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	hub := signaling.NewHub(logger)
	ctrl := room.NewController(room.Config{Notifier: hub, Logger: logger})
	sig := signaling.NewServer(signaling.Config{
		Controller: ctrl,
		Relay:      relay.New(relay.Config{Registry: ctrl.Registry(), Notifier: hub, Logger: logger}),
		Hub:        hub,
		Logger:     logger,
		// Accept all origins for E2E.
		CheckOrigin: func(*http.Request) bool { return true },
	})

	mux := http.NewServeMux()
	sig.RegisterRoutes(mux)
	mux.HandleFunc("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		// This endpoint is intentionally permissive for local E2E tests.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"rooms":%d,"connections":%d}`, ctrl.Table().Len(), ctrl.Registry().Len())
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		sig.Announce("Server is shutting down")
		_ = srv.Shutdown(context.Background())
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = sig.Close(closeCtx)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
