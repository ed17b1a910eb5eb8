package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the display websocket and the state API. The listener is bound in
// main so a bind failure is a startup error.
// ============================================================================

const httpShutdownTimeout = 3 * time.Second

// newHTTPRouter mounts the display server routes. /healthz answers 503 while
// hostConnected reports false.
func newHTTPRouter(server *Server, hostConnected func() bool) *mux.Router {
	r := mux.NewRouter()
	server.Register(r)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if hostConnected != nil && !hostConnected() {
			http.Error(w, errHostNotConnected.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return r
}

// serveHTTP serves handler on ln and shuts it down gracefully when ctx is
// canceled.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	logger.Info("http server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown; the hub
		// closes them on the same ctx.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
