// Package server exposes a small read-only HTTP status surface for the
// bridge.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/meterbridge/meterbridge/pkg/bridge"
	"github.com/meterbridge/meterbridge/pkg/common"
	"github.com/meterbridge/meterbridge/pkg/log"
)

// StatusProvider reports the latest cycle of every pipeline.
type StatusProvider interface {
	Statuses() []bridge.Status
}

// Server serves /healthz and /api/status.
type Server struct {
	statuses StatusProvider

	listenAddr string
	serverName string
	// staleAfter marks the bridge unhealthy when no pipeline succeeded for
	// this long. Zero disables the check.
	staleAfter time.Duration
	now        func() time.Time
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(statuses StatusProvider) *Server {
	srv := &Server{
		statuses:   statuses,
		serverName: "meterbridge",
		now:        time.Now,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP status server listen address, empty disables it")
	staleAfter := lflag.Duration("healthz-stale-after", 0, "Report unhealthy when no pipeline succeeded for this long (0 disables)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.staleAfter = *staleAfter
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/{pipeline}", s.handlePipelineStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if s.listenAddr == "" {
		<-ctx.Done()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting status server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, struct {
		Error string `json:"error"`
	}{Error: msg}, code)
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName+"/"+common.Version())
		next.ServeHTTP(w, r)
	})
}
