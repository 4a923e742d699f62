package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/GoSSB/internal/logging"
)

// WebServer exposes run history, status and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server serving the history, status and live endpoints.
func NewWebServer(addr string, hub *Hub) *WebServer {
	return &WebServer{
		hub:    hub,
		logger: hub.logger,
		srv:    &http.Server{Addr: addr, Handler: NewHandler(hub), ReadHeaderTimeout: 5 * time.Second},
	}
}

// NewHandler returns the HTTP routes for hub.
func NewHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/ws", hub.handleWS)
	return mux
}

// Start begins listening and shuts down when the context is canceled. It
// blocks until the server stops.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("err", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.F("err", err))
	}
}
