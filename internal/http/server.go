package http

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strconv"
	"time"

	"go-report-download-panel/internal/backend"
	"go-report-download-panel/internal/config"
	"go-report-download-panel/internal/download"
	"go-report-download-panel/internal/draft"
	"go-report-download-panel/internal/session"
	"go-report-download-panel/internal/statuslog"
	"go-report-download-panel/internal/stream"
)

// Server wraps the HTTP server and the panel's long-lived components.
type Server struct {
	httpServer *nethttp.Server
	backend    *backend.Client
	sessions   *session.Registry
	stream     *stream.Client
	draftStore *draft.Store
	controller *download.Controller
}

// NewServer wires the whole panel: backend client, session registry, status stream,
// download controller, draft store and the v1 routes.
func NewServer(cfg config.Config) (*Server, error) {
	bc := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	if !bc.Enabled() {
		return nil, fmt.Errorf("backend base URL required (set APP_BACKEND_BASE_URL)")
	}

	var draftStore *draft.Store
	if cfg.DraftSQLitePath != "" {
		created, err := draft.NewSQLiteStore(cfg.DraftSQLitePath, cfg.DraftName)
		if err != nil {
			return nil, err
		}
		draftStore = created
	}

	status := statuslog.New(cfg.StatusLogMaxEntries)
	registry := session.NewRegistry(cfg.SessionTickInterval, nil)

	ctrl := download.NewController(bc, registry, status, draftStore, cfg.DefaultChunkSize)
	streamClient := stream.NewClient(stream.Options{
		URL:              bc.StreamURL(),
		ReconnectDelay:   cfg.StreamReconnectDelay,
		WatchdogInterval: cfg.StreamWatchdogInterval,
		KeepAliveTimeout: cfg.StreamKeepAliveTimeout,
	}, streamMetricsHandler{next: ctrl})
	ctrl.SetStream(streamClient)

	SetMetricsProbes(registry.Len, func() string { return string(streamClient.State()) })

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/", dashboardHandler)
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/api/v1/download/start", downloadStartHandler(ctrl))
	mux.HandleFunc("/api/v1/download/sessions", downloadSessionsHandler(registry))
	mux.HandleFunc("/api/v1/download/sessions/", sessionDetailRouter(registry))
	mux.HandleFunc("/api/v1/download/status", downloadStatusHandler(status, ctrl))
	mux.HandleFunc("/api/v1/reports/options", reportOptionsHandler(ctrl))
	mux.HandleFunc("/api/v1/configs", configsHandler(bc))
	mux.HandleFunc("/api/v1/configs/", configDetailRouter(bc))
	mux.HandleFunc("/api/v1/schedules", schedulesHandler(bc))
	mux.HandleFunc("/api/v1/schedules/", scheduleDetailRouter(bc))
	mux.HandleFunc("/api/v1/history", historyHandler(bc, ctrl))
	mux.HandleFunc("/api/v1/draft", draftHandler(draftStore))
	mux.HandleFunc("/api/v1/status/services", servicesStatusHandler(bc, draftStore, ctrl))

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(observabilityMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		httpServer: httpServer,
		backend:    bc,
		sessions:   registry,
		stream:     streamClient,
		draftStore: draftStore,
		controller: ctrl,
	}, nil
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and the stream, registry and draft
// store behind it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	s.sessions.Close()
	if s.draftStore != nil {
		_ = s.draftStore.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// streamMetricsHandler counts stream events before handing them to the controller.
type streamMetricsHandler struct {
	next stream.Handler
}

func (h streamMetricsHandler) StreamOpened(sessionID, connID string) {
	recordStreamEvent("opened")
	h.next.StreamOpened(sessionID, connID)
}

func (h streamMetricsHandler) StreamMessage(sessionID, line string) {
	recordStreamEvent("message")
	h.next.StreamMessage(sessionID, line)
}

func (h streamMetricsHandler) StreamFinished(sessionID string) {
	recordStreamEvent("finished")
	recordDownloadRun("finished")
	h.next.StreamFinished(sessionID)
}

func (h streamMetricsHandler) StreamJobError(sessionID, message string) {
	recordStreamEvent("job_error")
	recordDownloadRun("job_error")
	h.next.StreamJobError(sessionID, message)
}

func (h streamMetricsHandler) StreamTransportError(sessionID string, err error) {
	recordStreamEvent("transport_error")
	h.next.StreamTransportError(sessionID, err)
}

func (h streamMetricsHandler) StreamStale(sessionID string, idle time.Duration) {
	recordStreamEvent("stale")
	h.next.StreamStale(sessionID, idle)
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func readyHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ready",
	})
}

func loggingMiddleware(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)
		fmt.Printf("%s %s %s %s\n", r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
