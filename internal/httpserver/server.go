package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/monitor"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/streams"
)

const defaultListLimit = 50

// Scheduler starts runs on demand and reports progress.
type Scheduler interface {
	Trigger() (string, error)
	Status() monitor.Status
}

// RunStore reads stored runs.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	GetRun(ctx context.Context, id string) (*report.Report, error)
	Latest(ctx context.Context) (*report.Report, error)
}

// Options configures the server.
type Options struct {
	Target    string
	Scheduler Scheduler
	History   RunStore // optional
	Metrics   *metrics.Metrics
	Streams   *streams.Manager

	// TriggerRPS limits manual runs when positive.
	TriggerRPS   float64
	TriggerBurst int
}

// Server exposes the monitor over HTTP.
type Server struct {
	opts    Options
	logger  *slog.Logger
	started time.Time
	limiter *triggerLimiter
}

// New constructs the monitor API server.
func New(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		logger:  logger.With("component", "httpserver"),
		started: time.Now().UTC(),
		limiter: newTriggerLimiter(opts.TriggerRPS, opts.TriggerBurst),
	}
}

// Handler returns the root HTTP handler with instrumentation middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.Handle("/runs", s.rateLimit(http.HandlerFunc(s.handleTrigger))).Methods(http.MethodPost)
	api.HandleFunc("/runs/latest", s.handleLatestRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)

	router.HandleFunc("/ws", s.handleLive).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	router.NotFoundHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))

	return router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type latestSummary struct {
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	OK         bool      `json:"ok"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"service":        "tallercheck",
		"target":         s.opts.Target,
		"time":           time.Now().UTC().Format(time.RFC3339Nano),
		"uptime_seconds": time.Since(s.started).Seconds(),
	}

	if s.opts.Scheduler != nil {
		st := s.opts.Scheduler.Status()
		payload["running"] = st.Running
		payload["runs"] = st.Runs
		if st.CurrentRun != "" {
			payload["current_run"] = st.CurrentRun
		}
		if st.LastError != "" {
			payload["last_error"] = st.LastError
		}
		if st.NextRun != nil {
			payload["next_run"] = st.NextRun.UTC().Format(time.RFC3339)
		}
		if st.Latest != nil {
			payload["latest"] = latestSummary{
				RunID:      st.Latest.RunID,
				FinishedAt: st.Latest.FinishedAt,
				Passed:     st.Latest.Passed,
				Failed:     st.Latest.Failed,
				Skipped:    st.Latest.Skipped,
				OK:         st.Latest.OK(),
			}
		}
	}
	if s.opts.Streams != nil {
		payload["live_subscribers"] = s.opts.Streams.Subscribers(monitor.LiveKey)
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.opts.History.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		if s.opts.Scheduler != nil {
			if latest := s.opts.Scheduler.Status().Latest; latest != nil {
				writeJSON(w, http.StatusOK, latest)
				return
			}
		}
		writeError(w, http.StatusNotFound, "no runs yet")
		return
	}

	s.writeRun(w, r, func(ctx context.Context) (*report.Report, error) {
		return s.opts.History.Latest(ctx)
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	id := mux.Vars(r)["id"]
	s.writeRun(w, r, func(ctx context.Context) (*report.Report, error) {
		return s.opts.History.GetRun(ctx, id)
	})
}

func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, load func(context.Context) (*report.Report, error)) {
	rep, err := load(r.Context())
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error("load run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor is not running")
		return
	}

	id, err := s.opts.Scheduler.Trigger()
	if errors.Is(err, monitor.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("trigger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("run triggered", "run_id", id, "remote", r.RemoteAddr)
	w.Header().Set("Location", "/api/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := routeTemplate(r)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordAPIRequest(r.Method, route, sw.statusCode)
		}

		s.logger.Debug(
			"request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.statusCode,
			"duration_ms", float64(time.Since(started).Microseconds())/1000.0,
		)
	})
}

// routeTemplate keeps metric labels bounded: "/api/v1/runs/{id}", not the ID.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the instrumentation.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
