// Package fakeapp is an in-process imitation of the taller web application.
// It reproduces the HTTP surface the suites drive: Laravel-style session
// cookies, per-session CSRF tokens, flash banners, method spoofing, 422 JSON
// validation errors and the report endpoints.
package fakeapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	SessionCookie   = "taller_session"
	sessionLifetime = 2 * time.Hour
)

// Fault replaces the normal behaviour of one module action.
type Fault struct {
	// Status answers the request with this code instead.
	Status int
	// HideBanner completes the action without a success flash.
	HideBanner bool
}

// Options configures the fake application.
type Options struct {
	Email    string
	Password string
	Logger   *slog.Logger
}

// App holds all state of the fake application. Requests are served one at
// a time.
type App struct {
	mu       sync.Mutex
	email    string
	password string
	logger   *slog.Logger

	sessions map[string]*sessionState
	records  map[string]map[int]*record
	nextID   map[string]int
	reports  map[int]*reporte
	reportID int
	faults   map[string]Fault

	router *mux.Router
}

type flash struct {
	Kind    string
	Message string
	Errors  []string
}

type sessionState struct {
	id       string
	token    string
	user     string
	intended string
	flash    *flash
	old      map[string]string
	errors   map[string]string
}

type sessionKey struct{}

// New creates the application with an empty database.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Email == "" {
		opts.Email = "admin@taller.com"
	}
	if opts.Password == "" {
		opts.Password = "password"
	}

	a := &App{
		email:    opts.Email,
		password: opts.Password,
		logger:   logger.With("component", "fakeapp"),
		sessions: make(map[string]*sessionState),
		records:  make(map[string]map[int]*record),
		nextID:   make(map[string]int),
		reports:  make(map[int]*reporte),
		faults:   make(map[string]Fault),
	}
	for _, module := range Modules() {
		a.records[module] = make(map[int]*record)
	}
	a.router = a.routes()
	return a
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.instrument(a.router)
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Handler().ServeHTTP(w, r)
}

func (a *App) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renderStatus(w, r, http.StatusNotFound)
	})
	r.Use(a.withSession)

	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/login", a.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.requireAuth)

	protected.HandleFunc("/dashboard", a.handleDashboard).Methods(http.MethodGet)

	protected.HandleFunc("/reportes", a.handleReportes).Methods(http.MethodGet)
	protected.HandleFunc("/reportes/generar", a.handleGenerar).Methods(http.MethodPost)
	protected.HandleFunc("/reportes/exportar/{id:[0-9]+}", a.handleExportar).Methods(http.MethodGet)

	module := "/{module:" + modulePattern() + "}"
	protected.HandleFunc(module, a.handleIndex).Methods(http.MethodGet)
	protected.HandleFunc(module, a.handleStore).Methods(http.MethodPost)
	protected.HandleFunc(module+"/create", a.handleCreate).Methods(http.MethodGet)
	protected.HandleFunc(module+"/{id:[0-9]+}", a.handleShow).Methods(http.MethodGet)
	protected.HandleFunc(module+"/{id:[0-9]+}", a.handleSpoofed).Methods(http.MethodPost)
	protected.HandleFunc(module+"/{id:[0-9]+}", a.handleUpdate).Methods(http.MethodPut, http.MethodPatch)
	protected.HandleFunc(module+"/{id:[0-9]+}", a.handleDestroy).Methods(http.MethodDelete)
	protected.HandleFunc(module+"/{id:[0-9]+}/edit", a.handleEdit).Methods(http.MethodGet)

	return r
}

// InjectFault makes module/action misbehave until cleared. Actions are
// index, create, store, show, edit, update, destroy, generar and exportar
// (the last two with module "reportes").
func (a *App) InjectFault(module, action string, f Fault) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[module+"/"+action] = f
}

// ClearFaults restores normal behaviour.
func (a *App) ClearFaults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = make(map[string]Fault)
}

// Count returns the number of stored records of a module.
func (a *App) Count(module string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records[module])
}

// Sessions returns the number of live sessions.
func (a *App) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *App) fault(module, action string) (Fault, bool) {
	f, ok := a.faults[module+"/"+action]
	return f, ok
}

func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r)

		a.logger.Debug(
			"request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.statusCode,
			"duration_ms", float64(time.Since(started).Microseconds())/1000.0,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// withSession serializes requests, attaches the session and enforces the
// CSRF token on state-changing methods.
func (a *App) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()

		sess := a.loadSession(w, r)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if !sess.acceptsToken(r) {
				a.logger.Debug("csrf token mismatch", "path", r.URL.Path)
				if wantsJSON(r) {
					writeJSON(w, 419, map[string]string{"message": "CSRF token mismatch."})
					return
				}
				renderStatus(w, r, 419)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if sess.user != "" {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		if r.Method == http.MethodGet {
			sess.intended = r.URL.Path
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

func (a *App) loadSession(w http.ResponseWriter, r *http.Request) *sessionState {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, ok := a.sessions[c.Value]; ok {
			return sess
		}
	}
	sess := &sessionState{}
	a.issue(w, sess)
	return sess
}

// issue gives sess a fresh ID and token and sends the cookie.
func (a *App) issue(w http.ResponseWriter, sess *sessionState) {
	if sess.id != "" {
		delete(a.sessions, sess.id)
	}
	sess.id = uuid.NewString()
	sess.token = strings.ReplaceAll(uuid.NewString(), "-", "")
	a.sessions[sess.id] = sess

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.id,
		Path:     "/",
		Expires:  time.Now().Add(sessionLifetime),
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *sessionState) acceptsToken(r *http.Request) bool {
	token := r.PostForm.Get("_token")
	if token == "" {
		token = r.Header.Get("X-CSRF-TOKEN")
	}
	return token != "" && token == s.token
}

func (s *sessionState) takeFlash() *flash {
	f := s.flash
	s.flash = nil
	return f
}

func (s *sessionState) takeOld() (map[string]string, map[string]string) {
	old, errs := s.old, s.errors
	s.old, s.errors = nil, nil
	return old, errs
}

func sessionFrom(r *http.Request) *sessionState {
	return r.Context().Value(sessionKey{}).(*sessionState)
}

// method returns the effective method, honouring _method spoofing.
func method(r *http.Request) string {
	if r.Method == http.MethodPost {
		if m := strings.ToUpper(r.PostForm.Get("_method")); m != "" {
			return m
		}
	}
	return r.Method
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formInput(r *http.Request) map[string]string {
	input := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if key == "_token" || key == "_method" || len(values) == 0 {
			continue
		}
		input[key] = strings.TrimSpace(values[0])
	}
	return input
}
