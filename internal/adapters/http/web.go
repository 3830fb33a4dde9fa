package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"membership/internal/adapters/http/antiforgery"
	"membership/internal/adapters/http/middleware"
	"membership/internal/adapters/http/perf"
	"membership/internal/adapters/http/views"
	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/application/orchestrators"
)

// Extension is what a hosting site calls to embed membership features.
// The standalone server in cmd/server is one such host.
type Extension interface {
	// EnrollmentForm writes the enrollment form, or an "already enrolled" message for an enrolled caller.
	EnrollmentForm(w io.Writer, r *http.Request) error
	// StatusPanel writes the status fragment for email, falling back to the caller's identity.
	StatusPanel(w io.Writer, r *http.Request, email string) error
	// AdminRoster serves the admin roster page.
	AdminRoster(w http.ResponseWriter, r *http.Request)
	// Register mounts every membership route on mux.
	Register(mux *http.ServeMux)
}

// Options configures a Server.
type Options struct {
	CSRFKey        []byte // 32 bytes, shared by gorilla/csrf and the action tokens
	TokenTTL       time.Duration
	SecureCookies  bool
	TrustedOrigins []string
	RateLimit      int // enrollment POSTs per IP per minute
	SlowRequest    time.Duration

	Identity      middleware.HostIdentity
	ContactURL    string
	EnrollURL     string
	IntroMarkdown string
}

// Deps holds the Server's collaborators.
type Deps struct {
	Members   memberStore.Store
	Notifier  *orchestrators.Notifier
	Collector *perf.Collector
	// Ping reports storage health for /healthz; nil means always healthy.
	Ping func(ctx context.Context) error
}

// Server serves the membership routes. All state is injected; there are no package globals.
type Server struct {
	opts    Options
	deps    Deps
	tokens  *antiforgery.Issuer
	views   *views.Renderer
	intro   template.HTML
	limiter *middleware.RateLimiter
	now     func() time.Time
}

var _ Extension = (*Server)(nil)

// NewServer validates options and parses templates.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if len(opts.CSRFKey) != 32 {
		return nil, errors.New("csrf key must be 32 bytes")
	}
	if deps.Members == nil {
		return nil, errors.New("member store is required")
	}
	if deps.Collector == nil {
		deps.Collector = perf.NewCollector()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Hour
	}
	if opts.EnrollURL == "" {
		opts.EnrollURL = "/membership/form"
	}
	r, err := views.New()
	if err != nil {
		return nil, err
	}
	return &Server{
		opts:    opts,
		deps:    deps,
		tokens:  antiforgery.NewIssuer(opts.CSRFKey, opts.TokenTTL),
		views:   r,
		intro:   views.RenderMarkdown(opts.IntroMarkdown),
		limiter: middleware.NewRateLimiter(opts.RateLimit, time.Minute),
		now:     time.Now,
	}, nil
}

// Register mounts the public and admin routes.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /membership/form", s.handleForm)
	mux.Handle("POST /membership/enroll", middleware.RateLimit(s.limiter)(http.HandlerFunc(s.handleEnroll)))
	mux.HandleFunc("GET /membership/status", s.handleStatus)

	admin := s.opts.Identity.RequireAdmin
	mux.Handle("GET /admin/members", admin(http.HandlerFunc(s.AdminRoster)))
	mux.Handle("POST /admin/members/update", admin(http.HandlerFunc(s.handleRosterUpdate)))
	mux.Handle("POST /admin/members/export", admin(http.HandlerFunc(s.handleExport)))
	mux.Handle("POST /admin/members/import", admin(http.HandlerFunc(s.handleImport)))
}

// Handler returns the full standalone handler: membership routes, /metrics and /healthz behind the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	mux.Handle("GET /metrics", s.deps.Collector.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Timing -> SecurityHeaders -> Identity -> CSRF -> Route -> Mux
	return middleware.Chain(middleware.Route(mux),
		middleware.CSRF(s.opts.CSRFKey, middleware.CSRFOptions{
			Secure:         s.opts.SecureCookies,
			TrustedOrigins: s.opts.TrustedOrigins,
		}),
		s.opts.Identity.Resolve,
		middleware.SecurityHeaders,
		middleware.Timing(s.deps.Collector, s.opts.SlowRequest),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			slog.Error("health_check_failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// envelope is the JSON shape returned by action endpoints.
type envelope struct {
	Success bool         `json:"success"`
	Data    envelopeData `json:"data"`
}

type envelopeData struct {
	Message string `json:"message"`
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, envelope{Success: success, Data: envelopeData{Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_write_failed", "error", err)
	}
}

// verifyToken checks the per-action token for the caller identity on r.
func (s *Server) verifyToken(r *http.Request, token, action string) error {
	caller := middleware.IdentityFrom(r.Context()).Subject()
	if err := s.tokens.Verify(token, action, caller); err != nil {
		slog.Warn("auth_denied", "action", action, "path", r.URL.Path, "error", err)
		s.deps.Collector.CountEvent("security", "token_rejected")
		return err
	}
	return nil
}

func (s *Server) issueToken(r *http.Request, action string) (string, error) {
	token, err := s.tokens.Issue(action, middleware.IdentityFrom(r.Context()).Subject())
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
