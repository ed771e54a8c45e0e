// Package server serves the lab page, the session REST API, the per-session
// WebSocket notification channel and the share-link redirector.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/assets"
	"github.com/livetemplate/labkit/internal/config"
	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/session"
	"github.com/livetemplate/labkit/internal/share"
	"github.com/livetemplate/labkit/internal/validate"
)

// sweepInterval is how often idle sessions are looked for.
const sweepInterval = time.Minute

// Options wires the server's collaborators. Config, Fetcher and Engine are
// required.
type Options struct {
	Config    *config.Config
	Fetcher   *fetch.Fetcher
	Engine    playground.Engine
	Sharer    *share.Sharer       // nil disables short-link restore and /s/
	Validator *validate.Validator // nil disables validation
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	LabsDir   string // local labs directory, watched for edits
}

// Server is the labkit HTTP server.
type Server struct {
	config    *config.Config
	fetcher   *fetch.Fetcher
	engine    playground.Engine
	sharer    *share.Sharer
	validator *validate.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	labsDir   string

	templates *template.Template
	router    *mux.Router
	handler   http.Handler
	sessions  *sessionStore
	hub       *Hub

	actions       *keyedLimiter
	limiterCancel context.CancelFunc
	limiterDone   []<-chan struct{}

	mu      sync.Mutex
	watcher *Watcher
}

// New creates a server and starts its idle-session sweep.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Fetcher == nil || opts.Engine == nil {
		return nil, errors.New("server: fetcher and engine are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := assets.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		config:    opts.Config,
		fetcher:   opts.Fetcher,
		engine:    opts.Engine,
		sharer:    opts.Sharer,
		validator: opts.Validator,
		metrics:   opts.Metrics,
		logger:    logger.Named("server"),
		labsDir:   opts.LabsDir,
		templates: tmpl,
	}

	s.hub = NewHub(s.allowOrigin, logger)
	s.sessions = newSessionStore(opts.Config.Sessions.GetIdleTTL(), opts.Metrics, logger)
	s.sessions.onEvict = s.hub.Disconnect
	s.sessions.start(sweepInterval)

	s.router = s.routes()
	s.handler = s.middleware(s.router)
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.servePage).Methods(http.MethodGet)
	r.HandleFunc("/s/{id}", s.serveShortLink).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.FS(assets.UI()))))
	if s.config.Features.Metrics && s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	ctx, cancel := context.WithCancel(context.Background())
	limiter, done := RateLimitMiddleware(ctx,
		s.config.API.GetRateLimitRPS(),
		s.config.API.GetRateLimitBurst(),
		s.config.API.GetMaxTrackedIPs(),
		s.logger)
	api.Use(limiter)

	// Per session, on top of the per-client limit: these drive Chrome or
	// the public validators.
	s.actions = newKeyedLimiter("session-actions",
		s.config.API.GetActionRPS(),
		s.config.API.GetActionBurst(),
		0, s.logger)
	limitAction := s.actions.middleware(sessionKey, "too many actions for this session, wait a moment")
	s.limiterCancel = cancel
	s.limiterDone = []<-chan struct{}{done, s.actions.run(ctx, limiterSweepInterval)}

	api.HandleFunc("/labs", s.handleListLabs).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/code", s.handleSetCode).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/navigate", s.handleNavigate).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/tests", limitAction(http.HandlerFunc(s.handleRunTests))).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/validate", limitAction(http.HandlerFunc(s.handleValidate))).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/share", limitAction(http.HandlerFunc(s.handleShare))).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)

	return r
}

func (s *Server) middleware(h http.Handler) http.Handler {
	h = CompressionMiddleware(h)
	h = s.metrics.Middleware(h)
	h = CORSMiddleware(s.config.API.GetCORSOrigins())(h)
	return SecurityHeadersMiddleware(pagePolicy(s.config.Labs.BaseURL))(h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// allowOrigin accepts same-origin upgrades and any configured CORS origin.
func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range s.config.API.GetCORSOrigins() {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

type pageData struct {
	SiteTitle string
	Lab       string
	Share     string
	Code      string
}

type indexData struct {
	SiteTitle string
	Notice    string
	Labs      []fetch.Summary
}

// servePage renders the lab shell for ?lab=, or the lab index when no lab
// was selected.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get(session.ParamLab) == "" {
		s.renderIndex(w, http.StatusOK, (&session.MissingLabError{}).Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	data := pageData{
		SiteTitle: s.config.Title,
		Lab:       q.Get(session.ParamLab),
		Share:     q.Get(session.ParamShare),
		Code:      q.Get(session.ParamCode),
	}
	if err := s.templates.ExecuteTemplate(w, "page.html", data); err != nil {
		s.logger.Error("render page", zap.Error(err))
	}
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, notice string) {
	labs, err := s.listLabs()
	if err != nil {
		s.logger.Warn("listing labs", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := indexData{SiteTitle: s.config.Title, Notice: notice, Labs: labs}
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}

// listLabs lists local labs. Remote lab roots cannot be enumerated.
func (s *Server) listLabs() ([]fetch.Summary, error) {
	lister, ok := s.fetcher.Backend().(interface {
		List() ([]fetch.Summary, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.List()
}

// serveShortLink redirects /s/{id} to the lab page carrying the share id.
func (s *Server) serveShortLink(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.sharer == nil {
		s.renderIndex(w, http.StatusNotFound, "Share links are not enabled on this server.")
		return
	}

	snap, err := s.sharer.Resolve(r.Context(), id)
	if err != nil {
		if !errors.Is(err, share.ErrNotFound) {
			s.logger.Warn("resolving share link", zap.String("id", id), zap.Error(err))
		}
		s.renderIndex(w, http.StatusNotFound, "This share link does not exist or has expired.")
		return
	}

	q := url.Values{}
	q.Set(session.ParamLab, snap.Lab)
	q.Set(session.ParamShare, id)
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusFound)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if _, ok := s.sessions.get(id); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.hub.Serve(w, r, id)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.len(),
	})
}

// EnableWatch notifies sessions whose lab bundle changes on disk; the
// browser offers the reload. It is a no-op for remote lab roots.
func (s *Server) EnableWatch() error {
	if s.labsDir == "" || s.config.Labs.IsRemote() {
		return nil
	}

	w, err := NewWatcher(s.labsDir, s.labChanged, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.Start()

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	s.logger.Info("watching labs for changes", zap.String("dir", s.labsDir))
	return nil
}

// labChanged tells every session on lab that a newer version exists.
func (s *Server) labChanged(lab string) {
	for _, sess := range s.sessions.byLab(lab) {
		s.hub.Publish(sess.ID(), Message{Type: MessageLabChanged, Lab: lab})
	}
}

// Close stops the watcher, the rate limiter and every session.
func (s *Server) Close() error {
	var result *multierror.Error

	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		if err := w.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping watcher: %w", err))
		}
	}

	if s.limiterCancel != nil {
		s.limiterCancel()
		for _, done := range s.limiterDone {
			<-done
		}
	}

	if err := s.sessions.close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// statusFor maps orchestration errors to HTTP statuses.
func statusFor(err error) int {
	var (
		missing     *session.MissingLabError
		notFound    *labkit.NotFoundError
		fetchErr    *labkit.FetchError
		initErr     *labkit.InitializationError
		notInit     *labkit.NotInitializedError
		notInteract *session.NotInteractiveError
		svcErr      *labkit.ValidationServiceError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &notInit), errors.As(err, &notInteract),
		errors.Is(err, session.ErrActionInProgress),
		errors.Is(err, session.ErrSuperseded),
		errors.Is(err, playground.ErrInstanceReplaced):
		return http.StatusConflict
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
