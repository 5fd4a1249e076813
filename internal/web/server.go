// Package web serves the subscription pages and the operational endpoints.
//
// Routes:
//
//	GET  /                 index page with the subscribe/unsubscribe form
//	GET  /list?email=      monitors of one address plus all known nodes
//	POST /prepare_action   mails a confirmation link (form: op, email, node)
//	GET  /run_action       verifies ?signed_action= and executes it
//	GET  /cron             runs one reconciliation tick (409 while one runs)
//	GET  /static/...       files from the configured static directory
//	GET  /metrics          Prometheus metrics
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
	"github.com/roach88/nodemon/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

// Views are the read-only queries behind the list page. Implemented by the
// SQLite and PostgreSQL stores.
type Views interface {
	MonitorsForEmail(ctx context.Context, email string) ([]model.Monitor, error)
	ListNodes(ctx context.Context) ([]model.Node, error)
	LookupNode(ctx context.Context, id string) (model.Node, bool, error)
}

// Confirmer mails confirmation links. Implemented by monitor.Emitter.
type Confirmer interface {
	SendConfirmation(ctx context.Context, a action.Action) error
	ListURL(email string) string
}

// Opener decodes and verifies a token. Implemented by action.Signer.
type Opener interface {
	Open(token string) (action.Action, error)
}

// Executor applies a verified action. Implemented by monitor.Executor.
type Executor interface {
	Execute(ctx context.Context, a action.Action) (bool, error)
}

// TickRunner starts a reconciliation tick unless one is running.
// Implemented by monitor.Scheduler.
type TickRunner interface {
	TryTick(ctx context.Context) (monitor.TickReport, error)
}

// Deps are the collaborators of the web server.
type Deps struct {
	Instance  string
	StaticDir string
	Views     Views
	Confirmer Confirmer
	Opener    Opener
	Executor  Executor
	Ticks     TickRunner
	Logger    *slog.Logger
}

// Server serves the web endpoints.
type Server struct {
	deps       Deps
	pages      *template.Template
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server listening on addr once Run is called.
func New(addr string, deps Deps) (*Server, error) {
	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{deps: deps, pages: pages, logger: logger}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = mux
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", telemetry.Instrument("index", http.HandlerFunc(s.handleIndex)))
	mux.Handle("GET /list", telemetry.Instrument("list", http.HandlerFunc(s.handleList)))
	mux.Handle("POST /prepare_action", telemetry.Instrument("prepare_action", http.HandlerFunc(s.handlePrepareAction)))
	mux.Handle("GET /run_action", telemetry.Instrument("run_action", http.HandlerFunc(s.handleRunAction)))
	mux.Handle("GET /cron", telemetry.Instrument("cron", http.HandlerFunc(s.handleCron)))
	mux.Handle("GET /static/", telemetry.Instrument("static", http.StripPrefix("/static/", s.staticHandler())))
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
}

type basePage struct {
	Instance string
}

type watchedRow struct {
	NodeID string
	Name   string
	Status model.Status
}

type listPage struct {
	basePage
	Email   string
	Watched []watchedRow
	Nodes   []model.Node
}

type preparePage struct {
	basePage
	Kind    string
	Email   string
	NodeID  string
	ListURL string
}

type runPage struct {
	basePage
	Kind    string
	Email   string
	NodeID  string
	Success bool
	ListURL string
}

type errorPage struct {
	basePage
	Title   string
	Message string
}

func (s *Server) base() basePage {
	return basePage{Instance: s.deps.Instance}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index", s.base())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	email := action.Normalize(r.URL.Query().Get("email"))
	if email == "" {
		s.renderError(w, http.StatusBadRequest, "Missing address", "Please enter an email address.")
		return
	}

	ctx := r.Context()
	monitors, err := s.deps.Views.MonitorsForEmail(ctx, email)
	if err != nil {
		s.internalError(w, "list monitors", err)
		return
	}
	nodes, err := s.deps.Views.ListNodes(ctx)
	if err != nil {
		s.internalError(w, "list nodes", err)
		return
	}

	byID := make(map[string]model.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	watched := make([]watchedRow, 0, len(monitors))
	for _, m := range monitors {
		row := watchedRow{NodeID: m.NodeID, Name: m.NodeID, Status: model.StatusUnknown}
		if n, ok := byID[m.NodeID]; ok {
			row.Name = n.Name
			row.Status = n.Status
		}
		watched = append(watched, row)
	}

	s.render(w, http.StatusOK, "list", listPage{
		basePage: s.base(),
		Email:    email,
		Watched:  watched,
		Nodes:    nodes,
	})
}

func (s *Server) handlePrepareAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid request", "The form could not be read.")
		return
	}

	kind, err := action.ParseKind(r.PostFormValue("op"))
	if err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid request", "Unknown operation.")
		return
	}
	a, err := action.New(kind, r.PostFormValue("email"), r.PostFormValue("node"))
	if err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	ctx := r.Context()
	if kind == action.KindSubscribe {
		_, known, err := s.deps.Views.LookupNode(ctx, action.NodeOf(a))
		if err != nil {
			s.internalError(w, "lookup node", err)
			return
		}
		if !known {
			s.renderError(w, http.StatusBadRequest, "Unknown node",
				"There is no node with ID "+action.NodeOf(a)+". Check the ID on the node list.")
			return
		}
	}

	if err := s.deps.Confirmer.SendConfirmation(ctx, a); err != nil {
		if monitor.IsSendError(err) {
			s.logger.Warn("confirmation mail failed", "email", a.Address(), "error", err)
			s.renderError(w, http.StatusBadGateway, "Mail not sent",
				"The confirmation mail could not be delivered. Please try again later.")
			return
		}
		s.internalError(w, "send confirmation", err)
		return
	}

	s.render(w, http.StatusOK, "prepare_action", preparePage{
		basePage: s.base(),
		Kind:     string(a.Kind()),
		Email:    a.Address(),
		NodeID:   action.NodeOf(a),
		ListURL:  s.deps.Confirmer.ListURL(a.Address()),
	})
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Opener.Open(r.URL.Query().Get("signed_action"))
	if err != nil {
		// Every verification failure gets the same page.
		telemetry.TokensRejected.Inc()
		s.logger.Debug("token rejected", "error", err)
		s.render(w, http.StatusBadRequest, "action_error", s.base())
		return
	}

	changed, err := s.deps.Executor.Execute(r.Context(), a)
	if err != nil {
		s.internalError(w, "execute action", err)
		return
	}

	s.render(w, http.StatusOK, "run_action", runPage{
		basePage: s.base(),
		Kind:     string(a.Kind()),
		Email:    a.Address(),
		NodeID:   action.NodeOf(a),
		Success:  changed,
		ListURL:  s.deps.Confirmer.ListURL(a.Address()),
	})
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ticks.TryTick(r.Context())
	switch {
	case errors.Is(err, monitor.ErrTickInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.Error("cron tick failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "tick failed"})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// staticHandler serves regular files from StaticDir. Directories and
// missing files are 404.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.deps.StaticDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if s.deps.StaticDir == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		info, err := os.Stat(filepath.Join(s.deps.StaticDir, filepath.FromSlash(name)))
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, page, data); err != nil {
		s.logger.Error("render page", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderError(w http.ResponseWriter, status int, title, message string) {
	s.render(w, status, "error", errorPage{basePage: s.base(), Title: title, Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	s.renderError(w, http.StatusInternalServerError, "Internal error", "Something went wrong. Please try again later.")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
