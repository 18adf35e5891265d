// Package server provides the HTTP API used to trigger and observe runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/repoready/internal/app/list"
	"github.com/slok/repoready/internal/app/preview"
	"github.com/slok/repoready/internal/app/status"
	"github.com/slok/repoready/internal/fallback"
	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/printer"
)

// RunController controls the single active run.
type RunController interface {
	Start(ctx context.Context, req preview.Request) (string, error)
	Snapshot() model.RunState
	Subscribe() (<-chan model.RunUpdate, func())
	Dispose(ctx context.Context) error
}

// RunLister lists the run history.
type RunLister interface {
	Run(ctx context.Context, req list.Request) ([]model.Run, error)
}

// RunStatusGetter gets a single run of the history.
type RunStatusGetter interface {
	Run(ctx context.Context, req status.Request) (*status.Result, error)
}

// Config is the server configuration.
type Config struct {
	Runs    RunController
	History RunLister
	Status  RunStatusGetter
	Logger  log.Logger
	// RequestTimeout is the max duration of non streaming requests.
	RequestTimeout time.Duration
}

func (c *Config) defaults() error {
	if c.Runs == nil {
		return fmt.Errorf("runs controller is required")
	}
	if c.History == nil {
		return fmt.Errorf("history lister is required")
	}
	if c.Status == nil {
		return fmt.Errorf("status getter is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.HTTP"})

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	return nil
}

// Server is the HTTP API server.
type Server struct {
	runs    RunController
	history RunLister
	status  RunStatusGetter
	logger  log.Logger
	router  chi.Router
	timeout time.Duration
}

// New returns a new HTTP API server.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		runs:    cfg.Runs,
		history: cfg.History,
		status:  cfg.Status,
		logger:  cfg.Logger,
		timeout: cfg.RequestTimeout,
	}
	s.router = s.buildRouter()

	return s, nil
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Event streams are long lived, they don't get the request timeout.
		r.Get("/run/events", s.handleRunEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))
			r.Post("/run", s.handleStartRun)
			r.Get("/run", s.handleGetRun)
			r.Delete("/run", s.handleDisposeRun)
			r.Get("/links", s.handleLinks)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRunStatus)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithValues(log.Kv{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request-id": middleware.GetReqID(r.Context()),
		}).Debugf("request handled")
	})
}

type startRunRequest struct {
	URL      string           `json:"url"`
	Analysis *analysisRequest `json:"analysis,omitempty"`
}

type analysisRequest struct {
	Instructions string `json:"instructions"`
	Runnable     bool   `json:"runnable"`
}

type startRunResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error    string               `json:"error"`
	Fallback *printer.LinksOutput `json:"fallback,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	preq := preview.Request{RepositoryURL: req.URL}
	if req.Analysis != nil {
		preq.Analysis = &model.Analysis{Instructions: req.Analysis.Instructions, Runnable: req.Analysis.Runnable}
	}

	id, err := s.runs.Start(r.Context(), preq)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRunInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, model.ErrNotRunnable):
			links := printer.NewLinksOutput(fallback.LinksFromURL(req.URL))
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fallback: &links})
		case errors.Is(err, model.ErrNotValid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Errorf("could not start run: %s", err)
			writeError(w, http.StatusInternalServerError, "could not start run")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, startRunResponse{ID: id})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, printer.NewRunStateOutput(s.runs.Snapshot()))
}

func (s *Server) handleDisposeRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Dispose(r.Context()); err != nil {
		s.logger.Errorf("could not dispose run: %s", err)
		writeError(w, http.StatusInternalServerError, "could not dispose run")
		return
	}

	writeJSON(w, http.StatusOK, printer.NewRunStateOutput(s.runs.Snapshot()))
}

type runUpdateEvent struct {
	RunID    string `json:"run_id"`
	Phase    string `json:"phase"`
	Progress int    `json:"progress"`
	LogChunk string `json:"log_chunk,omitempty"`
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, unsubscribe := s.runs.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Current state first, then the updates.
	writeSSE(w, "state", printer.NewRunStateOutput(s.runs.Snapshot()))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			writeSSE(w, "update", runUpdateEvent{
				RunID:    u.RunID,
				Phase:    string(u.Phase),
				Progress: u.Progress,
				LogChunk: u.LogChunk,
			})
			flusher.Flush()
		}
	}
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	writeJSON(w, http.StatusOK, printer.NewLinksOutput(fallback.LinksFromURL(u)))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := list.Request{Repository: q.Get("repository")}
	if p := q.Get("phase"); p != "" {
		phase := model.Phase(p)
		req.PhaseFilter = &phase
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		req.Limit = limit
	}

	runs, err := s.history.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrNotValid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorf("could not list runs: %s", err)
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}

	out := make([]printer.RunOutput, 0, len(runs))
	for _, run := range runs {
		out = append(out, printer.NewRunOutput(run, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.status.Run(r.Context(), status.Request{IDOrRepository: id, WithLog: true})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Errorf("could not get run: %s", err)
		writeError(w, http.StatusInternalServerError, "could not get run")
		return
	}

	writeJSON(w, http.StatusOK, printer.NewRunOutput(res.Run, res.Log))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
