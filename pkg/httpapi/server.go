// Package httpapi exposes the staging, review, publish and chat services
// over a local JSON API consumed by the SaaS frontend and the dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"upserver/pkg/chat"
	"upserver/pkg/publish"
	"upserver/pkg/review"
	"upserver/pkg/staging"
	"upserver/pkg/store"
	"upserver/pkg/triage"
)

// Options configures a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the UpServer core.
type Server struct {
	opts      Options
	staging   *staging.Manager
	reviews   *review.Queue
	publisher *publish.Controller
	chat      *chat.Service
	store     *store.Store
	policy    triage.Policy
	startedAt time.Time
	server    *http.Server
}

// New builds a server over the given services. chat may be nil when the
// instance runs without an edit oracle attached.
func New(opts Options, mgr *staging.Manager, reviews *review.Queue, publisher *publish.Controller, chatSvc *chat.Service, st *store.Store, policy triage.Policy) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:      opts,
		staging:   mgr,
		reviews:   reviews,
		publisher: publisher,
		chat:      chatSvc,
		store:     st,
		policy:    policy,
		startedAt: time.Now(),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: mux,
	}
	return s
}

// Handler returns the route mux, for tests driving the API in-process.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": apiError{
			Code:    strings.TrimSpace(code),
			Message: strings.TrimSpace(message),
		},
	})
}

func decodeJSON(req *http.Request, out any) error {
	if req.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer req.Body.Close()
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}
