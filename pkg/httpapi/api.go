package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upserver/pkg/protocol"
	"upserver/pkg/triage"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/staging", s.handleStagingList)
	mux.HandleFunc("/api/v1/staging/", s.handleStagingAction)
	mux.HandleFunc("/api/v1/reviews", s.handleReviewList)
	mux.HandleFunc("/api/v1/reviews/", s.handleReviewAction)
	mux.HandleFunc("/api/v1/publish/", s.handlePublishAction)
	mux.HandleFunc("/api/v1/triage/evaluate", s.handleTriageEvaluate)
	mux.HandleFunc("/api/v1/chat/sessions", s.handleChatOpen)
	mux.HandleFunc("/api/v1/chat/sessions/", s.handleChatAction)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"started_at": s.startedAt.UTC(),
		"now":        time.Now().UTC(),
	})
}

func (s *Server) handleStagingList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	servers, err := s.staging.List(req.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_staging_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// handleStagingAction routes /api/v1/staging/{customer}[/{action}].
func (s *Server) handleStagingAction(w http.ResponseWriter, req *http.Request) {
	customerID, action, ok := splitResource(req.URL.Path, "/api/v1/staging/")
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "invalid_customer_id", "customer id is required")
		return
	}

	ctx := req.Context()
	switch {
	case action == "" && req.Method == http.MethodGet:
		rec, err := s.staging.Status(ctx, customerID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"server": rec})

	case action == "start" && req.Method == http.MethodPost:
		res, err := s.staging.Start(ctx, customerID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"start": res})

	case action == "stop" && req.Method == http.MethodPost:
		if err := s.staging.Stop(ctx, customerID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stopped": customerID})

	case action == "preflight" && req.Method == http.MethodGet:
		pf, err := s.staging.Preflight(ctx, customerID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"preflight": pf})

	case action == "activity" && req.Method == http.MethodPost:
		if err := s.staging.UpdateActivity(ctx, customerID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"touched": customerID})

	default:
		writeAPIError(w, http.StatusNotFound, "unknown_action", "unsupported staging action or method")
	}
}

func (s *Server) handleReviewList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	customerID := strings.TrimSpace(req.URL.Query().Get("customer"))

	var (
		reviews []protocol.ReviewRequest
		err     error
	)
	if customerID != "" {
		reviews, err = s.reviews.ListByCustomer(req.Context(), customerID)
	} else {
		reviews, err = s.reviews.List(req.Context())
	}
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_reviews_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

type quoteRequest struct {
	PriceCents int64  `json:"price_cents"`
	Note       string `json:"note"`
}

// handleReviewAction routes /api/v1/reviews/{id}[/{action}].
func (s *Server) handleReviewAction(w http.ResponseWriter, req *http.Request) {
	id, action, ok := splitResource(req.URL.Path, "/api/v1/reviews/")
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_id", "review request id is required")
		return
	}

	ctx := req.Context()
	if action == "" {
		if req.Method != http.MethodGet {
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
			return
		}
		rec, err := s.reviews.Get(ctx, id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if rec == nil {
			writeAPIError(w, http.StatusNotFound, "review_not_found", "no review request with id "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"review": rec})
		return
	}

	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var (
		rec *protocol.ReviewRequest
		err error
	)
	switch action {
	case "quote":
		var body quoteRequest
		if decodeErr := decodeJSON(req, &body); decodeErr != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_body", decodeErr.Error())
			return
		}
		rec, err = s.reviews.Quote(ctx, id, body.PriceCents, body.Note)
	case "approve":
		rec, err = s.reviews.Approve(ctx, id)
	case "reject":
		rec, err = s.reviews.Reject(ctx, id)
	case "complete":
		rec, err = s.reviews.Complete(ctx, id)
	default:
		writeAPIError(w, http.StatusNotFound, "unknown_action", "unsupported review action")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rec})
}

type publishRequest struct {
	Message string `json:"message"`
}

type rollbackRequest struct {
	Hash string `json:"hash"`
}

// handlePublishAction routes /api/v1/publish/{customer}[/{action}].
func (s *Server) handlePublishAction(w http.ResponseWriter, req *http.Request) {
	customerID, action, ok := splitResource(req.URL.Path, "/api/v1/publish/")
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "invalid_customer_id", "customer id is required")
		return
	}

	ctx := req.Context()
	switch {
	case action == "" && req.Method == http.MethodPost:
		var body publishRequest
		if req.ContentLength > 0 {
			if err := decodeJSON(req, &body); err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
				return
			}
		}
		res, err := s.publisher.Publish(ctx, customerID, body.Message)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"publish": res})

	case action == "history" && req.Method == http.MethodGet:
		limit := 0
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeAPIError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		commits, err := s.publisher.History(ctx, customerID, limit)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	case action == "rollback" && req.Method == http.MethodPost:
		var body rollbackRequest
		if err := decodeJSON(req, &body); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		if strings.TrimSpace(body.Hash) == "" {
			writeAPIError(w, http.StatusBadRequest, "invalid_hash", "commit hash is required")
			return
		}
		res, err := s.publisher.Rollback(ctx, customerID, body.Hash)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rollback": res})

	default:
		writeAPIError(w, http.StatusNotFound, "unknown_action", "unsupported publish action or method")
	}
}

type triageRequest struct {
	RequestText    string   `json:"request_text"`
	FilesTouched   []string `json:"files_touched"`
	AgentSucceeded bool     `json:"agent_succeeded"`
	AgentErrored   bool     `json:"agent_errored"`
}

// handleTriageEvaluate exposes the policy engine for dry runs, so
// operators can check what a hypothetical turn would decide.
func (s *Server) handleTriageEvaluate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var body triageRequest
	if err := decodeJSON(req, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	verdict := triage.Evaluate(triage.Input{
		RequestText:    body.RequestText,
		FilesTouched:   body.FilesTouched,
		AgentSucceeded: body.AgentSucceeded,
		AgentErrored:   body.AgentErrored,
	}, s.policy)
	writeJSON(w, http.StatusOK, map[string]any{"result": verdict})
}

type openSessionRequest struct {
	CustomerID string `json:"customer_id"`
}

type chatTurnRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChatOpen(w http.ResponseWriter, req *http.Request) {
	if s.chat == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "chat_unavailable", "no edit agent is configured")
		return
	}
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var body openSessionRequest
	if err := decodeJSON(req, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if strings.TrimSpace(body.CustomerID) == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_customer_id", "customer id is required")
		return
	}
	sess, err := s.chat.OpenSession(req.Context(), body.CustomerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

// handleChatAction routes /api/v1/chat/sessions/{id}/messages.
func (s *Server) handleChatAction(w http.ResponseWriter, req *http.Request) {
	if s.chat == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "chat_unavailable", "no edit agent is configured")
		return
	}
	sessionID, action, ok := splitResource(req.URL.Path, "/api/v1/chat/sessions/")
	if !ok || action != "messages" {
		writeAPIError(w, http.StatusNotFound, "unknown_action", "unsupported chat action")
		return
	}

	switch req.Method {
	case http.MethodGet:
		messages, err := s.chat.History(req.Context(), sessionID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})

	case http.MethodPost:
		var body chatTurnRequest
		if err := decodeJSON(req, &body); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		res, err := s.chat.HandleTurn(req.Context(), sessionID, body.Text)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turn": res})

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and POST are supported")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	customerID := strings.TrimSpace(req.URL.Query().Get("customer"))
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeAPIError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.store.RecentEvents(req.Context(), customerID, limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_events_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// writeDomainError translates typed domain errors into stable API codes.
// Anything unrecognized is a 500 with the raw message; this API faces the
// operator's own frontend, which is responsible for wording customer-safe
// messages.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		portInUse     *protocol.PortInUseError
		noPorts       *protocol.NoFreePortsError
		inProgress    *protocol.StartInProgressError
		siteNotFound  *protocol.SiteNotFoundError
		installFailed *protocol.DependencyInstallError
		notReady      *protocol.ServerNotReadyError
		badTransition *protocol.InvalidStatusTransitionError
		rbBlocked     *protocol.RollbackBlockedError
		noCommit      *protocol.CommitNotFoundError
	)

	switch {
	case errors.As(err, &portInUse):
		writeAPIError(w, http.StatusConflict, "port_in_use", err.Error())
	case errors.As(err, &noPorts):
		writeAPIError(w, http.StatusServiceUnavailable, "no_free_ports", err.Error())
	case errors.As(err, &inProgress):
		writeAPIError(w, http.StatusConflict, "start_in_progress", err.Error())
	case errors.As(err, &siteNotFound):
		writeAPIError(w, http.StatusNotFound, "site_not_found", err.Error())
	case errors.As(err, &installFailed):
		writeAPIError(w, http.StatusBadGateway, "dependency_install_failed", err.Error())
	case errors.As(err, &notReady):
		writeAPIError(w, http.StatusBadGateway, "server_not_ready", err.Error())
	case errors.As(err, &badTransition):
		writeAPIError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.As(err, &rbBlocked):
		writeAPIError(w, http.StatusConflict, "rollback_blocked", err.Error())
	case errors.As(err, &noCommit):
		writeAPIError(w, http.StatusNotFound, "commit_not_found", err.Error())
	case strings.Contains(err.Error(), "not found"):
		writeAPIError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// splitResource splits "{prefix}{id}[/{action}]" into id and action.
func splitResource(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || rest == "" {
		return "", "", false
	}
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}
