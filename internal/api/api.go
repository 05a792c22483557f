package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jsperry/triage/internal/devin"
	"github.com/jsperry/triage/internal/models"
	"github.com/jsperry/triage/internal/sessions"
	"github.com/jsperry/triage/internal/store"
)

// SessionManager is the slice of the lifecycle manager the API uses.
type SessionManager interface {
	StartPhase(ctx context.Context, repo string, issueNumber int, phase models.SessionPhase) (*sessions.StartResult, error)
	QueryStatus(ctx context.Context, sessionID string) (*models.Session, error)
	PollSession(ctx context.Context, sessionID string, timeout time.Duration) (*models.Session, error)
}

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	manager SessionManager
}

// NewServer creates a new API server.
func NewServer(s store.Store, manager SessionManager) *Server {
	return &Server{store: s, manager: manager}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/scope", s.scopeIssue)
	mux.HandleFunc("POST /api/v1/execute", s.executeIssue)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/poll", s.pollSession)

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("GET /api/v1/events", s.listEvents)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// phaseRequest is the payload for scope and execute.
type phaseRequest struct {
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
}

// phaseResponse reports a started (or reused) session.
type phaseResponse struct {
	SessionID   string `json:"session_id"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Phase       string `json:"phase"`
	Status      string `json:"status"`
	SessionURL  string `json:"session_url,omitempty"`
	Reused      bool   `json:"reused"`
}

func (s *Server) scopeIssue(w http.ResponseWriter, r *http.Request) {
	s.startPhase(w, r, models.PhaseScope)
}

func (s *Server) executeIssue(w http.ResponseWriter, r *http.Request) {
	s.startPhase(w, r, models.PhaseExec)
}

func (s *Server) startPhase(w http.ResponseWriter, r *http.Request, phase models.SessionPhase) {
	var req phaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Repo == "" || req.IssueNumber <= 0 {
		writeError(w, http.StatusBadRequest, "repo and issue_number are required")
		return
	}

	result, err := s.manager.StartPhase(r.Context(), req.Repo, req.IssueNumber, phase)
	if err != nil {
		if strings.Contains(err.Error(), "owner/name") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, phaseResponse{
		SessionID:   result.Session.SessionID,
		Repo:        req.Repo,
		IssueNumber: req.IssueNumber,
		Phase:       string(phase),
		Status:      string(result.Session.Status),
		SessionURL:  result.SessionURL,
		Reused:      result.Reused,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.manager.QueryStatus(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) pollSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var timeout time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "timeout must be a positive number of seconds")
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	session, err := s.manager.PollSession(r.Context(), id, timeout)
	if err != nil {
		var timeoutErr *devin.TimeoutError
		if errors.As(err, &timeoutErr) {
			writeError(w, http.StatusGatewayTimeout, timeoutErr.Error())
			return
		}
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionListFilter{
		Repo:   r.URL.Query().Get("repo"),
		Phase:  models.SessionPhase(r.URL.Query().Get("phase")),
		Status: models.SessionStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("issue"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "issue must be a number")
			return
		}
		filter.IssueNumber = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		filter.Limit = n
	}

	list, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.store.ListIssues(r.Context(), r.URL.Query().Get("repo"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "count": len(issues)})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	events, err := s.store.ListEvents(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
