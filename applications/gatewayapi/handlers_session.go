package gatewayapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/enclagent/gateway/domain/gatewaytodo"
	"github.com/enclagent/gateway/domain/session"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

func sessionIDFromPath(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), sessionIDFromPath(r))
	if err != nil {
		writeError(w, sessionGetErr(err, sessionIDFromPath(r)))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type listSessionsResponse struct {
	Sessions []*session.Session `json:"sessions"`
	Total    int                `json:"total"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet_address")
	if err := validateWalletAddress(wallet); err != nil {
		writeError(w, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	sessions, err := s.sessions.ListForWallet(r.Context(), wallet, limit)
	if err != nil {
		writeError(w, gatewayerrors.Internal("list sessions for wallet", err))
		return
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions, Total: len(sessions)})
}

type timelineResponse struct {
	SessionID string      `json:"session_id"`
	Events    interface{} `json:"events"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromPath(r)
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeError(w, sessionGetErr(err, id))
		return
	}
	events, err := s.timelines.List(r.Context(), id)
	if err != nil {
		writeError(w, gatewayerrors.Internal("list timeline", err))
		return
	}
	writeJSON(w, http.StatusOK, timelineResponse{SessionID: id, Events: events})
}

type verificationExplanationResponse struct {
	SessionID     string `json:"session_id"`
	Backend       string `json:"backend"`
	Level         string `json:"level"`
	FallbackUsed  bool   `json:"fallback_used"`
	LatencyMs     int64  `json:"latency_ms"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (s *Server) handleVerificationExplanation(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromPath(r)
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, sessionGetErr(err, id))
		return
	}

	resp := verificationExplanationResponse{
		SessionID:    id,
		Backend:      sess.VerificationBackend,
		Level:        sess.VerificationLevel,
		FallbackUsed: sess.VerificationFallbackEnabled && sess.FundingPreflightFailureCategory == "verification_backend_reachable",
		LatencyMs:    sess.UpdatedAt.Sub(sess.ChallengeCreatedAt).Milliseconds(),
	}
	if sess.Status == session.StatusFailed && sess.FundingPreflightFailureCategory != "" {
		resp.FailureReason = sess.FundingPreflightFailureCategory
	}
	writeJSON(w, http.StatusOK, resp)
}

type gatewayTodosResponse struct {
	SessionID                string             `json:"session_id"`
	Todos                    []gatewaytodo.Todo `json:"todos"`
	TodoOpenRequiredCount    int                `json:"todo_open_required_count"`
	TodoOpenRecommendedCount int                `json:"todo_open_recommended_count"`
	TodoStatusSummary        string             `json:"todo_status_summary"`
}

func (s *Server) handleGatewayTodos(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromPath(r)
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, sessionGetErr(err, id))
		return
	}

	todos := gatewaytodo.Derive(sess)
	openRequired, openRecommended, summary := gatewaytodo.Summary(todos)

	// Persist the derived counters onto the session so other surfaces (e.g.
	// the plain session snapshot) can report them without recomputing.
	if sess.TodoOpenRequiredCount != openRequired || sess.TodoOpenRecommendedCount != openRecommended || sess.TodoStatusSummary != summary {
		_, _ = s.sessions.Apply(r.Context(), id, sess.Version, s.now(), func(cur *session.Session) (*session.Session, error) {
			cur.TodoOpenRequiredCount = openRequired
			cur.TodoOpenRecommendedCount = openRecommended
			cur.TodoStatusSummary = summary
			return cur, nil
		})
	}

	writeJSON(w, http.StatusOK, gatewayTodosResponse{
		SessionID:                id,
		Todos:                    todos,
		TodoOpenRequiredCount:    openRequired,
		TodoOpenRecommendedCount: openRecommended,
		TodoStatusSummary:        summary,
	})
}

type fundingPreflightResponse struct {
	SessionID       string                         `json:"session_id"`
	Status          session.PreflightStatus        `json:"status"`
	FailureCategory string                         `json:"failure_category,omitempty"`
	Checks          []session.PreflightCheckResult `json:"checks"`
	UpdatedAt       string                         `json:"updated_at"`
}

func (s *Server) handleFundingPreflight(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromPath(r)
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, sessionGetErr(err, id))
		return
	}
	writeJSON(w, http.StatusOK, fundingPreflightResponse{
		SessionID:       id,
		Status:          sess.FundingPreflightStatus,
		FailureCategory: sess.FundingPreflightFailureCategory,
		Checks:          sess.FundingPreflightChecks,
		UpdatedAt:       sess.UpdatedAt.Format(rfc3339),
	})
}

func sessionGetErr(err error, id string) error {
	if err == session.ErrNotFound {
		return gatewayerrors.SessionNotFound(id)
	}
	return gatewayerrors.Internal("load session", err)
}
