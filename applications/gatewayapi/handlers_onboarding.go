package gatewayapi

import (
	"net/http"

	"github.com/enclagent/gateway/domain/onboarding"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

type onboardingChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type onboardingChatResponse struct {
	SessionID        string            `json:"session_id"`
	AssistantMessage string            `json:"assistant_message"`
	State            *onboarding.State `json:"state"`
}

func (s *Server) handleOnboardingChat(w http.ResponseWriter, r *http.Request) {
	var req onboardingChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, gatewayerrors.New(gatewayerrors.CodeInvalidSessionID, "request body is malformed", http.StatusBadRequest))
		return
	}

	if _, err := s.sessions.Get(r.Context(), req.SessionID); err != nil {
		writeError(w, sessionGetErr(err, req.SessionID))
		return
	}

	now := s.now()
	state, ok, err := s.onboarding.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, gatewayerrors.Internal("load onboarding state", err))
		return
	}
	if !ok {
		state = onboarding.NewState(req.SessionID, now)
	}

	next, reply, turnErr := s.engine.ProcessTurn(state, req.Message, now)
	if saveErr := s.onboarding.Save(r.Context(), next); saveErr != nil {
		writeError(w, gatewayerrors.Internal("save onboarding state", saveErr))
		return
	}
	s.log.LogOnboardingTurn(r.Context(), req.SessionID, state.CurrentStep, next.CurrentStep, next.MissingFields)
	s.publishChat(req.SessionID, "response", map[string]interface{}{"session_id": req.SessionID, "message": reply})

	if turnErr != nil {
		writeError(w, turnErr)
		return
	}

	writeJSON(w, http.StatusOK, onboardingChatResponse{SessionID: req.SessionID, AssistantMessage: reply, State: next})
}

func (s *Server) handleOnboardingState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, gatewayerrors.InvalidSessionID(sessionID))
		return
	}
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeError(w, sessionGetErr(err, sessionID))
		return
	}

	state, ok, err := s.onboarding.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, gatewayerrors.Internal("load onboarding state", err))
		return
	}
	if !ok {
		state = onboarding.NewState(sessionID, s.now())
	}
	writeJSON(w, http.StatusOK, state)
}
