package gatewayapi

import (
	"net/http"

	"github.com/enclagent/gateway/domain/runtimectl"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

type runtimeControlRequest struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
	NewKey string `json:"new_auth_key,omitempty"`
}

type runtimeControlResponse struct {
	SessionID    string `json:"session_id"`
	Action       string `json:"action"`
	Status       string `json:"status"`
	RuntimeState string `json:"runtime_state"`
	Detail       string `json:"detail"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *Server) handleRuntimeControl(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromPath(r)

	var req runtimeControlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, gatewayerrors.New(gatewayerrors.CodeInvalidSessionID, "request body is malformed", http.StatusBadRequest))
		return
	}
	if req.Actor == "" {
		req.Actor = timeline.ActorUser
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, sessionGetErr(err, id))
		return
	}

	applyTime := s.now()
	var outcome runtimectl.Outcome
	updated, applyErr := s.sessions.Apply(r.Context(), id, sess.Version, applyTime, func(cur *session.Session) (*session.Session, error) {
		o, err := runtimectl.Apply(cur, req.Action, req.NewKey)
		if err != nil {
			return nil, err
		}
		outcome = o
		if req.Action == runtimectl.ActionRotateAuthKey && !o.NoOp {
			cur.AuthKeyRotatedAt = applyTime
		}
		return cur, nil
	})

	if applyErr != nil {
		translated := s.translateApplyErr(applyErr, id)
		s.appendTimeline(r.Context(), id, timeline.EventRuntimeControlBlocked, "blocked", translated.Error(), req.Actor, s.now())
		s.log.LogRuntimeControl(r.Context(), id, req.Action, string(sess.RuntimeState), string(sess.RuntimeState), true)
		writeError(w, translated)
		return
	}

	now := s.now()
	detail := "applied " + req.Action
	if outcome.NoOp {
		detail = req.Action + " was already satisfied (no-op)"
	}
	s.appendTimeline(r.Context(), id, timeline.EventRuntimeControlApplied, "ok", detail, timeline.ActorControlPlane, now)
	s.log.LogRuntimeControl(r.Context(), id, req.Action, string(sess.RuntimeState), string(updated.RuntimeState), false)
	s.publishChat(id, "status", map[string]interface{}{"session_id": id, "action": req.Action, "runtime_state": string(updated.RuntimeState)})

	writeJSON(w, http.StatusOK, runtimeControlResponse{
		SessionID:    id,
		Action:       req.Action,
		Status:       "ok",
		RuntimeState: string(updated.RuntimeState),
		Detail:       detail,
		UpdatedAt:    updated.UpdatedAt.Format(rfc3339),
	})
}
