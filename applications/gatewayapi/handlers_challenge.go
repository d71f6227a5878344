package gatewayapi

import (
	"context"
	"net/http"
	"time"

	"github.com/enclagent/gateway/domain/onboarding"
	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/preflight"
	"github.com/enclagent/gateway/domain/runtimectl"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	"github.com/enclagent/gateway/domain/wallet"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

type challengeRequest struct {
	WalletAddress string `json:"wallet_address"`
	PrivyUserID   string `json:"privy_user_id"`
	ChainID       string `json:"chain_id"`
}

type challengeResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Version   int    `json:"version"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Frontdoor.Enabled {
		writeError(w, gatewayerrors.FrontdoorDisabled())
		return
	}
	if s.cfg.Frontdoor.RequirePrivy && s.cfg.Frontdoor.PrivyAppID == "" {
		writeError(w, gatewayerrors.PrivyAppIDMissing())
		return
	}
	if s.provisioner == nil {
		writeError(w, gatewayerrors.ProvisioningBackendUnconfigured())
		return
	}

	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, gatewayerrors.New(gatewayerrors.CodeInvalidWalletAddress, "request body is malformed", http.StatusBadRequest))
		return
	}
	if err := validateWalletAddress(req.WalletAddress); err != nil {
		writeError(w, err)
		return
	}

	now := s.now()
	sess, err := s.sessions.CreatePending(r.Context(), req.WalletAddress, req.PrivyUserID, req.ChainID, now, s.challengeTTL(), s.sessionTTL())
	if err != nil {
		writeError(w, err)
		return
	}

	_ = s.onboarding.Save(r.Context(), onboarding.NewState(sess.SessionID, now))
	s.appendTimeline(r.Context(), sess.SessionID, timeline.EventChallengeIssued, "ok", "challenge message issued", timeline.ActorGateway, now)
	s.log.LogChallengeIssued(r.Context(), sess.SessionID, sess.WalletAddress, sess.ChallengeExpiresAt)
	s.metrics.SessionTransitions.WithLabelValues("", string(session.StatusPendingSignature)).Inc()

	writeJSON(w, http.StatusOK, challengeResponse{
		SessionID: sess.SessionID,
		Message:   sess.ChallengeMessage,
		Version:   sess.Version,
		ExpiresAt: sess.ChallengeExpiresAt.Format(rfc3339),
	})
}

type verifyRequest struct {
	SessionID     string         `json:"session_id"`
	WalletAddress string         `json:"wallet_address"`
	SignedMessage string         `json:"signed_message"`
	Signature     string         `json:"signature"`
	Config        *policy.Config `json:"config"`
}

type verifyResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Version   int    `json:"version"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		writeError(w, gatewayerrors.ProvisioningBackendUnconfigured())
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, gatewayerrors.New(gatewayerrors.CodeInvalidSessionID, "request body is malformed", http.StatusBadRequest))
		return
	}

	sess, err := s.sessions.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, gatewayerrors.SessionNotFound(req.SessionID))
		return
	}

	// Idempotent re-issue: once past pending_signature, report the current
	// terminal/in-flight status without re-dispatching provisioning.
	if sess.Status != session.StatusPendingSignature {
		writeJSON(w, http.StatusOK, verifyResponse{SessionID: sess.SessionID, Status: string(sess.Status), Version: sess.Version})
		return
	}

	now := s.now()
	if now.After(sess.ChallengeExpiresAt) {
		s.expireSession(r.Context(), sess.SessionID, sess.Version, now)
		writeError(w, gatewayerrors.ChallengeExpired(sess.SessionID))
		return
	}

	if wallet.Normalize(req.WalletAddress) != sess.WalletAddress {
		mismatchErr := gatewayerrors.ChallengeWalletMismatch()
		s.rejectSignature(r.Context(), sess.SessionID, mismatchErr, now)
		writeError(w, mismatchErr)
		return
	}
	if req.SignedMessage != sess.ChallengeMessage {
		mismatchErr := gatewayerrors.SignatureMessageMismatch()
		s.rejectSignature(r.Context(), sess.SessionID, mismatchErr, now)
		writeError(w, mismatchErr)
		return
	}
	if err := wallet.Verify([]byte(sess.ChallengeMessage), req.Signature, sess.WalletAddress); err != nil {
		s.rejectSignature(r.Context(), sess.SessionID, err, now)
		writeError(w, err)
		return
	}
	s.appendTimeline(r.Context(), sess.SessionID, timeline.EventSignatureVerified, "ok", "eip-191 signature verified", timeline.ActorGateway, now)
	s.log.LogSignatureVerification(r.Context(), sess.SessionID, true, nil)

	if err := s.catchUpOnboarding(r.Context(), sess, req.Config, now); err != nil {
		s.failSession(r.Context(), sess.SessionID, sess.Version, now, timeline.EventVerificationFailed, err)
		writeError(w, err)
		return
	}

	normalizedConfig, err := policy.Validate(req.Config, sess.WalletAddress)
	if err != nil {
		s.failSession(r.Context(), sess.SessionID, sess.Version, now, timeline.EventConfigRejected, err)
		writeError(w, err)
		return
	}
	s.appendTimeline(r.Context(), sess.SessionID, timeline.EventConfigValidated, "ok", "policy configuration validated", timeline.ActorGateway, now)

	battery := preflight.Battery(func() bool { return s.identityFlag(r) }, s.verificationReachable)
	results, aggregate, failureCategory := preflight.Run(battery, sess.WalletAddress, sess, normalizedConfig)
	if aggregate == preflight.ResultFailed {
		preErr := gatewayerrors.PreflightFailed(failureCategory)
		s.failSessionWithPreflight(r.Context(), sess.SessionID, sess.Version, now, results, failureCategory, preErr)
		writeError(w, preErr)
		return
	}
	s.appendTimeline(r.Context(), sess.SessionID, timeline.EventPreflightPassed, "ok", "funding preflight battery passed", timeline.ActorGateway, now)

	// The raw auth key never reaches the session document; only its
	// fingerprint is retained.
	storedConfig := *normalizedConfig
	storedConfig.GatewayAuthKey = ""
	authKeyFingerprint := runtimectl.Fingerprint(normalizedConfig.GatewayAuthKey)

	provisioned, err := s.sessions.Apply(r.Context(), sess.SessionID, sess.Version, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusProvisioning
		cur.Config = &storedConfig
		cur.AuthKeyFingerprint = authKeyFingerprint
		cur.ProfileName = normalizedConfig.ProfileName
		cur.ProfileDomain = normalizedConfig.ProfileDomain
		cur.VerificationBackend = normalizedConfig.VerificationBackend
		cur.VerificationLevel = normalizedConfig.VerificationLevel
		cur.VerificationFallbackEnabled = normalizedConfig.VerificationFallbackEnabled
		cur.VerificationFallbackRequireSignedReceipts = normalizedConfig.VerificationFallbackRequireSignedReceipts
		cur.FundingPreflightStatus = session.PreflightPassed
		cur.FundingPreflightChecks = results
		cur.RuntimeState = session.RuntimeNotStarted
		return cur, nil
	})
	if err != nil {
		writeError(w, s.translateApplyErr(err, sess.SessionID))
		return
	}

	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusPendingSignature), string(session.StatusProvisioning)).Inc()
	s.log.LogSessionTransition(r.Context(), provisioned.SessionID, string(session.StatusPendingSignature), string(session.StatusProvisioning), provisioned.Version)

	// Dispatch runs in the background: /verify reports status=provisioning
	// immediately and the client learns the outcome via poll or SSE.
	go s.dispatchProvisioning(context.Background(), provisioned)

	writeJSON(w, http.StatusOK, verifyResponse{SessionID: provisioned.SessionID, Status: string(provisioned.Status), Version: provisioned.Version})
}

// catchUpOnboarding drives the onboarding engine to completion using
// config-derived values when the conversation has not reached
// ready_to_sign.
func (s *Server) catchUpOnboarding(ctx context.Context, sess *session.Session, cfg *policy.Config, now time.Time) error {
	state, ok, err := s.onboarding.Get(ctx, sess.SessionID)
	if err != nil {
		return gatewayerrors.Internal("load onboarding state", err)
	}
	if !ok {
		state = onboarding.NewState(sess.SessionID, now)
	}
	if state.IsTerminal() && state.Completed {
		return nil
	}
	if cfg == nil {
		return gatewayerrors.OnboardingRequiredVariables([]string{"config"})
	}

	objective := cfg.ProfileDomain
	if objective == "" {
		objective = "launch configured strategy"
	}
	assignments := "profile_name=" + cfg.ProfileName + ",accept_terms=" + boolToken(cfg.AcceptTerms) + ",gateway_auth_key=" + cfg.GatewayAuthKey

	for !state.IsTerminal() || !state.Completed {
		var turnErr error
		switch state.CurrentStep {
		case onboarding.StepCollectObjective:
			state, turnErr = s.engine.SubmitObjective(state, objective, now)
		case onboarding.StepCollectAssignments:
			state, turnErr = s.engine.SubmitAssignments(state, assignments, now)
		case onboarding.StepConfirmAndSign:
			state, turnErr = s.engine.ConfirmPlan(state, now)
		case onboarding.StepReadyToSign:
			if state.Completed {
				goto done
			}
			state, turnErr = s.engine.ConfirmSign(state, now)
		default:
			turnErr = gatewayerrors.Internal("unknown onboarding step", nil)
		}
		if turnErr != nil {
			_ = s.onboarding.Save(ctx, state)
			return turnErr
		}
	}
done:
	return s.onboarding.Save(ctx, state)
}

func boolToken(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// rejectSignature records a failed signature check on the timeline and in
// the structured log. The session stays in pending_signature so the client
// can retry with a correct signature.
func (s *Server) rejectSignature(ctx context.Context, sessionID string, cause error, now time.Time) {
	s.appendTimeline(ctx, sessionID, timeline.EventSignatureRejected, "failed", cause.Error(), timeline.ActorGateway, now)
	s.log.LogSignatureVerification(ctx, sessionID, false, cause)
}

func (s *Server) expireSession(ctx context.Context, sessionID string, version int, now time.Time) {
	_, _ = s.sessions.Apply(ctx, sessionID, version, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusExpired
		cur.Detail = "challenge expired"
		return cur, nil
	})
	s.appendTimeline(ctx, sessionID, timeline.EventChallengeExpired, "failed", "challenge expired before verification", timeline.ActorSystem, now)
	s.log.LogSessionTransition(ctx, sessionID, string(session.StatusPendingSignature), string(session.StatusExpired), version+1)
	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusPendingSignature), string(session.StatusExpired)).Inc()
}

func (s *Server) failSession(ctx context.Context, sessionID string, version int, now time.Time, eventType string, cause error) {
	svcErr := gatewayerrors.GetServiceError(cause)
	detail := "verification failed"
	if svcErr != nil {
		detail = svcErr.Error()
	}
	_, _ = s.sessions.Apply(ctx, sessionID, version, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusFailed
		cur.Error = detail
		return cur, nil
	})
	s.appendTimeline(ctx, sessionID, eventType, "failed", detail, timeline.ActorGateway, now)
	s.log.LogSessionTransition(ctx, sessionID, string(session.StatusPendingSignature), string(session.StatusFailed), version+1)
	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusPendingSignature), string(session.StatusFailed)).Inc()
}

func (s *Server) failSessionWithPreflight(ctx context.Context, sessionID string, version int, now time.Time, results []session.PreflightCheckResult, category string, cause error) {
	_, _ = s.sessions.Apply(ctx, sessionID, version, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusFailed
		cur.Error = cause.Error()
		cur.FundingPreflightStatus = session.PreflightFailed
		cur.FundingPreflightFailureCategory = category
		cur.FundingPreflightChecks = results
		return cur, nil
	})
	s.appendTimeline(ctx, sessionID, timeline.EventPreflightFailed, "failed", "funding preflight failed: "+category, timeline.ActorGateway, now)
	s.log.LogSessionTransition(ctx, sessionID, string(session.StatusPendingSignature), string(session.StatusFailed), version+1)
	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusPendingSignature), string(session.StatusFailed)).Inc()
}

func (s *Server) translateApplyErr(err error, sessionID string) error {
	switch err {
	case session.ErrConflict:
		return gatewayerrors.VersionConflict(sessionID)
	case session.ErrNotFound:
		return gatewayerrors.SessionNotFound(sessionID)
	default:
		if _, ok := err.(*session.ErrInvariantViolation); ok {
			return gatewayerrors.Internal("session invariant violation", err)
		}
		return gatewayerrors.GetServiceError(err)
	}
}

func (s *Server) appendTimeline(ctx context.Context, sessionID, eventType, status, detail, actor string, now time.Time) {
	if _, err := s.timelines.Append(ctx, sessionID, eventType, status, detail, actor, now); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("append timeline event")
	}
}

func (s *Server) verificationReachable(cfg *policy.Config) (bool, string) {
	if cfg == nil {
		return false, "no config to reach a verification backend for"
	}
	return true, "verification backend assumed reachable"
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
