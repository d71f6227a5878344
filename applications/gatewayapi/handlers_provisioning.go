package gatewayapi

import (
	"context"
	"time"

	"github.com/enclagent/gateway/domain/eventbus"
	"github.com/enclagent/gateway/domain/provisioning"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

// dispatchProvisioning runs the provisioning dispatcher exactly once for a
// session that has just entered status=provisioning, committing the
// terminal ready/failed transition when it completes. The caller invokes it
// on a detached goroutine so /verify's response is not held open for the
// duration of the provisioning backend call.
func (s *Server) dispatchProvisioning(ctx context.Context, sess *session.Session) {
	now := s.now()
	s.appendTimeline(ctx, sess.SessionID, timeline.EventProvisioningStarted, "ok", "dispatching provisioning backend "+s.provisioner.Backend, timeline.ActorGateway, now)
	s.publishJob(sess.SessionID, "job_started", map[string]interface{}{"session_id": sess.SessionID, "stage": "provisioning"})

	sink := func(stream, line string) {
		s.appendTimeline(ctx, sess.SessionID, timeline.EventProvisioningOutput, "ok", "["+stream+"] "+line, timeline.ActorProvisioner, s.now())
		s.publishLog(sess.SessionID, line)
	}

	dispatchStart := s.now()
	result, err := s.provisioner.Dispatch(ctx, sink)
	now = s.now()
	s.metrics.ProvisioningLatency.WithLabelValues(s.provisioner.Backend, outcomeLabel(err)).Observe(now.Sub(dispatchStart).Seconds())
	s.log.LogProvisioning(ctx, sess.SessionID, s.provisioner.Backend, now.Sub(dispatchStart), err)
	if err != nil {
		s.failProvisioning(ctx, sess.SessionID, now, err)
		s.publishJob(sess.SessionID, "job_result", map[string]interface{}{"session_id": sess.SessionID, "status": "failed"})
		return
	}

	provisioningSource := session.ProvisioningSourceCommand
	if s.provisioner.Backend == provisioning.BackendDefaultURL {
		provisioningSource = session.ProvisioningSourceDefaultURL
	}

	ready, err := s.applyWithRetry(ctx, sess.SessionID, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusReady
		cur.RuntimeState = session.RuntimeRunning
		cur.ProvisioningSource = provisioningSource
		cur.DedicatedInstance = result.DedicatedInstance
		cur.LaunchedOnEigencloud = result.LaunchedOnEigencloud
		cur.InstanceURL = result.InstanceURL
		cur.VerifyURL = result.VerifyURL
		cur.EigenAppID = result.EigenAppID
		cur.VerificationLevel = verificationLevel(cur)
		cur.Detail = "runtime provisioned"
		return cur, nil
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("commit provisioning success")
		return
	}

	s.appendTimeline(ctx, ready.SessionID, timeline.EventProvisioningSucceeded, "ok", "runtime endpoint ready", timeline.ActorProvisioner, now)
	s.log.LogSessionTransition(ctx, ready.SessionID, string(session.StatusProvisioning), string(session.StatusReady), ready.Version)
	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusProvisioning), string(session.StatusReady)).Inc()
	s.publishJob(ready.SessionID, "job_result", map[string]interface{}{"session_id": ready.SessionID, "status": "ready", "instance_url": ready.InstanceURL, "verify_url": ready.VerifyURL})

	if result.EventFeedURL != "" {
		go eventbus.RelayFromWebsocket(context.Background(), s.bus, "job_events:"+ready.SessionID, result.EventFeedURL, func(relayErr error) {
			s.log.WithContext(ctx).WithError(relayErr).Warn("runtime event feed relay disconnected")
		})
	}
}

func (s *Server) failProvisioning(ctx context.Context, sessionID string, now time.Time, cause error) {
	svcErr := gatewayerrors.GetServiceError(cause)
	detail := "provisioning failed"
	if svcErr != nil {
		detail = svcErr.Error()
	}
	failed, _ := s.applyWithRetry(ctx, sessionID, now, func(cur *session.Session) (*session.Session, error) {
		cur.Status = session.StatusFailed
		cur.Error = detail
		cur.Detail = detail
		return cur, nil
	})
	version := 0
	if failed != nil {
		version = failed.Version
	}
	s.appendTimeline(ctx, sessionID, timeline.EventProvisioningFailed, "failed", detail, timeline.ActorProvisioner, now)
	s.log.LogSessionTransition(ctx, sessionID, string(session.StatusProvisioning), string(session.StatusFailed), version)
	s.metrics.SessionTransitions.WithLabelValues(string(session.StatusProvisioning), string(session.StatusFailed)).Inc()
}

// applyWithRetry re-reads the session and retries the CAS on version
// conflicts, for write paths that run detached from the request that
// captured the original snapshot.
func (s *Server) applyWithRetry(ctx context.Context, sessionID string, now time.Time, mutator session.Mutator) (*session.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		cur, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		updated, err := s.sessions.Apply(ctx, sessionID, cur.Version, now, mutator)
		if err == session.ErrConflict {
			lastErr = err
			continue
		}
		return updated, err
	}
	return nil, lastErr
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func verificationLevel(sess *session.Session) string {
	if sess.VerificationLevel != "" {
		return sess.VerificationLevel
	}
	if sess.VerificationFallbackEnabled {
		return "fallback_eligible"
	}
	return "primary_only"
}

func (s *Server) publishJob(sessionID, name string, data map[string]interface{}) {
	s.bus.Publish("job_events:"+sessionID, eventbus.Event{SessionID: sessionID, Name: name, Data: data})
}

func (s *Server) publishLog(sessionID, line string) {
	s.bus.Publish("log_events:"+sessionID, eventbus.Event{SessionID: sessionID, Name: "log", Data: map[string]interface{}{"session_id": sessionID, "line": line}})
}

func (s *Server) publishChat(sessionID, name string, data map[string]interface{}) {
	s.bus.Publish("chat_events:"+sessionID, eventbus.Event{SessionID: sessionID, Name: name, Data: data})
}
