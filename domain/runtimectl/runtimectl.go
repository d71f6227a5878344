// Package runtimectl applies runtime control actions
// (pause/resume/terminate/rotate_auth_key) against a ready session's
// runtime_state, enforcing the allowed-transition table.
package runtimectl

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/enclagent/gateway/domain/session"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

const (
	ActionPause         = "pause"
	ActionResume        = "resume"
	ActionTerminate     = "terminate"
	ActionRotateAuthKey = "rotate_auth_key"
)

// Outcome describes the applied (or no-op) effect of a control action.
type Outcome struct {
	RuntimeState session.RuntimeState
	NoOp         bool
}

// Apply validates action against sess's current runtime_state per the
// transition table and, when allowed, mutates sess in place. It
// never appends timeline events itself; the caller does that with
// actor=control_plane once Apply returns successfully, since timeline
// writes and session writes are committed by different stores.
func Apply(sess *session.Session, action string, newAuthKey string) (Outcome, error) {
	if sess.Status != session.StatusReady {
		return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(sess.Status), action)
	}

	from := sess.RuntimeState

	switch action {
	case ActionPause:
		switch from {
		case session.RuntimeRunning:
			sess.RuntimeState = session.RuntimePaused
			return Outcome{RuntimeState: sess.RuntimeState}, nil
		default:
			return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(from), action)
		}

	case ActionResume:
		switch from {
		case session.RuntimePaused:
			sess.RuntimeState = session.RuntimeRunning
			return Outcome{RuntimeState: sess.RuntimeState}, nil
		default:
			return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(from), action)
		}

	case ActionTerminate:
		switch from {
		case session.RuntimeRunning, session.RuntimePaused:
			sess.RuntimeState = session.RuntimeTerminated
			return Outcome{RuntimeState: sess.RuntimeState}, nil
		case session.RuntimeTerminated:
			return Outcome{RuntimeState: session.RuntimeTerminated, NoOp: true}, nil
		default:
			return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(from), action)
		}

	case ActionRotateAuthKey:
		switch from {
		case session.RuntimeRunning, session.RuntimePaused:
			sess.AuthKeyFingerprint = Fingerprint(newAuthKey)
			return Outcome{RuntimeState: from}, nil
		default:
			return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(from), action)
		}

	default:
		return Outcome{}, gatewayerrors.RuntimeControlBlocked(string(from), action)
	}
}

// Fingerprint derives a non-reversible identifier for an auth key; the raw
// key is never stored on the session.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
