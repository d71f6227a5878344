package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/gateway/domain/policy"
)

const testWallet = "0xabcdef1234567890abcdef1234567890abcdef12"

func TestCreatePending_SetsExpectedDefaults(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess, err := store.CreatePending(context.Background(), testWallet, "privy-1", "1", now, 10*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingSignature, sess.Status)
	assert.Equal(t, 1, sess.Version)
	assert.Equal(t, RuntimeNotStarted, sess.RuntimeState)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, testWallet, sess.WalletAddress)
	assert.NotEmpty(t, sess.ChallengeMessage)
	assert.Equal(t, now.Add(10*time.Minute), sess.ChallengeExpiresAt)
}

func TestCreatePending_RejectsInvalidWallet(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	_, err := store.CreatePending(context.Background(), "not-a-wallet", "", "1", now, time.Minute, 24*time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_wallet_address")
}

func TestGet_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.Equal(t, ErrNotFound, err)
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Minute, 24*time.Hour)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), sess.SessionID)
	require.NoError(t, err)
	got.Detail = "mutated by caller"

	got2, err := store.Get(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Empty(t, got2.Detail)
}

func TestApply_VersionStrictlyIncreases(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	updated, err := store.Apply(context.Background(), sess.SessionID, sess.Version, now, func(cur *Session) (*Session, error) {
		cur.Detail = "step one"
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	updated, err = store.Apply(context.Background(), sess.SessionID, updated.Version, now, func(cur *Session) (*Session, error) {
		cur.Detail = "step two"
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
}

func TestApply_ConflictOnStaleVersion(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), sess.SessionID, sess.Version+1, now, func(cur *Session) (*Session, error) {
		return cur, nil
	})
	assert.Equal(t, ErrConflict, err)
}

func TestApply_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Apply(context.Background(), "missing", 1, time.Now(), func(cur *Session) (*Session, error) { return cur, nil })
	assert.Equal(t, ErrNotFound, err)
}

func TestApply_RejectsChallengeMessageMutation(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), sess.SessionID, sess.Version, now, func(cur *Session) (*Session, error) {
		cur.ChallengeMessage = "tampered"
		return cur, nil
	})
	require.Error(t, err)
	var inv *ErrInvariantViolation
	require.ErrorAs(t, err, &inv)
}

func TestApply_RejectsInvalidStatusTransition(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), sess.SessionID, sess.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusReady
		cur.InstanceURL = "https://example.test"
		return cur, nil
	})
	require.Error(t, err)
	var inv *ErrInvariantViolation
	require.ErrorAs(t, err, &inv)
}

func TestApply_ReadyRequiresExactlyOneOfInstanceOrVerifyURL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), sess.SessionID, sess.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusProvisioning
		return cur, nil
	})
	require.NoError(t, err)

	updated, _ := store.Get(context.Background(), sess.SessionID)

	_, err = store.Apply(context.Background(), sess.SessionID, updated.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusReady
		return cur, nil
	})
	require.Error(t, err, "ready with neither instance_url nor verify_url must be rejected")

	_, err = store.Apply(context.Background(), sess.SessionID, updated.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusReady
		cur.InstanceURL = "https://a.example"
		cur.VerifyURL = "https://b.example"
		return cur, nil
	})
	require.Error(t, err, "ready with both instance_url and verify_url must be rejected")

	ready, err := store.Apply(context.Background(), sess.SessionID, updated.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusReady
		cur.InstanceURL = "https://a.example"
		cur.RuntimeState = RuntimeRunning
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, ready.Status)
}

func TestApply_TerminatedRuntimeStateIsAbsorbing(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	ready := advanceToReady(t, store, sess.SessionID, now)

	terminated, err := store.Apply(context.Background(), ready.SessionID, ready.Version, now, func(cur *Session) (*Session, error) {
		cur.RuntimeState = RuntimeTerminated
		return cur, nil
	})
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), ready.SessionID, terminated.Version, now, func(cur *Session) (*Session, error) {
		cur.RuntimeState = RuntimeRunning
		return cur, nil
	})
	require.Error(t, err, "terminated runtime_state must be absorbing")
}

func advanceToReady(t *testing.T, store *MemoryStore, sessionID string, now time.Time) *Session {
	t.Helper()
	provisioning, err := store.Apply(context.Background(), sessionID, 1, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusProvisioning
		return cur, nil
	})
	require.NoError(t, err)

	ready, err := store.Apply(context.Background(), sessionID, provisioning.Version, now, func(cur *Session) (*Session, error) {
		cur.Status = StatusReady
		cur.InstanceURL = "https://a.example"
		cur.RuntimeState = RuntimeRunning
		return cur, nil
	})
	require.NoError(t, err)
	return ready
}

func TestApply_ConfigCannotBeUnsetOncePresent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	withConfig, err := store.Apply(context.Background(), sess.SessionID, sess.Version, now, func(cur *Session) (*Session, error) {
		cur.Config = &policy.Config{ProfileName: "alpha", SymbolAllowlist: []string{"BTC"}}
		return cur, nil
	})
	require.NoError(t, err)

	_, err = store.Apply(context.Background(), sess.SessionID, withConfig.Version, now, func(cur *Session) (*Session, error) {
		cur.Config = nil
		return cur, nil
	})
	require.Error(t, err)
}

func TestExpireDue_TransitionsExpiredPendingSessions(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Minute, 24*time.Hour)
	require.NoError(t, err)

	// Push the session's retention expiry into the past directly, bypassing
	// the public API (ExpireDue only looks at ExpiresAt, not ChallengeExpiresAt).
	store.mapMu.RLock()
	e := store.entries[sess.SessionID]
	store.mapMu.RUnlock()
	e.mu.Lock()
	e.session.ExpiresAt = now.Add(-time.Minute)
	e.mu.Unlock()

	expired, err := store.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Contains(t, expired, sess.SessionID)

	got, err := store.Get(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestExpireDue_LeavesReadySessionsUntouched(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sess, err := store.CreatePending(context.Background(), testWallet, "", "1", now, time.Minute, 24*time.Hour)
	require.NoError(t, err)
	ready := advanceToReady(t, store, sess.SessionID, now)

	store.mapMu.RLock()
	e := store.entries[sess.SessionID]
	store.mapMu.RUnlock()
	e.mu.Lock()
	e.session.ExpiresAt = now.Add(-time.Minute)
	e.mu.Unlock()

	expired, err := store.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.NotContains(t, expired, ready.SessionID)

	got, err := store.Get(context.Background(), ready.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
}

func TestListForWallet_OrderedByUpdatedAtDescAndLimited(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := store.CreatePending(context.Background(), testWallet, "", "1", base.Add(time.Duration(i)*time.Minute), time.Hour, 24*time.Hour)
		require.NoError(t, err)
		ids = append(ids, sess.SessionID)
	}

	// Touch the first session last so it becomes most-recently-updated.
	_, err := store.Apply(context.Background(), ids[0], 1, base.Add(10*time.Minute), func(cur *Session) (*Session, error) {
		cur.Detail = "touched"
		return cur, nil
	})
	require.NoError(t, err)

	list, err := store.ListForWallet(context.Background(), testWallet, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].SessionID)
}

func TestChallengeMessage_IsDeterministicForSameInputs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	msg1 := ChallengeMessage("sess-1", testWallet, "1", "deadbeef", now, expires)
	msg2 := ChallengeMessage("sess-1", testWallet, "1", "deadbeef", now, expires)
	assert.Equal(t, msg1, msg2)
	assert.Contains(t, msg1, "Enclagent Gateway Authorization\n")
	assert.Contains(t, msg1, "Session: sess-1\n")
	assert.Contains(t, msg1, "Wallet: "+testWallet+"\n")
}
