package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/enclagent/gateway/domain/clock"
	"github.com/enclagent/gateway/domain/wallet"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

type entry struct {
	mu      sync.Mutex
	session *Session
}

// MemoryStore is an in-memory Store, used for local development and tests
// when no Postgres DSN is configured. It guards its id→entry map with a
// single RWMutex, so reads take its shared read lock rather than being
// lock-free, and serializes reads and writes of one session via that
// session's own entry mutex, so writes to distinct sessions proceed in
// parallel.
type MemoryStore struct {
	mapMu   sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (m *MemoryStore) CreatePending(ctx context.Context, walletAddress, privyUserID, chainID string, now time.Time, challengeTTL, sessionTTL time.Duration) (*Session, error) {
	if !wallet.IsValidAddress(walletAddress) {
		return nil, gatewayerrors.InvalidWalletAddress(walletAddress)
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	normalizedWallet := wallet.Normalize(walletAddress)
	id := clock.NewSessionID()

	nonce, err := randomHex(16)
	if err != nil {
		return nil, gatewayerrors.Internal("generate challenge nonce", err)
	}
	expiresAt := now.Add(challengeTTL)
	if chainID == "" {
		chainID = "any"
	}

	msg := ChallengeMessage(id, normalizedWallet, chainID, nonce, now, expiresAt)

	sess := &Session{
		SessionID:              id,
		WalletAddress:          normalizedWallet,
		PrivyUserID:            privyUserID,
		Version:                1,
		Status:                 StatusPendingSignature,
		RuntimeState:           RuntimeNotStarted,
		ChallengeMessage:       msg,
		ChallengeCreatedAt:     now,
		ChallengeExpiresAt:     expiresAt,
		ProvisioningSource:     ProvisioningSourceUnconfigured,
		FundingPreflightStatus: PreflightNotRun,
		CreatedAt:              now,
		UpdatedAt:              now,
		ExpiresAt:              now.Add(sessionTTL),
	}

	m.mapMu.Lock()
	m.entries[id] = &entry{session: sess.Clone()}
	m.mapMu.Unlock()

	return sess.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mapMu.RLock()
	e, ok := m.entries[sessionID]
	m.mapMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (m *MemoryStore) ListForWallet(ctx context.Context, walletAddress string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	normalized := wallet.Normalize(walletAddress)

	m.mapMu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mapMu.RUnlock()

	var out []*Session
	for _, e := range entries {
		e.mu.Lock()
		s := e.session
		if s != nil && s.WalletAddress == normalized {
			out = append(out, s.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Apply(ctx context.Context, sessionID string, expectedVersion int, now time.Time, mutator Mutator) (*Session, error) {
	m.mapMu.RLock()
	e, ok := m.entries[sessionID]
	m.mapMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Version != expectedVersion {
		return nil, ErrConflict
	}

	proposed, err := mutator(e.session.Clone())
	if err != nil {
		return nil, err
	}
	if err := checkInvariants(e.session, proposed); err != nil {
		return nil, err
	}

	proposed.Version = e.session.Version + 1
	proposed.UpdatedAt = now
	e.session = proposed.Clone()

	return proposed.Clone(), nil
}

func (m *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	m.mapMu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mapMu.RUnlock()

	var expired []string
	for _, e := range entries {
		e.mu.Lock()
		s := e.session
		if s != nil && s.ExpiresAt.Before(now) && (s.Status == StatusPendingSignature || s.Status == StatusProvisioning) {
			next := s.Clone()
			next.Status = StatusExpired
			next.Detail = "challenge/provisioning expired"
			next.Version = s.Version + 1
			next.UpdatedAt = now
			e.session = next
			expired = append(expired, s.SessionID)
		}
		e.mu.Unlock()
	}
	return expired, nil
}

func (m *MemoryStore) Close() error { return nil }

// ChallengeMessage builds the canonical challenge string the wallet signs.
// It binds the session id, wallet, chain, a fresh nonce and the expiry
// window; the client must sign these bytes exactly.
func ChallengeMessage(sessionID, walletAddress, chainID, nonce string, issuedAt, expiresAt time.Time) string {
	var b strings.Builder
	b.WriteString("Enclagent Gateway Authorization\n")
	fmt.Fprintf(&b, "Session: %s\n", sessionID)
	fmt.Fprintf(&b, "Wallet: %s\n", walletAddress)
	fmt.Fprintf(&b, "Chain: %s\n", chainID)
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued: %s\n", issuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expires: %s\n", expiresAt.UTC().Format(time.RFC3339))
	return b.String()
}
