package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/enclagent/gateway/domain/clock"
	"github.com/enclagent/gateway/domain/wallet"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

// PostgresStore is a Store backed by Postgres via database/sql and
// github.com/lib/pq. Apply performs a single-statement compare-and-swap on
// the version column so concurrent writers cannot both observe success.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore opens dsn, applies embedded migrations, and returns a
// ready PostgresStore.
func OpenPostgresStore(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreatePending(ctx context.Context, walletAddress, privyUserID, chainID string, now time.Time, challengeTTL, sessionTTL time.Duration) (*Session, error) {
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

	doc, err := json.Marshal(sess)
	if err != nil {
		return nil, gatewayerrors.Internal("marshal session document", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions (session_id, wallet_address, version, status, document, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.SessionID, sess.WalletAddress, sess.Version, sess.Status, doc, sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, gatewayerrors.Internal("insert session", err)
	}
	return sess, nil
}

func (p *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT document FROM gateway_sessions WHERE session_id = $1`, sessionID)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, gatewayerrors.Internal("scan session", err)
	}
	var sess Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return nil, gatewayerrors.Internal("unmarshal session document", err)
	}
	return &sess, nil
}

func (p *PostgresStore) ListForWallet(ctx context.Context, walletAddress string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT document FROM gateway_sessions
		WHERE wallet_address = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, wallet.Normalize(walletAddress), limit)
	if err != nil {
		return nil, gatewayerrors.Internal("query sessions for wallet", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, gatewayerrors.Internal("scan session row", err)
		}
		var sess Session
		if err := json.Unmarshal(doc, &sess); err != nil {
			return nil, gatewayerrors.Internal("unmarshal session document", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Apply performs a true compare-and-swap: it reads the current document
// (ErrNotFound if absent) and checks its version, then the UPDATE's WHERE
// clause checks version equality again; zero rows affected is reported as
// ErrConflict.
func (p *PostgresStore) Apply(ctx context.Context, sessionID string, expectedVersion int, now time.Time, mutator Mutator) (*Session, error) {
	current, err := p.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ErrConflict
	}

	proposed, err := mutator(current.Clone())
	if err != nil {
		return nil, err
	}
	if err := checkInvariants(current, proposed); err != nil {
		return nil, err
	}
	proposed.Version = expectedVersion + 1
	proposed.UpdatedAt = now

	doc, err := json.Marshal(proposed)
	if err != nil {
		return nil, gatewayerrors.Internal("marshal session document", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE gateway_sessions
		SET version = $1, status = $2, document = $3, updated_at = $4
		WHERE session_id = $5 AND version = $6
	`, proposed.Version, proposed.Status, doc, proposed.UpdatedAt, sessionID, expectedVersion)
	if err != nil {
		return nil, gatewayerrors.Internal("update session", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, gatewayerrors.Internal("read rows affected", err)
	}
	if affected == 0 {
		return nil, ErrConflict
	}
	return proposed, nil
}

func (p *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, document FROM gateway_sessions
		WHERE expires_at < $1 AND status IN ($2, $3)
	`, now, StatusPendingSignature, StatusProvisioning)
	if err != nil {
		return nil, gatewayerrors.Internal("query expired sessions", err)
	}
	type row struct {
		id  string
		doc []byte
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.doc); err != nil {
			rows.Close()
			return nil, gatewayerrors.Internal("scan expired session", err)
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, gatewayerrors.Internal("iterate expired sessions", err)
	}

	var expiredIDs []string
	for _, c := range candidates {
		var sess Session
		if err := json.Unmarshal(c.doc, &sess); err != nil {
			continue
		}
		sess.Status = StatusExpired
		sess.Detail = "challenge/provisioning expired"
		sess.Version++
		sess.UpdatedAt = now
		doc, err := json.Marshal(sess)
		if err != nil {
			continue
		}
		res, err := p.db.ExecContext(ctx, `
			UPDATE gateway_sessions SET version = $1, status = $2, document = $3, updated_at = $4
			WHERE session_id = $5 AND version = $6
		`, sess.Version, sess.Status, doc, sess.UpdatedAt, c.id, sess.Version-1)
		if err != nil {
			continue
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			expiredIDs = append(expiredIDs, c.id)
		}
	}
	return expiredIDs, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
