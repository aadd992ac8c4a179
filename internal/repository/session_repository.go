package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RefreshSession mirrors the 'refresh_sessions' table. Only the SHA-256
// hash of the refresh secret is stored; the raw token exists client-side
// only. RootID names the first session of the rotation chain so a whole
// lineage can be revoked with one statement when a redeemed token is
// presented again.
type RefreshSession struct {
	ID         string
	UserID     uint64
	TokenHash  string
	RootID     string
	ReplacesID *string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RedeemedAt *time.Time
	RevokedAt  *time.Time
}

// Redeemed reports whether the session was already exchanged for a
// successor. A redeemed session showing up again means the token was
// replayed.
func (s RefreshSession) Redeemed() bool { return s.RedeemedAt != nil }

// Usable reports whether the session can still be redeemed at time now.
func (s RefreshSession) Usable(now time.Time) bool {
	return s.RevokedAt == nil && s.RedeemedAt == nil && now.Before(s.ExpiresAt)
}

var (
	// ErrSessionNotFound is returned when no session matches a token hash.
	ErrSessionNotFound = errors.New("refresh session not found")
	// ErrSessionReused is returned when a redemption races or replays: the
	// session was already marked redeemed by the time the UPDATE ran.
	ErrSessionReused = errors.New("refresh session already redeemed")
)

// SessionRepo persists refresh sessions and performs the atomic
// redeem-and-rotate step.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,user_id,token_hash,root_id,replaces_id,issued_at,expires_at,redeemed_at,revoked_at"

// Create inserts the first session of a new chain (login). The session is
// its own chain root.
func (r *SessionRepo) Create(ctx context.Context, userID uint64, tokenHash string, expiresAt time.Time) (RefreshSession, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_sessions (id, user_id, token_hash, root_id, issued_at, expires_at) VALUES (?,?,?,?,?,?)",
		id, userID, tokenHash, id, now, expiresAt)
	if err != nil {
		return RefreshSession{}, err
	}
	return RefreshSession{ID: id, UserID: userID, TokenHash: tokenHash, RootID: id, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// GetByTokenHash fetches a session by the hash of its raw token.
func (r *SessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (RefreshSession, error) {
	var (
		s          RefreshSession
		replaces   sql.NullString
		redeemedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM refresh_sessions WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.RootID, &replaces, &s.IssuedAt, &s.ExpiresAt, &redeemedAt, &revokedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return RefreshSession{}, ErrSessionNotFound
		}
		return RefreshSession{}, err
	}
	if replaces.Valid {
		v := replaces.String
		s.ReplacesID = &v
	}
	if redeemedAt.Valid {
		v := redeemedAt.Time
		s.RedeemedAt = &v
	}
	if revokedAt.Valid {
		v := revokedAt.Time
		s.RevokedAt = &v
	}
	return s, nil
}

// Redeem atomically marks a session redeemed and inserts its successor in
// one transaction. The UPDATE is guarded on redeemed_at/revoked_at still
// being NULL; when two redemptions race, exactly one sees an affected row
// and the loser gets ErrSessionReused. The successor inherits the chain
// root so reuse detection can revoke the whole lineage later.
func (r *SessionRepo) Redeem(ctx context.Context, session RefreshSession, newTokenHash string, newExpiresAt time.Time) (RefreshSession, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return RefreshSession{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_sessions SET redeemed_at=NOW() WHERE id=? AND redeemed_at IS NULL AND revoked_at IS NULL",
		session.ID)
	if err != nil {
		return RefreshSession{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return RefreshSession{}, err
	}
	if n == 0 {
		return RefreshSession{}, ErrSessionReused
	}

	succ := RefreshSession{
		ID:         uuid.NewString(),
		UserID:     session.UserID,
		TokenHash:  newTokenHash,
		RootID:     session.RootID,
		ReplacesID: &session.ID,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  newExpiresAt,
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_sessions (id, user_id, token_hash, root_id, replaces_id, issued_at, expires_at) VALUES (?,?,?,?,?,?,?)",
		succ.ID, succ.UserID, succ.TokenHash, succ.RootID, session.ID, succ.IssuedAt, succ.ExpiresAt); err != nil {
		return RefreshSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return RefreshSession{}, err
	}
	return succ, nil
}

// RevokeChain revokes every active session in the chain rooted at rootID.
// Called when a redeemed token is replayed, forcing a fresh login.
func (r *SessionRepo) RevokeChain(ctx context.Context, rootID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked_at=NOW() WHERE root_id=? AND revoked_at IS NULL",
		rootID)
	return err
}

// RevokeByTokenHash marks a single session as revoked (logout of one
// device).
func (r *SessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	return err
}

// RevokeAllForUser revokes all of a user's active sessions.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return err
}
