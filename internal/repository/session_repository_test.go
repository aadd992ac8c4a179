package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionRows(s RefreshSession) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "root_id", "replaces_id", "issued_at", "expires_at", "redeemed_at", "revoked_at"})
	var replaces any
	if s.ReplacesID != nil {
		replaces = *s.ReplacesID
	}
	var redeemed, revoked any
	if s.RedeemedAt != nil {
		redeemed = *s.RedeemedAt
	}
	if s.RevokedAt != nil {
		revoked = *s.RevokedAt
	}
	rows.AddRow(s.ID, s.UserID, s.TokenHash, s.RootID, replaces, s.IssuedAt, s.ExpiresAt, redeemed, revoked)
	return rows
}

func TestGetByTokenHashNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + sessionColumns + " FROM refresh_sessions WHERE token_hash=? LIMIT 1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByTokenHash(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByTokenHashRedeemed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	now := time.Now().UTC()
	redeemed := now.Add(-time.Hour)
	s := RefreshSession{
		ID: "sess-2", UserID: 7, TokenHash: "hash", RootID: "sess-1",
		IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(24 * time.Hour),
		RedeemedAt: &redeemed,
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + sessionColumns + " FROM refresh_sessions WHERE token_hash=? LIMIT 1")).
		WithArgs("hash").
		WillReturnRows(sessionRows(s))

	got, err := repo.GetByTokenHash(context.Background(), "hash")
	require.NoError(t, err)
	assert.True(t, got.Redeemed())
	assert.False(t, got.Usable(now))
	assert.Equal(t, "sess-1", got.RootID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRotatesWithinOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	now := time.Now().UTC()
	old := RefreshSession{
		ID: "old-id", UserID: 7, TokenHash: "old-hash", RootID: "root-id",
		IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(24 * time.Hour),
	}
	newExp := now.Add(7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET redeemed_at=NOW() WHERE id=? AND redeemed_at IS NULL AND revoked_at IS NULL")).
		WithArgs("old-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_sessions (id, user_id, token_hash, root_id, replaces_id, issued_at, expires_at) VALUES (?,?,?,?,?,?,?)")).
		WithArgs(sqlmock.AnyArg(), uint64(7), "new-hash", "root-id", "old-id", sqlmock.AnyArg(), newExp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	succ, err := repo.Redeem(context.Background(), old, "new-hash", newExp)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, succ.ID)
	assert.Equal(t, "root-id", succ.RootID, "successor stays in the same chain")
	require.NotNil(t, succ.ReplacesID)
	assert.Equal(t, "old-id", *succ.ReplacesID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemLoserGetsSessionReused(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	old := RefreshSession{ID: "old-id", UserID: 7, RootID: "root-id", ExpiresAt: time.Now().Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET redeemed_at=NOW()")).
		WithArgs("old-id").
		WillReturnResult(sqlmock.NewResult(0, 0)) // someone already redeemed it
	mock.ExpectRollback()

	_, err = repo.Redeem(context.Background(), old, "new-hash", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrSessionReused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET revoked_at=NOW() WHERE root_id=? AND revoked_at IS NULL")).
		WithArgs("root-id").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeChain(context.Background(), "root-id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL")).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RevokeAllForUser(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
