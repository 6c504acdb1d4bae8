package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// TokenRepo stores refresh tokens by SHA-256 hash.  A token is live while
// it is neither revoked nor expired.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh records a newly issued token.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, tokenHash, exp.UTC(), nowUTC())
	return classify("store refresh token", err)
}

// ValidateRefresh returns the owner of a live token.  Unknown, revoked and
// expired tokens are all model.ErrNotFound.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	var userID uint64
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id FROM refresh_tokens
		 WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		tokenHash, nowUTC()).Scan(&userID)
	return userID, classify("validate refresh token", err)
}

// Rotate revokes oldHash and stores newHash in one transaction.  When
// oldHash was already revoked, typically by a concurrent refresh with the
// same token, nothing is stored and model.ErrNotFound is returned.
func (r *TokenRepo) Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin token rotation", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := nowUTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		 WHERE token_hash = ? AND user_id = ? AND revoked_at IS NULL AND expires_at > ?`,
		now, oldHash, userID, now)
	if err != nil {
		return classify("revoke refresh token", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return classify("revoke refresh token", err)
	} else if n == 0 {
		return model.NotFoundf("refresh token")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, newHash, exp.UTC(), now); err != nil {
		return classify("store refresh token", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit token rotation", err)
	}
	committed = true
	return nil
}

// RevokeByHash revokes one token.  Revoking twice is a no-op.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		nowUTC(), tokenHash)
	return classify("revoke refresh token", err)
}

// RevokeAllForUser ends every session of a user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		nowUTC(), userID)
	return classify("revoke refresh tokens", err)
}
