package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したワンタイムトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンを保存する。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.UserToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identity_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, string(token.Purpose), token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// FindActiveByHash は未使用かつ有効期限内のトークンをハッシュで検索する。
func (r *PostgresTokenRepo) FindActiveByHash(ctx context.Context, purpose model.TokenPurpose, tokenHash string) (*model.UserToken, error) {
	token := &model.UserToken{}
	var purposeStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, purpose, token_hash, expires_at, used_at, created_at
		 FROM identity_tokens
		 WHERE purpose = $1 AND token_hash = $2
		   AND used_at IS NULL AND expires_at > now()`,
		string(purpose), tokenHash,
	).Scan(&token.ID, &token.UserID, &purposeStr, &token.TokenHash, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	token.Purpose = model.TokenPurpose(purposeStr)
	return token, nil
}

// MarkUsed はトークンを使用済みにする。
// used_at IS NULL を条件に含めるため、同じトークンの並行使用は一方のみ成功する。
func (r *PostgresTokenRepo) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	err := requireAffected(r.db.ExecContext(ctx,
		`UPDATE identity_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`,
		id, usedAt,
	))
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	return err
}

// DeleteExpired は期限切れトークンを削除する。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM identity_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
