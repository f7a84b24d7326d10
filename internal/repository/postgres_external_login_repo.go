package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresExternalLoginRepo はPostgreSQLを使用した外部ログインリポジトリ。
type PostgresExternalLoginRepo struct {
	db *sql.DB
}

// NewPostgresExternalLoginRepo はPostgresExternalLoginRepoを生成する。
func NewPostgresExternalLoginRepo(db *sql.DB) *PostgresExternalLoginRepo {
	return &PostgresExternalLoginRepo{db: db}
}

// FindByProviderKey はproviderとprovider_keyで紐付けを検索する。見つからない場合はnilを返す。
func (r *PostgresExternalLoginRepo) FindByProviderKey(ctx context.Context, provider, providerKey string) (*model.ExternalLogin, error) {
	login := &model.ExternalLogin{}
	err := r.db.QueryRowContext(ctx,
		`SELECT provider, provider_key, user_id, created_at
		 FROM identity_logins
		 WHERE provider = $1 AND provider_key = $2`,
		provider, providerKey,
	).Scan(&login.Provider, &login.ProviderKey, &login.UserID, &login.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find external login: %w", err)
	}
	return login, nil
}

// Create は既存ユーザーに外部ログインを紐付ける。
func (r *PostgresExternalLoginRepo) Create(ctx context.Context, login *model.ExternalLogin) error {
	return insertExternalLogin(ctx, r.db, login)
}

func insertExternalLogin(ctx context.Context, ex execer, login *model.ExternalLogin) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO identity_logins (provider, provider_key, user_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		login.Provider, login.ProviderKey, login.UserID, login.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert external login: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ExternalLoginRepository = (*PostgresExternalLoginRepo)(nil)
