package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したローカルプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.MapAppUser) error {
	return insertProfile(ctx, r.db, profile)
}

// CreateWithOutboundEmail はプロフィールと送信待ちメールを同一トランザクションで作成する。
func (r *PostgresProfileRepo) CreateWithOutboundEmail(ctx context.Context, profile *model.MapAppUser, email *model.OutboundEmail) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertProfile(ctx, tx, profile); err != nil {
		return err
	}
	if err := insertOutboundEmail(ctx, tx, email); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryRower は*sql.DBと*sql.Txの共通部分。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertProfile(ctx context.Context, q queryRower, profile *model.MapAppUser) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO map_app_users (aspnet_identity_id, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		profile.AspnetIdentityID, profile.FirstName, profile.LastName, profile.CreatedAt,
	).Scan(&profile.ID)
	if _, ok := uniqueViolation(err); ok {
		return ErrDuplicateProfile
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// FindByIdentityID はIdentityUserのIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByIdentityID(ctx context.Context, identityID string) (*model.MapAppUser, error) {
	profile := &model.MapAppUser{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, aspnet_identity_id, first_name, last_name, created_at
		 FROM map_app_users
		 WHERE aspnet_identity_id = $1`,
		identityID,
	).Scan(&profile.ID, &profile.AspnetIdentityID, &profile.FirstName, &profile.LastName, &profile.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// DeleteByIdentityID はIdentityUserのIDでプロフィールを削除する。
// 存在しない場合もエラーにしない。
func (r *PostgresProfileRepo) DeleteByIdentityID(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM map_app_users WHERE aspnet_identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
