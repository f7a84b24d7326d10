package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresIdentityUserRepo はPostgreSQLを使用した認証用ユーザーリポジトリ。
type PostgresIdentityUserRepo struct {
	db *sql.DB
}

// NewPostgresIdentityUserRepo はPostgresIdentityUserRepoを生成する。
func NewPostgresIdentityUserRepo(db *sql.DB) *PostgresIdentityUserRepo {
	return &PostgresIdentityUserRepo{db: db}
}

const identityUserColumns = `id, user_name, normalized_user_name, email, normalized_email,
	password_hash, email_confirmed, security_stamp, created_at, updated_at`

// Create はユーザーを作成する。
func (r *PostgresIdentityUserRepo) Create(ctx context.Context, user *model.IdentityUser) error {
	if err := insertIdentityUser(ctx, r.db, user); err != nil {
		return err
	}
	return nil
}

// CreateWithLogin はユーザーと外部ログインを同一トランザクションで作成する。
func (r *PostgresIdentityUserRepo) CreateWithLogin(ctx context.Context, user *model.IdentityUser, login *model.ExternalLogin) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertIdentityUser(ctx, tx, user); err != nil {
		return err
	}
	if err := insertExternalLogin(ctx, tx, login); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertIdentityUser(ctx context.Context, ex execer, user *model.IdentityUser) error {
	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO identity_users (`+identityUserColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.UserName, user.NormalizedUserName, user.Email, user.NormalizedEmail,
		passwordHash, user.EmailConfirmed, user.SecurityStamp, user.CreatedAt, user.UpdatedAt,
	)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case "identity_users_normalized_email_key":
			return ErrDuplicateEmail
		case "identity_users_normalized_user_name_key":
			return ErrDuplicateUserName
		}
	}
	if err != nil {
		return fmt.Errorf("failed to insert identity user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityUserRepo) FindByID(ctx context.Context, id string) (*model.IdentityUser, error) {
	return r.findOne(ctx, `SELECT `+identityUserColumns+` FROM identity_users WHERE id = $1`, id)
}

// FindByNormalizedEmail は正規化済みメールアドレスでユーザーを検索する。
func (r *PostgresIdentityUserRepo) FindByNormalizedEmail(ctx context.Context, normalizedEmail string) (*model.IdentityUser, error) {
	return r.findOne(ctx, `SELECT `+identityUserColumns+` FROM identity_users WHERE normalized_email = $1`, normalizedEmail)
}

// FindByNormalizedUserName は正規化済みユーザー名でユーザーを検索する。
func (r *PostgresIdentityUserRepo) FindByNormalizedUserName(ctx context.Context, normalizedUserName string) (*model.IdentityUser, error) {
	return r.findOne(ctx, `SELECT `+identityUserColumns+` FROM identity_users WHERE normalized_user_name = $1`, normalizedUserName)
}

func (r *PostgresIdentityUserRepo) findOne(ctx context.Context, query string, arg any) (*model.IdentityUser, error) {
	user := &model.IdentityUser{}
	var passwordHash sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.UserName, &user.NormalizedUserName, &user.Email, &user.NormalizedEmail,
		&passwordHash, &user.EmailConfirmed, &user.SecurityStamp, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity user: %w", err)
	}
	user.PasswordHash = passwordHash.String
	return user, nil
}

// SetEmailConfirmed はメール確認済みフラグを立て、セキュリティスタンプを更新する。
func (r *PostgresIdentityUserRepo) SetEmailConfirmed(ctx context.Context, id, securityStamp string) error {
	err := requireAffected(r.db.ExecContext(ctx,
		`UPDATE identity_users
		 SET email_confirmed = TRUE, security_stamp = $2, updated_at = now()
		 WHERE id = $1`,
		id, securityStamp,
	))
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	return err
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresIdentityUserRepo) DeleteByID(ctx context.Context, id string) error {
	err := requireAffected(r.db.ExecContext(ctx, `DELETE FROM identity_users WHERE id = $1`, id))
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to delete identity user: %w", err)
	}
	return err
}

// compile-time interface check
var _ IdentityUserRepository = (*PostgresIdentityUserRepo)(nil)
