// Package identity はローカルのIDプロバイダー（ユーザー作成、パスワード検証、
// メール確認トークン、セッション発行、外部ログイン）を提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// Options はProviderの設定。
type Options struct {
	Password                PasswordPolicy
	RequireConfirmedAccount bool
	TokenSecret             []byte        // トークンハッシュ用のHMACキー
	ConfirmationTokenTTL    time.Duration // メール確認トークンの有効期間
	SessionMaxAge           time.Duration
	BcryptCost              int // 0の場合はbcrypt.DefaultCost
}

// Provider はIDプロバイダーの実装。
// identity_users、identity_logins、identity_tokens、sessionsテーブルを所有する。
type Provider struct {
	users    repository.IdentityUserRepository
	logins   repository.ExternalLoginRepository
	tokens   repository.TokenRepository
	sessions repository.SessionRepository
	schemes  map[string]OAuthProvider
	opts     Options
}

// NewProvider はProviderを生成する。
func NewProvider(
	users repository.IdentityUserRepository,
	logins repository.ExternalLoginRepository,
	tokens repository.TokenRepository,
	sessions repository.SessionRepository,
	opts Options,
) *Provider {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.ConfirmationTokenTTL == 0 {
		opts.ConfirmationTokenTTL = 24 * time.Hour
	}
	return &Provider{
		users:    users,
		logins:   logins,
		tokens:   tokens,
		sessions: sessions,
		schemes:  map[string]OAuthProvider{},
		opts:     opts,
	}
}

// RegisterScheme は外部ログインスキームを登録する。
func (p *Provider) RegisterScheme(name string, oauth OAuthProvider) {
	p.schemes[name] = oauth
}

// RequireConfirmedAccount はサインインにメール確認が必要かを返す。
func (p *Provider) RequireConfirmedAccount() bool {
	return p.opts.RequireConfirmedAccount
}

// CreateUser はメールアドレスをユーザー名兼メールアドレスとしてユーザーを作成する。
// 検証に失敗した場合はErrorsを返し、何も書き込まない。
func (p *Provider) CreateUser(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	var errs Errors
	if _, err := mail.ParseAddress(email); err != nil {
		errs = append(errs, invalidEmail(email))
	}
	errs = append(errs, p.opts.Password.Validate(password)...)

	normalized := Normalize(email)
	if len(errs) == 0 {
		existing, err := p.users.FindByNormalizedUserName(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user name: %w", err)
		}
		if existing != nil {
			errs = append(errs, duplicateUserName(email))
		}
		existing, err = p.users.FindByNormalizedEmail(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to look up email: %w", err)
		}
		if existing != nil {
			errs = append(errs, duplicateEmail(email))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	hash, err := hashPassword(password, p.opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	user, err := p.newUser(email, hash)
	if err != nil {
		return nil, err
	}

	// 事前検索と挿入の間に同じメールで登録された場合も一意制約で検出する
	if err := p.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUserName):
			return nil, Errors{duplicateUserName(email)}
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, Errors{duplicateEmail(email)}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "identity user created", slog.String("user_id", user.ID))
	return user, nil
}

func (p *Provider) newUser(email, passwordHash string) (*model.IdentityUser, error) {
	stamp, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate security stamp: %w", err)
	}
	now := time.Now()
	return &model.IdentityUser{
		ID:                 uuid.New().String(),
		UserName:           email,
		NormalizedUserName: Normalize(email),
		Email:              email,
		NormalizedEmail:    Normalize(email),
		PasswordHash:       passwordHash,
		SecurityStamp:      stamp,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// FindByID はユーザーを取得する。見つからない場合はnilを返す。
func (p *Provider) FindByID(ctx context.Context, userID string) (*model.IdentityUser, error) {
	return p.users.FindByID(ctx, userID)
}

// CheckPassword はメールアドレスとパスワードを検証し、一致したユーザーを返す。
// 一致しない場合はErrInvalidLogin、確認必須設定で未確認の場合はErrEmailNotConfirmedを返す。
func (p *Provider) CheckPassword(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	user, err := p.users.FindByNormalizedEmail(ctx, Normalize(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !verifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidLogin
	}
	if p.opts.RequireConfirmedAccount && !user.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}
	return user, nil
}

// GenerateEmailConfirmationToken はメール確認用のワンタイムトークンを発行する。
// 返されるトークンは平文で、DBにはHMACハッシュのみ保存される。
func (p *Provider) GenerateEmailConfirmationToken(ctx context.Context, userID string) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now()
	record := &model.UserToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   model.TokenPurposeEmailConfirmation,
		TokenHash: hashToken(p.opts.TokenSecret, token),
		ExpiresAt: now.Add(p.opts.ConfirmationTokenTTL),
		CreatedAt: now,
	}
	if err := p.tokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// ConfirmEmail はトークンを検証し、ユーザーのメールアドレスを確認済みにする。
func (p *Provider) ConfirmEmail(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return ErrInvalidToken
	}

	record, err := p.tokens.FindActiveByHash(ctx, model.TokenPurposeEmailConfirmation, hashToken(p.opts.TokenSecret, token))
	if err != nil {
		return fmt.Errorf("failed to find token: %w", err)
	}
	if record == nil || record.UserID != userID {
		return ErrInvalidToken
	}

	if err := p.tokens.MarkUsed(ctx, record.ID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to mark token used: %w", err)
	}

	stamp, err := randomHex(16)
	if err != nil {
		return fmt.Errorf("failed to generate security stamp: %w", err)
	}
	if err := p.users.SetEmailConfirmed(ctx, userID, stamp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to confirm email: %w", err)
	}

	slog.InfoContext(ctx, "email confirmed", slog.String("user_id", userID))
	return nil
}

// SignIn はセッションを発行する。persistentはブラウザ終了後もCookieを保持するかを表す。
func (p *Provider) SignIn(ctx context.Context, userID string, persistent bool) (*model.Session, error) {
	sessionID, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:         sessionID,
		UserID:     userID,
		Persistent: persistent,
		ExpiresAt:  now.Add(p.opts.SessionMaxAge),
		CreatedAt:  now,
	}
	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.InfoContext(ctx, "user signed in",
		slog.String("user_id", userID),
		slog.Bool("persistent", persistent),
	)
	return session, nil
}

// SignOut はセッションを破棄する。
func (p *Provider) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := p.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CurrentUser はセッションIDから現在のユーザーを取得する。
// セッションが無効な場合はnil, nilを返す。
func (p *Provider) CurrentUser(ctx context.Context, sessionID string) (*model.IdentityUser, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := p.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	user, err := p.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// DeleteUser はユーザーと全セッションを削除する。
// トークン、外部ログイン、プロフィールはCASCADE削除される。
func (p *Provider) DeleteUser(ctx context.Context, userID string) error {
	if err := p.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := p.users.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	slog.InfoContext(ctx, "identity user deleted", slog.String("user_id", userID))
	return nil
}
