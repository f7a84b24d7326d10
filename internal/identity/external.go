package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// ExternalLoginInfo は外部IdPから取得したユーザー情報。
type ExternalLoginInfo struct {
	Provider    string // "Google" 等のスキーム名
	ProviderKey string
	Email       string
	GivenName   string
	FamilyName  string
	Name        string
}

// OAuthProvider は外部ログインスキームのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*ExternalLoginInfo, error)
}

// ExternalLoginSchemes は設定済みの外部ログインスキーム名を名前順で返す。
func (p *Provider) ExternalLoginSchemes() []string {
	names := make([]string, 0, len(p.schemes))
	for name := range p.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExternalLoginURL は指定スキームの認証URLを返す。
func (p *Provider) ExternalLoginURL(scheme, state string) (string, error) {
	oauth, ok := p.schemes[scheme]
	if !ok {
		return "", ErrUnknownScheme
	}
	return oauth.GetLoginURL(state), nil
}

// ExchangeExternalCode は認可コードを交換して外部ユーザー情報を取得する。
func (p *Provider) ExchangeExternalCode(ctx context.Context, scheme, code string) (*ExternalLoginInfo, error) {
	oauth, ok := p.schemes[scheme]
	if !ok {
		return nil, ErrUnknownScheme
	}
	info, err := oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange %s code: %w", scheme, err)
	}
	return info, nil
}

// FindByExternalLogin は外部ログインに紐付いたユーザーを返す。未登録の場合はnilを返す。
func (p *Provider) FindByExternalLogin(ctx context.Context, info *ExternalLoginInfo) (*model.IdentityUser, error) {
	login, err := p.logins.FindByProviderKey(ctx, info.Provider, info.ProviderKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find external login: %w", err)
	}
	if login == nil {
		return nil, nil
	}
	return p.users.FindByID(ctx, login.UserID)
}

// CreateExternalUser は外部ログインのみのユーザー（パスワードなし）を作成する。
// メールアドレスはIdPが検証済みのため確認済みとして扱う。
func (p *Provider) CreateExternalUser(ctx context.Context, info *ExternalLoginInfo) (*model.IdentityUser, error) {
	user, err := p.newUser(info.Email, "")
	if err != nil {
		return nil, err
	}
	user.EmailConfirmed = true

	login := &model.ExternalLogin{
		Provider:    info.Provider,
		ProviderKey: info.ProviderKey,
		UserID:      user.ID,
		CreatedAt:   time.Now(),
	}

	if err := p.users.CreateWithLogin(ctx, user, login); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUserName):
			return nil, Errors{duplicateUserName(info.Email)}
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, Errors{duplicateEmail(info.Email)}
		}
		return nil, fmt.Errorf("failed to create external user: %w", err)
	}

	slog.InfoContext(ctx, "external user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}
