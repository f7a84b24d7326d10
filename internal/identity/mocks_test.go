package identity

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// --- モック定義 ---

// memUserRepo はメモリ上のIdentityUserRepository。一意制約を再現する。
type memUserRepo struct {
	mu       sync.Mutex
	users    map[string]*model.IdentityUser
	createFn func(ctx context.Context, user *model.IdentityUser) error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.IdentityUser{}}
}

func (m *memUserRepo) Create(ctx context.Context, user *model.IdentityUser) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.NormalizedEmail == user.NormalizedEmail {
			return repository.ErrDuplicateEmail
		}
		if u.NormalizedUserName == user.NormalizedUserName {
			return repository.ErrDuplicateUserName
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUserRepo) CreateWithLogin(ctx context.Context, user *model.IdentityUser, _ *model.ExternalLogin) error {
	return m.Create(ctx, user)
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.IdentityUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByNormalizedEmail(_ context.Context, email string) (*model.IdentityUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.NormalizedEmail == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByNormalizedUserName(_ context.Context, name string) (*model.IdentityUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.NormalizedUserName == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) SetEmailConfirmed(_ context.Context, id, stamp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.EmailConfirmed = true
	u.SecurityStamp = stamp
	return nil
}

func (m *memUserRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type mockLoginRepo struct {
	findFn   func(ctx context.Context, provider, key string) (*model.ExternalLogin, error)
	createFn func(ctx context.Context, login *model.ExternalLogin) error
}

func (m *mockLoginRepo) FindByProviderKey(ctx context.Context, provider, key string) (*model.ExternalLogin, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, key)
	}
	return nil, nil
}

func (m *mockLoginRepo) Create(ctx context.Context, login *model.ExternalLogin) error {
	if m.createFn != nil {
		return m.createFn(ctx, login)
	}
	return nil
}

// memTokenRepo はメモリ上のTokenRepository。
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.UserToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: map[string]*model.UserToken{}}
}

func (m *memTokenRepo) Create(_ context.Context, token *model.UserToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memTokenRepo) FindActiveByHash(_ context.Context, purpose model.TokenPurpose, hash string) (*model.UserToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Purpose == purpose && t.TokenHash == hash && t.UsedAt == nil && t.ExpiresAt.After(time.Now()) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTokenRepo) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.UsedAt != nil {
		return repository.ErrNotFound
	}
	t.UsedAt = &usedAt
	return nil
}

func (m *memTokenRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*ExternalLoginInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalLoginInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.IdentityUserRepository = (*memUserRepo)(nil)
var _ repository.ExternalLoginRepository = (*mockLoginRepo)(nil)
var _ repository.TokenRepository = (*memTokenRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
