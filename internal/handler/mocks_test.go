package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mapapp/internal/event"
	"github.com/hitoshi/mapapp/internal/identity"
	"github.com/hitoshi/mapapp/internal/middleware"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/registration"
)

// --- モック定義 ---

type mockIdentityService struct {
	checkPasswordFn        func(ctx context.Context, email, password string) (*model.IdentityUser, error)
	signInFn               func(ctx context.Context, userID string, persistent bool) (*model.Session, error)
	signOutFn              func(ctx context.Context, sessionID string) error
	confirmEmailFn         func(ctx context.Context, userID, token string) error
	externalLoginSchemesFn func() []string
	externalLoginURLFn     func(scheme, state string) (string, error)
	exchangeExternalCodeFn func(ctx context.Context, scheme, code string) (*identity.ExternalLoginInfo, error)
}

func (m *mockIdentityService) CheckPassword(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	if m.checkPasswordFn != nil {
		return m.checkPasswordFn(ctx, email, password)
	}
	return nil, identity.ErrInvalidLogin
}

func (m *mockIdentityService) SignIn(ctx context.Context, userID string, persistent bool) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, userID, persistent)
	}
	return &model.Session{ID: "session-" + userID, UserID: userID, Persistent: persistent}, nil
}

func (m *mockIdentityService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockIdentityService) ConfirmEmail(ctx context.Context, userID, token string) error {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, userID, token)
	}
	return nil
}

func (m *mockIdentityService) ExternalLoginSchemes() []string {
	if m.externalLoginSchemesFn != nil {
		return m.externalLoginSchemesFn()
	}
	return nil
}

func (m *mockIdentityService) ExternalLoginURL(scheme, state string) (string, error) {
	if m.externalLoginURLFn != nil {
		return m.externalLoginURLFn(scheme, state)
	}
	return "", identity.ErrUnknownScheme
}

func (m *mockIdentityService) ExchangeExternalCode(ctx context.Context, scheme, code string) (*identity.ExternalLoginInfo, error) {
	if m.exchangeExternalCodeFn != nil {
		return m.exchangeExternalCodeFn(ctx, scheme, code)
	}
	return nil, identity.ErrUnknownScheme
}

type mockRegistrar struct {
	registerFn              func(ctx context.Context, in registration.Input, returnURL string) (*registration.Result, error)
	completeExternalLoginFn func(ctx context.Context, info *identity.ExternalLoginInfo) (*model.Session, error)
}

func (m *mockRegistrar) Register(ctx context.Context, in registration.Input, returnURL string) (*registration.Result, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in, returnURL)
	}
	return &registration.Result{RedirectURL: returnURL}, nil
}

func (m *mockRegistrar) CompleteExternalLogin(ctx context.Context, info *identity.ExternalLoginInfo) (*model.Session, error) {
	if m.completeExternalLoginFn != nil {
		return m.completeExternalLoginFn(ctx, info)
	}
	return nil, nil
}

type mockProfileReader struct {
	getFn func(ctx context.Context, identityID string) (*model.MapAppUser, error)
}

func (m *mockProfileReader) Get(ctx context.Context, identityID string) (*model.MapAppUser, error) {
	if m.getFn != nil {
		return m.getFn(ctx, identityID)
	}
	return nil, nil
}

type mockWithdrawer struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockWithdrawer) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockEventService struct {
	getFn      func(ctx context.Context, id int64) (*event.Detail, error)
	upcomingFn func(ctx context.Context, limit int) ([]*model.Event, error)
	markersFn  func(ctx context.Context) ([]event.Marker, error)
}

func (m *mockEventService) Get(ctx context.Context, id int64) (*event.Detail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewEventNotFoundError(id)
}

func (m *mockEventService) Upcoming(ctx context.Context, limit int) ([]*model.Event, error) {
	if m.upcomingFn != nil {
		return m.upcomingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockEventService) Markers(ctx context.Context) ([]event.Marker, error) {
	if m.markersFn != nil {
		return m.markersFn(ctx)
	}
	return []event.Marker{}, nil
}

type mockMapScripts struct {
	enabled bool
}

func (m *mockMapScripts) Enabled() bool { return m.enabled }

func (m *mockMapScripts) ScriptURL(callback string) string {
	return "https://maps.googleapis.com/maps/api/js?key=test-key&callback=" + callback
}

type mockSessionFinder struct {
	users map[string]*model.IdentityUser // sessionID -> user
}

func (m *mockSessionFinder) CurrentUser(ctx context.Context, sessionID string) (*model.IdentityUser, error) {
	return m.users[sessionID], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := NewRenderer(nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return rd
}

// withUser はテスト用にリクエストコンテキストへサインイン中のユーザーを注入するヘルパー。
func withUser(r *http.Request, user *model.IdentityUser) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), user))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// findCookie はレスポンスから指定名のCookieを返す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
