// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/mapapp/internal/identity"
	"github.com/hitoshi/mapapp/internal/middleware"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/registration"
)

const (
	oauthStateCookie    = "oauth_state"
	externalLoginCookie = "external_login"
	oauthStateMaxAge    = 600 // 10分
)

// IdentityService はアカウント画面が必要とするIDプロバイダーの機能。
type IdentityService interface {
	CheckPassword(ctx context.Context, email, password string) (*model.IdentityUser, error)
	SignIn(ctx context.Context, userID string, persistent bool) (*model.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	ConfirmEmail(ctx context.Context, userID, token string) error
	ExternalLoginSchemes() []string
	ExternalLoginURL(scheme, state string) (string, error)
	ExchangeExternalCode(ctx context.Context, scheme, code string) (*identity.ExternalLoginInfo, error)
}

// Registrar は登録処理のインターフェース。
type Registrar interface {
	Register(ctx context.Context, in registration.Input, returnURL string) (*registration.Result, error)
	CompleteExternalLogin(ctx context.Context, info *identity.ExternalLoginInfo) (*model.Session, error)
}

// ProfileReader はプロフィールの取得インターフェース。
type ProfileReader interface {
	Get(ctx context.Context, identityID string) (*model.MapAppUser, error)
}

// Withdrawer は個人データ削除のインターフェース。
type Withdrawer interface {
	Withdraw(ctx context.Context, userID string) error
}

// AccountHandlerConfig はアカウントハンドラーの設定。
type AccountHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 永続セッションCookieの有効期間（秒）
}

// AccountHandler は登録、ログイン、外部ログイン、アカウント管理のHTTPハンドラー。
type AccountHandler struct {
	identity   IdentityService
	registrar  Registrar
	profiles   ProfileReader
	withdrawer Withdrawer
	render     *Renderer
	config     AccountHandlerConfig
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(
	idp IdentityService,
	registrar Registrar,
	profiles ProfileReader,
	withdrawer Withdrawer,
	render *Renderer,
	config AccountHandlerConfig,
) *AccountHandler {
	return &AccountHandler{
		identity:   idp,
		registrar:  registrar,
		profiles:   profiles,
		withdrawer: withdrawer,
		render:     render,
		config:     config,
	}
}

type registerPage struct {
	Input           registration.Input
	FieldErrors     registration.FieldErrors
	FormErrors      []string
	ReturnURL       string
	ExternalSchemes []string
}

type loginPage struct {
	Email           string
	RememberMe      bool
	FormErrors      []string
	ReturnURL       string
	ExternalSchemes []string
}

type registerConfirmationPage struct {
	Email     string
	ReturnURL string
}

type confirmEmailPage struct {
	Succeeded     bool
	StatusMessage string
	ReturnURL     string
}

type managePage struct {
	Email           string
	Profile         *model.MapAppUser
	RequirePassword bool
	FormErrors      []string
}

// RegisterForm は登録フォームを表示する。
// GET /Identity/Account/Register?returnUrl=..
func (h *AccountHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "register", "Register", &registerPage{
		ReturnURL:       returnURLParam(r),
		ExternalSchemes: h.identity.ExternalLoginSchemes(),
	})
}

// Register は登録フォームの送信を処理する。
// POST /Identity/Account/Register?returnUrl=..
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, r, http.StatusBadRequest)
		return
	}

	in := registration.Input{
		Email:           r.PostForm.Get("Input.Email"),
		Password:        r.PostForm.Get("Input.Password"),
		ConfirmPassword: r.PostForm.Get("Input.ConfirmPassword"),
		FirstName:       r.PostForm.Get("Input.FirstName"),
		LastName:        r.PostForm.Get("Input.LastName"),
	}
	returnURL := registration.LocalReturnURL(returnURLParam(r))

	res, err := h.registrar.Register(r.Context(), in, returnURL)
	if err != nil {
		slog.Error("registration failed", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	if res.Succeeded() {
		if res.Session != nil {
			h.setSessionCookie(w, res.Session)
		}
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	// パスワードは再表示しない
	in.Password, in.ConfirmPassword = "", ""
	h.render.Render(w, r, http.StatusOK, "register", "Register", &registerPage{
		Input:           in,
		FieldErrors:     res.FieldErrors,
		FormErrors:      res.FormErrors,
		ReturnURL:       returnURL,
		ExternalSchemes: h.identity.ExternalLoginSchemes(),
	})
}

// RegisterConfirmation は確認メール送信済みの案内を表示する。
// GET /Identity/Account/RegisterConfirmation?email=..&returnUrl=..
func (h *AccountHandler) RegisterConfirmation(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.render.Render(w, r, http.StatusOK, "register_confirmation", "Register confirmation", &registerConfirmationPage{
		Email:     email,
		ReturnURL: registration.LocalReturnURL(returnURLParam(r)),
	})
}

// ConfirmEmail はメール確認リンクを処理する。
// GET /Identity/Account/ConfirmEmail?userId=..&code=..&returnUrl=..
func (h *AccountHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, code := q.Get("userId"), q.Get("code")
	if userID == "" || code == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	page := &confirmEmailPage{
		StatusMessage: model.NewInvalidConfirmationError().Message,
		ReturnURL:     registration.LocalReturnURL(returnURLParam(r)),
	}

	token, err := registration.DecodeToken(code)
	if err == nil {
		err = h.identity.ConfirmEmail(r.Context(), userID, token)
	}
	switch {
	case err == nil:
		page.Succeeded = true
		page.StatusMessage = "Thank you for confirming your email."
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrUserNotFound):
		slog.Warn("invalid email confirmation", slog.String("user_id", userID))
	default:
		if token != "" {
			slog.Error("failed to confirm email",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			h.render.Error(w, r, http.StatusInternalServerError)
			return
		}
		// コードのデコード失敗
		slog.Warn("malformed confirmation code", slog.String("user_id", userID))
	}

	h.render.Render(w, r, http.StatusOK, "confirm_email", "Confirm email", page)
}

// LoginForm はログインフォームを表示する。
// GET /Identity/Account/Login?ReturnUrl=..
func (h *AccountHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "login", "Log in", &loginPage{
		ReturnURL:       returnURLParam(r),
		ExternalSchemes: h.identity.ExternalLoginSchemes(),
	})
}

// Login はローカルアカウントでのログインを処理する。
// POST /Identity/Account/Login?ReturnUrl=..
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, r, http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("Input.Email"))
	password := r.PostForm.Get("Input.Password")
	rememberMe := r.PostForm.Get("Input.RememberMe") == "true"
	returnURL := registration.LocalReturnURL(returnURLParam(r))

	page := &loginPage{
		Email:           email,
		RememberMe:      rememberMe,
		ReturnURL:       returnURL,
		ExternalSchemes: h.identity.ExternalLoginSchemes(),
	}
	if email == "" || password == "" {
		page.FormErrors = []string{model.NewInvalidLoginError().Message}
		h.render.Render(w, r, http.StatusOK, "login", "Log in", page)
		return
	}

	user, err := h.identity.CheckPassword(r.Context(), email, password)
	switch {
	case errors.Is(err, identity.ErrInvalidLogin):
		page.FormErrors = []string{model.NewInvalidLoginError().Message}
		h.render.Render(w, r, http.StatusOK, "login", "Log in", page)
		return
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		page.FormErrors = []string{model.NewEmailNotConfirmedError().Message}
		h.render.Render(w, r, http.StatusOK, "login", "Log in", page)
		return
	case err != nil:
		slog.Error("failed to check password", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	session, err := h.identity.SignIn(r.Context(), user.ID, rememberMe)
	if err != nil {
		slog.Error("failed to sign in", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /Identity/Account/Logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.identity.SignOut(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	http.Redirect(w, r, registration.LocalReturnURL(returnURLParam(r)), http.StatusFound)
}

// ExternalLogin は外部ログインフローを開始する。
// GET /Identity/Account/ExternalLogin?provider=Google&returnUrl=..
func (h *AccountHandler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	loginURL, err := h.identity.ExternalLoginURL(provider, state)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownScheme) {
			h.render.Error(w, r, http.StatusNotFound)
			return
		}
		slog.Error("failed to build external login url", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortLivedCookie(w, oauthStateCookie, state)
	h.setShortLivedCookie(w, externalLoginCookie, url.Values{
		"provider":  {provider},
		"returnUrl": {registration.LocalReturnURL(returnURLParam(r))},
	}.Encode())

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// ExternalLoginCallback は外部IdPからのコールバックを処理する。
// GET /Identity/Account/ExternalLogin/Callback?code=..&state=..
func (h *AccountHandler) ExternalLoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.render.Error(w, r, http.StatusBadRequest)
		return
	}
	h.clearCookie(w, oauthStateCookie)

	var provider, returnURL string
	if c, err := r.Cookie(externalLoginCookie); err == nil {
		if v, err := url.ParseQuery(c.Value); err == nil {
			provider = v.Get("provider")
			returnURL = v.Get("returnUrl")
		}
	}
	h.clearCookie(w, externalLoginCookie)
	returnURL = registration.LocalReturnURL(returnURL)

	// 2. IdP側でのキャンセル等
	if remoteErr := q.Get("error"); remoteErr != "" {
		slog.Warn("external login was rejected by provider",
			slog.String("provider", provider),
			slog.String("error", remoteErr),
		)
		http.Redirect(w, r, registration.LoginPath+"?ReturnUrl="+url.QueryEscape(returnURL), http.StatusFound)
		return
	}

	code := q.Get("code")
	if code == "" || provider == "" {
		h.render.Error(w, r, http.StatusBadRequest)
		return
	}

	// 3. 認証処理
	info, err := h.identity.ExchangeExternalCode(r.Context(), provider, code)
	if err != nil {
		slog.Error("external login callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	session, err := h.registrar.CompleteExternalLogin(r.Context(), info)
	if err != nil {
		slog.Error("failed to complete external login",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// Manage はアカウント管理画面を表示する。
// GET /Identity/Account/Manage
func (h *AccountHandler) Manage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.render.Error(w, r, http.StatusUnauthorized)
		return
	}
	h.renderManage(w, r, http.StatusOK, user, nil)
}

// DeletePersonalData は個人データを削除して退会する。
// パスワードを持つユーザーは再入力が必要。
// POST /Identity/Account/Manage/DeletePersonalData
func (h *AccountHandler) DeletePersonalData(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.render.Error(w, r, http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, r, http.StatusBadRequest)
		return
	}

	if user.PasswordHash != "" {
		_, err := h.identity.CheckPassword(r.Context(), user.Email, r.PostForm.Get("Input.Password"))
		if errors.Is(err, identity.ErrInvalidLogin) {
			h.renderManage(w, r, http.StatusOK, user, []string{"Incorrect password."})
			return
		}
		if err != nil && !errors.Is(err, identity.ErrEmailNotConfirmed) {
			slog.Error("failed to check password", slog.String("error", err.Error()))
			h.render.Error(w, r, http.StatusInternalServerError)
			return
		}
	}

	if err := h.withdrawer.Withdraw(r.Context(), user.ID); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			h.clearSessionCookie(w)
			h.render.Error(w, r, http.StatusNotFound)
			return
		}
		slog.Error("failed to delete personal data",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *AccountHandler) renderManage(w http.ResponseWriter, r *http.Request, status int, user *model.IdentityUser, formErrors []string) {
	p, err := h.profiles.Get(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to get profile", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}
	h.render.Render(w, r, status, "manage", "Manage your account", &managePage{
		Email:           user.Email,
		Profile:         p,
		RequirePassword: user.PasswordHash != "",
		FormErrors:      formErrors,
	})
}

// setSessionCookie はセッションCookieを設定する。
// 永続セッションのみMaxAgeを付け、それ以外はブラウザ終了で破棄されるCookieとする。
func (h *AccountHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	c := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if session.Persistent {
		c.MaxAge = h.config.SessionMaxAge
	}
	http.SetCookie(w, c)
}

func (h *AccountHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AccountHandler) setShortLivedCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AccountHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// returnURLParam はreturnUrlを取得する。ログイン画面へのリダイレクトではReturnUrlが使われる。
func returnURLParam(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("returnUrl"); v != "" {
		return v
	}
	return q.Get("ReturnUrl")
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
