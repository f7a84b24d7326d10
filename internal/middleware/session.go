// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/mapapp/internal/model"
)

// SessionCookieName はログインセッションIDを保持するCookieの名前。
const SessionCookieName = "mapapp_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにサインイン中のユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// CurrentUserFinder はセッションIDからサインイン中のユーザーを引く。
// 無効なセッションの場合はnil, nilを返す。
type CurrentUserFinder interface {
	CurrentUser(ctx context.Context, sessionID string) (*model.IdentityUser, error)
}

// NewSessionMiddleware はCookieからセッションを読み取り、
// 有効であればユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 匿名リクエストもそのまま通す。認可はRequireLoginで行う。
func NewSessionMiddleware(finder CurrentUserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := finder.CurrentUser(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if user == nil {
				// 期限切れや削除済みのセッションCookieは消しておく
				http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1})
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireLogin はサインインしていないリクエストをログインページへリダイレクトする。
// 元のURLはReturnUrlとして引き継ぐ。
func RequireLogin(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				target := loginPath + "?ReturnUrl=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はサインイン中のユーザーを返す。匿名の場合はnil。
func UserFromContext(ctx context.Context) *model.IdentityUser {
	user, _ := ctx.Value(userContextKey).(*model.IdentityUser)
	return user
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.IdentityUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
