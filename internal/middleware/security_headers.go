package middleware

import "net/http"

// contentSecurityPolicy はGoogle Mapsの埋め込みとJavaScript APIのみを外部から許可する。
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' https://maps.googleapis.com https://maps.gstatic.com; " +
	"img-src 'self' data: https://*.googleapis.com https://*.gstatic.com https://*.google.com; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"frame-src https://www.google.com; " +
	"connect-src 'self' https://maps.googleapis.com; " +
	"form-action 'self' https://accounts.google.com; " +
	"frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
			next.ServeHTTP(w, r)
		})
	}
}
