package middleware

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/hitoshi/mapapp/internal/model"
)

// ErrorResponseBody はJSON APIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでJSONエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーのJSONレスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An error occurred while processing your request.",
		Category: "system",
		Action:   "Please try again later.",
	})
}

// errorPageTemplate はテンプレート層に依存しない最小限のエラーページ。
const errorPageTemplate = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Error - MapApp</title></head>
<body><h1 class="text-danger">Error.</h1><h2 class="text-danger">%s</h2></body></html>
`

// WriteErrorPage はステータスに応じた汎用HTMLエラーページを書き込む。
func WriteErrorPage(w http.ResponseWriter, statusCode int) {
	msg := "An error occurred while processing your request."
	if statusCode == http.StatusNotFound {
		msg = "Sorry, there's nothing at this address."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, errorPageTemplate, html.EscapeString(msg))
}
