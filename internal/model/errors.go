package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEventNotFound       = "EVENT_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRegistrationFailed  = "REGISTRATION_FAILED"
	ErrCodeInvalidConfirmation = "INVALID_CONFIRMATION"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeEmailNotConfirmed   = "EMAIL_NOT_CONFIRMED"
	ErrCodeInvalidLogin        = "INVALID_LOGIN"
)

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID int64) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("Event %d was not found.", eventID),
		Category: "event",
		Action:   "Go back to the event list and pick another event.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User was not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewRegistrationFailedError は登録処理の途中で失敗し、補償処理で巻き戻した場合のエラーを生成する。
func NewRegistrationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeRegistrationFailed,
		Message:  "Registration could not be completed.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewInvalidConfirmationError はメール確認リンクが無効な場合のエラーを生成する。
func NewInvalidConfirmationError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfirmation,
		Message:  "Error confirming your email.",
		Category: "auth",
		Action:   "Request a new confirmation link by registering again or contact support.",
	}
}

// NewEmailNotConfirmedError は未確認アカウントのサインインを拒否する場合のエラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "You must confirm your email before signing in.",
		Category: "auth",
		Action:   "Check your inbox for the confirmation link.",
	}
}

// NewInvalidLoginError はメールアドレスまたはパスワードが一致しない場合のエラーを生成する。
func NewInvalidLoginError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLogin,
		Message:  "Invalid login attempt.",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}
