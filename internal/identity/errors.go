package identity

import (
	"errors"
	"fmt"
	"strings"
)

// エラーコード。登録フォームにはDescriptionがそのまま表示される。
const (
	CodeDuplicateUserName               = "DuplicateUserName"
	CodeDuplicateEmail                  = "DuplicateEmail"
	CodeInvalidEmail                    = "InvalidEmail"
	CodePasswordTooShort                = "PasswordTooShort"
	CodePasswordRequiresDigit           = "PasswordRequiresDigit"
	CodePasswordRequiresLower           = "PasswordRequiresLower"
	CodePasswordRequiresUpper           = "PasswordRequiresUpper"
	CodePasswordRequiresNonAlphanumeric = "PasswordRequiresNonAlphanumeric"
)

// Error はIDプロバイダーが報告する1件の検証エラー。
type Error struct {
	Code        string
	Description string
}

// Errors はCreateUserが返す検証エラーの集合。
// 呼び出し側はerrors.Asで取り出し、各Descriptionをフォームに表示する。
type Errors []Error

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Code
	}
	return "identity: " + strings.Join(parts, ", ")
}

// Has は指定コードのエラーを含むかを返す。
func (e Errors) Has(code string) bool {
	for _, err := range e {
		if err.Code == code {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidLogin はメールアドレスまたはパスワードが一致しない場合に返される。
	ErrInvalidLogin = errors.New("identity: invalid login attempt")
	// ErrEmailNotConfirmed は確認必須設定で未確認ユーザーがサインインしようとした場合に返される。
	ErrEmailNotConfirmed = errors.New("identity: email not confirmed")
	// ErrInvalidToken はトークンが存在しない、期限切れ、使用済み、または別ユーザーのものである場合に返される。
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrUserNotFound は指定ユーザーが存在しない場合に返される。
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrUnknownScheme は未設定の外部ログインスキームが指定された場合に返される。
	ErrUnknownScheme = errors.New("identity: unknown external login scheme")
)

func duplicateUserName(name string) Error {
	return Error{Code: CodeDuplicateUserName, Description: fmt.Sprintf("Username '%s' is already taken.", name)}
}

func duplicateEmail(email string) Error {
	return Error{Code: CodeDuplicateEmail, Description: fmt.Sprintf("Email '%s' is already taken.", email)}
}

func invalidEmail(email string) Error {
	return Error{Code: CodeInvalidEmail, Description: fmt.Sprintf("Email '%s' is invalid.", email)}
}
