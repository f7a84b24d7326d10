package registration

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// フォームのフィールド名。
const (
	FieldEmail           = "Email"
	FieldPassword        = "Password"
	FieldConfirmPassword = "ConfirmPassword"
	FieldFirstName       = "FirstName"
	FieldLastName        = "LastName"
)

const (
	passwordMinLength = 6
	passwordMaxLength = 100
)

// Input は登録フォームの入力値。
type Input struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// FieldErrors はフィールド名ごとの検証エラーメッセージ。
type FieldErrors map[string][]string

func (fe FieldErrors) add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Validate はIDプロバイダーを呼ぶ前のフォーム検証を行う。
// 空のFieldErrorsは検証成功を表す。
func (in Input) Validate() FieldErrors {
	errs := FieldErrors{}

	email := strings.TrimSpace(in.Email)
	switch {
	case email == "":
		errs.add(FieldEmail, "The Email field is required.")
	case !isEmailAddress(email):
		errs.add(FieldEmail, "The Email field is not a valid e-mail address.")
	}

	n := utf8.RuneCountInString(in.Password)
	switch {
	case in.Password == "":
		errs.add(FieldPassword, "The Password field is required.")
	case n < passwordMinLength || n > passwordMaxLength:
		errs.add(FieldPassword, "The Password must be at least 6 and at max 100 characters long.")
	}

	if in.ConfirmPassword != in.Password {
		errs.add(FieldConfirmPassword, "The password and confirmation password do not match.")
	}

	if strings.TrimSpace(in.FirstName) == "" {
		errs.add(FieldFirstName, "The First Name field is required.")
	}
	if strings.TrimSpace(in.LastName) == "" {
		errs.add(FieldLastName, "The Last Name field is required.")
	}

	return errs
}

// isEmailAddress は表示名や山括弧を含まない素のアドレスのみを受け付ける。
func isEmailAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && addr.Name == ""
}
