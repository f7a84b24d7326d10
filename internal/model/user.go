// Package model はドメインモデルを定義する。
package model

import "time"

// IdentityUser はIDプロバイダーが所有する認証用ユーザーを表す。
// 作成・更新はidentityパッケージのみが行う。
type IdentityUser struct {
	ID                 string
	UserName           string
	NormalizedUserName string
	Email              string
	NormalizedEmail    string
	PasswordHash       string // bcrypt。外部ログインのみのユーザーは空
	EmailConfirmed     bool
	SecurityStamp      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ExternalLogin は外部IdP（Google等）とIdentityUserの紐付けを表す。
type ExternalLogin struct {
	Provider    string
	ProviderKey string
	UserID      string
	CreatedAt   time.Time
}

// MapAppUser はアプリケーション固有のローカルプロフィールを表す。
// IdentityUserと1対1で、AspnetIdentityIDが外部キーとなる。
type MapAppUser struct {
	ID               int64
	AspnetIdentityID string
	FirstName        string
	LastName         string
	CreatedAt        time.Time
}

// FullName は表示用の氏名を返す。
func (u *MapAppUser) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// TokenPurpose はワンタイムトークンの用途を表す。
type TokenPurpose string

const (
	// TokenPurposeEmailConfirmation はメールアドレス確認用トークン。
	TokenPurposeEmailConfirmation TokenPurpose = "email_confirmation"
)

// UserToken はIDプロバイダーが発行したワンタイムトークンを表す。
// トークン本体は保存せず、ハッシュのみを保持する。
type UserToken struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID         string
	UserID     string
	Persistent bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
