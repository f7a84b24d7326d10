// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
)

var (
	// ErrDuplicateEmail は正規化済みメールアドレスが既に登録されている場合に返される。
	ErrDuplicateEmail = errors.New("repository: duplicate email")
	// ErrDuplicateUserName は正規化済みユーザー名が既に登録されている場合に返される。
	ErrDuplicateUserName = errors.New("repository: duplicate user name")
	// ErrDuplicateProfile は同じIdentityUserに対してプロフィールが既に存在する場合に返される。
	ErrDuplicateProfile = errors.New("repository: duplicate profile")
	// ErrNotFound は更新・削除対象の行が存在しない場合に返される。
	ErrNotFound = errors.New("repository: not found")
)

// IdentityUserRepository は認証用ユーザーの永続化インターフェース。
type IdentityUserRepository interface {
	// Create はユーザーを作成する。
	// 一意制約違反の場合はErrDuplicateEmailまたはErrDuplicateUserNameを返す。
	Create(ctx context.Context, user *model.IdentityUser) error

	// CreateWithLogin はユーザーと外部ログインを同一トランザクションで作成する。
	CreateWithLogin(ctx context.Context, user *model.IdentityUser, login *model.ExternalLogin) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.IdentityUser, error)

	// FindByNormalizedEmail は正規化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByNormalizedEmail(ctx context.Context, normalizedEmail string) (*model.IdentityUser, error)

	// FindByNormalizedUserName は正規化済みユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByNormalizedUserName(ctx context.Context, normalizedUserName string) (*model.IdentityUser, error)

	// SetEmailConfirmed はメール確認済みフラグを立て、セキュリティスタンプを更新する。
	SetEmailConfirmed(ctx context.Context, id, securityStamp string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentity_logins、identity_tokens、sessions、map_app_usersはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ExternalLoginRepository は外部IdP紐付け情報の永続化インターフェース。
type ExternalLoginRepository interface {
	// FindByProviderKey はproviderとprovider_keyで紐付けを検索する。見つからない場合はnilを返す。
	FindByProviderKey(ctx context.Context, provider, providerKey string) (*model.ExternalLogin, error)

	// Create は既存ユーザーに外部ログインを紐付ける。
	Create(ctx context.Context, login *model.ExternalLogin) error
}

// TokenRepository はワンタイムトークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを保存する。
	Create(ctx context.Context, token *model.UserToken) error

	// FindActiveByHash は未使用かつ有効期限内のトークンをハッシュで検索する。
	// 見つからない場合はnilを返す。
	FindActiveByHash(ctx context.Context, purpose model.TokenPurpose, tokenHash string) (*model.UserToken, error)

	// MarkUsed はトークンを使用済みにする。既に使用済みの場合はErrNotFoundを返す。
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error

	// DeleteExpired は指定時刻より前に期限切れとなったトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProfileRepository はローカルプロフィール（MapAppUser）の永続化インターフェース。
type ProfileRepository interface {
	// Create はプロフィールを作成し、採番されたIDをprofile.IDに設定する。
	Create(ctx context.Context, profile *model.MapAppUser) error

	// CreateWithOutboundEmail はプロフィールと送信待ちメールを同一トランザクションで作成する。
	// どちらかが失敗した場合は両方ロールバックされる。
	CreateWithOutboundEmail(ctx context.Context, profile *model.MapAppUser, email *model.OutboundEmail) error

	// FindByIdentityID はIdentityUserのIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByIdentityID(ctx context.Context, identityID string) (*model.MapAppUser, error)

	// DeleteByIdentityID はIdentityUserのIDでプロフィールを削除する。
	DeleteByIdentityID(ctx context.Context, identityID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// EventRepository はイベントデータの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Event, error)

	// ListUpcoming はfrom以降に開始（または終了）するイベントを開始日時の昇順で返す。
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*model.Event, error)

	// ListGeocoded は座標が解決済みのイベントを返す。
	ListGeocoded(ctx context.Context) ([]*model.Event, error)

	// ListNeedingGeocode は座標が未解決で、失敗回数がmaxFailures未満のイベントを古い順に返す。
	ListNeedingGeocode(ctx context.Context, maxFailures, limit int) ([]*model.Event, error)

	// UpdateLocation はイベントの座標と解決日時を更新する。
	UpdateLocation(ctx context.Context, id int64, lat, lng float64, geocodedAt time.Time) error

	// RecordGeocodeFailure はジオコーディング失敗回数を1増やす。
	RecordGeocodeFailure(ctx context.Context, id int64) error
}

// OutboxRepository は送信待ちメール（transactional outbox）の永続化インターフェース。
type OutboxRepository interface {
	// LeaseDue は配送期限が到来したpendingメールを最大limit件取得し、
	// next_attempt_atをleaseFor後に進めることで他のワーカーから隠す。
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	LeaseDue(ctx context.Context, limit int, leaseFor time.Duration) ([]*model.OutboundEmail, error)

	// MarkSent は配送済みにする。
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkRetry は試行回数とエラーを記録し、次回試行日時を設定する。
	MarkRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string) error

	// MarkDead は配送を断念した状態にする。
	MarkDead(ctx context.Context, id string, attemptCount int, lastError string) error

	// DeleteFinishedBefore はsentまたはdeadで、指定時刻より前に更新されたメールを削除する。
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
