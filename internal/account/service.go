// Package account はサインイン済みユーザーのアカウント管理を提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mapapp/internal/model"
)

// IdentityStore は退会処理に必要なアイデンティティ操作。
type IdentityStore interface {
	FindByID(ctx context.Context, userID string) (*model.IdentityUser, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ProfileDeleter はプロフィールの削除インターフェース。
type ProfileDeleter interface {
	DeleteByIdentityID(ctx context.Context, identityID string) error
}

// Service はアカウント管理のサービス層。
type Service struct {
	identities IdentityStore
	profiles   ProfileDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(identities IdentityStore, profiles ProfileDeleter) *Service {
	return &Service{identities: identities, profiles: profiles}
}

// Withdraw は個人データを削除する。
// 削除順序: プロフィール → セッション → アイデンティティ（+ CASCADE: 外部ログイン、トークン）
// 参加済みイベントは残す。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.identities.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("個人データの削除を開始します",
		slog.String("user_id", userID),
	)

	if err := s.profiles.DeleteByIdentityID(ctx, userID); err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}

	// セッションもここで削除される
	if err := s.identities.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("個人データの削除が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}
