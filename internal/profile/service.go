// Package profile はアプリケーション固有のローカルプロフィール（MapAppUser）を扱う。
package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// Service はプロフィールの参照を提供する。作成は登録処理が行う。
type Service struct {
	repo repository.ProfileRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository) *Service {
	return &Service{repo: repo}
}

// Get はIdentityUserのIDでプロフィールを取得する。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, identityID string) (*model.MapAppUser, error) {
	p, err := s.repo.FindByIdentityID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// DisplayName はレイアウトの挨拶に使う名前を返す。プロフィールが無い場合はfallbackを返す。
func (s *Service) DisplayName(ctx context.Context, identityID, fallback string) string {
	p, err := s.Get(ctx, identityID)
	if err != nil || p == nil || p.FullName() == "" {
		return fallback
	}
	return p.FirstName
}

// SplitName は表示名を名と姓に分ける。
// 空白を含まない場合は全体を名として扱う。
func SplitName(fullName string) (first, last string) {
	fields := strings.Fields(fullName)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
