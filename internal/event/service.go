// Package event はイベントの閲覧機能を提供する。
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/security"
)

// DefaultUpcomingLimit はホームに表示するイベントの最大件数。
const DefaultUpcomingLimit = 20

// Store はイベント閲覧に必要な読み取り操作。
type Store interface {
	FindByID(ctx context.Context, id int64) (*model.Event, error)
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*model.Event, error)
	ListGeocoded(ctx context.Context) ([]*model.Event, error)
}

// MapEmbedder は住所から地図埋め込みURLを組み立てる。
type MapEmbedder interface {
	EmbedURL(address string) string
}

// Detail はイベント詳細ページの表示内容。
type Detail struct {
	Event           *model.Event
	DescriptionHTML string // サニタイズ済み
	MapEmbedURL     string // 地図APIキー未設定時は空
}

// Marker は全イベント地図のマーカー1件。
type Marker struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Service はイベント閲覧のサービス層。
type Service struct {
	store     Store
	sanitizer security.DescriptionSanitizer
	maps      MapEmbedder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store Store, sanitizer security.DescriptionSanitizer, maps MapEmbedder) *Service {
	return &Service{
		store:     store,
		sanitizer: sanitizer,
		maps:      maps,
		now:       time.Now,
	}
}

// Get はイベント詳細を返す。存在しない場合はEVENT_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if e == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	return &Detail{
		Event:           e,
		DescriptionHTML: s.sanitizer.Sanitize(e.Description),
		MapEmbedURL:     s.maps.EmbedURL(e.Address),
	}, nil
}

// Upcoming は現在以降のイベントを開始日時の昇順で返す。
// limitが0以下の場合はDefaultUpcomingLimitを使う。
func (s *Service) Upcoming(ctx context.Context, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	events, err := s.store.ListUpcoming(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	return events, nil
}

// Markers は座標解決済みイベントのマーカー一覧を返す。
func (s *Service) Markers(ctx context.Context) ([]Marker, error) {
	events, err := s.store.ListGeocoded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list geocoded events: %w", err)
	}
	markers := make([]Marker, 0, len(events))
	for _, e := range events {
		if !e.HasLocation() {
			continue
		}
		markers = append(markers, Marker{
			ID:      e.ID,
			Name:    e.Name,
			Address: e.Address,
			Lat:     *e.Latitude,
			Lng:     *e.Longitude,
		})
	}
	return markers, nil
}
