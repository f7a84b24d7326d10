// Package geocode はイベント住所のバッチジオコーディングジョブを提供する。
// 全イベント地図ページに表示するための座標をイベントに保存する。
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mapapp/internal/mapping"
	"github.com/hitoshi/mapapp/internal/metrics"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// MaxFailures はこの回数失敗したイベントを以後の対象から外す閾値。
const MaxFailures = 5

// Geocoder は住所から座標を求めるインターフェース。
// テスト時にモックに差し替え可能。
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*mapping.Location, error)
}

// EventStore はバッチジョブが必要とするイベント操作。
type EventStore interface {
	ListNeedingGeocode(ctx context.Context, maxFailures, limit int) ([]*model.Event, error)
	UpdateLocation(ctx context.Context, id int64, lat, lng float64, geocodedAt time.Time) error
	RecordGeocodeFailure(ctx context.Context, id int64) error
}

// BatchConfig はバッチジョブの設定パラメータ。
type BatchConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 10分）。
	BatchInterval time.Duration
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 200ミリ秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大API呼び出し回数（デフォルト: 50）。
	MaxCallsPerCycle int
}

// DefaultBatchConfig はデフォルトのバッチジョブ設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchInterval:    10 * time.Minute,
		APIInterval:      200 * time.Millisecond,
		MaxCallsPerCycle: 50,
	}
}

// BatchJob は座標未解決のイベントを定期的にジオコーディングする。
type BatchJob struct {
	events            EventStore
	geocoder          Geocoder
	metrics           metrics.MetricsCollector
	logger            *slog.Logger
	config            BatchConfig
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewBatchJob はBatchJobの新しいインスタンスを生成する。
func NewBatchJob(
	events EventStore,
	geocoder Geocoder,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	config BatchConfig,
) *BatchJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &BatchJob{
		events:   events,
		geocoder: geocoder,
		metrics:  mc,
		logger:   logger,
		config:   config,
	}
}

// Start はバッチジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (b *BatchJob) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.BatchInterval)
	defer ticker.Stop()

	b.logger.Info("geocode batch job started",
		slog.Duration("batch_interval", b.config.BatchInterval),
		slog.Duration("api_interval", b.config.APIInterval),
		slog.Int("max_calls_per_cycle", b.config.MaxCallsPerCycle),
	)

	// 起動直後に1回実行
	if err := b.RunOnce(ctx); err != nil {
		b.logger.Error("geocode batch cycle failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("geocode batch job stopped")
			return
		case <-ticker.C:
			if err := b.RunOnce(ctx); err != nil {
				b.logger.Error("geocode batch cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は1回のバッチサイクルを実行する。
// 該当なし（ZERO_RESULTS）はイベントごとの失敗として記録し、
// API障害が続く場合はジョブ全体をバックオフさせる。
func (b *BatchJob) RunOnce(ctx context.Context) error {
	start := time.Now()

	if !b.backoffUntil.IsZero() && time.Now().Before(b.backoffUntil) {
		b.logger.Info("geocode batch job is backing off; skipping",
			slog.Time("backoff_until", b.backoffUntil),
		)
		return nil
	}

	events, err := b.events.ListNeedingGeocode(ctx, MaxFailures, b.config.MaxCallsPerCycle)
	if err != nil {
		return fmt.Errorf("failed to list events needing geocode: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var apiCallCount, resolved int
	hadError := false

cycle:
	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if apiCallCount >= b.config.MaxCallsPerCycle {
			break
		}

		// API呼び出しインターバル（初回は待たない）
		if apiCallCount > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.APIInterval):
			}
		}
		apiCallCount++

		loc, err := b.geocoder.Geocode(ctx, e.Address)
		switch {
		case errors.Is(err, mapping.ErrAddressNotFound):
			b.metrics.RecordGeocode(metrics.GeocodeNotFound)
			b.logger.Warn("address could not be geocoded",
				slog.Int64("event_id", e.ID),
				slog.String("address", e.Address),
			)
			if err := b.events.RecordGeocodeFailure(ctx, e.ID); err != nil {
				b.logger.Error("failed to record geocode failure",
					slog.Int64("event_id", e.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		case err != nil:
			b.metrics.RecordGeocode(metrics.GeocodeError)
			b.logger.Error("geocoding API call failed",
				slog.Int64("event_id", e.ID),
				slog.String("error", err.Error()),
			)
			hadError = true
			b.consecutiveErrors++
			if backoff := calculateErrorBackoff(b.consecutiveErrors); backoff > 0 {
				b.backoffUntil = time.Now().Add(backoff)
				b.logger.Warn("applying backoff after consecutive errors",
					slog.Int("consecutive_errors", b.consecutiveErrors),
					slog.Duration("backoff_duration", backoff),
				)
			}
			// API障害はイベントの失敗回数に数えず、このサイクルを打ち切る
			break cycle
		}

		if err := b.events.UpdateLocation(ctx, e.ID, loc.Lat, loc.Lng, time.Now()); err != nil {
			b.logger.Error("failed to save event location",
				slog.Int64("event_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.metrics.RecordGeocode(metrics.GeocodeResolved)
		resolved++
	}

	if !hadError {
		b.consecutiveErrors = 0
		b.backoffUntil = time.Time{}
	}

	b.logger.Info("geocode batch cycle completed",
		slog.Int("api_call_count", apiCallCount),
		slog.Int("resolved", resolved),
		slog.Int("target_events", len(events)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}

// compile-time interface check
var _ EventStore = (repository.EventRepository)(nil)
