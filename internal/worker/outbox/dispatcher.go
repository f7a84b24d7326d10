// Package outbox はoutboxテーブルに積まれたメールの配送ワーカーを提供する。
// 登録処理とは独立して動作し、失敗時は指数バックオフで再試行する。
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mapapp/internal/mail"
	"github.com/hitoshi/mapapp/internal/metrics"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/repository"
)

// defaultLease は取得したメールを他のワーカーから隠す時間。
// SMTPのタイムアウトより十分長くしておく。
const defaultLease = 5 * time.Minute

// Config はDispatcherの設定。
type Config struct {
	BatchSize      int
	MaxAttempts    int
	MaxConcurrency int
	Lease          time.Duration
}

// Dispatcher は配送期限が来たメールを取得し並列で送信する。
type Dispatcher struct {
	repo    repository.OutboxRepository
	sender  mail.Sender
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// 0以下の設定値はデフォルト値で補う。
func NewDispatcher(
	repo repository.OutboxRepository,
	sender mail.Sender,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Dispatcher{
		repo:    repo,
		sender:  sender,
		metrics: mc,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start はinterval間隔のティッカーで配送を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("メール配送ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", d.cfg.MaxConcurrency),
	)

	// 起動直後に1回実行
	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("メール配送サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("メール配送ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("メール配送サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は配送対象を1回取得し、semaphoreパターンで並列に送信する。
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	start := time.Now()

	emails, err := d.repo.LeaseDue(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for _, email := range emails {
		wg.Add(1)
		sem <- struct{}{}

		go func(e *model.OutboundEmail) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, e)
		}(email)
	}

	wg.Wait()

	d.logger.Info("メール配送サイクルが完了しました",
		slog.Int("email_count", len(emails)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// deliver は1通を送信し、結果をoutboxに記録する。
func (d *Dispatcher) deliver(ctx context.Context, e *model.OutboundEmail) {
	sendStart := time.Now()
	err := d.sender.Send(ctx, mail.Message{
		To:       e.Recipient,
		Subject:  e.Subject,
		HTMLBody: e.HTMLBody,
	})
	d.metrics.RecordEmailLatency(time.Since(sendStart))

	if err == nil {
		d.metrics.RecordEmailSent()
		if err := d.repo.MarkSent(ctx, e.ID, d.now()); err != nil {
			// 送信済みだが記録に失敗した。リース期限後に再送されうる。
			d.logger.Error("メール送信済みの記録に失敗しました",
				slog.String("email_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	attempt := e.AttemptCount + 1
	if attempt >= d.cfg.MaxAttempts {
		d.metrics.RecordEmailFailure(true)
		d.logger.Error("メール配送を断念しました",
			slog.String("email_id", e.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if markErr := d.repo.MarkDead(ctx, e.ID, attempt, err.Error()); markErr != nil {
			d.logger.Error("メール配送断念の記録に失敗しました",
				slog.String("email_id", e.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	d.metrics.RecordEmailFailure(false)
	nextAt := d.now().Add(CalculateBackoff(attempt))
	d.logger.Warn("メール送信に失敗しました。再試行します",
		slog.String("email_id", e.ID),
		slog.Int("attempt", attempt),
		slog.Time("next_attempt_at", nextAt),
		slog.String("error", err.Error()),
	)
	if markErr := d.repo.MarkRetry(ctx, e.ID, attempt, nextAt, err.Error()); markErr != nil {
		d.logger.Error("メール再試行の記録に失敗しました",
			slog.String("email_id", e.ID),
			slog.String("error", markErr.Error()),
		)
	}
}
