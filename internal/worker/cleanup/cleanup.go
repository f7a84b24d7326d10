// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れのセッションと確認トークン、保持期間を超過した
// 配送済み・配送断念メールを日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredPurger は指定時刻より前に期限切れとなった行を削除する。
// セッションと確認トークンのリポジトリが満たす。
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OutboxPurger は処理済みメールを削除する。
type OutboxPurger interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions      ExpiredPurger
	tokens        ExpiredPurger
	outbox        OutboxPurger
	logger        *slog.Logger
	RetentionDays int // 処理済みメールの保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(sessions, tokens ExpiredPurger, outbox OutboxPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		tokens:        tokens,
		outbox:        outbox,
		logger:        logger,
		RetentionDays: 30,
		now:           time.Now,
	}
}

// Run は期限切れデータを削除する。
// いずれかの削除に失敗しても残りは実行し、エラーはまとめて返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("セッション削除に失敗: %w", err))
	}

	tokens, err := j.tokens.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("トークン削除に失敗: %w", err))
	}

	cutoff := now.AddDate(0, 0, -j.RetentionDays)
	emails, err := j.outbox.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("処理済みメール削除に失敗: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_tokens", tokens),
		slog.Int64("deleted_emails", emails),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
