package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresOutboxRepo はPostgreSQLを使用した送信待ちメールリポジトリ。
type PostgresOutboxRepo struct {
	db *sql.DB
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// insertOutboundEmail は送信待ちメールを登録する。dedupe_keyが重複する場合は何もしない。
// 登録は必ずプロフィール作成と同じトランザクションで行う（CreateWithOutboundEmail）。
func insertOutboundEmail(ctx context.Context, ex execer, email *model.OutboundEmail) error {
	status := email.Status
	if status == "" {
		status = model.EmailStatusPending
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO outbound_emails
		   (id, recipient, subject, html_body, dedupe_key, status, attempt_count,
		    next_attempt_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		email.ID, email.Recipient, email.Subject, email.HTMLBody, email.DedupeKey,
		string(status), email.NextAttemptAt, email.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbound email: %w", err)
	}
	return nil
}

// LeaseDue は配送期限が到来したメールを取得し、リース期間分だけnext_attempt_atを進める。
func (r *PostgresOutboxRepo) LeaseDue(ctx context.Context, limit int, leaseFor time.Duration) ([]*model.OutboundEmail, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, recipient, subject, html_body, dedupe_key, status, attempt_count,
		        next_attempt_at, last_error, sent_at, created_at, updated_at
		 FROM outbound_emails
		 WHERE status = 'pending' AND next_attempt_at <= now()
		 ORDER BY next_attempt_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select due emails: %w", err)
	}

	var emails []*model.OutboundEmail
	for rows.Next() {
		e := &model.OutboundEmail{}
		var status string
		if err := rows.Scan(
			&e.ID, &e.Recipient, &e.Subject, &e.HTMLBody, &e.DedupeKey, &status, &e.AttemptCount,
			&e.NextAttemptAt, &e.LastError, &e.SentAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan due email: %w", err)
		}
		e.Status = model.EmailStatus(status)
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate due emails: %w", err)
	}
	rows.Close()

	leaseSeconds := leaseFor.Seconds()
	for _, e := range emails {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbound_emails
			 SET next_attempt_at = now() + make_interval(secs => $2), updated_at = now()
			 WHERE id = $1`,
			e.ID, leaseSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to lease email: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}
	return emails, nil
}

// MarkSent は配送済みにする。
func (r *PostgresOutboxRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbound_emails
		 SET status = 'sent', sent_at = $2, attempt_count = attempt_count + 1, last_error = '', updated_at = now()
		 WHERE id = $1`,
		id, sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email sent: %w", err)
	}
	return nil
}

// MarkRetry は試行回数とエラーを記録し、次回試行日時を設定する。
func (r *PostgresOutboxRepo) MarkRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbound_emails
		 SET attempt_count = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		 WHERE id = $1`,
		id, attemptCount, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email retry: %w", err)
	}
	return nil
}

// MarkDead は配送を断念した状態にする。
func (r *PostgresOutboxRepo) MarkDead(ctx context.Context, id string, attemptCount int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbound_emails
		 SET status = 'dead', attempt_count = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, attemptCount, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email dead: %w", err)
	}
	return nil
}

// DeleteFinishedBefore は配送完了または断念済みの古いメールを削除する。
func (r *PostgresOutboxRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM outbound_emails WHERE status IN ('sent', 'dead') AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished emails: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
