package model

import "time"

// EmailStatus は送信待ちメールの配送状態を表す。
type EmailStatus string

const (
	// EmailStatusPending は配送待ち（リトライ待ちを含む）。
	EmailStatusPending EmailStatus = "pending"
	// EmailStatusSent は配送済み。
	EmailStatusSent EmailStatus = "sent"
	// EmailStatusDead は最大試行回数に達し配送を断念した状態。
	EmailStatusDead EmailStatus = "dead"
)

// OutboundEmail はoutboxテーブルに積まれた送信待ちメールを表す。
type OutboundEmail struct {
	ID            string
	Recipient     string
	Subject       string
	HTMLBody      string
	DedupeKey     string
	Status        EmailStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
