package outbox

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = 1 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = 1 * time.Hour
	// DefaultMaxAttempts はdeadにするまでの最大試行回数。
	DefaultMaxAttempts = 8
)

// CalculateBackoff はattempt回目の失敗後に次回試行まで待つ時間を返す。
// 1回目の失敗で1分、以後2倍ずつ増加し、最大1時間。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
