package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mapapp/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, name, description, address, starts_at, ends_at, organizer_id,
	latitude, longitude, geocoded_at, geocode_failures, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*model.Event, error) {
	e := &model.Event{}
	err := s.Scan(
		&e.ID, &e.Name, &e.Description, &e.Address, &e.StartsAt, &e.EndsAt, &e.OrganizerID,
		&e.Latitude, &e.Longitude, &e.GeocodedAt, &e.GeocodeFailures, &e.CreatedAt,
	)
	return e, err
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return e, nil
}

// ListUpcoming はfrom以降に終了していないイベントを開始日時の昇順で返す。
func (r *PostgresEventRepo) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*model.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE COALESCE(ends_at, starts_at) >= $1
		 ORDER BY starts_at ASC, id ASC
		 LIMIT $2`,
		from, limit,
	)
}

// ListGeocoded は座標が解決済みのイベントを返す。
func (r *PostgresEventRepo) ListGeocoded(ctx context.Context) ([]*model.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		 ORDER BY starts_at ASC, id ASC`,
	)
}

// ListNeedingGeocode は座標が未解決のイベントを作成日時の古い順に返す。
func (r *PostgresEventRepo) ListNeedingGeocode(ctx context.Context, maxFailures, limit int) ([]*model.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE geocoded_at IS NULL AND geocode_failures < $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		maxFailures, limit,
	)
}

func (r *PostgresEventRepo) list(ctx context.Context, query string, args ...any) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// UpdateLocation はイベントの座標と解決日時を更新する。
func (r *PostgresEventRepo) UpdateLocation(ctx context.Context, id int64, lat, lng float64, geocodedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET latitude = $2, longitude = $3, geocoded_at = $4 WHERE id = $1`,
		id, lat, lng, geocodedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update event location: %w", err)
	}
	return nil
}

// RecordGeocodeFailure はジオコーディング失敗回数を1増やす。
func (r *PostgresEventRepo) RecordGeocodeFailure(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET geocode_failures = geocode_failures + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record geocode failure: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
