package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBaselineNotFound is returned when no baseline is stored for a key
var ErrBaselineNotFound = errors.New("baseline not found")

// SaveBaseline stores or replaces the baseline for (metric, window, day).
func (d *DB) SaveBaseline(ctx context.Context, day time.Time, b Baseline) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO baselines (metric, window_days, day, mean, std_dev, sample_count, insufficient_data, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(metric, window_days, day) DO UPDATE SET
			mean = excluded.mean,
			std_dev = excluded.std_dev,
			sample_count = excluded.sample_count,
			insufficient_data = excluded.insufficient_data,
			computed_at = excluded.computed_at
	`, b.Metric, b.WindowDays, DayKey(day), b.Mean, b.StdDev, b.SampleCount,
		boolToInt64(b.InsufficientData), b.ComputedAt.UTC().Format(time.RFC3339))
	return err
}

// GetBaseline retrieves the baseline for (metric, window, day).
func (d *DB) GetBaseline(ctx context.Context, metric Metric, windowDays int, day time.Time) (*Baseline, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT metric, window_days, mean, std_dev, sample_count, insufficient_data, computed_at
		FROM baselines
		WHERE metric = ? AND window_days = ? AND day = ?
	`, metric, windowDays, DayKey(day))

	return scanBaseline(row)
}

// GetLatestBaseline retrieves the most recent stored baseline for
// (metric, window) on or before day. Used as the fallback when fresh
// recomputation is unavailable.
func (d *DB) GetLatestBaseline(ctx context.Context, metric Metric, windowDays int, day time.Time) (*Baseline, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT metric, window_days, mean, std_dev, sample_count, insufficient_data, computed_at
		FROM baselines
		WHERE metric = ? AND window_days = ? AND day <= ?
		ORDER BY day DESC
		LIMIT 1
	`, metric, windowDays, DayKey(day))

	return scanBaseline(row)
}

func scanBaseline(row *sql.Row) (*Baseline, error) {
	var b Baseline
	var insufficient int64
	var computedAt string
	err := row.Scan(&b.Metric, &b.WindowDays, &b.Mean, &b.StdDev, &b.SampleCount, &insufficient, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBaselineNotFound
	}
	if err != nil {
		return nil, err
	}
	b.InsufficientData = insufficient == 1
	b.ComputedAt, err = time.Parse(time.RFC3339, computedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing computed_at %q: %w", computedAt, err)
	}
	return &b, nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
