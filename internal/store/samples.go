package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertSample records a single signal sample. A sample for an already
// recorded (metric, timestamp, unit, source) identity supersedes the old
// value rather than duplicating the row.
func (d *DB) InsertSample(ctx context.Context, s SignalSample) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO samples (metric, value, unit, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(metric, timestamp, unit, source) DO UPDATE SET
			value = excluded.value
	`, s.Metric, s.Value, s.Unit, s.Timestamp.UTC().Format(time.RFC3339), s.Source)
	return err
}

// InsertSamples records a batch of samples in one transaction.
func (d *DB) InsertSamples(ctx context.Context, samples []SignalSample) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (metric, value, unit, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(metric, timestamp, unit, source) DO UPDATE SET
			value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err := stmt.ExecContext(ctx, s.Metric, s.Value, s.Unit,
			s.Timestamp.UTC().Format(time.RFC3339), s.Source)
		if err != nil {
			return fmt.Errorf("inserting sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetSamplesInRange returns samples for a metric with from <= timestamp < to,
// ordered by timestamp ascending.
func (d *DB) GetSamplesInRange(ctx context.Context, metric Metric, from, to time.Time) ([]SignalSample, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, metric, value, unit, timestamp, source
		FROM samples
		WHERE metric = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, metric, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSamples(rows)
}

// GetSamplesForDay returns a metric's samples for a single calendar day (UTC).
func (d *DB) GetSamplesForDay(ctx context.Context, metric Metric, day time.Time) ([]SignalSample, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	return d.GetSamplesInRange(ctx, metric, start, start.AddDate(0, 0, 1))
}

// DailyValue is a per-day aggregate of one metric.
type DailyValue struct {
	Day   string // YYYY-MM-DD
	Value float64
	Count int
}

// GetDailyAverages returns per-day mean values for a metric over
// from <= day < to, ordered by day. Days without samples are absent.
func (d *DB) GetDailyAverages(ctx context.Context, metric Metric, from, to time.Time) ([]DailyValue, error) {
	return d.dailyAggregates(ctx, metric, from, to, "AVG(value)")
}

// GetDailySums returns per-day summed values for a metric over
// from <= day < to, ordered by day. Used for additive metrics such as
// active energy and training stress.
func (d *DB) GetDailySums(ctx context.Context, metric Metric, from, to time.Time) ([]DailyValue, error) {
	return d.dailyAggregates(ctx, metric, from, to, "SUM(value)")
}

func (d *DB) dailyAggregates(ctx context.Context, metric Metric, from, to time.Time, agg string) ([]DailyValue, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day, `+agg+`, COUNT(*)
		FROM samples
		WHERE metric = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY day
		ORDER BY day
	`, metric, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []DailyValue
	for rows.Next() {
		var v DailyValue
		if err := rows.Scan(&v.Day, &v.Value, &v.Count); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CountSamples returns the total number of stored samples.
func (d *DB) CountSamples(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&count)
	return count, err
}

func scanSamples(rows *sql.Rows) ([]SignalSample, error) {
	var samples []SignalSample
	for rows.Next() {
		var s SignalSample
		var ts string
		if err := rows.Scan(&s.ID, &s.Metric, &s.Value, &s.Unit, &ts, &s.Source); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		s.Timestamp = parsed
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
