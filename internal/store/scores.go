package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveScoreResult appends a new score result. Earlier results for the same
// (kind, day) are kept; readers take the newest by computed_at.
func (d *DB) SaveScoreResult(ctx context.Context, r *ScoreResult) error {
	subScores, err := json.Marshal(r.SubScores)
	if err != nil {
		return fmt.Errorf("encoding sub scores: %w", err)
	}
	inputs, err := json.Marshal(r.Inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs: %w", err)
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO score_results (kind, day, value, band, sub_scores, inputs, insufficient, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Kind, r.Day, r.Value, r.Band, string(subScores), string(inputs),
		boolToInt64(r.Insufficient), r.ComputedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	r.ID, err = result.LastInsertId()
	return err
}

// GetLatestScoreResult retrieves the newest score result for (kind, day).
func (d *DB) GetLatestScoreResult(ctx context.Context, kind ScoreKind, day time.Time) (*ScoreResult, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, kind, day, value, band, sub_scores, inputs, insufficient, computed_at
		FROM score_results
		WHERE kind = ? AND day = ?
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`, kind, DayKey(day))
	return scanScoreResult(row)
}

// GetScoreHistory returns the newest score result per day for the trailing
// days window ending at asOf, oldest first.
func (d *DB) GetScoreHistory(ctx context.Context, kind ScoreKind, asOf time.Time, days int) ([]ScoreResult, error) {
	from := DayKey(asOf.AddDate(0, 0, -(days - 1)))
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, kind, day, value, band, sub_scores, inputs, insufficient, computed_at
		FROM score_results
		WHERE kind = ? AND day >= ? AND day <= ?
			AND id IN (
				SELECT MAX(id) FROM score_results
				WHERE kind = ? GROUP BY day
			)
		ORDER BY day
	`, kind, from, DayKey(asOf), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoreResult
	for rows.Next() {
		r, err := scanScoreResultRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(...any) error
}

func scanScoreResult(row *sql.Row) (*ScoreResult, error) {
	r, err := scanScoreResultRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	return r, err
}

func scanScoreResultRow(row rowScanner) (*ScoreResult, error) {
	var r ScoreResult
	var subScores, inputs, computedAt string
	var insufficient int64
	err := row.Scan(&r.ID, &r.Kind, &r.Day, &r.Value, &r.Band, &subScores, &inputs, &insufficient, &computedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subScores), &r.SubScores); err != nil {
		return nil, fmt.Errorf("decoding sub scores: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
		return nil, fmt.Errorf("decoding inputs: %w", err)
	}
	r.Insufficient = insufficient == 1
	r.ComputedAt, err = time.Parse(time.RFC3339, computedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing computed_at %q: %w", computedAt, err)
	}
	return &r, nil
}
