package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetOpenAnomalies returns all unresolved anomaly events, including
// dismissed ones; callers filter on DismissedUntil as needed.
func (d *DB) GetOpenAnomalies(ctx context.Context) ([]AnomalyEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, kind, confidence, triggered_signals, first_detected, dismissed_until
		FROM anomaly_events
		WHERE resolved_at IS NULL
		ORDER BY first_detected
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AnomalyEvent
	for rows.Next() {
		var e AnomalyEvent
		var signals, firstDetected string
		var dismissedUntil *string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Confidence, &signals, &firstDetected, &dismissedUntil); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(signals), &e.TriggeredSignals); err != nil {
			return nil, fmt.Errorf("decoding signals %q: %w", signals, err)
		}
		e.FirstDetected, err = time.Parse(time.RFC3339, firstDetected)
		if err != nil {
			return nil, fmt.Errorf("parsing first_detected %q: %w", firstDetected, err)
		}
		if dismissedUntil != nil {
			parsed, err := time.Parse(time.RFC3339, *dismissedUntil)
			if err != nil {
				return nil, fmt.Errorf("parsing dismissed_until %q: %w", *dismissedUntil, err)
			}
			e.DismissedUntil = &parsed
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertAnomaly inserts a new event or refreshes the confidence and signal
// set of an existing one. FirstDetected and DismissedUntil are never
// overwritten for an existing event.
func (d *DB) UpsertAnomaly(ctx context.Context, e AnomalyEvent) error {
	signals, err := json.Marshal(e.TriggeredSignals)
	if err != nil {
		return fmt.Errorf("encoding signals: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO anomaly_events (id, kind, confidence, triggered_signals, first_detected)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence,
			triggered_signals = excluded.triggered_signals
	`, e.ID, e.Kind, e.Confidence, string(signals), e.FirstDetected.UTC().Format(time.RFC3339))
	return err
}

// ResolveAnomaly marks an event as no longer active.
func (d *DB) ResolveAnomaly(ctx context.Context, id string, at time.Time) error {
	return d.updateAnomaly(ctx, id, `resolved_at = ?`, at.UTC().Format(time.RFC3339))
}

// DismissAnomaly silences an event until the given time.
func (d *DB) DismissAnomaly(ctx context.Context, id string, until time.Time) error {
	return d.updateAnomaly(ctx, id, `dismissed_until = ?`, until.UTC().Format(time.RFC3339))
}

func (d *DB) updateAnomaly(ctx context.Context, id, set string, arg any) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE anomaly_events SET `+set+` WHERE id = ?`, arg, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}
