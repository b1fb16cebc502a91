package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vitals/internal/store"
)

const exportJSON = `{
  "samples": [
    {"metric": "hrv", "value": 52, "unit": "ms", "timestamp": "2026-03-09T07:00:00Z", "source": "watch"},
    {"metric": "rhr", "value": 55, "unit": "bpm", "timestamp": "2026-03-09T07:00:00Z", "source": "watch"},
    {"metric": "hrv", "value": 54, "unit": "ms", "timestamp": "2026-03-10T07:00:00Z", "source": "watch"}
  ],
  "workouts": [
    {"start": "2026-03-09T17:00:00Z", "duration_min": 60, "avg_hr": 150, "training_load": 120, "source": "watch"},
    {"start": "2026-03-10T17:00:00Z", "duration_min": 45, "avg_hr": 140, "source": "watch"}
  ]
}`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(path, []byte(exportJSON), 0600); err != nil {
		t.Fatalf("writing export fixture: %v", err)
	}
	return path
}

func TestNewFileProvider(t *testing.T) {
	p, err := NewFileProvider(writeExport(t))
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	if len(p.samples) != 3 {
		t.Errorf("loaded %d samples, want 3", len(p.samples))
	}
	if len(p.workouts) != 2 {
		t.Errorf("loaded %d workouts, want 2", len(p.workouts))
	}
}

func TestNewFileProviderErrors(t *testing.T) {
	if _, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("NewFileProvider() with missing file succeeded, want error")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileProvider(bad); err == nil {
		t.Error("NewFileProvider() with malformed file succeeded, want error")
	}
}

func TestFetchSamples(t *testing.T) {
	p, err := NewFileProvider(writeExport(t))
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	from := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	samples, err := p.FetchSamples(context.Background(), from, to)
	if err != nil {
		t.Fatalf("FetchSamples() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2 within the range", len(samples))
	}
	if samples[0].Metric != store.MetricHRV || samples[0].Value != 52 {
		t.Errorf("samples[0] = %+v", samples[0])
	}
}

func TestFetchWorkouts(t *testing.T) {
	p, err := NewFileProvider(writeExport(t))
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	workouts, err := p.FetchWorkouts(context.Background(), from, to)
	if err != nil {
		t.Fatalf("FetchWorkouts() error = %v", err)
	}
	if len(workouts) != 1 {
		t.Fatalf("got %d workouts, want 1", len(workouts))
	}
	if workouts[0].TrainingLoad != nil {
		t.Errorf("TrainingLoad = %v, want nil for workout without a load value", *workouts[0].TrainingLoad)
	}
}

func TestFetchDailyLoad(t *testing.T) {
	p, err := NewFileProvider(writeExport(t))
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	load, err := p.FetchDailyLoad(context.Background(), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchDailyLoad() error = %v", err)
	}
	if load == nil || *load != 120 {
		t.Errorf("FetchDailyLoad() = %v, want 120", load)
	}

	// The day with an unloaded workout reports no provider value.
	load, err = p.FetchDailyLoad(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchDailyLoad() error = %v", err)
	}
	if load != nil {
		t.Errorf("FetchDailyLoad() = %v, want nil", *load)
	}
}
