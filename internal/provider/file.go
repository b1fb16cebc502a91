package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"vitals/internal/store"
)

// FileProvider serves samples and workouts from a local JSON health-data
// export. It is the reference Provider implementation and the fixture
// source for local use.
type FileProvider struct {
	samples  []store.SignalSample
	workouts []Workout
}

type exportFile struct {
	Samples  []exportSample `json:"samples"`
	Workouts []Workout      `json:"workouts"`
}

type exportSample struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewFileProvider loads an export file into memory.
func NewFileProvider(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}

	var export exportFile
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing export file: %w", err)
	}

	p := &FileProvider{workouts: export.Workouts}
	for _, s := range export.Samples {
		p.samples = append(p.samples, store.SignalSample{
			Metric:    store.Metric(s.Metric),
			Value:     s.Value,
			Unit:      s.Unit,
			Timestamp: s.Timestamp,
			Source:    s.Source,
		})
	}
	return p, nil
}

// FetchSamples returns the export's samples within [from, to).
func (p *FileProvider) FetchSamples(_ context.Context, from, to time.Time) ([]store.SignalSample, error) {
	var out []store.SignalSample
	for _, s := range p.samples {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

// FetchWorkouts returns the export's workouts within [from, to).
func (p *FileProvider) FetchWorkouts(_ context.Context, from, to time.Time) ([]Workout, error) {
	var out []Workout
	for _, w := range p.workouts {
		if !w.Start.Before(from) && w.Start.Before(to) {
			out = append(out, w)
		}
	}
	return out, nil
}

// FetchDailyLoad sums the pre-aggregated load of the day's workouts.
// Returns nil when no workout that day carries a provider load value.
func (p *FileProvider) FetchDailyLoad(_ context.Context, day time.Time) (*float64, error) {
	key := store.DayKey(day)
	var sum float64
	found := false
	for _, w := range p.workouts {
		if store.DayKey(w.Start) == key && w.TrainingLoad != nil {
			sum += *w.TrainingLoad
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &sum, nil
}
