// Package provider defines the external collaborators the engine consumes:
// signal sources and activity/training-load sources. Absence of data for a
// day is a first-class value, not an error.
package provider

import (
	"context"
	"time"

	"vitals/internal/store"
)

// Workout is one recorded training session from an activity provider.
// TrainingLoad is the provider's pre-aggregated stress value when it
// supplies one; the engine estimates from heart rate otherwise.
type Workout struct {
	Start        time.Time `json:"start"`
	DurationMin  float64   `json:"duration_min"`
	AvgHR        float64   `json:"avg_hr"`
	TrainingLoad *float64  `json:"training_load,omitempty"`
	Source       string    `json:"source"`
}

// SignalProvider yields signal samples per metric per day.
type SignalProvider interface {
	// FetchSamples returns samples with from <= timestamp < to. A day
	// with no data returns an empty slice, not an error.
	FetchSamples(ctx context.Context, from, to time.Time) ([]store.SignalSample, error)
}

// LoadProvider yields training sessions and pre-aggregated daily load.
type LoadProvider interface {
	FetchWorkouts(ctx context.Context, from, to time.Time) ([]Workout, error)

	// FetchDailyLoad returns the provider's aggregated training stress
	// for a day, or nil when the provider has none.
	FetchDailyLoad(ctx context.Context, day time.Time) (*float64, error)
}

// Provider combines both collaborator roles.
type Provider interface {
	SignalProvider
	LoadProvider
}
