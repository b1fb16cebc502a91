// Package ingest pulls signal samples and workouts from an external
// provider into the local store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vitals/internal/analysis"
	"vitals/internal/provider"
	"vitals/internal/store"
)

// SampleWriter is the slice of the store the ingest service writes to.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []store.SignalSample) error
}

// Service orchestrates pulling data from a provider into the store.
type Service struct {
	provider provider.Provider
	store    SampleWriter
	profile  analysis.AthleteProfile
	logger   *zap.Logger
}

// NewService creates an ingest service. The athlete profile is used for
// TRIMP estimation of workouts the provider reports without a load value.
func NewService(p provider.Provider, w SampleWriter, profile analysis.AthleteProfile, logger *zap.Logger) *Service {
	sanitized, warnings := profile.Sanitize()
	for _, wrn := range warnings {
		logger.Warn("profile value substituted", zap.String("warning", wrn.String()))
	}
	return &Service{
		provider: p,
		store:    w,
		profile:  sanitized,
		logger:   logger,
	}
}

// Progress reports progress during ingest
type Progress struct {
	Phase     string // "samples", "workouts"
	Total     int
	Completed int
	Error     error
}

// Result contains the results of an ingest run
type Result struct {
	SamplesFetched  int
	SamplesStored   int
	SamplesRejected int
	WorkoutsStored  int
	Errors          []error
}

// Run performs a full ingest for [from, to): signal samples, then workouts
// folded into training stress samples.
func (s *Service) Run(ctx context.Context, from, to time.Time, progress chan<- Progress) (*Result, error) {
	if progress != nil {
		defer close(progress)
	}

	result := &Result{}

	if err := s.ingestSamples(ctx, from, to, progress, result); err != nil {
		return result, fmt.Errorf("ingesting samples: %w", err)
	}

	if err := s.ingestWorkouts(ctx, from, to, progress, result); err != nil {
		return result, fmt.Errorf("ingesting workouts: %w", err)
	}

	return result, nil
}

// ingestSamples fetches raw samples, drops physiologically impossible
// values, and stores the rest.
func (s *Service) ingestSamples(ctx context.Context, from, to time.Time, progress chan<- Progress, result *Result) error {
	samples, err := s.provider.FetchSamples(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetching samples: %w", err)
	}
	result.SamplesFetched = len(samples)

	if progress != nil {
		progress <- Progress{Phase: "samples", Total: len(samples)}
	}

	valid := make([]store.SignalSample, 0, len(samples))
	for _, sample := range samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !plausible(sample) {
			result.SamplesRejected++
			s.logger.Warn("rejecting implausible sample",
				zap.String("metric", string(sample.Metric)),
				zap.Float64("value", sample.Value),
				zap.Time("timestamp", sample.Timestamp))
			continue
		}
		valid = append(valid, sample)
	}

	if err := s.store.InsertSamples(ctx, valid); err != nil {
		return fmt.Errorf("storing samples: %w", err)
	}
	result.SamplesStored = len(valid)

	if progress != nil {
		progress <- Progress{Phase: "samples", Total: len(samples), Completed: len(valid)}
	}
	return nil
}

// ingestWorkouts converts workouts into training stress samples, using the
// provider's load value when present and a TRIMP estimate otherwise.
func (s *Service) ingestWorkouts(ctx context.Context, from, to time.Time, progress chan<- Progress, result *Result) error {
	workouts, err := s.provider.FetchWorkouts(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetching workouts: %w", err)
	}

	if progress != nil {
		progress <- Progress{Phase: "workouts", Total: len(workouts)}
	}

	var samples []store.SignalSample
	for _, w := range workouts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		load := 0.0
		if w.TrainingLoad != nil {
			load = *w.TrainingLoad
		} else {
			load = analysis.TRIMP(w.DurationMin, w.AvgHR, s.profile)
		}
		if load <= 0 {
			result.Errors = append(result.Errors,
				fmt.Errorf("workout at %s has no usable load", w.Start.Format(time.RFC3339)))
			continue
		}

		samples = append(samples, store.SignalSample{
			Metric:    store.MetricTrainingStress,
			Value:     load,
			Unit:      "load",
			Timestamp: w.Start,
			Source:    w.Source,
		})
	}

	if len(samples) > 0 {
		if err := s.store.InsertSamples(ctx, samples); err != nil {
			return fmt.Errorf("storing workout loads: %w", err)
		}
	}
	result.WorkoutsStored = len(samples)

	if progress != nil {
		progress <- Progress{Phase: "workouts", Total: len(workouts), Completed: len(samples)}
	}
	return nil
}

// plausible checks a sample against broad physiological ranges.
func plausible(s store.SignalSample) bool {
	switch s.Metric {
	case store.MetricHRV:
		return s.Value > 0 && s.Value < 300
	case store.MetricRHR:
		return s.Value >= analysis.MinRestingHR && s.Value <= 220
	case store.MetricRespiratoryRate:
		return s.Value > 4 && s.Value < 60
	case store.MetricSleepStage:
		return s.Value >= 0 && s.Value <= 16*60
	case store.MetricActiveEnergy:
		return s.Value >= 0 && s.Value < 20000
	case store.MetricTrainingStress:
		return s.Value >= 0 && s.Value < 1000
	default:
		return false
	}
}
