// Package baseline maintains rolling personalized baselines computed from
// signal history.
package baseline

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"vitals/internal/analysis"
	"vitals/internal/store"
)

// Baseline windows in days
const (
	ShortWindowDays = 7
	LongWindowDays  = 30
)

// MinSamples is the minimum sample count below which a baseline is marked
// as having insufficient data. Calculators treat such baselines as a
// first-class state, not an error.
const MinSamples = 3

// SignalReader is the read-only view over stored signal samples the
// tracker consumes.
type SignalReader interface {
	GetSamplesInRange(ctx context.Context, metric store.Metric, from, to time.Time) ([]store.SignalSample, error)
}

// Tracker computes rolling baselines from signal history. Recomputation is
// idempotent and side-effect free; callers decide caching.
type Tracker struct {
	signals SignalReader
	logger  *zap.Logger
	clock   func() time.Time
}

// NewTracker creates a baseline tracker reading from the given signal view.
func NewTracker(signals SignalReader, logger *zap.Logger) *Tracker {
	return &Tracker{
		signals: signals,
		logger:  logger,
		clock:   time.Now,
	}
}

// Compute returns the baseline for a metric over the trailing window ending
// the day before asOf (the day being scored is excluded from its own
// baseline).
func (t *Tracker) Compute(ctx context.Context, metric store.Metric, windowDays int, asOf time.Time) (store.Baseline, error) {
	end := asOf.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -windowDays)

	samples, err := t.signals.GetSamplesInRange(ctx, metric, start, end)
	if err != nil {
		return store.Baseline{}, err
	}

	values := t.usableValues(metric, samples)

	b := store.Baseline{
		Metric:      metric,
		WindowDays:  windowDays,
		SampleCount: len(values),
		ComputedAt:  t.clock().UTC(),
	}

	if len(values) < MinSamples {
		b.InsufficientData = true
		return b, nil
	}

	b.Mean, b.StdDev = meanStdDev(values)
	return b, nil
}

// ComputeAll computes short and long window baselines for every metric.
// The long window is the reference for deviation calculations; the short
// window substitutes when the long one has insufficient data.
func (t *Tracker) ComputeAll(ctx context.Context, asOf time.Time) (map[store.Metric]store.Baseline, error) {
	baselines := make(map[store.Metric]store.Baseline, len(store.Metrics))
	for _, metric := range store.Metrics {
		long, err := t.Compute(ctx, metric, LongWindowDays, asOf)
		if err != nil {
			return nil, err
		}
		if !long.InsufficientData {
			baselines[metric] = long
			continue
		}

		short, err := t.Compute(ctx, metric, ShortWindowDays, asOf)
		if err != nil {
			return nil, err
		}
		if !short.InsufficientData {
			t.logger.Debug("falling back to short baseline window",
				zap.String("metric", string(metric)),
				zap.Int("long_samples", long.SampleCount))
			baselines[metric] = short
		} else {
			baselines[metric] = long // insufficient, but carries the sample count
		}
	}
	return baselines, nil
}

// usableValues reduces raw samples to the per-day values a baseline is
// built from, dropping low-quality entries.
func (t *Tracker) usableValues(metric store.Metric, samples []store.SignalSample) []float64 {
	switch metric {
	case store.MetricSleepStage:
		return t.sleepScoresPerNight(samples)
	case store.MetricActiveEnergy, store.MetricTrainingStress:
		return dailySums(samples)
	default:
		return dailyMeans(samples)
	}
}

// sleepScoresPerNight converts stage samples into one quality value per
// night, excluding nights with under 50% stage coverage.
func (t *Tracker) sleepScoresPerNight(samples []store.SignalSample) []float64 {
	byDay := groupByDay(samples)
	var values []float64
	for day, daySamples := range byDay {
		sum := analysis.SummarizeSleep(daySamples)
		if sum.TimeAsleepMin == 0 {
			continue
		}
		if !sum.HasStageData {
			t.logger.Debug("excluding low-coverage night from sleep baseline",
				zap.String("day", day))
			continue
		}
		values = append(values, sum.TimeAsleepMin)
	}
	return values
}

func groupByDay(samples []store.SignalSample) map[string][]store.SignalSample {
	byDay := make(map[string][]store.SignalSample)
	for _, s := range samples {
		key := store.DayKey(s.Timestamp)
		byDay[key] = append(byDay[key], s)
	}
	return byDay
}

func dailyMeans(samples []store.SignalSample) []float64 {
	byDay := groupByDay(samples)
	var values []float64
	for _, daySamples := range byDay {
		var sum float64
		for _, s := range daySamples {
			sum += s.Value
		}
		values = append(values, sum/float64(len(daySamples)))
	}
	return values
}

func dailySums(samples []store.SignalSample) []float64 {
	byDay := groupByDay(samples)
	var values []float64
	for _, daySamples := range byDay {
		var sum float64
		for _, s := range daySamples {
			sum += s.Value
		}
		values = append(values, sum)
	}
	return values
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
