package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitals/internal/analysis"
	"vitals/internal/provider"
	"vitals/internal/store"
)

var testFrom = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
var testTo = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	samples    []store.SignalSample
	workouts   []provider.Workout
	sampleErr  error
	workoutErr error
}

func (f *fakeProvider) FetchSamples(_ context.Context, _, _ time.Time) ([]store.SignalSample, error) {
	return f.samples, f.sampleErr
}

func (f *fakeProvider) FetchWorkouts(_ context.Context, _, _ time.Time) ([]provider.Workout, error) {
	return f.workouts, f.workoutErr
}

func (f *fakeProvider) FetchDailyLoad(_ context.Context, _ time.Time) (*float64, error) {
	return nil, nil
}

type captureWriter struct {
	batches [][]store.SignalSample
	err     error
}

func (w *captureWriter) InsertSamples(_ context.Context, samples []store.SignalSample) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, samples)
	return nil
}

func (w *captureWriter) all() []store.SignalSample {
	var out []store.SignalSample
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func TestRun(t *testing.T) {
	p := &fakeProvider{
		samples: []store.SignalSample{
			{Metric: store.MetricHRV, Value: 52, Unit: "ms", Timestamp: testFrom.Add(7 * time.Hour), Source: "watch"},
			{Metric: store.MetricRHR, Value: 55, Unit: "bpm", Timestamp: testFrom.Add(7 * time.Hour), Source: "watch"},
		},
		workouts: []provider.Workout{
			{Start: testFrom.Add(17 * time.Hour), DurationMin: 60, AvgHR: 150, TrainingLoad: floatPtr(120), Source: "watch"},
		},
	}
	w := &captureWriter{}
	svc := NewService(p, w, analysis.DefaultProfile(), zap.NewNop())

	result, err := svc.Run(context.Background(), testFrom, testTo, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SamplesFetched)
	assert.Equal(t, 2, result.SamplesStored)
	assert.Zero(t, result.SamplesRejected)
	assert.Equal(t, 1, result.WorkoutsStored)
	assert.Empty(t, result.Errors)

	stored := w.all()
	require.Len(t, stored, 3)
	last := stored[2]
	assert.Equal(t, store.MetricTrainingStress, last.Metric)
	assert.Equal(t, 120.0, last.Value, "provider load used verbatim")
}

func TestRunEstimatesMissingLoad(t *testing.T) {
	p := &fakeProvider{
		workouts: []provider.Workout{
			{Start: testFrom.Add(17 * time.Hour), DurationMin: 60, AvgHR: 150, Source: "watch"},
		},
	}
	w := &captureWriter{}
	svc := NewService(p, w, analysis.DefaultProfile(), zap.NewNop())

	result, err := svc.Run(context.Background(), testFrom, testTo, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.WorkoutsStored)

	stored := w.all()
	require.Len(t, stored, 1)
	want := analysis.TRIMP(60, 150, analysis.DefaultProfile())
	assert.InDelta(t, want, stored[0].Value, 1e-9, "missing load falls back to TRIMP")
}

func TestRunRejectsImplausibleSamples(t *testing.T) {
	p := &fakeProvider{
		samples: []store.SignalSample{
			{Metric: store.MetricHRV, Value: 52, Timestamp: testFrom.Add(time.Hour)},
			{Metric: store.MetricHRV, Value: -10, Timestamp: testFrom.Add(2 * time.Hour)},
			{Metric: store.MetricRHR, Value: 300, Timestamp: testFrom.Add(3 * time.Hour)},
			{Metric: store.Metric("bogus"), Value: 1, Timestamp: testFrom.Add(4 * time.Hour)},
		},
	}
	w := &captureWriter{}
	svc := NewService(p, w, analysis.DefaultProfile(), zap.NewNop())

	result, err := svc.Run(context.Background(), testFrom, testTo, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, result.SamplesFetched)
	assert.Equal(t, 1, result.SamplesStored)
	assert.Equal(t, 3, result.SamplesRejected)
}

func TestRunRecordsUnusableWorkouts(t *testing.T) {
	p := &fakeProvider{
		workouts: []provider.Workout{
			{Start: testFrom, DurationMin: 0, AvgHR: 0, Source: "watch"}, // no load derivable
			{Start: testFrom.Add(24 * time.Hour), DurationMin: 45, AvgHR: 140, Source: "watch"},
		},
	}
	w := &captureWriter{}
	svc := NewService(p, w, analysis.DefaultProfile(), zap.NewNop())

	result, err := svc.Run(context.Background(), testFrom, testTo, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.WorkoutsStored)
	assert.Len(t, result.Errors, 1)
}

func TestRunProviderFailure(t *testing.T) {
	p := &fakeProvider{sampleErr: errors.New("export unreadable")}
	svc := NewService(p, &captureWriter{}, analysis.DefaultProfile(), zap.NewNop())

	_, err := svc.Run(context.Background(), testFrom, testTo, nil)
	assert.ErrorContains(t, err, "export unreadable")
}

func TestRunClosesProgress(t *testing.T) {
	p := &fakeProvider{
		samples: []store.SignalSample{
			{Metric: store.MetricHRV, Value: 52, Timestamp: testFrom.Add(time.Hour)},
		},
	}
	svc := NewService(p, &captureWriter{}, analysis.DefaultProfile(), zap.NewNop())

	progress := make(chan Progress, 16)
	_, err := svc.Run(context.Background(), testFrom, testTo, progress)
	require.NoError(t, err)

	var phases []string
	for update := range progress { // terminates because Run closes the channel
		phases = append(phases, update.Phase)
	}
	assert.Contains(t, phases, "samples")
	assert.Contains(t, phases, "workouts")
}
