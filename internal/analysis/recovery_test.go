package analysis

import (
	"errors"
	"testing"
	"time"

	"vitals/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func baselineFor(metric store.Metric, mean float64) *store.Baseline {
	return &store.Baseline{
		Metric:      metric,
		WindowDays:  30,
		Mean:        mean,
		StdDev:      mean * 0.08,
		SampleCount: 30,
	}
}

func sleepResult(value int, insufficient bool) *store.ScoreResult {
	return &store.ScoreResult{
		ID:           42,
		Kind:         store.ScoreSleep,
		Day:          "2026-03-10",
		Value:        value,
		Band:         ScoreBand(value),
		Insufficient: insufficient,
	}
}

func TestRecoveryScore(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := day.Add(8 * time.Hour)

	tests := []struct {
		name             string
		in               RecoveryInputs
		wantValue        int
		wantBand         store.Band
		wantInsufficient bool
	}{
		{
			name: "suppressed HRV with elevated RHR",
			in: RecoveryInputs{
				HRV:         floatPtr(45), // -15% vs baseline
				RHR:         floatPtr(58), // +5.5% vs baseline
				HRVBaseline: baselineFor(store.MetricHRV, 53),
				RHRBaseline: baselineFor(store.MetricRHR, 55),
				Sleep:       sleepResult(70, false),
				TSB:         floatPtr(-5),
			},
			// hrv 12.3*.30 + sleep 70*.30 + rhr 22.7*.20 + resp 50*.10 + form 40*.10
			wantValue: 38,
			wantBand:  store.BandYellow,
		},
		{
			name: "everything at baseline",
			in: RecoveryInputs{
				HRV:         floatPtr(53),
				RHR:         floatPtr(55),
				HRVBaseline: baselineFor(store.MetricHRV, 53),
				RHRBaseline: baselineFor(store.MetricRHR, 55),
				Sleep:       sleepResult(50, false),
				TSB:         floatPtr(0),
			},
			wantValue: 50,
			wantBand:  store.BandYellow,
		},
		{
			name: "elevated HRV after good sleep",
			in: RecoveryInputs{
				HRV:         floatPtr(60), // +13.2%
				RHR:         floatPtr(52), // -5.5%
				HRVBaseline: baselineFor(store.MetricHRV, 53),
				RHRBaseline: baselineFor(store.MetricRHR, 55),
				Sleep:       sleepResult(90, false),
				TSB:         floatPtr(10),
			},
			// hrv 83.0*.30 + sleep 90*.30 + rhr 77.3*.20 + resp 50*.10 + form 70*.10
			wantValue: 79,
			wantBand:  store.BandGreen,
		},
		{
			name: "missing signals fall back to neutral",
			in: RecoveryInputs{
				Sleep: sleepResult(80, false),
			},
			// hrv 50*.30 + sleep 80*.30 + rhr 50*.20 + resp 50*.10 + form 50*.10
			wantValue: 59,
			wantBand:  store.BandYellow,
		},
		{
			name: "all signals missing and sleep insufficient",
			in: RecoveryInputs{
				Sleep: sleepResult(0, true),
			},
			wantValue:        50,
			wantBand:         store.BandYellow,
			wantInsufficient: true,
		},
		{
			name: "insufficient baseline treated as missing",
			in: RecoveryInputs{
				HRV: floatPtr(45),
				HRVBaseline: &store.Baseline{
					Metric:           store.MetricHRV,
					WindowDays:       30,
					SampleCount:      1,
					InsufficientData: true,
				},
				Sleep: sleepResult(80, false),
			},
			wantValue: 59,
			wantBand:  store.BandYellow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RecoveryScore(day, tt.in, now)
			if err != nil {
				t.Fatalf("RecoveryScore() error = %v", err)
			}

			if result.Kind != store.ScoreRecovery {
				t.Errorf("Kind = %v, want %v", result.Kind, store.ScoreRecovery)
			}
			if result.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v (subs %v)", result.Value, tt.wantValue, result.SubScores)
			}
			if result.Band != tt.wantBand {
				t.Errorf("Band = %v, want %v", result.Band, tt.wantBand)
			}
			if result.Insufficient != tt.wantInsufficient {
				t.Errorf("Insufficient = %v, want %v", result.Insufficient, tt.wantInsufficient)
			}
		})
	}
}

func TestRecoveryScoreRequiresSleep(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := RecoveryScore(day, RecoveryInputs{HRV: floatPtr(50)}, day)
	if !errors.Is(err, ErrNoSleepResult) {
		t.Errorf("RecoveryScore() error = %v, want ErrNoSleepResult", err)
	}
}

func TestRecoveryScoreRecordsSleepProvenance(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sleep := sleepResult(70, false)

	result, err := RecoveryScore(day, RecoveryInputs{Sleep: sleep}, day)
	if err != nil {
		t.Fatalf("RecoveryScore() error = %v", err)
	}

	if got := result.Inputs["sleepResultId"]; got != "42" {
		t.Errorf("Inputs[sleepResultId] = %q, want %q", got, "42")
	}
	if got := result.Inputs["sleepDay"]; got != sleep.Day {
		t.Errorf("Inputs[sleepDay] = %q, want %q", got, sleep.Day)
	}
	if got := result.Inputs["hrv"]; got != "unavailable" {
		t.Errorf("Inputs[hrv] = %q, want unavailable", got)
	}
}
