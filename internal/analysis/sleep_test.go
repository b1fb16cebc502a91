package analysis

import (
	"testing"
	"time"

	"vitals/internal/store"
)

func stageSample(stage string, minutes float64) store.SignalSample {
	return store.SignalSample{
		Metric: store.MetricSleepStage,
		Value:  minutes,
		Unit:   stage,
	}
}

func TestSummarizeSleep(t *testing.T) {
	tests := []struct {
		name         string
		samples      []store.SignalSample
		wantAsleep   float64
		wantInBed    float64
		wantWakes    int
		wantHasStage bool
	}{
		{
			name: "full night with stages",
			samples: []store.SignalSample{
				stageSample(store.StageLight, 240),
				stageSample(store.StageDeep, 90),
				stageSample(store.StageREM, 100),
				stageSample(store.StageAwake, 10),
			},
			wantAsleep:   430,
			wantInBed:    440, // derived from staged time
			wantWakes:    1,
			wantHasStage: true,
		},
		{
			name: "explicit in-bed time",
			samples: []store.SignalSample{
				stageSample(store.StageInBed, 480),
				stageSample(store.StageLight, 250),
				stageSample(store.StageDeep, 80),
				stageSample(store.StageREM, 90),
			},
			wantAsleep:   420,
			wantInBed:    480,
			wantWakes:    0,
			wantHasStage: true,
		},
		{
			name: "low stage coverage",
			samples: []store.SignalSample{
				stageSample(store.StageInBed, 480),
				stageSample(store.StageDeep, 60),
				stageSample(store.StageLight, 100),
			},
			wantAsleep:   160,
			wantInBed:    480,
			wantWakes:    0,
			wantHasStage: false, // 160/480 staged, under 50%
		},
		{
			name: "light sleep only",
			samples: []store.SignalSample{
				stageSample(store.StageLight, 400),
			},
			wantAsleep:   400,
			wantInBed:    400,
			wantWakes:    0,
			wantHasStage: false, // no deep or REM recorded
		},
		{
			name:       "no samples",
			samples:    nil,
			wantAsleep: 0,
			wantInBed:  0,
		},
		{
			name: "multiple wake events",
			samples: []store.SignalSample{
				stageSample(store.StageLight, 200),
				stageSample(store.StageDeep, 90),
				stageSample(store.StageAwake, 5),
				stageSample(store.StageREM, 90),
				stageSample(store.StageAwake, 8),
			},
			wantAsleep:   380,
			wantInBed:    393,
			wantWakes:    2,
			wantHasStage: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := SummarizeSleep(tt.samples)
			if sum.TimeAsleepMin != tt.wantAsleep {
				t.Errorf("TimeAsleepMin = %v, want %v", sum.TimeAsleepMin, tt.wantAsleep)
			}
			if sum.TimeInBedMin != tt.wantInBed {
				t.Errorf("TimeInBedMin = %v, want %v", sum.TimeInBedMin, tt.wantInBed)
			}
			if sum.WakeEvents != tt.wantWakes {
				t.Errorf("WakeEvents = %v, want %v", sum.WakeEvents, tt.wantWakes)
			}
			if sum.HasStageData != tt.wantHasStage {
				t.Errorf("HasStageData = %v, want %v", sum.HasStageData, tt.wantHasStage)
			}
		})
	}
}

func TestSleepScore(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := day.Add(8 * time.Hour)

	tests := []struct {
		name             string
		sum              SleepSummary
		needHours        float64
		wantValue        int
		wantBand         store.Band
		wantInsufficient bool
	}{
		{
			name: "ideal night",
			sum: SleepSummary{
				TimeInBedMin:  490,
				TimeAsleepMin: 480,
				DeepMin:       96, // exactly 20%
				REMMin:        106,
				LightMin:      278,
				HasStageData:  true,
			},
			needHours: 8,
			// performance 100, stage quality ~100, efficiency 98, disturbances 100
			wantValue: 100,
			wantBand:  store.BandGreen,
		},
		{
			name: "short restless night",
			sum: SleepSummary{
				TimeInBedMin:  420,
				TimeAsleepMin: 300,
				DeepMin:       30,
				REMMin:        40,
				LightMin:      230,
				AwakeMin:      60,
				WakeEvents:    4,
				HasStageData:  true,
			},
			needHours: 8,
			// performance 62.5, stage 55.6, efficiency 71.4, disturbances 30
			// 62.5*.35 + 55.6*.30 + 71.4*.20 + 30*.15 = 57.2
			wantValue: 57,
			wantBand:  store.BandYellow,
		},
		{
			name: "no sleep recorded",
			sum: SleepSummary{
				TimeInBedMin: 0,
			},
			needHours: 8,
			// only the disturbances sub-score contributes: 15/0.70
			wantValue:        21,
			wantBand:         store.BandRed,
			wantInsufficient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SleepScore(day, tt.sum, tt.needHours, now)

			if result.Kind != store.ScoreSleep {
				t.Errorf("Kind = %v, want %v", result.Kind, store.ScoreSleep)
			}
			if result.Day != "2026-03-10" {
				t.Errorf("Day = %v, want 2026-03-10", result.Day)
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

func TestSleepScoreMissingStageData(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sum := SleepSummary{
		TimeInBedMin:  500,
		TimeAsleepMin: 480,
		LightMin:      480,
		HasStageData:  false,
	}

	result := SleepScore(day, sum, 8, day)

	// Stage quality is recorded as neutral but carries no weight; the
	// remaining sub-scores are renormalized.
	if got := result.SubScores["stageQuality"]; got != NeutralSubScore {
		t.Errorf("stageQuality = %v, want %v", got, NeutralSubScore)
	}
	// performance 100*.35 + efficiency 96*.20 + disturbances 100*.15
	// over total weight .70 = 98.9 -> 99
	if result.Value != 99 {
		t.Errorf("Value = %v, want 99 (subs %v)", result.Value, result.SubScores)
	}
	if result.Insufficient {
		t.Error("Insufficient = true, want false")
	}
}

func TestSleepDebt(t *testing.T) {
	tests := []struct {
		name   string
		nights []float64
		need   float64
		want   float64
	}{
		{
			name:   "steady shortfall accumulates",
			nights: []float64{420, 420, 420}, // 1h short each night vs 8h need
			need:   8,
			want:   180,
		},
		{
			name:   "surplus does not pay debt down",
			nights: []float64{540, 420}, // +1h then -1h
			need:   8,
			want:   60,
		},
		{
			name:   "missing nights are skipped",
			nights: []float64{0, 420, -1},
			need:   8,
			want:   60,
		},
		{
			name:   "fully rested",
			nights: []float64{480, 500, 480},
			need:   8,
			want:   0,
		},
		{
			name:   "no nights",
			nights: nil,
			need:   8,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SleepDebt(tt.nights, tt.need); got != tt.want {
				t.Errorf("SleepDebt(%v, %v) = %v, want %v", tt.nights, tt.need, got, tt.want)
			}
		})
	}
}

func TestScoreBand(t *testing.T) {
	tests := []struct {
		value int
		want  store.Band
	}{
		{0, store.BandRed},
		{33, store.BandRed},
		{34, store.BandYellow},
		{65, store.BandYellow},
		{66, store.BandGreen},
		{100, store.BandGreen},
	}

	for _, tt := range tests {
		if got := ScoreBand(tt.value); got != tt.want {
			t.Errorf("ScoreBand(%d) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
