package analysis

import (
	"math"
	"strconv"
	"time"

	"vitals/internal/store"
)

// Sleep sub-score weights
const (
	WeightSleepPerformance  = 0.35
	WeightSleepStageQuality = 0.30
	WeightSleepEfficiency   = 0.20
	WeightSleepDisturbances = 0.15
)

// Stage quality targets as fractions of time asleep
const (
	TargetDeepPct = 0.20
	TargetREMPct  = 0.22
)

// Disturbance penalties
const (
	wakeEventPenalty  = 10.0 // per wake event
	wakeMinutePenalty = 0.5  // per awake minute
)

// NeutralSubScore is substituted for a sub-score whose inputs are missing.
const NeutralSubScore = 50.0

// MinStageCoverage is the fraction of time in bed that must be covered by
// stage segments for the night to count as having stage data.
const MinStageCoverage = 0.5

// SleepSummary aggregates one night's sleep stage samples.
type SleepSummary struct {
	TimeInBedMin  float64
	TimeAsleepMin float64
	DeepMin       float64
	REMMin        float64
	LightMin      float64
	AwakeMin      float64
	WakeEvents    int
	HasStageData  bool
}

// SummarizeSleep folds a day's sleep_stage samples into a SleepSummary.
// Each sample carries the stage label in Unit and the segment duration in
// minutes in Value.
func SummarizeSleep(samples []store.SignalSample) SleepSummary {
	var sum SleepSummary
	for _, s := range samples {
		switch s.Unit {
		case store.StageDeep:
			sum.DeepMin += s.Value
		case store.StageREM:
			sum.REMMin += s.Value
		case store.StageLight:
			sum.LightMin += s.Value
		case store.StageAwake:
			sum.AwakeMin += s.Value
			sum.WakeEvents++
		case store.StageInBed:
			sum.TimeInBedMin += s.Value
		}
	}
	sum.TimeAsleepMin = sum.DeepMin + sum.REMMin + sum.LightMin
	if sum.TimeInBedMin == 0 {
		sum.TimeInBedMin = sum.TimeAsleepMin + sum.AwakeMin
	}
	staged := sum.TimeAsleepMin + sum.AwakeMin
	sum.HasStageData = sum.TimeInBedMin > 0 && staged/sum.TimeInBedMin >= MinStageCoverage &&
		(sum.DeepMin > 0 || sum.REMMin > 0)
	return sum
}

// SleepScore combines four weighted sub-scores: performance (actual vs
// needed duration), stage quality (deep/REM vs target bands), efficiency
// (asleep vs in bed), and disturbances (wake events and duration).
//
// Missing stage data degrades only the stage-quality sub-score: it is
// recorded as the neutral 50 and the remaining three weights are
// renormalized, so the calculation never aborts.
func SleepScore(day time.Time, sum SleepSummary, needHours float64, computedAt time.Time) store.ScoreResult {
	needMin := needHours * 60

	performance := 0.0
	if needMin > 0 {
		performance = clamp(sum.TimeAsleepMin/needMin, 0, 1) * 100
	}

	stageQuality := NeutralSubScore
	if sum.HasStageData && sum.TimeAsleepMin > 0 {
		deepPct := sum.DeepMin / sum.TimeAsleepMin
		remPct := sum.REMMin / sum.TimeAsleepMin
		stageQuality = 50*clamp(deepPct/TargetDeepPct, 0, 1) + 50*clamp(remPct/TargetREMPct, 0, 1)
	}

	efficiency := 0.0
	if sum.TimeInBedMin > 0 {
		efficiency = clamp(sum.TimeAsleepMin/sum.TimeInBedMin, 0, 1) * 100
	}

	disturbances := clamp(100-wakeEventPenalty*float64(sum.WakeEvents)-wakeMinutePenalty*sum.AwakeMin, 0, 100)

	weighted := performance*WeightSleepPerformance +
		efficiency*WeightSleepEfficiency +
		disturbances*WeightSleepDisturbances
	totalWeight := WeightSleepPerformance + WeightSleepEfficiency + WeightSleepDisturbances
	if sum.HasStageData {
		weighted += stageQuality * WeightSleepStageQuality
		totalWeight += WeightSleepStageQuality
	}

	value := int(math.Round(weighted / totalWeight))

	return store.ScoreResult{
		Kind:  store.ScoreSleep,
		Day:   store.DayKey(day),
		Value: value,
		Band:  ScoreBand(value),
		SubScores: map[string]float64{
			"performance":  round1(performance),
			"stageQuality": round1(stageQuality),
			"efficiency":   round1(efficiency),
			"disturbances": round1(disturbances),
		},
		Inputs: map[string]string{
			"timeAsleepMin": minutes(sum.TimeAsleepMin),
			"timeInBedMin":  minutes(sum.TimeInBedMin),
		},
		Insufficient: sum.TimeAsleepMin == 0,
		ComputedAt:   computedAt,
	}
}

// SleepDebt sums the shortfall between needed and actual sleep over the
// given nights, in minutes. Surplus nights do not pay debt down; a night
// with no data is skipped, not counted as full debt.
func SleepDebt(nightlyAsleepMin []float64, needHours float64) float64 {
	needMin := needHours * 60
	var debt float64
	for _, asleep := range nightlyAsleepMin {
		if asleep <= 0 {
			continue
		}
		if shortfall := needMin - asleep; shortfall > 0 {
			debt += shortfall
		}
	}
	return debt
}

// ScoreBand maps a 0-100 score to its band: >=66 green, 34-65 yellow,
// <34 red. Pure and deterministic.
func ScoreBand(value int) store.Band {
	switch {
	case value >= 66:
		return store.BandGreen
	case value >= 34:
		return store.BandYellow
	default:
		return store.BandRed
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func minutes(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
