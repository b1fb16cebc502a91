package analysis

import (
	"errors"
	"math"
	"strconv"
	"time"

	"vitals/internal/store"
)

// Recovery sub-score weights
const (
	WeightHRV   = 0.30
	WeightSleep = 0.30
	WeightRHR   = 0.20
	WeightResp  = 0.10
	WeightForm  = 0.10
)

// Slopes mapping baseline-relative percentage deviations onto the 0-100
// sub-score scale, centered on the neutral 50.
const (
	hrvSlope  = 2.5 // per percent above/below baseline, higher HRV is better
	rhrSlope  = 5.0 // per percent above baseline, higher RHR is worse
	respSlope = 5.0 // per percent change in either direction
	formSlope = 2.0 // per TSB unit
)

// ErrNoSleepResult is returned when Recovery is requested without a resolved
// Sleep result. The coordinator's ordering makes this unreachable in normal
// operation; hitting it is a programming error.
var ErrNoSleepResult = errors.New("recovery requires a resolved sleep result")

// RecoveryInputs carries today's signal values, their baselines, the Sleep
// result the score depends on, and yesterday's training stress balance.
// Nil values mean the signal is absent for the day; the corresponding
// sub-score falls back to neutral rather than aborting.
type RecoveryInputs struct {
	HRV             *float64
	RHR             *float64
	RespiratoryRate *float64

	HRVBaseline  *store.Baseline
	RHRBaseline  *store.Baseline
	RespBaseline *store.Baseline

	// Sleep is the Sleep ScoreResult computed for the same day. It is
	// passed explicitly: calculators never query one another.
	Sleep *store.ScoreResult

	TSB *float64
}

// RecoveryScore computes the weighted recovery score: HRV deviation 30%,
// sleep 30%, RHR deviation 20%, respiratory deviation 10%, training form
// 10%. Deviations are baseline-relative percentages, so the score is
// self-normalizing per individual.
func RecoveryScore(day time.Time, in RecoveryInputs, computedAt time.Time) (store.ScoreResult, error) {
	if in.Sleep == nil {
		return store.ScoreResult{}, ErrNoSleepResult
	}

	inputs := map[string]string{
		"sleepResultId": strconv.FormatInt(in.Sleep.ID, 10),
		"sleepDay":      in.Sleep.Day,
	}

	hrvScore, hrvOK := deviationScore(in.HRV, in.HRVBaseline, hrvSlope)
	if !hrvOK {
		inputs["hrv"] = "unavailable"
	}

	sleepScore := NeutralSubScore
	if !in.Sleep.Insufficient {
		sleepScore = float64(in.Sleep.Value)
	} else {
		inputs["sleep"] = "insufficient"
	}

	rhrScore, rhrOK := deviationScore(in.RHR, in.RHRBaseline, -rhrSlope)
	if !rhrOK {
		inputs["rhr"] = "unavailable"
	}

	respScore := NeutralSubScore
	if pct, ok := pctDeviation(in.RespiratoryRate, in.RespBaseline); ok {
		respScore = clamp(50-respSlope*math.Abs(pct), 0, 100)
	} else {
		inputs["respiratoryRate"] = "unavailable"
	}

	formScore := NeutralSubScore
	if in.TSB != nil {
		formScore = clamp(50+formSlope*(*in.TSB), 0, 100)
	} else {
		inputs["tsb"] = "unavailable"
	}

	weighted := hrvScore*WeightHRV +
		sleepScore*WeightSleep +
		rhrScore*WeightRHR +
		respScore*WeightResp +
		formScore*WeightForm

	value := int(math.Round(weighted))
	insufficient := !hrvOK && !rhrOK && in.Sleep.Insufficient

	return store.ScoreResult{
		Kind:  store.ScoreRecovery,
		Day:   store.DayKey(day),
		Value: value,
		Band:  ScoreBand(value),
		SubScores: map[string]float64{
			"hrv":             round1(hrvScore),
			"sleep":           round1(sleepScore),
			"rhr":             round1(rhrScore),
			"respiratoryRate": round1(respScore),
			"form":            round1(formScore),
		},
		Inputs:       inputs,
		Insufficient: insufficient,
		ComputedAt:   computedAt,
	}, nil
}

// deviationScore maps a baseline-relative percentage deviation onto 0-100.
// A positive slope rewards values above baseline, a negative slope
// penalizes them. Returns neutral 50 and false when the value or a usable
// baseline is missing.
func deviationScore(value *float64, baseline *store.Baseline, slope float64) (float64, bool) {
	pct, ok := pctDeviation(value, baseline)
	if !ok {
		return NeutralSubScore, false
	}
	return clamp(50+slope*pct, 0, 100), true
}

// pctDeviation returns the percentage deviation of value from the baseline
// mean. False when either side is missing or the baseline has insufficient
// data.
func pctDeviation(value *float64, baseline *store.Baseline) (float64, bool) {
	if value == nil || baseline == nil || baseline.InsufficientData || baseline.Mean == 0 {
		return 0, false
	}
	return (*value - baseline.Mean) / baseline.Mean * 100, true
}
