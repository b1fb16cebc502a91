package analysis

import (
	"math"
	"sort"
	"time"

	"vitals/internal/store"
)

// EMA time constants for training load trends
const (
	CTLDays = 42 // chronic load ("fitness")
	ATLDays = 7  // acute load ("fatigue")
)

// strainScale is the e-folding constant mapping daily load onto the bounded
// 0-100 strain scale: score = 100 * (1 - e^(-load/strainScale)).
const strainScale = 150.0

// Strain band cut points
const (
	strainModerateCut     = 34
	strainHighCut         = 66
	strainOverreachingCut = 86
)

// TRIMP calculates Training Impulse (Banister model) from average heart
// rate and duration:
// TRIMP = duration (min) * ΔHR ratio * e^(b * ΔHR ratio), b = 1.92.
// Used as the fallback estimate when no pre-aggregated training load is
// available for a workout.
func TRIMP(durationMin, avgHR float64, p AthleteProfile) float64 {
	if durationMin <= 0 || avgHR <= 0 {
		return 0
	}

	hrReserve := p.MaxHR - p.RestingHR
	if hrReserve <= 0 {
		return 0
	}

	hrRatio := clamp((avgHR-p.RestingHR)/hrReserve, 0, 1)

	b := 1.92

	return durationMin * hrRatio * math.Exp(b*hrRatio)
}

// DailyLoad represents total training load for a single day
type DailyLoad struct {
	Day  string // YYYY-MM-DD
	Load float64
}

// FitnessMetrics represents CTL/ATL/TSB for a day
type FitnessMetrics struct {
	Day string
	CTL float64 // Chronic Training Load (42-day EMA) - "Fitness"
	ATL float64 // Acute Training Load (7-day EMA) - "Fatigue"
	TSB float64 // Training Stress Balance (CTL - ATL) - "Form"
}

// FitnessTrend computes CTL/ATL/TSB from daily loads. Missing days count
// as zero load. The input slice is never modified; callers share load
// history across concurrent calculators.
func FitnessTrend(loads []DailyLoad) []FitnessMetrics {
	if len(loads) == 0 {
		return nil
	}

	sorted := make([]DailyLoad, len(loads))
	copy(sorted, loads)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Day < sorted[j].Day
	})

	ctlDecay := 2.0 / (CTLDays + 1.0)
	atlDecay := 2.0 / (ATLDays + 1.0)

	loadMap := make(map[string]float64)
	for _, dl := range sorted {
		loadMap[dl.Day] += dl.Load // Sum multiple entries on same day
	}

	start, err := time.Parse("2006-01-02", sorted[0].Day)
	if err != nil {
		return nil
	}
	end, err := time.Parse("2006-01-02", sorted[len(sorted)-1].Day)
	if err != nil {
		return nil
	}

	var metrics []FitnessMetrics
	var ctl, atl float64

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := store.DayKey(d)
		load := loadMap[key] // 0 if no training

		ctl = ctl + ctlDecay*(load-ctl)
		atl = atl + atlDecay*(load-atl)

		metrics = append(metrics, FitnessMetrics{
			Day: key,
			CTL: ctl,
			ATL: atl,
			TSB: ctl - atl,
		})
	}

	return metrics
}

// CurrentFitness returns the most recent CTL/ATL/TSB values
func CurrentFitness(loads []DailyLoad) FitnessMetrics {
	metrics := FitnessTrend(loads)
	if len(metrics) == 0 {
		return FitnessMetrics{}
	}
	return metrics[len(metrics)-1]
}

// StrainScore derives today's strain from the daily load history.
// externalLoad, when present, is the pre-aggregated training stress from an
// activity provider and overrides the stored load for the day.
func StrainScore(day time.Time, loads []DailyLoad, externalLoad *float64, computedAt time.Time) store.ScoreResult {
	dayKey := store.DayKey(day)

	var todayLoad float64
	source := "stored"
	if externalLoad != nil {
		source = "provider"
		todayLoad = *externalLoad
		// Replace any stored entry for the day so the trend uses the
		// authoritative value. The caller's slice stays untouched.
		updated := make([]DailyLoad, len(loads), len(loads)+1)
		copy(updated, loads)
		replaced := false
		for i := range updated {
			if updated[i].Day == dayKey {
				updated[i].Load = todayLoad
				replaced = true
			}
		}
		if !replaced {
			updated = append(updated, DailyLoad{Day: dayKey, Load: todayLoad})
		}
		loads = updated
	} else {
		for _, dl := range loads {
			if dl.Day == dayKey {
				todayLoad += dl.Load
			}
		}
	}

	fitness := CurrentFitness(loads)

	value := int(math.Round(100 * (1 - math.Exp(-todayLoad/strainScale))))

	return store.ScoreResult{
		Kind:  store.ScoreStrain,
		Day:   dayKey,
		Value: value,
		Band:  StrainBand(value),
		SubScores: map[string]float64{
			"dailyLoad": round1(todayLoad),
			"ctl":       round1(fitness.CTL),
			"atl":       round1(fitness.ATL),
			"tsb":       round1(fitness.TSB),
		},
		Inputs: map[string]string{
			"loadSource": source,
			"form":       FormDescription(fitness.TSB),
		},
		Insufficient: len(loads) == 0,
		ComputedAt:   computedAt,
	}
}

// StrainBand maps a 0-100 strain value to its band.
func StrainBand(value int) store.Band {
	switch {
	case value >= strainOverreachingCut:
		return store.BandOverreaching
	case value >= strainHighCut:
		return store.BandHigh
	case value >= strainModerateCut:
		return store.BandModerate
	default:
		return store.BandLight
	}
}

// FormDescription returns a human-readable description of TSB
func FormDescription(tsb float64) string {
	switch {
	case tsb > 25:
		return "Very fresh (possibly detrained)"
	case tsb > 10:
		return "Fresh and ready to race"
	case tsb > 0:
		return "Neutral - good for training"
	case tsb > -10:
		return "Slightly fatigued"
	case tsb > -25:
		return "Tired but building fitness"
	default:
		return "Very fatigued - rest needed"
	}
}
