package analysis

import (
	"math"
	"time"

	"vitals/internal/store"
)

// Thresholds are the baseline-relative percentage deviations that trigger
// anomaly signals.
type Thresholds struct {
	HRVDropPct      float64
	RHRRisePct      float64
	SleepDropPct    float64
	RespChangePct   float64
	ActivityDropPct float64

	// MinSignals is how many concurrently crossed thresholds are needed
	// before an event is raised.
	MinSignals int

	// WindowDays is the rolling window the detector evaluates over.
	WindowDays int
}

// DefaultThresholds returns the standard detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HRVDropPct:      10,
		RHRRisePct:      3,
		SleepDropPct:    15,
		RespChangePct:   8,
		ActivityDropPct: 25,
		MinSignals:      1,
		WindowDays:      7,
	}
}

// DaySignals holds one day's aggregated signal values. Nil means no data
// for that metric on that day.
type DaySignals struct {
	Day             string // YYYY-MM-DD
	HRV             *float64
	RHR             *float64
	RespiratoryRate *float64
	ActiveEnergy    *float64
	SleepScore      *float64
}

// minSleepHistory is how many prior sleep scores the sleep-quality signal
// needs before it can judge a drop.
const minSleepHistory = 3

type signalHit struct {
	metric store.Metric
	ratio  float64 // crossed magnitude as a multiple of the threshold
}

// DetectAnomalies evaluates the most recent day of the window against the
// baselines and returns zero, one, or two events (at most one Illness and
// one Wellness). It holds no state and re-derives everything from its
// inputs, so running it twice on the same window yields the same events.
//
// Returned events carry no ID and FirstDetected == asOf; the caller
// reconciles them against already-open events.
func DetectAnomalies(window []DaySignals, baselines map[store.Metric]store.Baseline, th Thresholds, asOf time.Time) []store.AnomalyEvent {
	if len(window) == 0 {
		return nil
	}
	today := window[len(window)-1]

	var illness, wellness []signalHit

	// HRV: a drop signals illness, a comparable rise signals wellness.
	if pct, ok := baselinePct(today.HRV, baselines, store.MetricHRV); ok {
		if pct < -th.HRVDropPct {
			illness = append(illness, signalHit{store.MetricHRV, -pct / th.HRVDropPct})
		} else if pct > th.HRVDropPct {
			wellness = append(wellness, signalHit{store.MetricHRV, pct / th.HRVDropPct})
		}
	}

	// RHR: a rise signals illness, a drop signals wellness.
	if pct, ok := baselinePct(today.RHR, baselines, store.MetricRHR); ok {
		if pct > th.RHRRisePct {
			illness = append(illness, signalHit{store.MetricRHR, pct / th.RHRRisePct})
		} else if pct < -th.RHRRisePct {
			wellness = append(wellness, signalHit{store.MetricRHR, -pct / th.RHRRisePct})
		}
	}

	// Respiratory rate: any sustained change is an illness signal.
	if pct, ok := baselinePct(today.RespiratoryRate, baselines, store.MetricRespiratoryRate); ok {
		if math.Abs(pct) > th.RespChangePct {
			illness = append(illness, signalHit{store.MetricRespiratoryRate, math.Abs(pct) / th.RespChangePct})
		}
	}

	// Sleep quality: today's score vs the mean of the prior window days.
	if pct, ok := sleepTrendPct(window); ok {
		if pct < -th.SleepDropPct {
			illness = append(illness, signalHit{store.MetricSleepStage, -pct / th.SleepDropPct})
		} else if pct > th.SleepDropPct {
			wellness = append(wellness, signalHit{store.MetricSleepStage, pct / th.SleepDropPct})
		}
	}

	// Activity: a drop below the energy baseline is an illness signal.
	if pct, ok := baselinePct(today.ActiveEnergy, baselines, store.MetricActiveEnergy); ok {
		if pct < -th.ActivityDropPct {
			illness = append(illness, signalHit{store.MetricActiveEnergy, -pct / th.ActivityDropPct})
		}
	}

	var events []store.AnomalyEvent
	if e, ok := buildEvent(store.AnomalyIllness, illness, th.MinSignals, asOf); ok {
		events = append(events, e)
	}
	if e, ok := buildEvent(store.AnomalyWellness, wellness, th.MinSignals, asOf); ok {
		events = append(events, e)
	}
	return events
}

// buildEvent grades confidence from the number and magnitude of crossed
// thresholds: 1 signal is Low, 2 Moderate, 3 or more High. A single signal
// beyond twice its threshold escalates one level.
func buildEvent(kind store.AnomalyKind, hits []signalHit, minSignals int, asOf time.Time) (store.AnomalyEvent, bool) {
	if minSignals < 1 {
		minSignals = 1
	}
	if len(hits) < minSignals {
		return store.AnomalyEvent{}, false
	}

	maxRatio := 0.0
	signals := make([]store.Metric, 0, len(hits))
	for _, h := range hits {
		signals = append(signals, h.metric)
		if h.ratio > maxRatio {
			maxRatio = h.ratio
		}
	}

	ladder := []store.Confidence{store.ConfidenceLow, store.ConfidenceModerate, store.ConfidenceHigh}
	n := len(hits)
	if n > len(ladder) {
		n = len(ladder)
	}
	confidence := ladder[n-1]
	if maxRatio > 2 && confidence.Rank() < store.ConfidenceHigh.Rank() {
		confidence = ladder[confidence.Rank()]
	}

	return store.AnomalyEvent{
		Kind:             kind,
		Confidence:       confidence,
		TriggeredSignals: signals,
		FirstDetected:    asOf,
	}, true
}

func baselinePct(value *float64, baselines map[store.Metric]store.Baseline, metric store.Metric) (float64, bool) {
	b, ok := baselines[metric]
	if !ok || value == nil || b.InsufficientData || b.Mean == 0 {
		return 0, false
	}
	return (*value - b.Mean) / b.Mean * 100, true
}

// sleepTrendPct compares the latest sleep score against the mean of the
// prior days in the window.
func sleepTrendPct(window []DaySignals) (float64, bool) {
	today := window[len(window)-1]
	if today.SleepScore == nil {
		return 0, false
	}

	var sum float64
	var count int
	for _, d := range window[:len(window)-1] {
		if d.SleepScore != nil {
			sum += *d.SleepScore
			count++
		}
	}
	if count < minSleepHistory {
		return 0, false
	}
	mean := sum / float64(count)
	if mean == 0 {
		return 0, false
	}
	return (*today.SleepScore - mean) / mean * 100, true
}
