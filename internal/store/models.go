package store

import "time"

// Metric identifies a physiological or training signal kind.
type Metric string

const (
	MetricHRV             Metric = "hrv"              // ms
	MetricRHR             Metric = "rhr"              // bpm
	MetricRespiratoryRate Metric = "respiratory_rate" // breaths/min
	MetricSleepStage      Metric = "sleep_stage"      // minutes per stage segment
	MetricActiveEnergy    Metric = "active_energy"    // kcal
	MetricTrainingStress  Metric = "training_stress"  // dimensionless load units
)

// Metrics lists every recognized metric kind.
var Metrics = []Metric{
	MetricHRV,
	MetricRHR,
	MetricRespiratoryRate,
	MetricSleepStage,
	MetricActiveEnergy,
	MetricTrainingStress,
}

// Sleep stage labels carried in SignalSample.Unit for sleep_stage samples.
// The sample's Value is the segment duration in minutes.
const (
	StageAwake = "awake"
	StageLight = "light"
	StageDeep  = "deep"
	StageREM   = "rem"
	StageInBed = "inbed"
)

// SignalSample is a single recorded observation for one metric.
// Samples are append-only: a later sample for the same instant supersedes
// an earlier one, nothing is mutated in place.
type SignalSample struct {
	ID        int64     `db:"id"`
	Metric    Metric    `db:"metric"`
	Value     float64   `db:"value"`
	Unit      string    `db:"unit"`
	Timestamp time.Time `db:"timestamp"`
	Source    string    `db:"source"`
}

// Baseline is a rolling personal reference for one metric over a trailing
// window. InsufficientData marks a baseline computed from fewer samples than
// the minimum; callers must treat it as a first-class state, not an error.
type Baseline struct {
	Metric           Metric    `db:"metric"`
	WindowDays       int       `db:"window_days"`
	Mean             float64   `db:"mean"`
	StdDev           float64   `db:"std_dev"`
	SampleCount      int       `db:"sample_count"`
	InsufficientData bool      `db:"insufficient_data"`
	ComputedAt       time.Time `db:"computed_at"`
}

// ScoreKind identifies one of the three derived scores.
type ScoreKind string

const (
	ScoreRecovery ScoreKind = "recovery"
	ScoreSleep    ScoreKind = "sleep"
	ScoreStrain   ScoreKind = "strain"
)

// Band is the discrete classification derived from a score value.
type Band string

const (
	BandGreen  Band = "green"
	BandYellow Band = "yellow"
	BandRed    Band = "red"

	// Strain uses its own cut points.
	BandLight        Band = "light"
	BandModerate     Band = "moderate"
	BandHigh         Band = "high"
	BandOverreaching Band = "overreaching"

	BandUnknown Band = "unknown"
)

// ScoreResult is one computed score for one day. Results are immutable;
// recomputation inserts a new row that supersedes the old one.
// A Recovery result's Inputs always names the Sleep result it consumed.
type ScoreResult struct {
	ID           int64              `db:"id"`
	Kind         ScoreKind          `db:"kind"`
	Day          string             `db:"day"` // YYYY-MM-DD
	Value        int                `db:"value"`
	Band         Band               `db:"band"`
	SubScores    map[string]float64 `db:"sub_scores"`
	Inputs       map[string]string  `db:"inputs"`
	Insufficient bool               `db:"insufficient"`
	ComputedAt   time.Time          `db:"computed_at"`
}

// AnomalyKind classifies the direction of a detected deviation cluster.
type AnomalyKind string

const (
	AnomalyIllness  AnomalyKind = "illness"
	AnomalyWellness AnomalyKind = "wellness"
)

// Confidence grades how strongly the signals support an anomaly.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceHigh     Confidence = "high"
)

// confidenceRank orders confidence levels for escalation checks.
var confidenceRank = map[Confidence]int{
	ConfidenceLow:      1,
	ConfidenceModerate: 2,
	ConfidenceHigh:     3,
}

// Rank returns the ordinal of c (low=1 .. high=3).
func (c Confidence) Rank() int { return confidenceRank[c] }

// AnomalyEvent is a detected multi-signal deviation. It is re-derived
// idempotently each detector run; an unresolved condition keeps its event
// (same ID, same FirstDetected) rather than duplicating alerts.
// The only mutation after creation is an explicit dismiss.
type AnomalyEvent struct {
	ID               string      `db:"id"`
	Kind             AnomalyKind `db:"kind"`
	Confidence       Confidence  `db:"confidence"`
	TriggeredSignals []Metric    `db:"triggered_signals"`
	FirstDetected    time.Time   `db:"first_detected"`
	DismissedUntil   *time.Time  `db:"dismissed_until"`
}

// Dismissed reports whether the event is currently dismissed.
func (e AnomalyEvent) Dismissed(now time.Time) bool {
	return e.DismissedUntil != nil && now.Before(*e.DismissedUntil)
}

// Snapshot is a durably cached payload with its expiry, keyed by the cache
// layer's (kind, date) key scheme.
type Snapshot struct {
	Key       string    `db:"key"`
	Payload   []byte    `db:"payload"`
	StoredAt  time.Time `db:"stored_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// DayKey formats t as the canonical day key used throughout the store.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
