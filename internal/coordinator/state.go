package coordinator

import (
	"time"

	"vitals/internal/store"
)

// Phase is the coordinator's lifecycle state. Transitions:
// Initial -> Loading -> Ready <-> Refreshing, with Error reachable from any
// phase on unrecoverable failure.
type Phase string

const (
	PhaseInitial    Phase = "initial"
	PhaseLoading    Phase = "loading"
	PhaseReady      Phase = "ready"
	PhaseRefreshing Phase = "refreshing"
	PhaseError      Phase = "error"
)

// CalculationState is the single aggregate the coordinator exposes.
// It is owned exclusively by the coordinator; consumers receive copies.
// Partial per-score progress shows up as the optional score fields, never
// as separate ad-hoc flags.
type CalculationState struct {
	Phase     Phase                `json:"phase"`
	Recovery  *store.ScoreResult   `json:"recovery,omitempty"`
	Sleep     *store.ScoreResult   `json:"sleep,omitempty"`
	Strain    *store.ScoreResult   `json:"strain,omitempty"`
	Anomalies []store.AnomalyEvent `json:"anomalies"`

	// Stale marks a state served from an expired snapshot after an
	// upstream failure; LastUpdated always says how old it is.
	Stale       bool      `json:"stale"`
	LastUpdated time.Time `json:"last_updated"`
	LastError   string    `json:"last_error,omitempty"`
}

// snapshot is the cached wire form of one completed calculation.
type snapshot struct {
	Recovery  *store.ScoreResult   `json:"recovery"`
	Sleep     *store.ScoreResult   `json:"sleep"`
	Strain    *store.ScoreResult   `json:"strain"`
	Anomalies []store.AnomalyEvent `json:"anomalies"`
	Computed  time.Time            `json:"computed"`
}

// subscriber channels are buffered; a slow consumer drops transitions
// rather than blocking the coordinator.
const subscriberBuffer = 16
