// Package coordinator orders and parallelizes the score calculations and
// exposes a single consistent CalculationState to consumers.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vitals/internal/analysis"
	"vitals/internal/baseline"
	"vitals/internal/cache"
	"vitals/internal/metrics"
	"vitals/internal/provider"
	"vitals/internal/store"
)

// upstreamTimeout bounds every external data fetch; on timeout the
// calculation proceeds with the best available cached data instead of
// blocking.
const upstreamTimeout = 10 * time.Second

// Storage is the slice of the persistent store the coordinator consumes.
type Storage interface {
	GetSamplesForDay(ctx context.Context, metric store.Metric, day time.Time) ([]store.SignalSample, error)
	GetDailyAverages(ctx context.Context, metric store.Metric, from, to time.Time) ([]store.DailyValue, error)
	GetDailySums(ctx context.Context, metric store.Metric, from, to time.Time) ([]store.DailyValue, error)
	SaveBaseline(ctx context.Context, day time.Time, b store.Baseline) error
	GetLatestBaseline(ctx context.Context, metric store.Metric, windowDays int, day time.Time) (*store.Baseline, error)
	SaveScoreResult(ctx context.Context, r *store.ScoreResult) error
	GetScoreHistory(ctx context.Context, kind store.ScoreKind, asOf time.Time, days int) ([]store.ScoreResult, error)
	GetOpenAnomalies(ctx context.Context) ([]store.AnomalyEvent, error)
	UpsertAnomaly(ctx context.Context, e store.AnomalyEvent) error
	ResolveAnomaly(ctx context.Context, id string, at time.Time) error
	DismissAnomaly(ctx context.Context, id string, until time.Time) error
}

// BaselineSource computes current baselines for every metric.
type BaselineSource interface {
	ComputeAll(ctx context.Context, asOf time.Time) (map[store.Metric]store.Baseline, error)
}

// Coordinator owns the calculation graph: Sleep first, then Recovery and
// Strain concurrently, then anomaly detection. It is the only component
// allowed to hand one calculator's output to another.
type Coordinator struct {
	storage    Storage
	baselines  BaselineSource
	loads      provider.LoadProvider // may be nil
	cache      *cache.Tiered
	profile    analysis.AthleteProfile
	thresholds analysis.Thresholds
	logger     *zap.Logger
	clock      func() time.Time

	mu      sync.Mutex
	state   CalculationState
	subs    map[int]chan CalculationState
	nextSub int
}

// New wires a coordinator from its dependencies. The athlete profile is
// sanitized here; substituted values are logged once at construction.
func New(storage Storage, baselines BaselineSource, loads provider.LoadProvider, tiered *cache.Tiered, profile analysis.AthleteProfile, thresholds analysis.Thresholds, logger *zap.Logger) *Coordinator {
	sanitized, warnings := profile.Sanitize()
	for _, w := range warnings {
		logger.Warn("profile value substituted",
			zap.String("field", w.Field),
			zap.Float64("value", w.Value),
			zap.Float64("substituted", w.Substituted))
	}

	return &Coordinator{
		storage:    storage,
		baselines:  baselines,
		loads:      loads,
		cache:      tiered,
		profile:    sanitized,
		thresholds: thresholds,
		logger:     logger,
		clock:      time.Now,
		state:      CalculationState{Phase: PhaseInitial},
		subs:       make(map[int]chan CalculationState),
	}
}

// State returns the current calculation state.
func (c *Coordinator) State() CalculationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LatestScore returns the most recent result for a kind from the current
// state, or nil when none has been computed.
func (c *Coordinator) LatestScore(kind store.ScoreKind) *store.ScoreResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case store.ScoreRecovery:
		return c.state.Recovery
	case store.ScoreSleep:
		return c.state.Sleep
	case store.ScoreStrain:
		return c.state.Strain
	}
	return nil
}

// ActiveAnomalies returns the open, currently undismissed anomaly events.
func (c *Coordinator) ActiveAnomalies() []store.AnomalyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	var active []store.AnomalyEvent
	for _, e := range c.state.Anomalies {
		if !e.Dismissed(now) {
			active = append(active, e)
		}
	}
	return active
}

// Subscribe registers for every CalculationState transition. The returned
// cancel function must be called when the consumer detaches.
func (c *Coordinator) Subscribe() (<-chan CalculationState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan CalculationState, subscriberBuffer)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ch, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// CalculateAll runs the full calculation graph for today. With force set,
// any cached snapshot is bypassed and recomputed. The previous Ready
// snapshot stays visible while a refresh runs.
func (c *Coordinator) CalculateAll(ctx context.Context, force bool) (CalculationState, error) {
	day := c.clock().UTC()
	dayKey := store.DayKey(day)

	c.mu.Lock()
	prevPhase := c.state.Phase
	if prevPhase == PhaseReady || prevPhase == PhaseRefreshing {
		c.setPhaseLocked(PhaseRefreshing)
	} else {
		c.setPhaseLocked(PhaseLoading)
	}
	working := c.state
	c.mu.Unlock()
	c.publish(working)

	start := c.clock()
	payload, stale, err := c.snapshotPayload(ctx, day, dayKey, force)
	metrics.CalculationDuration.Observe(c.clock().Sub(start).Seconds())

	if ctx.Err() != nil {
		// Consumer detached mid-flight: discard partial work and restore
		// the previous phase so no inconsistent state is ever visible.
		c.mu.Lock()
		c.setPhaseLocked(prevPhase)
		reverted := c.state
		c.mu.Unlock()
		c.publish(reverted)
		return reverted, ctx.Err()
	}

	if err != nil {
		c.logger.Error("calculation failed with no cached fallback", zap.Error(err))
		c.mu.Lock()
		c.setPhaseLocked(PhaseError)
		c.state.LastError = err.Error()
		failed := c.state
		c.mu.Unlock()
		c.publish(failed)
		return failed, err
	}

	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return CalculationState{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	if stale {
		metrics.StaleServes.Inc()
	}

	c.mu.Lock()
	c.setPhaseLocked(PhaseReady)
	c.state.Recovery = snap.Recovery
	c.state.Sleep = snap.Sleep
	c.state.Strain = snap.Strain
	c.state.Anomalies = snap.Anomalies
	c.state.Stale = stale
	c.state.LastUpdated = snap.Computed
	c.state.LastError = ""
	ready := c.state
	c.mu.Unlock()
	c.publish(ready)

	c.updateAnomalyGauge(ready.Anomalies)
	return ready, nil
}

// Refresh reruns the calculation graph while keeping the previous Ready
// snapshot visible until the new one completes.
func (c *Coordinator) Refresh(ctx context.Context) (CalculationState, error) {
	return c.CalculateAll(ctx, true)
}

// DismissAnomaly silences an anomaly event until the given time.
func (c *Coordinator) DismissAnomaly(ctx context.Context, id string, until time.Time) error {
	if err := c.storage.DismissAnomaly(ctx, id, until); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.state.Anomalies {
		if c.state.Anomalies[i].ID == id {
			u := until
			c.state.Anomalies[i].DismissedUntil = &u
		}
	}
	updated := c.state
	c.mu.Unlock()
	c.publish(updated)

	c.updateAnomalyGauge(updated.Anomalies)
	return nil
}

// snapshotPayload returns the day's snapshot from cache or computation.
func (c *Coordinator) snapshotPayload(ctx context.Context, day time.Time, dayKey string, force bool) ([]byte, bool, error) {
	if !force {
		return c.cache.GetOrCompute(ctx, cache.KindScores, dayKey, func(ctx context.Context) ([]byte, error) {
			return c.compute(ctx, day)
		})
	}

	payload, err := c.compute(ctx, day)
	if err == nil {
		if setErr := c.cache.Set(ctx, cache.KindScores, dayKey, payload); setErr != nil {
			c.logger.Warn("caching snapshot failed", zap.Error(setErr))
		}
		return payload, false, nil
	}
	if ctx.Err() != nil {
		return nil, false, err
	}

	// Upstream failure: prefer stale-but-present data over no data.
	if cached, ok, _ := c.cache.Get(ctx, cache.KindScores, dayKey); ok {
		c.logger.Warn("serving cached snapshot after compute failure", zap.Error(err))
		return cached, true, nil
	}
	return nil, false, err
}

// compute runs the calculation graph: baselines, Sleep, then Recovery and
// Strain in parallel, then anomaly detection, and persists everything.
func (c *Coordinator) compute(ctx context.Context, day time.Time) ([]byte, error) {
	now := c.clock().UTC()

	baselines, err := c.dayBaselines(ctx, day)
	if err != nil {
		return nil, err
	}

	// Sleep runs first; Recovery depends on its result.
	sleepSamples, err := c.storage.GetSamplesForDay(ctx, store.MetricSleepStage, day)
	if err != nil {
		return nil, fmt.Errorf("reading sleep samples: %w", err)
	}
	summary := analysis.SummarizeSleep(sleepSamples)
	sleepResult := analysis.SleepScore(day, summary, c.profile.SleepNeedHours, now)
	if debt, ok := c.sleepDebt(ctx, day, summary); ok {
		sleepResult.Inputs["sleepDebtMin"] = strconv.FormatFloat(debt, 'f', 1, 64)
	}
	if err := c.storage.SaveScoreResult(ctx, &sleepResult); err != nil {
		return nil, fmt.Errorf("saving sleep result: %w", err)
	}
	metrics.CalculationsTotal.WithLabelValues(string(store.ScoreSleep), outcome(sleepResult)).Inc()

	loadHistory, err := c.loadHistory(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("reading load history: %w", err)
	}

	var recoveryResult, strainResult store.ScoreResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in, err := c.recoveryInputs(gctx, day, baselines, &sleepResult, loadHistory)
		if err != nil {
			return fmt.Errorf("gathering recovery inputs: %w", err)
		}
		recoveryResult, err = analysis.RecoveryScore(day, in, now)
		if err != nil {
			return fmt.Errorf("computing recovery: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		external := c.externalLoad(gctx, day)
		strainResult = analysis.StrainScore(day, loadHistory, external, now)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := c.storage.SaveScoreResult(ctx, &recoveryResult); err != nil {
		return nil, fmt.Errorf("saving recovery result: %w", err)
	}
	if err := c.storage.SaveScoreResult(ctx, &strainResult); err != nil {
		return nil, fmt.Errorf("saving strain result: %w", err)
	}
	metrics.CalculationsTotal.WithLabelValues(string(store.ScoreRecovery), outcome(recoveryResult)).Inc()
	metrics.CalculationsTotal.WithLabelValues(string(store.ScoreStrain), outcome(strainResult)).Inc()

	// Anomaly detection waits on Sleep and Recovery: its window includes
	// today's sleep quality.
	window, err := c.windowSignals(ctx, day, &sleepResult)
	if err != nil {
		return nil, fmt.Errorf("gathering anomaly window: %w", err)
	}
	detected := analysis.DetectAnomalies(window, baselines, c.thresholds, now)

	anomalies, err := c.reconcileAnomalies(ctx, detected, now)
	if err != nil {
		return nil, fmt.Errorf("reconciling anomalies: %w", err)
	}

	snap := snapshot{
		Recovery:  &recoveryResult,
		Sleep:     &sleepResult,
		Strain:    &strainResult,
		Anomalies: anomalies,
		Computed:  now,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return payload, nil
}

// dayBaselines computes the day's baselines, cached under their own kind
// so several calculations within a day share one computation. When
// recomputation fails, the last persisted baselines stand in.
func (c *Coordinator) dayBaselines(ctx context.Context, day time.Time) (map[store.Metric]store.Baseline, error) {
	payload, _, err := c.cache.GetOrCompute(ctx, cache.KindBaselines, store.DayKey(day), func(ctx context.Context) ([]byte, error) {
		computeCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
		defer cancel()

		baselines, err := c.baselines.ComputeAll(computeCtx, day)
		if err != nil {
			stored := c.storedBaselines(ctx, day)
			if len(stored) == 0 {
				return nil, fmt.Errorf("computing baselines: %w", err)
			}
			c.logger.Warn("baseline recomputation failed, using last stored baselines", zap.Error(err))
			return json.Marshal(stored)
		}
		for _, b := range baselines {
			if err := c.storage.SaveBaseline(ctx, day, b); err != nil {
				c.logger.Warn("persisting baseline failed",
					zap.String("metric", string(b.Metric)), zap.Error(err))
			}
		}
		return json.Marshal(baselines)
	})
	if err != nil {
		return nil, err
	}

	var baselines map[store.Metric]store.Baseline
	if err := json.Unmarshal(payload, &baselines); err != nil {
		return nil, fmt.Errorf("decoding baselines: %w", err)
	}
	return baselines, nil
}

// storedBaselines loads the most recently persisted baseline per metric,
// long window first, skipping insufficient ones.
func (c *Coordinator) storedBaselines(ctx context.Context, day time.Time) map[store.Metric]store.Baseline {
	out := make(map[store.Metric]store.Baseline)
	for _, metric := range store.Metrics {
		for _, window := range []int{baseline.LongWindowDays, baseline.ShortWindowDays} {
			b, err := c.storage.GetLatestBaseline(ctx, metric, window, day)
			if err != nil || b.InsufficientData {
				continue
			}
			out[metric] = *b
			break
		}
	}
	return out
}

// sleepDebt sums the trailing week's shortfall against the configured
// sleep need, tonight included.
func (c *Coordinator) sleepDebt(ctx context.Context, day time.Time, tonight analysis.SleepSummary) (float64, bool) {
	history, err := c.storage.GetScoreHistory(ctx, store.ScoreSleep, day.AddDate(0, 0, -1), 6)
	if err != nil {
		c.logger.Warn("reading sleep history for debt failed", zap.Error(err))
		return 0, false
	}

	nights := []float64{tonight.TimeAsleepMin}
	for _, r := range history {
		asleep, err := strconv.ParseFloat(r.Inputs["timeAsleepMin"], 64)
		if err != nil {
			continue
		}
		nights = append(nights, asleep)
	}
	return analysis.SleepDebt(nights, c.profile.SleepNeedHours), true
}

// recoveryInputs gathers today's signal values, baselines, the Sleep
// result, and yesterday's training stress balance.
func (c *Coordinator) recoveryInputs(ctx context.Context, day time.Time, baselines map[store.Metric]store.Baseline, sleep *store.ScoreResult, loadHistory []analysis.DailyLoad) (analysis.RecoveryInputs, error) {
	in := analysis.RecoveryInputs{Sleep: sleep}

	var err error
	if in.HRV, err = c.dayValue(ctx, store.MetricHRV, day); err != nil {
		return in, err
	}
	if in.RHR, err = c.dayValue(ctx, store.MetricRHR, day); err != nil {
		return in, err
	}
	if in.RespiratoryRate, err = c.dayValue(ctx, store.MetricRespiratoryRate, day); err != nil {
		return in, err
	}

	in.HRVBaseline = baselinePtr(baselines, store.MetricHRV)
	in.RHRBaseline = baselinePtr(baselines, store.MetricRHR)
	in.RespBaseline = baselinePtr(baselines, store.MetricRespiratoryRate)

	// Form uses the trend up to yesterday: today's session should not
	// dampen today's recovery.
	yesterday := store.DayKey(day.AddDate(0, 0, -1))
	var untilYesterday []analysis.DailyLoad
	for _, dl := range loadHistory {
		if dl.Day <= yesterday {
			untilYesterday = append(untilYesterday, dl)
		}
	}
	if len(untilYesterday) > 0 {
		tsb := analysis.CurrentFitness(untilYesterday).TSB
		in.TSB = &tsb
	}

	return in, nil
}

// loadHistory reads the trailing training stress history (twice the CTL
// window) as daily loads.
func (c *Coordinator) loadHistory(ctx context.Context, day time.Time) ([]analysis.DailyLoad, error) {
	from := day.AddDate(0, 0, -2*analysis.CTLDays)
	sums, err := c.storage.GetDailySums(ctx, store.MetricTrainingStress, from, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	loads := make([]analysis.DailyLoad, 0, len(sums))
	for _, s := range sums {
		loads = append(loads, analysis.DailyLoad{Day: s.Day, Load: s.Value})
	}
	return loads, nil
}

// externalLoad asks the activity provider for today's pre-aggregated
// training stress. Provider failures degrade to the internal estimate.
func (c *Coordinator) externalLoad(ctx context.Context, day time.Time) *float64 {
	if c.loads == nil {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	load, err := c.loads.FetchDailyLoad(fetchCtx, day)
	if err != nil {
		c.logger.Warn("training load provider unavailable, using internal estimate", zap.Error(err))
		return nil
	}
	return load
}

// windowSignals assembles the detector's rolling window of per-day
// aggregates, with today's sleep result appended to the stored history.
func (c *Coordinator) windowSignals(ctx context.Context, day time.Time, sleepToday *store.ScoreResult) ([]analysis.DaySignals, error) {
	days := c.thresholds.WindowDays
	if days <= 0 {
		days = 7
	}
	from := day.AddDate(0, 0, -(days - 1))
	to := day.AddDate(0, 0, 1)

	averages := make(map[store.Metric]map[string]float64)
	for _, metric := range []store.Metric{store.MetricHRV, store.MetricRHR, store.MetricRespiratoryRate} {
		values, err := c.storage.GetDailyAverages(ctx, metric, from, to)
		if err != nil {
			return nil, err
		}
		averages[metric] = dailyValueMap(values)
	}
	energy, err := c.storage.GetDailySums(ctx, store.MetricActiveEnergy, from, to)
	if err != nil {
		return nil, err
	}
	energyByDay := dailyValueMap(energy)

	sleepHistory, err := c.storage.GetScoreHistory(ctx, store.ScoreSleep, day, days)
	if err != nil {
		return nil, err
	}
	sleepByDay := make(map[string]float64, len(sleepHistory))
	for _, r := range sleepHistory {
		if !r.Insufficient {
			sleepByDay[r.Day] = float64(r.Value)
		}
	}
	if sleepToday != nil && !sleepToday.Insufficient {
		sleepByDay[sleepToday.Day] = float64(sleepToday.Value)
	}

	window := make([]analysis.DaySignals, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := store.DayKey(day.AddDate(0, 0, -i))
		d := analysis.DaySignals{Day: key}
		d.HRV = mapValue(averages[store.MetricHRV], key)
		d.RHR = mapValue(averages[store.MetricRHR], key)
		d.RespiratoryRate = mapValue(averages[store.MetricRespiratoryRate], key)
		d.ActiveEnergy = mapValue(energyByDay, key)
		d.SleepScore = mapValue(sleepByDay, key)
		window = append(window, d)
	}
	return window, nil
}

// reconcileAnomalies merges freshly detected events with already-open
// ones: an unresolved condition keeps its event identity; conditions that
// cleared are resolved; new conditions get new events.
func (c *Coordinator) reconcileAnomalies(ctx context.Context, detected []store.AnomalyEvent, now time.Time) ([]store.AnomalyEvent, error) {
	open, err := c.storage.GetOpenAnomalies(ctx)
	if err != nil {
		return nil, err
	}
	openByKind := make(map[store.AnomalyKind]store.AnomalyEvent, len(open))
	for _, e := range open {
		openByKind[e.Kind] = e
	}

	var result []store.AnomalyEvent
	detectedKinds := make(map[store.AnomalyKind]bool, len(detected))
	for _, e := range detected {
		detectedKinds[e.Kind] = true

		if existing, ok := openByKind[e.Kind]; ok {
			existing.Confidence = e.Confidence
			existing.TriggeredSignals = e.TriggeredSignals
			e = existing
		} else {
			e.ID = uuid.NewString()
			e.FirstDetected = now
			metrics.AnomaliesDetected.WithLabelValues(string(e.Kind)).Inc()
			c.logger.Info("anomaly detected",
				zap.String("kind", string(e.Kind)),
				zap.String("confidence", string(e.Confidence)))
		}
		if err := c.storage.UpsertAnomaly(ctx, e); err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	for kind, e := range openByKind {
		if !detectedKinds[kind] {
			if err := c.storage.ResolveAnomaly(ctx, e.ID, now); err != nil {
				return nil, err
			}
			c.logger.Info("anomaly resolved", zap.String("kind", string(kind)))
		}
	}
	return result, nil
}

func (c *Coordinator) dayValue(ctx context.Context, metric store.Metric, day time.Time) (*float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	values, err := c.storage.GetDailyAverages(ctx, metric, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	v := values[0].Value
	return &v, nil
}

// setPhaseLocked transitions the phase; callers hold c.mu.
func (c *Coordinator) setPhaseLocked(phase Phase) {
	if c.state.Phase != phase {
		metrics.StateTransitions.WithLabelValues(string(phase)).Inc()
	}
	c.state.Phase = phase
}

// publish fans the state out to all subscribers without blocking.
func (c *Coordinator) publish(state CalculationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func (c *Coordinator) updateAnomalyGauge(anomalies []store.AnomalyEvent) {
	now := c.clock()
	active := 0
	for _, e := range anomalies {
		if !e.Dismissed(now) {
			active++
		}
	}
	metrics.ActiveAnomalies.Set(float64(active))
}

func outcome(r store.ScoreResult) string {
	if r.Insufficient {
		return "insufficient_data"
	}
	return "ok"
}

func baselinePtr(baselines map[store.Metric]store.Baseline, metric store.Metric) *store.Baseline {
	if b, ok := baselines[metric]; ok {
		return &b
	}
	return nil
}

func dailyValueMap(values []store.DailyValue) map[string]float64 {
	m := make(map[string]float64, len(values))
	for _, v := range values {
		m[v.Day] = v.Value
	}
	return m
}

func mapValue(m map[string]float64, key string) *float64 {
	if v, ok := m[key]; ok {
		val := v
		return &val
	}
	return nil
}
