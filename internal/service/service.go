package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/storage"
)

// ErrClosed is returned by operations on an aggregator after Close.
var ErrClosed = errors.New("service: aggregator closed")

// Metrics is the instrumentation surface the aggregator reports to.
type Metrics interface {
	ObserveFetch(sourceID, outcome string, elapsed time.Duration)
	ObservePrice(sourceID string, price float64)
	ObserveAlert(sourceID, direction string)
	ObserveTick(elapsed time.Duration)
}

// Mirror publishes the latest cached points for other processes.
type Mirror interface {
	Publish(ctx context.Context, points []fetcher.Point) error
}

// Options tune alerting and housekeeping.
type Options struct {
	ThresholdPct decimal.Decimal
	// Location decides where a calendar day starts for baseline resets.
	Location       *time.Location
	JournalTimeout time.Duration
}

// Dependencies are the optional collaborators of the aggregator.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Samples   storage.SampleStore
	Alerts    storage.AlertStore
	Mirror    Mirror
	Metrics   Metrics
}

// Result is one source's outcome within a tick.
type Result struct {
	SourceID string
	Point    fetcher.Point
	Err      error
	Elapsed  time.Duration
}

// Aggregator runs refresh ticks over every registered source, keeps the
// read-through cache and per-source alert state, and emits events to the sink.
type Aggregator struct {
	registry *Registry
	sink     events.Sink
	deps     Dependencies
	opts     Options
	logger   zerolog.Logger

	now       func() time.Time
	newTickID func() string

	mu     sync.Mutex
	cache  map[string]fetcher.Point
	states map[string]*AlertState

	// selection is held from reading the selected source until its events are emitted,
	// so a switch never interleaves with a tick's display of the previous source.
	selection sync.Mutex

	life   sync.RWMutex
	closed bool
}

// New constructs the aggregator.
func New(opts Options, registry *Registry, sink events.Sink, deps Dependencies, logger zerolog.Logger) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.JournalTimeout <= 0 {
		opts.JournalTimeout = 3 * time.Second
	}

	return &Aggregator{
		registry:  registry,
		sink:      sink,
		deps:      deps,
		opts:      opts,
		logger:    logger.With().Str("component", "aggregator").Logger(),
		now:       time.Now,
		newTickID: uuid.NewString,
		cache:     make(map[string]fetcher.Point),
		states:    make(map[string]*AlertState),
	}
}

// Registry exposes the source registry.
func (a *Aggregator) Registry() *Registry { return a.registry }

// Start launches background work of sources that have any (the streaming feed).
func (a *Aggregator) Start(ctx context.Context) {
	for _, src := range a.registry.Sources() {
		if s, ok := src.(interface{ Start(context.Context) }); ok {
			s.Start(ctx)
		}
	}
}

// Run begins the refresh loop and blocks until ctx ends.
func (a *Aggregator) Run(ctx context.Context) error {
	if a.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	a.Start(ctx)
	return a.deps.Scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return a.Tick(ctx)
	})
}

// Close stops event emission and joins the streaming sources. Safe to call twice.
func (a *Aggregator) Close() {
	a.life.Lock()
	if a.closed {
		a.life.Unlock()
		return
	}
	a.closed = true
	a.life.Unlock()

	for _, src := range a.registry.Sources() {
		if s, ok := src.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
	a.logger.Info().Msg("aggregator closed")
}

func (a *Aggregator) isClosed() bool {
	a.life.RLock()
	defer a.life.RUnlock()
	return a.closed
}

// Tick fetches every source once and updates cache, baselines and alerts.
func (a *Aggregator) Tick(ctx context.Context) error {
	if a.isClosed() {
		return ErrClosed
	}

	started := time.Now()
	tickID := a.newTickID()
	logger := a.logger.With().Str("tick_id", tickID).Logger()

	results := a.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	now := a.now()
	a.selection.Lock()
	evs, alerts := a.apply(tickID, now, results, logger)
	a.emit(ctx, evs...)
	a.selection.Unlock()
	a.persist(ctx, tickID, now, results, alerts, logger)

	if a.deps.Metrics != nil {
		a.deps.Metrics.ObserveTick(time.Since(started))
	}
	logger.Debug().Int("sources", len(results)).Dur("elapsed", time.Since(started)).Msg("tick complete")
	return nil
}

// fetchAll runs every source concurrently; a failure never cancels its siblings.
func (a *Aggregator) fetchAll(ctx context.Context) []Result {
	sources := a.registry.Sources()
	results := make([]Result, len(sources))

	var g errgroup.Group
	g.SetLimit(len(sources))
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, src.Timeout())
			defer cancel()

			begin := time.Now()
			point, err := src.Fetch(fetchCtx)
			results[i] = Result{SourceID: src.ID(), Point: point, Err: err, Elapsed: time.Since(begin)}
			return nil
		})
	}
	_ = g.Wait()

	if a.deps.Metrics != nil {
		for _, r := range results {
			a.deps.Metrics.ObserveFetch(r.SourceID, outcome(r.Err), r.Elapsed)
			if r.Err == nil {
				a.deps.Metrics.ObservePrice(r.SourceID, r.Point.Value.InexactFloat64())
			}
		}
	}
	return results
}

func (a *Aggregator) apply(tickID string, now time.Time, results []Result, logger zerolog.Logger) ([]events.Event, []events.AlertRaised) {
	a.mu.Lock()
	defer a.mu.Unlock()

	selected := a.registry.Selected()
	local := now.In(a.opts.Location)

	var selectedResult *Result
	for i := range results {
		r := &results[i]
		if r.SourceID == selected.ID() {
			selectedResult = r
		}
		if r.Err != nil {
			logger.Warn().Err(r.Err).Str("source", r.SourceID).Msg("source fetch failed")
			continue
		}

		a.cache[r.SourceID] = r.Point
		st := a.stateFor(r.SourceID)
		if st.Observe(r.Point.Value, local) {
			logger.Info().Str("source", r.SourceID).
				Str("baseline", r.Point.Value.String()).
				Str("date", st.BaselineDate).
				Msg("baseline set")
		}
	}
	if selectedResult == nil {
		return nil, nil
	}

	var (
		evs    []events.Event
		alerts []events.AlertRaised
	)
	id := selected.ID()

	switch cached, hasCache := a.cache[id]; {
	case selectedResult.Err == nil:
		st := a.states[id]
		point := selectedResult.Point
		ev := st.Evaluate(point.Value, a.opts.ThresholdPct)
		if ev.Alert {
			alert := events.AlertRaised{
				TickID:        tickID,
				SourceID:      id,
				SourceName:    selected.Name(),
				Price:         point.Value,
				Reference:     ev.Reference,
				ChangePercent: ev.AlertPercent,
				ThresholdPct:  a.opts.ThresholdPct,
				At:            now,
			}
			logger.Info().Str("source", id).
				Str("price", point.Value.String()).
				Str("reference", ev.Reference.String()).
				Str("change_pct", ev.AlertPercent.StringFixed(2)).
				Msg("alert raised")
			if a.deps.Metrics != nil {
				a.deps.Metrics.ObserveAlert(id, alert.Direction())
			}
			evs = append(evs, alert)
			alerts = append(alerts, alert)
		}
		evs = append(evs, display(tickID, selected, point, st, ev, false, false))
	case hasCache:
		st := a.stateFor(id)
		evs = append(evs, display(tickID, selected, cached, st, st.Describe(cached.Value), true, true))
	default:
		evs = append(evs, events.SourceUnavailable{
			TickID:     tickID,
			SourceID:   id,
			SourceName: selected.Name(),
			Reason:     selectedResult.Err.Error(),
			At:         now,
		})
	}

	return evs, alerts
}

func (a *Aggregator) stateFor(id string) *AlertState {
	st, ok := a.states[id]
	if !ok {
		st = &AlertState{}
		a.states[id] = st
	}
	return st
}

func display(tickID string, src fetcher.Source, p fetcher.Point, st *AlertState, ev Evaluation, fromCache, degraded bool) events.DisplayUpdate {
	return events.DisplayUpdate{
		TickID:           tickID,
		SourceID:         src.ID(),
		SourceName:       src.Name(),
		Price:            p.Value,
		Baseline:         st.Baseline.Decimal,
		ChangeVsBaseline: ev.ChangeVsBaseline,
		ChangePercent:    ev.ChangePercent,
		LastAlert:        st.LastAlert,
		ColorClass:       events.ColorFor(ev.ChangeVsBaseline),
		ObservedAt:       p.ObservedAt,
		FromCache:        fromCache,
		Degraded:         degraded,
		Ask:              p.Ask,
		Rate:             p.Rate,
	}
}

// SwitchNext cycles the selection and immediately emits from the cache.
func (a *Aggregator) SwitchNext(ctx context.Context) {
	if a.isClosed() {
		return
	}
	a.selection.Lock()
	defer a.selection.Unlock()
	src := a.registry.Next()
	a.logger.Info().Str("source", src.ID()).Msg("selection switched")
	a.emit(ctx, a.cachedEvent(src))
}

// Select points the selection at id and immediately emits from the cache.
func (a *Aggregator) Select(ctx context.Context, id string) error {
	if a.isClosed() {
		return ErrClosed
	}
	a.selection.Lock()
	defer a.selection.Unlock()
	src, err := a.registry.Select(id)
	if err != nil {
		return err
	}
	a.logger.Info().Str("source", src.ID()).Msg("selection changed")
	a.emit(ctx, a.cachedEvent(src))
	return nil
}

func (a *Aggregator) cachedEvent(src fetcher.Source) events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.cache[src.ID()]
	if !ok {
		return events.SourceUnavailable{
			SourceID:   src.ID(),
			SourceName: src.Name(),
			Reason:     "no data yet",
			At:         a.now(),
		}
	}
	st := a.stateFor(src.ID())
	return display("", src, p, st, st.Describe(p.Value), true, false)
}

// Latest returns the cached point of every source that has one, in registration order.
func (a *Aggregator) Latest() []fetcher.Point {
	sources := a.registry.Sources()

	a.mu.Lock()
	defer a.mu.Unlock()

	points := make([]fetcher.Point, 0, len(a.cache))
	for _, src := range sources {
		if p, ok := a.cache[src.ID()]; ok {
			points = append(points, p)
		}
	}
	return points
}

// State returns a copy of a source's alert state.
func (a *Aggregator) State(id string) (AlertState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[id]
	if !ok {
		return AlertState{}, false
	}
	return *st, true
}

func (a *Aggregator) emit(ctx context.Context, evs ...events.Event) {
	if a.sink == nil || len(evs) == 0 {
		return
	}
	a.life.RLock()
	defer a.life.RUnlock()
	if a.closed {
		return
	}
	for _, ev := range evs {
		a.sink.Handle(ctx, ev)
	}
}

// persist journals the tick and mirrors the cache. Failures are logged only.
func (a *Aggregator) persist(ctx context.Context, tickID string, now time.Time, results []Result, alerts []events.AlertRaised, logger zerolog.Logger) {
	if a.deps.Samples == nil && a.deps.Alerts == nil && a.deps.Mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.JournalTimeout)
	defer cancel()

	if a.deps.Samples != nil {
		if err := a.deps.Samples.InsertSamples(ctx, samplesFor(tickID, now, results)); err != nil {
			logger.Error().Err(err).Msg("failed to journal samples")
		}
	}

	if a.deps.Alerts != nil {
		for _, alert := range alerts {
			record := storage.AlertRecord{
				TickID:       tickID,
				SourceID:     alert.SourceID,
				Price:        alert.Price,
				Reference:    alert.Reference,
				ChangePct:    alert.ChangePercent,
				ThresholdPct: alert.ThresholdPct,
				Direction:    alert.Direction(),
				RaisedAt:     alert.At,
			}
			if _, err := a.deps.Alerts.InsertAlert(ctx, record); err != nil {
				logger.Error().Err(err).Str("source", alert.SourceID).Msg("failed to persist alert record")
			}
		}
	}

	if a.deps.Mirror != nil {
		if err := a.deps.Mirror.Publish(ctx, a.Latest()); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror latest prices")
		}
	}
}

func samplesFor(tickID string, now time.Time, results []Result) []storage.PriceSample {
	samples := make([]storage.PriceSample, 0, len(results))
	for _, r := range results {
		sample := storage.PriceSample{
			TickID:     tickID,
			SourceID:   r.SourceID,
			ObservedAt: now,
			Status:     storage.SampleStatusOK,
		}
		if r.Err != nil {
			msg := r.Err.Error()
			sample.Status = storage.SampleStatusFailed
			sample.Error = &msg
		} else {
			sample.ObservedAt = r.Point.ObservedAt
			sample.Price = decimal.NewNullDecimal(r.Point.Value)
			sample.Ask = r.Point.Ask
			sample.Rate = r.Point.Rate
		}
		samples = append(samples, sample)
	}
	return samples
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
