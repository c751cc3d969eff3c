package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"goldwatch/internal/alerting"
	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/service"
)

// SimulateAlert 依次喂入给定价格, 走一遍完整的基线/告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	return a.simulate(ctx, opts, os.Stdout)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions, out io.Writer) error {
	if len(opts.Prices) == 0 {
		return errors.New("至少需要一个价格")
	}

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	threshold := a.Config.Alerting.ThresholdPct
	if opts.ThresholdPct != nil {
		threshold = *opts.ThresholdPct
	}

	src := &scriptedSource{prices: opts.Prices}
	registry, err := service.NewRegistry([]fetcher.Source{src}, src.ID())
	if err != nil {
		return err
	}

	sinks := events.Fanout{NewConsoleSink(out, loc)}
	var alertSink *alerting.Sink
	if opts.Notify {
		notifier := a.newNotifier(loc)
		if notifier == nil {
			return errors.New("未配置任何告警通道")
		}
		alertSink = alerting.NewSink(notifier, a.Config.Alerting.QueueSize, a.Config.Alerting.Telegram.Timeout, a.Logger)
		sinks = append(sinks, alertSink)
	}

	agg := service.New(service.Options{
		ThresholdPct: decimal.NewFromFloat(threshold),
		Location:     loc,
	}, registry, sinks, service.Dependencies{}, a.Logger)

	for range opts.Prices {
		if err := agg.Tick(ctx); err != nil {
			agg.Close()
			return fmt.Errorf("simulate tick: %w", err)
		}
	}

	agg.Close()
	if alertSink != nil {
		alertSink.Close()
	}
	return nil
}

// scriptedSource replays a fixed price list, one per fetch.
type scriptedSource struct {
	mu     sync.Mutex
	prices []decimal.Decimal
	next   int
}

var _ fetcher.Source = (*scriptedSource)(nil)

func (s *scriptedSource) ID() string             { return "simulated" }
func (s *scriptedSource) Name() string           { return "模拟源" }
func (s *scriptedSource) Kind() fetcher.Kind     { return fetcher.KindPolling }
func (s *scriptedSource) Timeout() time.Duration { return time.Second }

func (s *scriptedSource) Fetch(ctx context.Context) (fetcher.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.prices) {
		return fetcher.Point{}, errors.New("script exhausted")
	}
	price := s.prices[s.next]
	s.next++
	return fetcher.Point{
		SourceID:   s.ID(),
		Value:      price,
		Unit:       fetcher.UnitLocalPerGram,
		ObservedAt: time.Now(),
	}, nil
}
