// Package events defines what the aggregator emits to the presentation layer.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ColorClass is the display hint derived from the sign of the change vs baseline.
type ColorClass string

const (
	ColorUp      ColorClass = "up"
	ColorDown    ColorClass = "down"
	ColorNeutral ColorClass = "neutral"
)

// ColorFor maps a signed change to its display class.
func ColorFor(change decimal.Decimal) ColorClass {
	switch change.Sign() {
	case 1:
		return ColorUp
	case -1:
		return ColorDown
	default:
		return ColorNeutral
	}
}

// Event is one of DisplayUpdate, AlertRaised or SourceUnavailable.
type Event interface {
	EventSource() string
}

// DisplayUpdate carries everything needed to render the selected source.
type DisplayUpdate struct {
	TickID           string
	SourceID         string
	SourceName       string
	Price            decimal.Decimal
	Baseline         decimal.Decimal
	ChangeVsBaseline decimal.Decimal
	ChangePercent    decimal.Decimal
	LastAlert        decimal.NullDecimal
	ColorClass       ColorClass
	ObservedAt       time.Time
	FromCache        bool
	Degraded         bool
	Ask              decimal.NullDecimal
	Rate             decimal.NullDecimal
}

// AlertRaised is emitted when the selected source moves past the threshold.
type AlertRaised struct {
	TickID        string
	SourceID      string
	SourceName    string
	Price         decimal.Decimal
	Reference     decimal.Decimal
	ChangePercent decimal.Decimal
	ThresholdPct  decimal.Decimal
	At            time.Time
}

// Direction reports "up" or "down".
func (a AlertRaised) Direction() string {
	if a.ChangePercent.IsNegative() {
		return "down"
	}
	return "up"
}

// SourceUnavailable is emitted when the selected source failed and nothing is cached.
type SourceUnavailable struct {
	TickID     string
	SourceID   string
	SourceName string
	Reason     string
	At         time.Time
}

func (e DisplayUpdate) EventSource() string     { return e.SourceID }
func (e AlertRaised) EventSource() string       { return e.SourceID }
func (e SourceUnavailable) EventSource() string { return e.SourceID }

// Sink consumes events. Implementations must not block the caller for long.
type Sink interface {
	Handle(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Fanout delivers every event to each sink in order.
type Fanout []Sink

// Handle implements Sink.
func (f Fanout) Handle(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Handle(ctx, ev)
		}
	}
}

var (
	_ Sink = Fanout(nil)
	_ Sink = SinkFunc(nil)
)
