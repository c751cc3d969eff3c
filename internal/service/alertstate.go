package service

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// AlertState is the per-source baseline and last alert price.
type AlertState struct {
	Baseline     decimal.NullDecimal
	BaselineDate string
	LastAlert    decimal.NullDecimal
}

// Evaluation is the outcome of comparing a fresh price against an AlertState.
type Evaluation struct {
	ChangeVsBaseline decimal.Decimal
	// ChangePercent is relative to the baseline; display only.
	ChangePercent decimal.Decimal
	Reference     decimal.Decimal
	// AlertPercent is relative to Reference and drives the threshold check.
	AlertPercent decimal.Decimal
	Alert        bool
}

// Observe re-baselines on the first price and on the first price of a later day.
// It reports whether a reset happened. Only a forward date change resets: if the
// clock moves back to an earlier day the existing baseline is kept.
func (s *AlertState) Observe(price decimal.Decimal, now time.Time) bool {
	day := now.Format(dateLayout)
	if s.Baseline.Valid && day <= s.BaselineDate {
		return false
	}
	s.Baseline = decimal.NewNullDecimal(price)
	s.BaselineDate = day
	s.LastAlert = decimal.NullDecimal{}
	return true
}

// Evaluate compares price with the reference (last alert, else baseline) and records
// price as the new last alert when the threshold is met. thresholdPct <= 0 disables alerts.
func (s *AlertState) Evaluate(price, thresholdPct decimal.Decimal) Evaluation {
	ev := s.Describe(price)
	if !s.Baseline.Valid {
		return ev
	}

	ev.Reference = s.Baseline.Decimal
	if s.LastAlert.Valid {
		ev.Reference = s.LastAlert.Decimal
	}
	if ev.Reference.IsZero() {
		return ev
	}

	ev.AlertPercent = price.Sub(ev.Reference).Div(ev.Reference).Mul(hundred)
	if thresholdPct.IsPositive() && ev.AlertPercent.Abs().GreaterThanOrEqual(thresholdPct) {
		ev.Alert = true
		s.LastAlert = decimal.NewNullDecimal(price)
	}
	return ev
}

// Describe computes the baseline-relative figures without touching alert state.
func (s AlertState) Describe(price decimal.Decimal) Evaluation {
	var ev Evaluation
	if !s.Baseline.Valid {
		return ev
	}
	baseline := s.Baseline.Decimal
	ev.ChangeVsBaseline = price.Sub(baseline)
	if !baseline.IsZero() {
		ev.ChangePercent = ev.ChangeVsBaseline.Div(baseline).Mul(hundred)
	}
	return ev
}
