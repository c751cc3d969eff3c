package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one source's outcome within a tick.
type PriceSample struct {
	TickID     string
	SourceID   string
	ObservedAt time.Time
	Price      decimal.NullDecimal
	Ask        decimal.NullDecimal
	Rate       decimal.NullDecimal
	Status     string
	Error      *string
	CreatedAt  time.Time
}

const (
	SampleStatusOK     = "ok"
	SampleStatusFailed = "failed"
)

// AlertRecord captures a raised alert for auditing.
type AlertRecord struct {
	ID           int64
	TickID       string
	SourceID     string
	Price        decimal.Decimal
	Reference    decimal.Decimal
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	RaisedAt     time.Time
	CreatedAt    time.Time
}
