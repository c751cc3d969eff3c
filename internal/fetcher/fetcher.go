package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two source variants.
type Kind string

const (
	KindPolling   Kind = "polling"
	KindStreaming Kind = "streaming"
)

// UnitLocalPerGram is the normalised unit every source reports in.
const UnitLocalPerGram = "CNY/g"

// Point is a single normalised price observation. Values are never mutated after
// a source hands them out.
type Point struct {
	SourceID   string
	Value      decimal.Decimal
	Unit       string
	ObservedAt time.Time

	// Streaming sources also expose the converted ask and the rate used.
	Ask  decimal.NullDecimal
	Rate decimal.NullDecimal
}

// Source is one configured origin of price data.
type Source interface {
	ID() string
	Name() string
	Kind() Kind
	// Timeout bounds a single Fetch call.
	Timeout() time.Duration
	Fetch(ctx context.Context) (Point, error)
}

// RateProvider resolves the USD to local-currency rate. Implementations never fail.
type RateProvider interface {
	Rate(ctx context.Context) decimal.Decimal
}
