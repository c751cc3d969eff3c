package fetcher

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type staticRate struct {
	rate decimal.Decimal
}

func (s staticRate) Rate(context.Context) decimal.Decimal {
	return s.rate
}

// switchableRate lets a test move the rate after quotes arrived.
type switchableRate struct {
	mu   sync.Mutex
	rate decimal.Decimal
}

func (s *switchableRate) Rate(context.Context) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *switchableRate) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = decimal.RequireFromString(v)
}
