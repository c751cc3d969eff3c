// Package fxrate resolves the USD to local-currency exchange rate used to
// normalise ounce-denominated quotes.
package fxrate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	// TierCache marks a rate served from the in-memory cache.
	TierCache = "cache"
	// TierDefault marks the configured constant used when every source failed.
	TierDefault = "default"

	refreshKey = "rate"
)

// Source is one upstream provider of the exchange rate.
type Source interface {
	Name() string
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// Observer receives every resolution. Optional.
type Observer interface {
	ObserveRate(tier string, rate float64)
}

// Options tune caching and the last-resort value.
type Options struct {
	TTL            time.Duration
	Default        decimal.Decimal
	RefreshTimeout time.Duration
}

// Resolution describes where a rate came from.
type Resolution struct {
	Rate      decimal.Decimal
	Tier      string
	FetchedAt time.Time
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Provider serves the cached rate and refreshes it through an ordered list of
// sources. It never returns an error.
type Provider struct {
	opts     Options
	sources  []Source
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	cached *cachedRate

	group singleflight.Group
}

// New constructs a provider; sources are tried in the given order.
func New(opts Options, sources []Source, observer Observer, logger zerolog.Logger) *Provider {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if !opts.Default.IsPositive() {
		opts.Default = decimal.RequireFromString("7.2")
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 20 * time.Second
	}

	return &Provider{
		opts:     opts,
		sources:  sources,
		observer: observer,
		logger:   logger.With().Str("component", "fxrate").Logger(),
		now:      time.Now,
	}
}

// Rate returns a usable rate.
func (p *Provider) Rate(ctx context.Context) decimal.Decimal {
	return p.Resolve(ctx).Rate
}

// Resolve is Rate with provenance. Concurrent refreshes collapse into one; a caller
// whose ctx ends first gets the last cached value, or the default.
func (p *Provider) Resolve(ctx context.Context) Resolution {
	if res, ok := p.fresh(); ok {
		p.observe(res)
		return res
	}

	ch := p.group.DoChan(refreshKey, func() (interface{}, error) {
		return p.refresh(), nil
	})

	select {
	case result := <-ch:
		res := result.Val.(Resolution)
		p.observe(res)
		return res
	case <-ctx.Done():
		p.mu.RLock()
		cached := p.cached
		p.mu.RUnlock()
		if cached != nil {
			return Resolution{Rate: cached.rate, Tier: TierCache, FetchedAt: cached.fetchedAt}
		}
		return Resolution{Rate: p.opts.Default, Tier: TierDefault}
	}
}

func (p *Provider) fresh() (Resolution, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.cached == nil {
		return Resolution{}, false
	}
	if p.now().Sub(p.cached.fetchedAt) >= p.opts.TTL {
		return Resolution{}, false
	}
	return Resolution{Rate: p.cached.rate, Tier: TierCache, FetchedAt: p.cached.fetchedAt}, true
}

// refresh runs detached from any caller so a cancelled tick cannot abort it.
func (p *Provider) refresh() Resolution {
	if res, ok := p.fresh(); ok {
		return res
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.RefreshTimeout)
	defer cancel()

	for _, src := range p.sources {
		rate, err := src.FetchRate(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Str("tier", src.Name()).Msg("exchange rate source failed")
			continue
		}
		if !rate.IsPositive() {
			p.logger.Warn().Str("tier", src.Name()).Str("rate", rate.String()).Msg("exchange rate source returned non-positive rate")
			continue
		}

		fetchedAt := p.now()
		p.store(rate, fetchedAt)
		p.logger.Info().Str("tier", src.Name()).Str("rate", rate.String()).Msg("exchange rate refreshed")
		return Resolution{Rate: rate, Tier: src.Name(), FetchedAt: fetchedAt}
	}

	// the default is not cached; the next call retries every source
	p.logger.Warn().Str("rate", p.opts.Default.String()).Msg("all exchange rate sources failed; using default")
	return Resolution{Rate: p.opts.Default, Tier: TierDefault}
}

// store never moves fetchedAt backwards.
func (p *Provider) store(rate decimal.Decimal, fetchedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && fetchedAt.Before(p.cached.fetchedAt) {
		return
	}
	p.cached = &cachedRate{rate: rate, fetchedAt: fetchedAt}
}

func (p *Provider) observe(res Resolution) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveRate(res.Tier, res.Rate.InexactFloat64())
}
