package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const maxBodyBytes = 1 << 20

// PollingOptions parameterise a one-shot HTTP price source.
type PollingOptions struct {
	ID         string
	Name       string
	URL        string
	PricePaths []string
	Headers    map[string]string
	Timeout    time.Duration
}

// Polling fetches a JSON document per call and extracts the price from it.
type Polling struct {
	opts   PollingOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewPolling constructs a polling source.
func NewPolling(opts PollingOptions, logger zerolog.Logger) *Polling {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PricePaths == nil {
		opts.PricePaths = DefaultPricePaths
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}

	return &Polling{
		opts:   opts,
		logger: logger.With().Str("component", "polling_source").Str("source", opts.ID).Logger(),
		client: &http.Client{Timeout: opts.Timeout},
		now:    time.Now,
	}
}

func (p *Polling) ID() string             { return p.opts.ID }
func (p *Polling) Name() string           { return p.opts.Name }
func (p *Polling) Kind() Kind             { return KindPolling }
func (p *Polling) Timeout() time.Duration { return p.opts.Timeout }

// Fetch issues one GET against the endpoint and returns the extracted price.
func (p *Polling) Fetch(ctx context.Context) (Point, error) {
	if p.opts.URL == "" {
		return Point{}, newFetchError(ErrKindNetwork, p.opts.ID, errors.New("endpoint url not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return Point{}, newFetchError(ErrKindNetwork, p.opts.ID, fmt.Errorf("create request: %w", err))
	}
	for k, v := range p.opts.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Point{}, newFetchError(ErrKindNetwork, p.opts.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Point{}, newFetchError(ErrKindNetwork, p.opts.ID, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Point{}, &FetchError{
			Kind:     ErrKindHTTP,
			SourceID: p.opts.ID,
			Status:   resp.StatusCode,
			Err:      httpErrorDetail(body),
		}
	}

	if !gjson.ValidBytes(body) {
		return Point{}, newFetchError(ErrKindDecode, p.opts.ID, errors.New("response is not valid json"))
	}

	value, ok := ExtractPrice(gjson.ParseBytes(body), p.opts.PricePaths)
	if !ok {
		return Point{}, newFetchError(ErrKindPriceNotFound, p.opts.ID, nil)
	}

	p.logger.Debug().Str("price", value.String()).Msg("price fetched")

	return Point{
		SourceID:   p.opts.ID,
		Value:      value,
		Unit:       UnitLocalPerGram,
		ObservedAt: p.now(),
	}, nil
}

func httpErrorDetail(body []byte) error {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return errors.New(text)
}

var _ Source = (*Polling)(nil)
