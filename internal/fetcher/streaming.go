package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	closeWait          = time.Second
	defaultStreamReads = 60 * time.Second
)

// Phase is the connection state of a streaming source.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Quote is the raw USD per ounce quote last received from the feed.
type Quote struct {
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	ObservedAt time.Time
}

// StreamObserver is notified about connection lifecycle changes.
type StreamObserver interface {
	ObservePhase(sourceID, phase string)
	ObserveReconnect(sourceID string)
}

// StreamingOptions parameterise the WebSocket quote feed.
type StreamingOptions struct {
	ID                   string
	Name                 string
	DiscoveryURL         string
	BackupURL            string
	Symbol               string
	Headers              map[string]string
	DiscoveryTimeout     time.Duration
	HandshakeTimeout     time.Duration
	ReadTimeout          time.Duration
	FetchTimeout         time.Duration
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
}

// Streaming keeps a long-lived WebSocket connection and serves the latest quote,
// converted at read time.
type Streaming struct {
	opts     StreamingOptions
	rates    RateProvider
	observer StreamObserver
	logger   zerolog.Logger
	client   *http.Client
	dialer   *websocket.Dialer
	now      func() time.Time

	mu       sync.Mutex
	phase    Phase
	quote    *Quote
	attempts int
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewStreaming constructs a streaming source. rates is required.
func NewStreaming(opts StreamingOptions, rates RateProvider, observer StreamObserver, logger zerolog.Logger) *Streaming {
	if rates == nil {
		panic("streaming source requires a rate provider")
	}
	if opts.Symbol == "" {
		opts.Symbol = "GOLD"
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultStreamReads
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}

	return &Streaming{
		opts:     opts,
		rates:    rates,
		observer: observer,
		logger:   logger.With().Str("component", "streaming_source").Str("source", opts.ID).Logger(),
		client:   &http.Client{},
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		now:      time.Now,
		phase:    PhaseDisconnected,
	}
}

func (s *Streaming) ID() string             { return s.opts.ID }
func (s *Streaming) Name() string           { return s.opts.Name }
func (s *Streaming) Kind() Kind             { return KindStreaming }
func (s *Streaming) Timeout() time.Duration { return s.opts.FetchTimeout }

// Start launches the background connection task. Calling it twice is a no-op.
func (s *Streaming) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
}

// Stop closes the connection and waits for the background task to exit.
func (s *Streaming) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.setPhase(PhaseStopped)
}

// Phase reports the current connection state.
func (s *Streaming) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ReconnectAttempts reports consecutive reconnects since the last successful connect.
func (s *Streaming) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastQuote returns the most recent raw quote, even when the feed is down.
func (s *Streaming) LastQuote() (Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quote == nil {
		return Quote{}, false
	}
	return *s.quote, true
}

// Fetch converts the latest quote at the current exchange rate.
func (s *Streaming) Fetch(ctx context.Context) (Point, error) {
	s.mu.Lock()
	phase := s.phase
	var quote Quote
	hasQuote := s.quote != nil
	if hasQuote {
		quote = *s.quote
	}
	s.mu.Unlock()

	if !hasQuote {
		if phase == PhaseConnected {
			return Point{}, newFetchError(ErrKindNotReady, s.opts.ID, nil)
		}
		return Point{}, newFetchError(ErrKindDisconnected, s.opts.ID, fmt.Errorf("feed %s", phase))
	}
	if phase != PhaseConnected {
		return Point{}, newFetchError(ErrKindDisconnected, s.opts.ID,
			fmt.Errorf("feed %s, last quote at %s", phase, quote.ObservedAt.Format(time.RFC3339)))
	}

	rate := s.rates.Rate(ctx)
	return Point{
		SourceID:   s.opts.ID,
		Value:      OunceToGram(quote.Bid, rate),
		Unit:       UnitLocalPerGram,
		ObservedAt: quote.ObservedAt,
		Ask:        decimal.NewNullDecimal(OunceToGram(quote.Ask, rate)),
		Rate:       decimal.NewNullDecimal(rate),
	}, nil
}

func (s *Streaming) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		url := s.discover(ctx)
		if ctx.Err() != nil {
			return
		}

		s.setPhase(PhaseConnecting)
		err := s.session(ctx, url)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Str("url", url).Msg("stream disconnected")
		s.setPhase(PhaseDisconnected)

		s.mu.Lock()
		attempts := s.attempts
		s.mu.Unlock()
		if attempts >= s.opts.MaxReconnectAttempts {
			s.logger.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted; feed unavailable")
			return
		}

		s.setPhase(PhaseReconnecting)
		timer := time.NewTimer(s.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		s.attempts++
		attempts = s.attempts
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.ObserveReconnect(s.opts.ID)
		}
		s.logger.Info().Int("attempt", attempts).Int("max", s.opts.MaxReconnectAttempts).Msg("reconnecting stream")
	}
}

// session dials url and reads until the connection fails or ctx ends.
func (s *Streaming) session(ctx context.Context, url string) error {
	header := http.Header{}
	for k, v := range s.opts.Headers {
		header.Set(k, v)
	}

	conn, _, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.setPhase(PhaseConnected)
	s.logger.Info().Str("url", url).Msg("stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(msg)
	}
}

// handleMessage keeps the first record matching the configured symbol.
func (s *Streaming) handleMessage(raw []byte) {
	if !gjson.ValidBytes(raw) {
		s.logger.Debug().Int("bytes", len(raw)).Msg("dropping malformed frame")
		return
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		s.logger.Debug().Msg("dropping non-array frame")
		return
	}

	doc.ForEach(func(_, rec gjson.Result) bool {
		if rec.Get("symbol").String() != s.opts.Symbol {
			return true
		}

		bid, ok := numericValue(rec.Get("bid"))
		if !ok || !bid.IsPositive() {
			s.logger.Debug().Str("record", rec.Raw).Msg("dropping quote without usable bid")
			return false
		}
		ask, ok := numericValue(rec.Get("ask"))
		if !ok || !ask.IsPositive() {
			ask = bid
		}

		q := &Quote{Bid: bid, Ask: ask, ObservedAt: s.now()}
		s.mu.Lock()
		s.quote = q
		s.mu.Unlock()
		return false
	})
}

func (s *Streaming) setPhase(p Phase) {
	s.mu.Lock()
	changed := s.phase != p
	s.phase = p
	s.mu.Unlock()

	if changed && s.observer != nil {
		s.observer.ObservePhase(s.opts.ID, p.String())
	}
}

var _ Source = (*Streaming)(nil)
