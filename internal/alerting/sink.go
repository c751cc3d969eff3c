package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"goldwatch/internal/events"
)

// Sink forwards AlertRaised events to a Notifier on a background worker so a slow
// upstream never stalls the tick that raised the alert.
type Sink struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Notification
	done   chan struct{}
}

// NewSink starts the delivery worker. buffer bounds the number of pending alerts.
func NewSink(notifier Notifier, buffer int, timeout time.Duration, logger zerolog.Logger) *Sink {
	if buffer <= 0 {
		buffer = 16
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	s := &Sink{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With().Str("component", "alert_sink").Logger(),
		queue:    make(chan Notification, buffer),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Handle implements events.Sink; only AlertRaised is forwarded.
func (s *Sink) Handle(_ context.Context, ev events.Event) {
	alert, ok := ev.(events.AlertRaised)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- FromAlert(alert):
	default:
		s.logger.Warn().Str("source", alert.SourceID).Msg("alert queue full; dropping notification")
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *Sink) loop() {
	defer close(s.done)
	for note := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("source", note.SourceID).Msg("failed to dispatch alert")
		}
		cancel()
	}
}

var _ events.Sink = (*Sink)(nil)
