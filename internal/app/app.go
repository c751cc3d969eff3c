package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldwatch/internal/alerting"
	"goldwatch/internal/cache"
	"goldwatch/internal/config"
	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/fxrate"
	"goldwatch/internal/metrics"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/service"
	"goldwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunOptions tune the long-running monitor.
type RunOptions struct {
	// Interactive reads switch commands from stdin. Nil means "when stdin is a terminal".
	Interactive *bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	SourceID string
	Alerts   bool
}

// ExportOptions configure the CSV export.
type ExportOptions struct {
	CSVPath   string
	SourceID  string
	Limit     int
	MaxPoints int
}

// PruneOptions configure journal retention.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Prices       []decimal.Decimal
	ThresholdPct *float64
	Notify       bool
}

func (a *App) newMetrics() *metrics.Metrics {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func (a *App) newRateProvider(observer fxrate.Observer) *fxrate.Provider {
	er := a.Config.ExchangeRate

	var sources []fxrate.Source
	if er.PrimaryURL != "" {
		sources = append(sources, fxrate.NewJSONSource(fxrate.JSONOptions{
			URL:      er.PrimaryURL,
			Currency: er.Currency,
			Timeout:  er.PrimaryTimeout,
		}))
	}
	if er.SecondaryURL != "" {
		sources = append(sources, fxrate.NewTableSource(fxrate.TableOptions{
			URL:          er.SecondaryURL,
			CurrencyName: er.SecondaryCurrencyName,
			Column:       er.SecondaryColumn,
			Unit:         decimal.NewFromFloat(er.SecondaryUnit),
			Headers:      a.Config.HTTP.Headers,
			Timeout:      er.SecondaryTimeout,
		}))
	}

	return fxrate.New(fxrate.Options{
		TTL:     er.TTL,
		Default: decimal.NewFromFloat(er.DefaultRate),
	}, sources, observer, a.Logger)
}

// newSources builds the sources in display order: polling endpoints, then the feed.
func (a *App) newSources(rates fetcher.RateProvider, observer fetcher.StreamObserver) []fetcher.Source {
	cfg := a.Config.Sources
	sources := make([]fetcher.Source, 0, len(cfg.Polling)+1)

	for _, p := range cfg.Polling {
		sources = append(sources, fetcher.NewPolling(fetcher.PollingOptions{
			ID:         p.ID,
			Name:       p.Name,
			URL:        p.URL,
			PricePaths: p.PricePaths,
			Headers:    p.Headers,
			Timeout:    p.Timeout,
		}, a.Logger))
	}

	if s := cfg.Streaming; s.Enabled {
		sources = append(sources, fetcher.NewStreaming(fetcher.StreamingOptions{
			ID:                   s.ID,
			Name:                 s.Name,
			DiscoveryURL:         s.DiscoveryURL,
			BackupURL:            s.BackupURL,
			Symbol:               s.Symbol,
			Headers:              s.Headers,
			DiscoveryTimeout:     s.DiscoveryTimeout,
			HandshakeTimeout:     s.HandshakeTimeout,
			ReadTimeout:          s.ReadTimeout,
			FetchTimeout:         s.FetchTimeout,
			MaxReconnectAttempts: s.MaxReconnectAttempts,
			ReconnectInterval:    s.ReconnectInterval,
		}, rates, observer, a.Logger))
	}

	return sources
}

func (a *App) newNotifier(loc *time.Location) alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger).WithLocation(loc)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openMirror(ctx context.Context) (*cache.PriceMirror, error) {
	if !a.Config.Redis.Enabled {
		return nil, nil
	}
	r := a.Config.Redis
	return cache.New(ctx, cache.Options{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		PoolSize:   r.PoolSize,
		TLSEnabled: r.TLS,
		KeyPrefix:  r.KeyPrefix,
		TTL:        r.TTL,
	})
}

// startMetrics serves m in the background; wg is released once the endpoint has shut down.
func (a *App) startMetrics(ctx context.Context, m *metrics.Metrics, wg *sync.WaitGroup) {
	if m == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Serve(ctx, a.Config.Metrics.Addr, a.Logger); err != nil {
			a.Logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}

// Run executes the long-running monitor.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	m := a.newMetrics()
	deps := service.Dependencies{}
	if m != nil {
		deps.Metrics = m
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Info().Msg("database disabled; journal off")
	} else {
		deps.Samples = store
		deps.Alerts = store
	}
	if closeStore != nil {
		defer closeStore()
	}

	mirror, err := a.openMirror(ctx)
	if err != nil {
		return err
	}
	if mirror != nil {
		deps.Mirror = mirror
		defer mirror.Close()
	}

	rates := a.newRateProvider(m)
	registry, err := service.NewRegistry(a.newSources(rates, m), a.Config.Sources.Selected)
	if err != nil {
		return err
	}

	sinks := events.Fanout{NewConsoleSink(os.Stdout, loc)}
	if notifier := a.newNotifier(loc); notifier != nil {
		alertSink := alerting.NewSink(notifier, a.Config.Alerting.QueueSize, a.Config.Alerting.Telegram.Timeout, a.Logger)
		defer alertSink.Close()
		sinks = append(sinks, alertSink)
	}

	deps.Scheduler = scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    a.Config.Scheduler.Immediate,
	}, a.Logger)

	agg := service.New(service.Options{
		ThresholdPct: decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		Location:     loc,
	}, registry, sinks, deps, a.Logger)
	// closes before the alert sink so no alert is queued after the sink drains
	defer agg.Close()

	var background sync.WaitGroup
	a.startMetrics(ctx, m, &background)

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	if opts.Interactive != nil {
		interactive = *opts.Interactive
	}
	if interactive {
		// blocked stdin reads cannot be interrupted, so the reader is not joined
		go a.readCommands(ctx, os.Stdin, os.Stdout, agg, quit)
	}

	a.Logger.Info().
		Strs("sources", a.Config.SourceIDs()).
		Str("selected", registry.Selected().ID()).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting gold price monitor")

	err = agg.Run(ctx)
	quit()
	background.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("gold price monitor stopped")
	return nil
}
