// Package app wires config, storage, exchange clients and the scan service
// into the long-running processes of the scanner binary.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"crossscanner/config"
	"crossscanner/internal/api"
	"crossscanner/internal/kvstore"
	"crossscanner/internal/memorystore"
	"crossscanner/internal/monitor"
	"crossscanner/internal/notify"
	"crossscanner/internal/scanstate"
	"crossscanner/internal/service"
	"crossscanner/internal/symbolmeta"
	"crossscanner/logger"
	"crossscanner/pkg/binance"
	"crossscanner/pkg/cross"
	"crossscanner/pkg/storage/postgres"

	"go.uber.org/zap"
)

const telegramTimeout = 15 * time.Second

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Service *service.ScanService

	store    kvstore.Store
	db       *postgres.PostgresClient
	rest     *binance.RESTClient
	ledger   *memorystore.CooldownLedger
	notifier *notify.Notifier
}

// Build connects every configured backend and restores persisted state.
// Redis and Postgres are optional; Telegram is used only when enabled.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: log,
		ledger: memorystore.NewCooldownLedger(),
	}

	a.store = kvstore.Open(ctx, cfg.Redis, logger.Named(log, "kvstore"))

	var sink scanstate.Sink
	if cfg.Postgres.Enabled {
		db, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Environment, true)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		a.db = db
		sink = db
	}

	a.rest = binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)

	var notifier service.Notifier
	if cfg.Telegram.Enabled {
		transport, err := notify.NewTelegramTransport(cfg.Telegram.Token, cfg.Telegram.APIEndpoint,
			&http.Client{Timeout: telegramTimeout})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create telegram transport: %w", err)
		}
		a.notifier = notify.NewNotifier(transport, cfg.Telegram, logger.Named(log, "notify"))
		notifier = a.notifier
		log.Info("telegram notifications enabled", zap.String("bot", transport.BotName()))
	}

	a.Service = service.New(service.Dependencies{
		Source:         a.rest,
		Store:          a.store,
		Ledger:         a.ledger,
		Recorder:       scanstate.NewRecorder(a.store, sink, logger.Named(log, "scanstate")),
		Notifier:       notifier,
		Defaults:       cfg.Scan,
		Rate:           cfg.Rate,
		RequestTimeout: cfg.Binance.REST.Timeout,
		Logger:         logger.Named(log, "service"),
	})
	if err := a.Service.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the storage backends.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn("failed to close kv store", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}

// Refresher returns a symbol refresher that stores every loaded universe.
// extra, when set, also receives each list.
func (a *App) Refresher(extra func(symbols []string)) *symbolmeta.Refresher {
	info := binance.NewExchangeInfo(a.Config.Binance.REST.BaseURL, a.Config.Binance.REST.Timeout)
	return symbolmeta.NewRefresher(info, func(ctx context.Context, symbols []string) error {
		saved, err := a.Service.SaveSymbols(ctx, symbols)
		if err != nil {
			return err
		}
		if extra != nil {
			extra(saved)
		}
		return nil
	}, logger.Named(a.Logger, "symbolmeta"))
}

// RunScheduler runs a scan pass, waits scan.every of the stored config and
// repeats until ctx is done.
func (a *App) RunScheduler(ctx context.Context) {
	log := logger.Named(a.Logger, "scheduler")
	for {
		res := a.Service.RunScanOnce(ctx, config.ScanOverrides{})
		if res.OK {
			log.Info("scheduled scan finished",
				zap.String("runId", res.RunID),
				zap.Int("scanned", res.Scanned),
				zap.Int("matches", res.Count),
				zap.Bool("cancelled", res.Cancelled),
			)
		} else {
			log.Warn("scheduled scan failed", zap.String("error", res.Error), zap.String("detail", res.Detail))
		}

		every := a.Service.Config(ctx).Every
		if every <= 0 {
			every = config.DefaultScanConfig().Every
		}
		timer := time.NewTimer(every)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

type ServeOptions struct {
	Schedule       bool
	RefreshSymbols bool
}

// Serve runs the HTTP API, plus the scheduler and the symbol refresher when
// enabled, until ctx is done or the server fails.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	server := api.NewServer(a.Config.HTTP, a.Service, logger.Named(a.Logger, "api"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	if opts.RefreshSymbols {
		a.Refresher(nil).Start(ctx)
	}
	if opts.Schedule {
		go a.RunScheduler(ctx)
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	a.Service.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Monitor streams closed candles of the stored symbols and delivers every
// crossover through the scan service, sharing its cooldown ledger.
func (a *App) Monitor(ctx context.Context, refresh bool) error {
	cfg := a.Service.Config(ctx)
	symbols := memorystore.NewSymbolStore()
	symbols.Replace(a.Service.Symbols(ctx))
	if symbols.Len() == 0 {
		return fmt.Errorf("no symbols to monitor")
	}

	log := logger.Named(a.Logger, "monitor")
	m, err := monitor.New(monitor.Options{
		Config:  cfg,
		Source:  a.rest,
		Symbols: symbols,
		Ledger:  a.ledger,
		OnCross: func(ctx context.Context, e cross.Event) {
			for _, match := range a.Service.Deliver(ctx, []cross.Event{e}) {
				log.Info("live crossover",
					zap.String("symbol", match.Symbol),
					zap.String("direction", string(match.Direction)),
					zap.Float64("price", match.Price),
					zap.Bool("delivered", match.Delivered),
				)
			}
		},
		HistoryCapacity: a.Config.Monitor.HistoryCapacity,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	// new symbols are subscribed on the next reconnect
	if refresh {
		a.Refresher(symbols.Replace).Start(ctx)
	}

	ws := binance.NewWSClient(a.Config.Binance.WS.URL, m.Topics, logger.Named(a.Logger, "ws"))
	ws.SetReconnectDelay(a.Config.Binance.WS.ReconnectDelay)
	return m.Run(ctx, ws)
}
