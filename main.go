package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"binance-bot-fleet/config"
	"binance-bot-fleet/internal/ai"
	"binance-bot-fleet/internal/api"
	"binance-bot-fleet/internal/bot"
	"binance-bot-fleet/internal/budget"
	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/metrics"
	"binance-bot-fleet/internal/news"
	"binance-bot-fleet/internal/notify"
	"binance-bot-fleet/internal/store"
	"binance-bot-fleet/internal/strategy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging.Level)
	logger.Info().
		Bool("testnet", cfg.Exchange.Testnet).
		Bool("dry_run", cfg.Exchange.DryRun).
		Str("data_dir", cfg.DataDir).
		Msg("bot fleet starting")

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}

	counters, err := budget.Load(st, logger)
	if err != nil {
		return fmt.Errorf("load api counters: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	ex := exchange.NewClient(cfg.Exchange, m, logger)

	newsCache := buildNewsCache(cfg, counters, st, m, logger)
	analyzer := buildAnalyzer(cfg, counters, m, logger)

	notifier := notify.NewSMSNotifier(notify.Config{
		AccountSID: cfg.SMS.ProviderSID,
		AuthToken:  cfg.SMS.ProviderToken,
		From:       cfg.SMS.From,
		To:         cfg.SMS.Recipients,
	}, logger)
	if !notifier.IsEnabled() {
		logger.Info().Msg("SMS notifications disabled (no credentials or recipients)")
	}

	bus := events.NewBus()

	deps := strategy.Deps{News: newsCache, Assessor: analyzer, Validator: ex}
	sup, err := bot.NewSupervisor(cfg, st, ex, deps, notifier, bus, m, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Trading.ReconcileOnBoot {
		reconcileCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := sup.ReconcileOrphans(reconcileCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("boot reconciliation failed")
		} else if len(result.Created) > 0 {
			logger.Info().Int("created", len(result.Created)).Msg("boot reconciliation adopted orphan holdings")
		}
	}

	server := api.NewServer(cfg, sup, ex, newsCache, bus, promRegistry, logger)
	err = server.Run(ctx)

	logger.Info().Msg("shutting down")
	sup.StopAll()
	if ferr := newsCache.Flush(); ferr != nil {
		logger.Warn().Err(ferr).Msg("news cache flush failed")
	}
	if ferr := counters.Flush(); ferr != nil {
		logger.Warn().Err(ferr).Msg("counter flush failed")
	}
	logger.Info().Msg("shutdown complete")
	return err
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}

// buildNewsCache assembles the provider chain: paid feed first, then the
// free fallbacks.
func buildNewsCache(cfg *config.Config, counters *budget.Counters, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *news.Cache {
	var primary news.Fetcher
	if cfg.News.CryptoNewsAPIKey != "" {
		primary = news.NewCryptoNewsClient(cfg.News.CryptoNewsAPIKey, cfg.News.Timeout)
	} else {
		logger.Info().Msg("no paid news API key, using free providers only")
	}
	fallbacks := []news.Fetcher{news.NewRSSFallback(cfg.News.Timeout)}
	if cfg.News.NewsAPIKey != "" {
		fallbacks = append([]news.Fetcher{news.NewNewsAPIFallback(cfg.News.NewsAPIKey, cfg.News.Timeout)}, fallbacks...)
	}
	return news.NewCache(news.CacheConfig{
		TTL:         cfg.News.TTL,
		DailyBudget: cfg.News.DailyBudget,
		Timeout:     cfg.News.Timeout,
	}, primary, fallbacks, counters, st, m, logger)
}

func buildAnalyzer(cfg *config.Config, counters *budget.Counters, m *metrics.Metrics, logger zerolog.Logger) *ai.Analyzer {
	if cfg.AI.OpenAIAPIKey == "" {
		logger.Warn().Msg("no LLM API key, news strategies will hold")
	}
	client := ai.NewClient(&ai.ClientConfig{
		APIKey:  cfg.AI.OpenAIAPIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	return ai.NewAnalyzer(client, counters, m, logger)
}
