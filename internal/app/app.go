package app

import (
	"context"
	"fmt"
	"time"

	"chain-anomaly-watch/internal/bot"
	"chain-anomaly-watch/internal/cache"
	"chain-anomaly-watch/internal/chain"
	"chain-anomaly-watch/internal/config"
	"chain-anomaly-watch/internal/db"
	"chain-anomaly-watch/internal/ml/features"
	"chain-anomaly-watch/internal/ml/outlier"
	"chain-anomaly-watch/internal/publisher"
	"chain-anomaly-watch/internal/report"
	"chain-anomaly-watch/internal/repository"
	"chain-anomaly-watch/internal/scan"
	"chain-anomaly-watch/internal/service"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

var (
	newSourceFunc    = chain.NewStack
	initRedisFunc    = cache.InitRedis
	initPostgresFunc = db.InitPostgres
	newBotFunc       = bot.NewBot
	newKafkaFunc     = func(brokers []string, topic string, tracer trace.Tracer, logger *zap.Logger) service.ReportSink {
		return publisher.NewKafkaPublisher(brokers, topic, tracer, logger)
	}
)

// Components is everything a process needs to run scans.
type Components struct {
	Scans *service.ScanService
	// Bot is set when Telegram is configured. Starting and stopping its
	// command poller is left to the caller.
	Bot *tele.Bot

	closers []func()
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires the chain source, model, report writer and sinks from cfg.
// Only the chain connection is required; optional backends that fail to
// connect are logged and skipped.
func Build(ctx context.Context, cfg *config.Config, pollBot bool, tracer trace.Tracer, logger *zap.Logger) (*Components, error) {
	c := &Components{}

	var blockCache chain.RedisClient
	if rc, err := initRedisFunc(ctx, cfg.RedisURL, logger); err != nil {
		logger.Warn("block cache unavailable", zap.Error(err))
	} else if rc != nil {
		blockCache = rc
		c.closers = append(c.closers, func() { rc.Close() })
	}

	src, closeSrc, err := newSourceFunc(ctx, chain.StackOptions{
		RPCURL:        cfg.EthRPCURL,
		RetryAttempts: cfg.ChainRetryAttempts,
		RatePerSecond: cfg.ChainRateLimitPerSec,
		Cache:         blockCache,
		CacheTTL:      time.Duration(cfg.BlockCacheTTLSecs) * time.Second,

		CacheConfirmations: cfg.BlockCacheConfirmations,
	}, tracer, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, closeSrc)

	model, err := outlier.NewModel(cfg.ScanModel)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("select model: %w", err)
	}

	scanner := scan.NewService(
		tracer,
		logger,
		src,
		features.NewExtractor(tracer, logger, cfg.ChainDecimals),
		outlier.NewScorer(model),
	)

	var history service.ReportHistory
	if pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, logger); err != nil {
		logger.Warn("report history unavailable", zap.Error(err))
	} else if pool != nil {
		history = repository.NewReportRepository(pool, tracer)
		c.closers = append(c.closers, pool.Close)
	}

	var sinks []service.ReportSink
	if len(cfg.KafkaBrokers) > 0 {
		k := newKafkaFunc(cfg.KafkaBrokers, cfg.KafkaTopic, tracer, logger)
		sinks = append(sinks, k)
		if closer, ok := k.(interface{ Close() error }); ok {
			c.closers = append(c.closers, func() {
				if err := closer.Close(); err != nil {
					logger.Warn("kafka close failed", zap.Error(err))
				}
			})
		}
	}

	if cfg.TelegramToken != "" {
		b, err := newBotFunc(cfg.TelegramToken, pollBot)
		if err != nil {
			logger.Warn("telegram unavailable", zap.Error(err))
		} else {
			c.Bot = b
			if cfg.AlertsEnabled() {
				sinks = append(sinks, bot.NewNotifier(b, cfg.TelegramChatID, tracer, logger))
			}
		}
	}

	c.Scans = service.NewScanService(
		tracer,
		logger,
		scanner,
		report.NewFileWriter(tracer, cfg.ScanOutputPath),
		history,
		service.ScanOptions{Window: cfg.ScanWindow, Contamination: cfg.ScanContamination},
		sinks...,
	)
	return c, nil
}
