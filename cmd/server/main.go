package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chain-anomaly-watch/internal/app"
	"chain-anomaly-watch/internal/bot"
	"chain-anomaly-watch/internal/config"
	"chain-anomaly-watch/internal/handler"
	"chain-anomaly-watch/internal/job"
	"chain-anomaly-watch/internal/logging"
	"chain-anomaly-watch/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	newLoggerFunc     = logging.New
	initTracerFunc    = tracing.InitTracer
	buildFunc         = app.Build
	startScanJobFunc  = func(j *job.ScanJob, ctx context.Context) { go j.Start(ctx) }
	startBotFunc      = bot.StartCommands
	stopBotFunc       = func(b *tele.Bot) { b.Stop() }
	newRouterFunc     = gin.New
	setupSignalNotify = signal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
	startHTTPServer   = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTP      = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	logger, err := newLoggerFunc(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.DefaultServiceName)
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	components, err := buildFunc(ctx, cfg, true, tracer, logger)
	if err != nil {
		logger.Fatal("failed to build scan pipeline", zap.Error(err))
	}
	defer components.Close()

	// Scheduled scans share the service mutex with API-triggered scans.
	scanJob := job.NewScanJob(tracer, logger, components.Scans, cfg.ScanIntervalSecs)
	startScanJobFunc(scanJob, ctx)

	if components.Bot != nil {
		startBotFunc(components.Bot, components.Scans, logger)
		defer stopBotFunc(components.Bot)
	}

	h := handler.New(tracer, components.Scans, cfg.APIKey)

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(tracing.DefaultServiceName))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := startHTTPServer(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()
	logger.Info("HTTP server listening", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTP(srv, shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
