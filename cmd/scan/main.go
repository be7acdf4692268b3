package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"chain-anomaly-watch/internal/app"
	"chain-anomaly-watch/internal/config"
	"chain-anomaly-watch/internal/logging"
	"chain-anomaly-watch/internal/service"
	"chain-anomaly-watch/pkg/tracing"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	newLoggerFunc  = logging.New
	initTracerFunc = tracing.InitTracer
	buildFunc      = app.Build
	exitFunc       = os.Exit
)

func main() {
	exitFunc(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	loadEnvFunc()
	cfg := loadConfigFunc()

	if err := applyFlags(cfg, args, stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger, err := newLoggerFunc(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer logger.Sync()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, "chain-anomaly-scan")
	if err != nil {
		logger.Error("failed to initialize tracer", zap.Error(err))
		return exitError
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	components, err := buildFunc(ctx, cfg, false, tracer, logger)
	if err != nil {
		logger.Error("failed to start scan", zap.Error(err))
		return exitError
	}
	defer components.Close()

	rep, err := components.Scans.RunScan(ctx, service.ScanOptions{})
	if err != nil {
		logger.Error("scan failed", zap.Error(err))
		return exitError
	}

	logger.Info("scan finished",
		zap.Uint64("start", rep.Range.Start),
		zap.Uint64("end", rep.Range.End),
		zap.Int("transactions", rep.Scanned),
		zap.Int("anomalies", len(rep.Anomalies)),
		zap.String("output", cfg.ScanOutputPath))
	return exitOK
}

// applyFlags overrides cfg with any command-line flags that were set.
func applyFlags(cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	window := fs.Uint64("window", cfg.ScanWindow, "number of blocks below the head to scan")
	contamination := fs.Float64("contamination", cfg.ScanContamination, "expected anomaly fraction, in (0, 1)")
	output := fs.String("output", cfg.ScanOutputPath, "report file path")
	model := fs.String("model", cfg.ScanModel, "outlier model: iforest or zscore")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *contamination <= 0 || *contamination >= 1 {
		return fmt.Errorf("-contamination must be in (0, 1), got %g", *contamination)
	}
	if *output == "" {
		return errors.New("-output must not be empty")
	}

	cfg.ScanWindow = *window
	cfg.ScanContamination = *contamination
	cfg.ScanOutputPath = *output
	cfg.ScanModel = *model
	return nil
}
