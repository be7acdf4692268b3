package main

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"chain-anomaly-watch/internal/app"
	"chain-anomaly-watch/internal/config"
	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/ml/features"
	"chain-anomaly-watch/internal/ml/outlier"
	"chain-anomaly-watch/internal/report"
	"chain-anomaly-watch/internal/scan"
	"chain-anomaly-watch/internal/service"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestApplyFlagsOverridesConfig(t *testing.T) {
	cfg := &config.Config{ScanWindow: 1000, ScanContamination: 0.01, ScanOutputPath: "data/anomalies.json", ScanModel: "iforest"}
	err := applyFlags(cfg, []string{"-window", "50", "-contamination", "0.2", "-output", "/tmp/x.json", "-model", "zscore"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ScanWindow != 50 || cfg.ScanContamination != 0.2 || cfg.ScanOutputPath != "/tmp/x.json" || cfg.ScanModel != "zscore" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestApplyFlagsKeepsConfigDefaults(t *testing.T) {
	cfg := &config.Config{ScanWindow: 1000, ScanContamination: 0.01, ScanOutputPath: "data/anomalies.json", ScanModel: "iforest"}
	if err := applyFlags(cfg, nil, &bytes.Buffer{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ScanWindow != 1000 || cfg.ScanContamination != 0.01 {
		t.Fatalf("defaults changed: %+v", cfg)
	}
}

func TestApplyFlagsRejectsBadContamination(t *testing.T) {
	for _, v := range []string{"0", "1", "-0.5"} {
		cfg := &config.Config{ScanOutputPath: "x.json"}
		if err := applyFlags(cfg, []string{"-contamination", v}, &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for contamination %s", v)
		}
	}
}

func TestRunWritesReport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "anomalies.json")
	restore := stubScanDeps(t, &fakeChain{head: 2})
	defer restore()

	var stderr bytes.Buffer
	code := run([]string{"-window", "2", "-contamination", "0.2", "-output", out}, &stderr)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	rep, err := report.ReadFile(out)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if len(rep.Anomalies) != 1 || rep.Anomalies[0].Block != 2 {
		t.Fatalf("unexpected anomalies: %+v", rep.Anomalies)
	}
}

func TestRunConnectivityFailureExitsNonZero(t *testing.T) {
	out := filepath.Join(t.TempDir(), "anomalies.json")
	restore := stubScanDeps(t, &fakeChain{headErr: true})
	defer restore()

	if code := run([]string{"-output", out}, &bytes.Buffer{}); code != exitError {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("no report may be written on failure, stat err=%v", err)
	}
}

func TestRunUsageError(t *testing.T) {
	restore := stubScanDeps(t, &fakeChain{})
	defer restore()

	if code := run([]string{"-contamination", "2"}, &bytes.Buffer{}); code != exitUsage {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func stubScanDeps(t *testing.T, chain *fakeChain) func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origLogger := newLoggerFunc
	origTracer := initTracerFunc
	origBuild := buildFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{ScanWindow: 1000, ScanContamination: 0.01, ScanOutputPath: "unused.json", ScanModel: "iforest", ChainDecimals: 18}
	}
	newLoggerFunc = func(level, format string) (*zap.Logger, error) { return zap.NewNop(), nil }
	initTracerFunc = func(ctx context.Context, service string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	buildFunc = func(ctx context.Context, cfg *config.Config, pollBot bool, tracer trace.Tracer, logger *zap.Logger) (*app.Components, error) {
		model, err := outlier.NewModel(cfg.ScanModel)
		if err != nil {
			return nil, err
		}
		scanner := scan.NewService(tracer, logger, chain,
			features.NewExtractor(tracer, logger, cfg.ChainDecimals),
			outlier.NewScorer(model))
		return &app.Components{
			Scans: service.NewScanService(tracer, logger, scanner,
				report.NewFileWriter(tracer, cfg.ScanOutputPath), nil,
				service.ScanOptions{Window: cfg.ScanWindow, Contamination: cfg.ScanContamination}),
		}, nil
	}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		newLoggerFunc = origLogger
		initTracerFunc = origTracer
		buildFunc = origBuild
	}
}

type fakeChain struct {
	head    uint64
	headErr bool
}

func (f *fakeChain) HeadBlock(ctx context.Context) (uint64, error) {
	if f.headErr {
		return 0, domain.ErrConnectivity
	}
	return f.head, nil
}

func (f *fakeChain) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	ether := map[uint64][]int64{0: {1, 1}, 1: {1}, 2: {1, 1000}}[number]
	block := &domain.ChainBlock{Number: number}
	for _, v := range ether {
		wei := new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
		block.Transactions = append(block.Transactions, domain.ChainTransaction{Value: wei})
	}
	return block, nil
}
