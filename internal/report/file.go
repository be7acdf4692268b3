package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chain-anomaly-watch/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultPath = "data/anomalies.json"

// FileWriter persists the latest report as indented JSON, replacing any
// previous file atomically.
type FileWriter struct {
	tracer trace.Tracer
	path   string
}

func NewFileWriter(tracer trace.Tracer, path string) *FileWriter {
	if path == "" {
		path = DefaultPath
	}
	return &FileWriter{tracer: tracer, path: path}
}

func (w *FileWriter) Path() string {
	return w.path
}

func (w *FileWriter) Write(ctx context.Context, report *domain.AnomalyReport) error {
	_, span := w.tracer.Start(ctx, "report-file.write")
	defer span.End()
	span.SetAttributes(attribute.String("path", w.path))

	if report == nil {
		return fmt.Errorf("nil report")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".anomalies-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp report: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		span.RecordError(err)
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

// ReadFile loads a report written by FileWriter.
func ReadFile(path string) (*domain.AnomalyReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Timestamp string              `json:"timestamp"`
		Anomalies domain.FeatureTable `json:"anomalies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	if raw.Anomalies == nil {
		raw.Anomalies = domain.FeatureTable{}
	}
	return &domain.AnomalyReport{Timestamp: ts, Anomalies: raw.Anomalies}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}
