package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"chain-anomaly-watch/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	msgTypeReport  = "scan_report"
	msgTypeAnomaly = "anomaly"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type reportSummary struct {
	Timestamp  time.Time `json:"timestamp"`
	RangeStart uint64    `json:"range_start"`
	RangeEnd   uint64    `json:"range_end"`
	Scanned    int       `json:"scanned"`
	Anomalies  int       `json:"anomalies"`
	Model      string    `json:"model"`
}

type envelope struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// KafkaPublisher emits one summary message per report followed by one
// message per flagged transaction.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string, tracer trace.Tracer, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, topic, tracer, logger)
}

func newKafkaPublisher(w messageWriter, topic string, tracer trace.Tracer, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, topic: topic, tracer: tracer, logger: logger, now: time.Now}
}

func (k *KafkaPublisher) Name() string {
	return "kafka"
}

func (k *KafkaPublisher) Publish(ctx context.Context, report *domain.AnomalyReport) error {
	ctx, span := k.tracer.Start(ctx, "kafka-publisher.publish")
	defer span.End()

	if report == nil {
		return fmt.Errorf("cannot publish nil report")
	}
	span.SetAttributes(
		attribute.String("topic", k.topic),
		attribute.Int("anomalies", len(report.Anomalies)),
	)

	sentAt := k.now().UTC()
	msgs := make([]kafka.Message, 0, len(report.Anomalies)+1)

	summary, err := json.Marshal(envelope{
		Type: msgTypeReport,
		Data: reportSummary{
			Timestamp:  report.Timestamp.UTC(),
			RangeStart: report.Range.Start,
			RangeEnd:   report.Range.End,
			Scanned:    report.Scanned,
			Anomalies:  len(report.Anomalies),
			Model:      report.ModelKey,
		},
		Time: sentAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal report summary: %w", err)
	}
	msgs = append(msgs, kafka.Message{
		Key:   []byte("report:" + report.Timestamp.UTC().Format(time.RFC3339)),
		Value: summary,
	})

	for _, a := range report.Anomalies {
		body, err := json.Marshal(envelope{Type: msgTypeAnomaly, Data: a, Time: sentAt})
		if err != nil {
			return fmt.Errorf("failed to marshal anomaly message: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte("block:" + strconv.FormatUint(a.Block, 10)),
			Value: body,
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish to kafka topic %s: %w", k.topic, err)
	}

	k.logger.Info("Published anomaly report",
		zap.String("topic", k.topic),
		zap.Int("messages", len(msgs)))
	return nil
}

func (k *KafkaPublisher) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}
