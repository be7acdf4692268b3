package bot

import (
	"context"
	"fmt"

	"chain-anomaly-watch/internal/domain"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier pushes a chat alert for every report that flagged anything.
type Notifier struct {
	sender sender
	chat   tele.ChatID
	tracer trace.Tracer
	logger *zap.Logger
}

func NewNotifier(s sender, chatID int64, tracer trace.Tracer, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: s, chat: tele.ChatID(chatID), tracer: tracer, logger: logger}
}

func (n *Notifier) Name() string {
	return "telegram"
}

func (n *Notifier) Publish(ctx context.Context, report *domain.AnomalyReport) error {
	_, span := n.tracer.Start(ctx, "telegram-notifier.publish")
	defer span.End()

	if report == nil || len(report.Anomalies) == 0 {
		return nil
	}
	if _, err := n.sender.Send(n.chat, FormatReport(report)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("send telegram alert: %w", err)
	}
	n.logger.Info("Sent anomaly alert", zap.Int("anomalies", len(report.Anomalies)))
	return nil
}
