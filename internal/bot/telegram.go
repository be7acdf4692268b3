package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chain-anomaly-watch/internal/domain"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// maxListed caps how many transactions a chat message spells out.
const maxListed = 10

// LatestReports exposes the most recent completed scan.
type LatestReports interface {
	Latest(ctx context.Context) (*domain.AnomalyReport, error)
}

// NewBot builds a Telegram client. With poll set the bot long-polls for
// commands; otherwise it only sends.
func NewBot(token string, poll bool) (*tele.Bot, error) {
	pref := tele.Settings{Token: token}
	if poll {
		pref.Poller = &tele.LongPoller{Timeout: 10 * time.Second}
	} else {
		pref.Offline = true
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return b, nil
}

// StartCommands registers the chat commands and starts polling in the background.
func StartCommands(b *tele.Bot, reports LatestReports, logger *zap.Logger) {
	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/latest", func(c tele.Context) error {
		return c.Send(latestReply(context.Background(), reports))
	})

	logger.Info("Telegram bot started")
	go b.Start()
}

func latestReply(ctx context.Context, reports LatestReports) string {
	report, err := reports.Latest(ctx)
	if err != nil {
		return fmt.Sprintf("Error loading latest scan: %v", err)
	}
	if report == nil {
		return "No scan has completed yet."
	}
	return FormatReport(report)
}

// FormatReport renders a report as a short plain-text chat message.
func FormatReport(report *domain.AnomalyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan at %s\n", report.Timestamp.UTC().Format(time.RFC3339))
	if report.Scanned > 0 {
		fmt.Fprintf(&sb, "Blocks %d-%d, %d transactions\n", report.Range.Start, report.Range.End, report.Scanned)
	}
	fmt.Fprintf(&sb, "Anomalies: %d", len(report.Anomalies))

	for i, a := range report.Anomalies {
		if i == maxListed {
			fmt.Fprintf(&sb, "\n... and %d more", len(report.Anomalies)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "\n#%d  block %d  value %s", i+1, a.Block, a.Value.String())
	}
	return sb.String()
}
