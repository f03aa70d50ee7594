package notify

import (
	"context"
	"log/slog"

	"github.com/lottolabs/sollotto/internal/lottery"
)

// LogSink writes announcements to the log. Used when no Slack channel is
// configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, result lottery.DrawResult) error {
	s.log.Info("notify: draw result",
		"cadence", result.Cadence, "window", result.Window,
		"winners", len(result.Winners), "total_pot", result.TotalPot,
		"no_participants", result.NoParticipants)
	return nil
}

func (s *LogSink) Announce(_ context.Context, text string) error {
	s.log.Info("notify: announcement", "text", text)
	return nil
}
