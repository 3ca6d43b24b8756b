package email

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log. Used when Postmark is not configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "email (not sent, dev sender)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.Int("body_len", len(msg.TextBody)),
	)
	return nil
}

// New picks Postmark when credentials are configured and LogSender otherwise.
func New(cfg Config, log *slog.Logger) (Sender, error) {
	if cfg.Enabled() {
		return NewPostmarkClient(cfg)
	}
	return NewLogSender(log), nil
}
