package cmd

import (
	"log/slog"

	"github.com/dukex/paperdigest/pkg/mail"
	"github.com/dukex/paperdigest/pkg/notify"
)

// NewNotifier logs alerts and, when redisURL is set, also publishes them to
// Redis. The close function is never nil.
func NewNotifier(logger *slog.Logger, redisURL string) (notify.Notifier, func() error, error) {
	logNotifier := notify.NewLogNotifier(logger)

	if redisURL == "" {
		return logNotifier, func() error { return nil }, nil
	}

	redisNotifier, err := notify.NewRedisNotifierFromURL(redisURL)
	if err != nil {
		return nil, nil, err
	}

	return notify.Multi{logNotifier, redisNotifier}, redisNotifier.Close, nil
}

// NewMailSender returns an SMTP sender, or a sender that only logs when no
// host is configured.
func NewMailSender(logger *slog.Logger, cfg mail.SMTPConfig) mail.Sender {
	if cfg.Host == "" {
		return mail.NewLogSender(logger)
	}

	return mail.NewSMTPSender(cfg)
}
