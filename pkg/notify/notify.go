// Package notify sends operator alerts. Every notifier implements
// workflow.Notifier.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Alert is the payload published for every notification.
type Alert struct {
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, category, message string, details map[string]any) error {
	n.logger.ErrorContext(ctx, "Alert", "category", category, "message", message, "details", details)

	return nil
}

const (
	DefaultChannel = "paperdigest:alerts"
	DefaultListKey = "paperdigest:alerts:recent"
	DefaultKeep    = 100
)

// RedisNotifier publishes alerts on a channel and keeps the most recent ones
// in a capped list for dashboards that were not subscribed at the time.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	listKey string
	keep    int64
	now     func() time.Time
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: DefaultChannel,
		listKey: DefaultListKey,
		keep:    DefaultKeep,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewRedisNotifierFromURL parses a redis:// URL.
func NewRedisNotifierFromURL(rawURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewRedisNotifier(redis.NewClient(opts)), nil
}

func (n *RedisNotifier) Notify(ctx context.Context, category, message string, details map[string]any) error {
	payload, err := json.Marshal(Alert{Category: category, Message: message, Details: details, Timestamp: n.now()})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.channel, payload)
	pipe.LPush(ctx, n.listKey, payload)
	pipe.LTrim(ctx, n.listKey, 0, n.keep-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	return nil
}

// Recent returns up to limit stored alerts, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, limit int64) ([]Alert, error) {
	raw, err := n.client.LRange(ctx, n.listKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(raw))

	for _, item := range raw {
		var alert Alert
		if err := json.Unmarshal([]byte(item), &alert); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}

		alerts = append(alerts, alert)
	}

	return alerts, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Notifier matches workflow.Notifier without importing it.
type Notifier interface {
	Notify(ctx context.Context, category, message string, details map[string]any) error
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, category, message string, details map[string]any) error {
	var errs []error

	for _, n := range m {
		if err := n.Notify(ctx, category, message, details); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
