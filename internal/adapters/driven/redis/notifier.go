package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Notifier = (*Notifier)(nil)

// CredentialChannel is the Pub/Sub channel credential notifications go to.
const CredentialChannel = "docpipe:credentials"

// Notifier publishes credential notifications as JSON over Redis Pub/Sub so
// that every instance (and any external alerting bridge) sees them.
type Notifier struct {
	client  *redis.Client
	channel string
}

// NewNotifier creates a Notifier publishing on CredentialChannel.
func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client, channel: CredentialChannel}
}

// Notify publishes one notification.
func (n *Notifier) Notify(ctx context.Context, note *domain.CredentialNotification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe delivers notifications to fn until ctx is cancelled.
// Messages that do not decode are logged and dropped.
func (n *Notifier) Subscribe(ctx context.Context, logger *slog.Logger, fn func(*domain.CredentialNotification)) error {
	if logger == nil {
		logger = slog.Default()
	}

	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var note domain.CredentialNotification
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				logger.Warn("dropping malformed credential notification", "error", err)
				continue
			}
			fn(&note)
		}
	}
}
