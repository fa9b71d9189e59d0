package notify

import (
	"context"
	"log/slog"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.Notifier = (*LogNotifier)(nil)
	_ driven.Notifier = Multi(nil)
)

// LogNotifier writes credential notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs failures at error level and recoveries at info level.
func (n *LogNotifier) Notify(ctx context.Context, note *domain.CredentialNotification) error {
	attrs := []any{
		"credential", note.Credential,
		"consecutive_failures", note.Failures,
	}
	if note.Kind == domain.NotificationRecovered {
		n.logger.InfoContext(ctx, "credential recovered", attrs...)
		return nil
	}
	n.logger.ErrorContext(ctx, "credential check failed", append(attrs, "error", note.Error)...)
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// called; the first error is returned.
type Multi []driven.Notifier

// Notify delivers note to every notifier.
func (m Multi) Notify(ctx context.Context, note *domain.CredentialNotification) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil && first == nil {
			first = err
		}
	}
	return first
}
