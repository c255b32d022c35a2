package solana

import "context"

// LogSubscriber streams transaction log notifications.
type LogSubscriber interface {
	// SubscribeLogs subscribes to logs of transactions matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the underlying connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters transactions that mention this address.
	// The node accepts a single address per subscription.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
