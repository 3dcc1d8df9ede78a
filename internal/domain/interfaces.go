package domain

import (
	"context"
)

// LogHandler receives log events in delivery order.
type LogHandler func(LogEvent)

// LogFeed defines the interface for push-based program log subscriptions
type LogFeed interface {
	Subscribe(ctx context.Context, programID string, handler LogHandler) (Subscription, error)
}

// Subscription is a live log subscription.
// Err delivers at most one error if the feed drops; it is closed after Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// LedgerReader defines how to fetch a confirmed transaction by signature
type LedgerReader interface {
	GetTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error)
}
