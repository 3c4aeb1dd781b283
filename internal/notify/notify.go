// Package notify announces finished sync runs to downstream consumers.
package notify

import "context"

// Publisher delivers a JSON-encodable payload and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
	Close() error
}

// Noop drops every payload.
type Noop struct{}

// Publish returns an empty ID.
func (Noop) Publish(context.Context, any) (string, error) { return "", nil }

// Close does nothing.
func (Noop) Close() error { return nil }
