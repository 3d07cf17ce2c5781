// Package notify publishes offline notifications to an outbound delivery pipeline.
package notify

import (
	"context"
	"time"
)

// Notification tells a user without live sessions that something happened.
type Notification struct {
	UserID    string    `json:"userId"`
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publisher delivers notifications. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// Nop drops every notification.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Notification) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

const previewLimit = 120

// Preview truncates content for notification bodies.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLimit {
		return content
	}
	return string(r[:previewLimit]) + "…"
}
