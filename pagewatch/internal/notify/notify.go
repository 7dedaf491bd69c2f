// Package notify delivers change notifications to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Message is a change notification.
type Message struct {
	URL         string `json:"url"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Version     string `json:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Baseline    bool   `json:"baseline"`
}

// NewMessage builds the standard notification for a change of url.
func NewMessage(url string) Message {
	return Message{
		URL:     url,
		Subject: url + " has been updated",
		Body:    "Updates are stored in separate files",
	}
}

// Notifier delivers one message. Implementations make a single attempt.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
