// Package transport delivers composed messages over SMTP, or in dev mode records them
// to the log and/or .eml files instead of contacting a mail server.
package transport

import (
	"context"

	"github.com/jmehdipour/mail-outbox/internal/model"
)

// Message is a fully rendered email ready for delivery.
type Message struct {
	ID          string // outbox id
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []model.Attachment
}

// Transport sends one message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}
