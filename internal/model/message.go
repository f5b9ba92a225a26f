package model

import (
	"strings"
	"time"
)

type MessageStatus string

const (
	StatusQueued     MessageStatus = "QUEUED"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusRetrying   MessageStatus = "RETRYING"
	StatusSent       MessageStatus = "SENT"
	StatusFailed     MessageStatus = "FAILED"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusRetrying, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status can never be claimed again.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// OutgoingMessage is the DB entity persisted in the outgoing_messages table.
type OutgoingMessage struct {
	ID            string        `db:"id"            json:"id"`
	Template      string        `db:"template"      json:"template"`
	ToRecipients  string        `db:"to_recipients" json:"to"` // "a@x.com, b@x.com"
	Subject       string        `db:"subject"       json:"subject"`
	TextBody      string        `db:"text_body"     json:"-"`
	HTMLBody      string        `db:"html_body"     json:"-"`
	Attachments   Attachments   `db:"attachments"   json:"-"`
	Status        MessageStatus `db:"status"        json:"status"`
	AttemptCount  int           `db:"attempt_count" json:"attempt_count"`
	FirstQueuedAt time.Time     `db:"first_queued_at" json:"first_queued_at"`
	LastAttemptAt *time.Time    `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time     `db:"next_attempt_at" json:"next_attempt_at"`
	LockedUntil   *time.Time    `db:"locked_until"  json:"locked_until,omitempty"`
	LastError     *string       `db:"last_error"    json:"last_error,omitempty"`
	SentAt        *time.Time    `db:"sent_at"       json:"sent_at,omitempty"`
}

// Recipients splits the stored comma-joined list back into addresses.
func (m *OutgoingMessage) Recipients() []string {
	parts := strings.Split(m.ToRecipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Claimable mirrors the store-side claim predicate for a given instant.
func (m *OutgoingMessage) Claimable(now time.Time) bool {
	switch m.Status {
	case StatusQueued, StatusRetrying, StatusProcessing:
	default:
		return false
	}
	if m.NextAttemptAt.After(now) {
		return false
	}
	return m.LockedUntil == nil || !m.LockedUntil.After(now)
}

// Transition is the post-delivery state written back by the worker.
// The lease is always released.
type Transition struct {
	Status        MessageStatus
	NextAttemptAt *time.Time // nil keeps the current value
	LastError     *string    // nil clears it
	SentAt        *time.Time
}
