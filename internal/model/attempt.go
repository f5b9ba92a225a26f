package model

import "time"

// DeliveryAttempt is one row of the append-only attempt journal (ClickHouse).
type DeliveryAttempt struct {
	OutboxID      string        `db:"outbox_id"      json:"outbox_id"`
	Template      string        `db:"template"       json:"template"`
	Recipients    string        `db:"recipients"     json:"recipients"`
	Attempt       int           `db:"attempt"        json:"attempt"`
	Status        MessageStatus `db:"status"         json:"status"` // SENT|RETRYING|FAILED
	ErrorKind     string        `db:"error_kind"     json:"error_kind,omitempty"`
	Error         string        `db:"error"          json:"error,omitempty"`
	ProviderMsgID string        `db:"provider_msg_id" json:"provider_msg_id,omitempty"`
	AttemptedAt   time.Time     `db:"attempted_at"   json:"attempted_at"`
}
