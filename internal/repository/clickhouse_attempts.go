package repository

import (
	"context"

	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptJournal records one row per delivery attempt for reporting.
// It is append-only; the outbox row stays the source of truth.
type AttemptJournal interface {
	Record(ctx context.Context, a model.DeliveryAttempt) error
	ListByOutboxID(ctx context.Context, outboxID string, limit int) ([]model.DeliveryAttempt, error)
}

type chAttemptJournal struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptJournal(ch *sqlx.DB) AttemptJournal {
	return &chAttemptJournal{ch: ch}
}

func (r *chAttemptJournal) Record(ctx context.Context, a model.DeliveryAttempt) error {
	const q = `
		INSERT INTO mailoutbox.email_attempts
		    (outbox_id, template, recipients, attempt, status, error_kind, error, provider_msg_id, attempted_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		a.OutboxID, a.Template, a.Recipients, a.Attempt, a.Status.String(),
		a.ErrorKind, a.Error, a.ProviderMsgID, a.AttemptedAt,
	)
	return err
}

func (r *chAttemptJournal) ListByOutboxID(ctx context.Context, outboxID string, limit int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	const q = `
		SELECT outbox_id, template, recipients, attempt, status, error_kind, error, provider_msg_id, attempted_at
		FROM mailoutbox.email_attempts
		WHERE outbox_id = ?
		ORDER BY attempted_at ASC, attempt ASC
		LIMIT ?
	`
	var rows []model.DeliveryAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, outboxID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// NopJournal is used when ClickHouse is not configured.
type NopJournal struct{}

func (NopJournal) Record(context.Context, model.DeliveryAttempt) error { return nil }

func (NopJournal) ListByOutboxID(context.Context, string, int) ([]model.DeliveryAttempt, error) {
	return nil, nil
}
