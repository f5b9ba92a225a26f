package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("outgoing message not found")

// OutboxRepository defines persistence for the outgoing_messages table.
// Claim is the only mutual-exclusion primitive: a conditional update that re-checks
// the due predicate, so at most one caller wins a given row.
type OutboxRepository interface {
	Create(ctx context.Context, msg *model.OutgoingMessage) error
	// FindDue returns the earliest-due claimable message, or nil when none is due.
	FindDue(ctx context.Context, now time.Time) (*model.OutgoingMessage, error)
	// Claim reports false (and no error) when another worker got there first.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
	FindByID(ctx context.Context, id string) (*model.OutgoingMessage, error)
	// Complete writes back the outcome of the claim that produced attempt. It reports
	// false when that claim no longer holds the row (lease expired and reclaimed, or
	// the row is gone); nothing is written then.
	Complete(ctx context.Context, id string, attempt int, t model.Transition) (bool, error)
	// Delete removes a message that is not in flight (QUEUED or RETRYING without an active lease).
	Delete(ctx context.Context, id string, now time.Time) (bool, error)
}

const outboxColumns = `id, template, to_recipients, subject, text_body, html_body, attachments,
	status, attempt_count, first_queued_at, last_attempt_at, next_attempt_at,
	locked_until, last_error, sent_at`

// a PROCESSING row always carries a lease, so an expired one is reclaimable
var claimablePredicate = fmt.Sprintf(
	`status IN ('%s', '%s', '%s') AND next_attempt_at <= ? AND (locked_until IS NULL OR locked_until <= ?)`,
	model.StatusQueued, model.StatusRetrying, model.StatusProcessing,
)

var cancellablePredicate = fmt.Sprintf(
	`status IN ('%s', '%s') AND (locked_until IS NULL OR locked_until <= ?)`,
	model.StatusQueued, model.StatusRetrying,
)

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Create(ctx context.Context, m *model.OutgoingMessage) error {
	const q = `
		INSERT INTO outgoing_messages
		    (id, template, to_recipients, subject, text_body, html_body, attachments,
		     status, attempt_count, first_queued_at, next_attempt_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		m.ID, m.Template, m.ToRecipients, m.Subject, m.TextBody, m.HTMLBody, m.Attachments,
		m.Status, m.AttemptCount, m.FirstQueuedAt, m.NextAttemptAt,
	)
	return err
}

func (r *OutboxRepositoryImpl) FindDue(ctx context.Context, now time.Time) (*model.OutgoingMessage, error) {
	q := `SELECT ` + outboxColumns + `
		  FROM outgoing_messages
		 WHERE ` + claimablePredicate + `
		 ORDER BY next_attempt_at ASC, first_queued_at ASC, id ASC
		 LIMIT 1`

	var m model.OutgoingMessage
	err := r.db.GetContext(ctx, &m, r.db.Rebind(q), now, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *OutboxRepositoryImpl) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	q := `UPDATE outgoing_messages
		   SET status = ?, attempt_count = attempt_count + 1, last_attempt_at = ?, locked_until = ?
		 WHERE id = ? AND ` + claimablePredicate

	res, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		model.StatusProcessing, now, now.Add(lease), id, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OutboxRepositoryImpl) FindByID(ctx context.Context, id string) (*model.OutgoingMessage, error) {
	q := `SELECT ` + outboxColumns + ` FROM outgoing_messages WHERE id = ? LIMIT 1`

	var m model.OutgoingMessage
	err := r.db.GetContext(ctx, &m, r.db.Rebind(q), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *OutboxRepositoryImpl) Complete(ctx context.Context, id string, attempt int, t model.Transition) (bool, error) {
	q := `
		UPDATE outgoing_messages
		   SET status = ?,
		       next_attempt_at = COALESCE(?, next_attempt_at),
		       last_error = ?,
		       sent_at = COALESCE(?, sent_at),
		       locked_until = NULL
		 WHERE id = ? AND attempt_count = ? AND status = '` + string(model.StatusProcessing) + `'
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), t.Status, t.NextAttemptAt, t.LastError, t.SentAt, id, attempt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OutboxRepositoryImpl) Delete(ctx context.Context, id string, now time.Time) (bool, error) {
	q := `DELETE FROM outgoing_messages WHERE id = ? AND ` + cancellablePredicate

	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
