package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/delivery"
	"github.com/jmehdipour/mail-outbox/internal/metrics"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/transport"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize = 10
	DefaultLease     = 5 * time.Minute

	// writes after a send must land even while shutting down
	writebackTimeout = 10 * time.Second
)

// Mailer:
// - claims due outbox rows one at a time (conditional update + lease),
// - hands them to the transport,
// - writes back SENT / RETRYING / FAILED and journals the attempt.
type Mailer struct {
	// Dependencies
	Repo      repository.OutboxRepository
	Transport transport.Transport
	Journal   repository.AttemptJournal
	Log       *zap.Logger

	// Behavior
	From      string
	BatchSize int           // max records per ProcessDueBatch
	Lease     time.Duration // how long a claim stays exclusive
	Retry     delivery.RetryPolicy
	Now       func() time.Time
}

// NewMailer builds a mailer with sane defaults.
func NewMailer(repo repository.OutboxRepository, tr transport.Transport, journal repository.AttemptJournal, from string, log *zap.Logger) *Mailer {
	if journal == nil {
		journal = repository.NopJournal{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{
		Repo:      repo,
		Transport: tr,
		Journal:   journal,
		Log:       log,
		From:      from,
		BatchSize: DefaultBatchSize,
		Lease:     DefaultLease,
		Retry:     delivery.DefaultRetryPolicy,
		Now:       time.Now,
	}
}

func (m *Mailer) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

// Result describes what happened to one claimed record.
type Result struct {
	OutboxID      string
	Status        model.MessageStatus // SENT | RETRYING | FAILED, PROCESSING when abandoned
	Attempt       int
	NextAttemptAt *time.Time
	Err           *delivery.ClassifiedError
}

// ClaimNext claims the earliest due record. It returns nil when nothing is due or when
// another worker won the row; a lost race is never retried within the same call.
func (m *Mailer) ClaimNext(ctx context.Context) (*model.OutgoingMessage, error) {
	now := m.now()
	due, err := m.Repo.FindDue(ctx, now)
	if err != nil || due == nil {
		return nil, err
	}

	lease := m.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	ok, err := m.Repo.Claim(ctx, due.ID, now, lease)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.ClaimRacesTotal.Inc()
		m.Log.Debug("claim lost to another worker", zap.String("outbox_id", due.ID))
		return nil, nil
	}

	rec, err := m.Repo.FindByID(ctx, due.ID)
	if err != nil {
		return nil, err
	}
	metrics.EmailsTotal.WithLabelValues(metrics.StageClaimed).Inc()
	m.Log.Info("email claimed",
		zap.String("action", "email.claimed"),
		zap.String("outbox_id", rec.ID),
		zap.Int("attempt", rec.AttemptCount),
	)
	return rec, nil
}

// ProcessSingleEmail delivers a claimed record and records the outcome.
// Transport errors never escape; they become a status transition.
func (m *Mailer) ProcessSingleEmail(ctx context.Context, rec *model.OutgoingMessage) Result {
	res := Result{OutboxID: rec.ID, Attempt: rec.AttemptCount}
	recipients := rec.Recipients()

	providerID, sendErr := m.Transport.Send(ctx, transport.Message{
		ID:          rec.ID,
		From:        m.From,
		To:          recipients,
		Subject:     rec.Subject,
		Text:        rec.TextBody,
		HTML:        rec.HTMLBody,
		Attachments: rec.Attachments,
	})

	fields := []zap.Field{
		zap.String("outbox_id", rec.ID),
		zap.String("template", rec.Template),
		zap.Strings("to", recipients),
		zap.Int("attempt", rec.AttemptCount),
	}

	if sendErr != nil && ctx.Err() != nil {
		// shutting down mid-send: leave the lease to expire so another worker retries
		res.Status = model.StatusProcessing
		m.Log.Warn("send interrupted, record left to lease expiry",
			append(fields, zap.String("action", "email.abandoned"), zap.Error(sendErr))...)
		return res
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writebackTimeout)
	defer cancel()

	now := m.now()
	var t model.Transition
	switch {
	case sendErr == nil:
		t = model.Transition{Status: model.StatusSent, SentAt: &now}
		res.Status = model.StatusSent
		metrics.EmailsTotal.WithLabelValues(metrics.StageSent).Inc()
		m.Log.Info("email sent",
			append(fields, zap.String("action", "email.sent"), zap.String("message_id", providerID))...)

	default:
		ce := delivery.ClassifyError(sendErr)
		res.Err = &ce
		detail := ce.Error()

		var next time.Time
		retry := false
		if ce.Retryable() {
			next, retry = m.Retry.WithDefaults().NextRetryTime(rec.AttemptCount, rec.FirstQueuedAt, now)
		}

		if retry {
			t = model.Transition{Status: model.StatusRetrying, NextAttemptAt: &next, LastError: &detail}
			res.Status = model.StatusRetrying
			res.NextAttemptAt = &next
			metrics.EmailsTotal.WithLabelValues(metrics.StageRetrying).Inc()
			m.Log.Warn("retry scheduled",
				append(fields,
					zap.String("action", "email.retry_scheduled"),
					zap.String("kind", string(ce.Kind)),
					zap.String("error", ce.Detail),
					zap.Time("next_attempt_at", next))...)
		} else {
			t = model.Transition{Status: model.StatusFailed, LastError: &detail}
			res.Status = model.StatusFailed
			metrics.EmailsTotal.WithLabelValues(metrics.StageFailed).Inc()
			m.Log.Error("send failed permanently",
				append(fields,
					zap.String("action", "email.failed"),
					zap.String("kind", string(ce.Kind)),
					zap.String("error", ce.Detail))...)
		}
	}

	ok, err := m.Repo.Complete(wctx, rec.ID, rec.AttemptCount, t)
	switch {
	case err != nil:
		// the lease expires and the record is reclaimed
		m.Log.Error("write back failed",
			append(fields, zap.String("action", "email.writeback_failed"), zap.Error(err))...)
	case !ok:
		// another worker reclaimed the row after our lease ran out; its outcome stands
		m.Log.Warn("lease lost before write back",
			append(fields, zap.String("action", "email.lease_lost"), zap.String("status", string(t.Status)))...)
	}

	m.journal(wctx, rec, res, providerID, now)
	return res
}

func (m *Mailer) journal(ctx context.Context, rec *model.OutgoingMessage, res Result, providerID string, at time.Time) {
	a := model.DeliveryAttempt{
		OutboxID:      rec.ID,
		Template:      rec.Template,
		Recipients:    rec.ToRecipients,
		Attempt:       rec.AttemptCount,
		Status:        res.Status,
		ProviderMsgID: providerID,
		AttemptedAt:   at,
	}
	if res.Err != nil {
		a.ErrorKind = string(res.Err.Kind)
		a.Error = res.Err.Detail
	}
	if err := m.Journal.Record(ctx, a); err != nil {
		m.Log.Warn("attempt journal write failed", zap.String("outbox_id", rec.ID), zap.Error(err))
	}
}

// ProcessDueBatch runs the pipeline up to BatchSize times and stops at the first
// empty claim. It returns how many records were actually processed.
func (m *Mailer) ProcessDueBatch(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	size := m.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	processed := 0
	for i := 0; i < size; i++ {
		if ctx.Err() != nil {
			break
		}
		rec, err := m.ClaimNext(ctx)
		if err != nil {
			return processed, err
		}
		if rec == nil {
			break
		}
		if res := m.ProcessSingleEmail(ctx, rec); res.Status != model.StatusProcessing {
			processed++
		}
	}
	return processed, nil
}
