package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/kafka"
	"github.com/jmehdipour/mail-outbox/internal/metrics"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/service/queue"
	"go.uber.org/zap"
)

// Source is the subset of kafka.Consumer the intake needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req model.EmailRequest) (queue.Result, error)
}

// Intake bridges a Kafka topic of email requests into the outbox.
// Offsets are committed only after the row is persisted (at-least-once);
// messages that can never be enqueued are committed and skipped.
type Intake struct {
	Source Source
	Queue  Enqueuer
	Log    *zap.Logger
	Pause  time.Duration // wait between retries after fetch or store errors
}

func NewIntake(src Source, q Enqueuer, log *zap.Logger) *Intake {
	if log == nil {
		log = zap.NewNop()
	}
	return &Intake{Source: src, Queue: q, Log: log, Pause: time.Second}
}

// Run consumes until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	for {
		m, err := in.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.Log.Warn("kafka fetch failed", zap.String("action", "intake.fetch_failed"), zap.Error(err))
			if !in.wait(ctx) {
				return nil
			}
			continue
		}
		if err := in.Handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle enqueues one message and commits it.
func (in *Intake) Handle(ctx context.Context, m kafka.Message) error {
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}

	var req model.EmailRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		return in.skip(ctx, m, append(fields, zap.Error(err)))
	}

	for {
		res, err := in.Queue.Enqueue(ctx, req)
		if err == nil {
			metrics.IntakeTotal.WithLabelValues("queued").Inc()
			in.Log.Info("intake queued",
				append(fields, zap.String("action", "intake.queued"), zap.String("outbox_id", res.OutboxID))...)
			break
		}
		if errors.Is(err, queue.ErrInvalidRecipients) || errors.Is(err, queue.ErrTemplate) {
			return in.skip(ctx, m, append(fields, zap.String("template", req.Template), zap.Error(err)))
		}

		metrics.IntakeTotal.WithLabelValues("retried").Inc()
		in.Log.Warn("intake enqueue failed, retrying",
			append(fields, zap.String("action", "intake.retry"), zap.Error(err))...)
		if !in.wait(ctx) {
			return ctx.Err()
		}
	}

	return in.commit(ctx, m, fields)
}

func (in *Intake) skip(ctx context.Context, m kafka.Message, fields []zap.Field) error {
	metrics.IntakeTotal.WithLabelValues("skipped").Inc()
	in.Log.Warn("intake poison message skipped", append(fields, zap.String("action", "intake.poison"))...)
	return in.commit(ctx, m, fields)
}

func (in *Intake) commit(ctx context.Context, m kafka.Message, fields []zap.Field) error {
	if err := in.Source.Commit(ctx, m); err != nil {
		// redelivery only duplicates the row; the commit error itself is not fatal
		in.Log.Error("kafka commit failed", append(fields, zap.String("action", "intake.commit_failed"), zap.Error(err))...)
	}
	return nil
}

func (in *Intake) wait(ctx context.Context) bool {
	pause := in.Pause
	if pause <= 0 {
		pause = time.Second
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
