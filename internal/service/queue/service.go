package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/metrics"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/render"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/util"
	"go.uber.org/zap"
)

var (
	ErrInvalidRecipients = errors.New("no valid recipients")
	ErrTemplate          = errors.New("template rendering failed")
	ErrNotCancellable    = errors.New("email is already in flight or finished")
)

// Result is what the caller sees: delivery itself happens later on the worker.
type Result struct {
	Queued   bool   `json:"queued"`
	OutboxID string `json:"outbox_id"`
}

// Service persists outgoing emails into the outbox; it never sends synchronously.
type Service struct {
	repo     repository.OutboxRepository
	renderer render.Renderer
	log      *zap.Logger

	Now func() time.Time
}

// New constructs the queue service.
func New(repo repository.OutboxRepository, renderer render.Renderer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		renderer: renderer,
		log:      log,
		Now:      time.Now,
	}
}

// Enqueue validates the request, renders the template, and writes one QUEUED row
// due immediately. Returns the generated outbox ID.
func (s *Service) Enqueue(ctx context.Context, req model.EmailRequest) (Result, error) {
	recipients := util.NormalizeRecipients(req.To...)
	if len(recipients) == 0 {
		return Result{}, ErrInvalidRecipients
	}

	out, err := s.renderer.Render(req.Template, req.Variables)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	html := out.HTML
	if html == "" {
		html = util.TextToHTML(out.Text)
	}

	now := s.Now().UTC()
	msg := &model.OutgoingMessage{
		ID:            util.NewID(now),
		Template:      req.Template,
		ToRecipients:  util.JoinRecipients(recipients),
		Subject:       out.Subject,
		TextBody:      out.Text,
		HTMLBody:      html,
		Attachments:   normalizeAttachments(req.Attachments),
		Status:        model.StatusQueued,
		AttemptCount:  0,
		FirstQueuedAt: now,
		NextAttemptAt: now,
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("insert outgoing message: %w", err)
	}

	metrics.EmailsTotal.WithLabelValues(metrics.StageQueued).Inc()
	s.log.Info("email queued",
		zap.String("action", "email.queued"),
		zap.String("outbox_id", msg.ID),
		zap.String("template", msg.Template),
		zap.Strings("to", recipients),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return Result{Queued: true, OutboxID: msg.ID}, nil
}

// normalizeAttachments drops entries missing a filename or content.
func normalizeAttachments(in []model.Attachment) model.Attachments {
	var out model.Attachments
	for _, a := range in {
		name := strings.TrimSpace(a.Filename)
		if name == "" || len(a.Content) == 0 {
			continue
		}
		out = append(out, model.Attachment{
			Filename:    name,
			Content:     a.Content,
			ContentType: strings.TrimSpace(a.ContentType),
		})
	}
	return out
}

// Rollback deletes a queued email that no worker holds, e.g. to undo an invitation
// whose surrounding operation failed.
func (s *Service) Rollback(ctx context.Context, outboxID string) error {
	deleted, err := s.repo.Delete(ctx, outboxID, s.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete outgoing message: %w", err)
	}
	if !deleted {
		m, err := s.repo.FindByID(ctx, outboxID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: status %s", ErrNotCancellable, m.Status)
	}

	metrics.EmailsTotal.WithLabelValues(metrics.StageRolledBack).Inc()
	s.log.Info("email rolled back",
		zap.String("action", "email.rollback"),
		zap.String("outbox_id", outboxID),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, outboxID string) (*model.OutgoingMessage, error) {
	return s.repo.FindByID(ctx, outboxID)
}
