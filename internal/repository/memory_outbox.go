package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/model"
)

// MemoryOutbox is an in-process OutboxRepository used in development when no
// MySQL DSN is configured, and by tests. Every method works on copies.
type MemoryOutbox struct {
	mu   sync.Mutex
	rows map[string]*model.OutgoingMessage
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{rows: make(map[string]*model.OutgoingMessage)}
}

var _ OutboxRepository = (*MemoryOutbox)(nil)

func (r *MemoryOutbox) Create(ctx context.Context, msg *model.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[msg.ID]; ok {
		return fmt.Errorf("outgoing message %s already exists", msg.ID)
	}
	r.rows[msg.ID] = clone(msg)
	return nil
}

func (r *MemoryOutbox) FindDue(ctx context.Context, now time.Time) (*model.OutgoingMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *model.OutgoingMessage
	for _, m := range r.rows {
		if !m.Claimable(now) {
			continue
		}
		if best == nil || dueBefore(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func dueBefore(a, b *model.OutgoingMessage) bool {
	if !a.NextAttemptAt.Equal(b.NextAttemptAt) {
		return a.NextAttemptAt.Before(b.NextAttemptAt)
	}
	if !a.FirstQueuedAt.Equal(b.FirstQueuedAt) {
		return a.FirstQueuedAt.Before(b.FirstQueuedAt)
	}
	return a.ID < b.ID
}

func (r *MemoryOutbox) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || !m.Claimable(now) {
		return false, nil
	}
	until := now.Add(lease)
	at := now
	m.Status = model.StatusProcessing
	m.AttemptCount++
	m.LastAttemptAt = &at
	m.LockedUntil = &until
	return true, nil
}

func (r *MemoryOutbox) FindByID(ctx context.Context, id string) (*model.OutgoingMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (r *MemoryOutbox) Complete(ctx context.Context, id string, attempt int, t model.Transition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != model.StatusProcessing || m.AttemptCount != attempt {
		return false, nil
	}
	m.Status = t.Status
	if t.NextAttemptAt != nil {
		m.NextAttemptAt = *t.NextAttemptAt
	}
	m.LastError = copyPtr(t.LastError)
	if t.SentAt != nil {
		m.SentAt = copyPtr(t.SentAt)
	}
	m.LockedUntil = nil
	return true, nil
}

func (r *MemoryOutbox) Delete(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if m.Status != model.StatusQueued && m.Status != model.StatusRetrying {
		return false, nil
	}
	if m.LockedUntil != nil && m.LockedUntil.After(now) {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

// Len reports the number of stored rows.
func (r *MemoryOutbox) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func clone(m *model.OutgoingMessage) *model.OutgoingMessage {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append(model.Attachments(nil), m.Attachments...)
	}
	c.LastAttemptAt = copyPtr(m.LastAttemptAt)
	c.LockedUntil = copyPtr(m.LockedUntil)
	c.LastError = copyPtr(m.LastError)
	c.SentAt = copyPtr(m.SentAt)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
