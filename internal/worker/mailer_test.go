package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/transport"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubTransport struct {
	mu    sync.Mutex
	sent  []transport.Message
	calls atomic.Int32
	fn    func(ctx context.Context, msg transport.Message) (string, error)
}

func (s *stubTransport) Send(ctx context.Context, msg transport.Message) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, msg)
	}
	return "<ok@test>", nil
}

func failingWith(msg string) *stubTransport {
	return &stubTransport{fn: func(context.Context, transport.Message) (string, error) {
		return "", errors.New(msg)
	}}
}

type memJournal struct {
	mu   sync.Mutex
	rows []model.DeliveryAttempt
}

func (j *memJournal) Record(_ context.Context, a model.DeliveryAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, a)
	return nil
}

func (j *memJournal) ListByOutboxID(context.Context, string, int) ([]model.DeliveryAttempt, error) {
	return nil, nil
}

func newMailer(repo repository.OutboxRepository, tr transport.Transport) *Mailer {
	m := NewMailer(repo, tr, nil, "noreply@club.test", nil)
	m.Now = func() time.Time { return testNow }
	return m
}

func seed(t *testing.T, repo repository.OutboxRepository, id string, mutate ...func(*model.OutgoingMessage)) {
	t.Helper()
	msg := &model.OutgoingMessage{
		ID:            id,
		Template:      "welcome",
		ToRecipients:  "a@x.com, b@x.com",
		Subject:       "Welcome",
		TextBody:      "hello",
		HTMLBody:      "hello",
		Status:        model.StatusQueued,
		FirstQueuedAt: testNow,
		NextAttemptAt: testNow,
	}
	for _, fn := range mutate {
		fn(msg)
	}
	require.NoError(t, repo.Create(context.Background(), msg))
}

func TestProcessDueBatch_SuccessMarksSent(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")
	tr := &stubTransport{}
	journal := &memJournal{}

	m := newMailer(repo, tr)
	m.Journal = journal
	n, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := repo.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, rec.Status)
	require.NotNil(t, rec.SentAt)
	assert.Equal(t, testNow, *rec.SentAt)
	assert.Nil(t, rec.LastError)
	assert.Nil(t, rec.LockedUntil)
	assert.Equal(t, 1, rec.AttemptCount)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, tr.sent[0].To)
	assert.Equal(t, "noreply@club.test", tr.sent[0].From)

	require.Len(t, journal.rows, 1)
	assert.Equal(t, model.StatusSent, journal.rows[0].Status)
	assert.Equal(t, "<ok@test>", journal.rows[0].ProviderMsgID)
}

func TestProcessDueBatch_TransientSchedulesRetry(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1", func(m *model.OutgoingMessage) {
		m.AttemptCount = 1
		m.FirstQueuedAt = testNow.Add(-10 * time.Minute)
	})

	m := newMailer(repo, failingWith("Connection timeout"))
	n, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusRetrying, rec.Status)
	assert.Equal(t, 2, rec.AttemptCount)
	assert.Equal(t, testNow.Add(2*time.Minute), rec.NextAttemptAt)
	assert.Nil(t, rec.LockedUntil)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "Connection timeout")

	// not due again until the retry time
	n, err = m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessDueBatch_LongTierAfterThreeAttempts(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1", func(m *model.OutgoingMessage) {
		m.Status = model.StatusRetrying
		m.AttemptCount = 3
		m.FirstQueuedAt = testNow.Add(-time.Hour)
	})

	m := newMailer(repo, failingWith("421 service not available"))
	_, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusRetrying, rec.Status)
	assert.Equal(t, testNow.Add(10*time.Minute), rec.NextAttemptAt)
}

func TestProcessDueBatch_FailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    string
		seed   func(*model.OutgoingMessage)
		status model.MessageStatus
	}{
		{name: "permanent", err: "Invalid credentials", status: model.StatusFailed},
		{name: "permanent on first attempt with fresh budget", err: "550 mailbox unavailable",
			seed: func(m *model.OutgoingMessage) { m.FirstQueuedAt = testNow }, status: model.StatusFailed},
		{name: "unknown is not retried", err: "something odd happened", status: model.StatusFailed},
		{name: "transient with budget exhausted", err: "ECONNRESET",
			seed: func(m *model.OutgoingMessage) {
				m.AttemptCount = 30
				m.FirstQueuedAt = testNow.Add(-24 * time.Hour)
			}, status: model.StatusFailed},
		{name: "transient whose candidate overshoots budget", err: "rate limit exceeded",
			seed: func(m *model.OutgoingMessage) {
				m.AttemptCount = 8
				m.FirstQueuedAt = testNow.Add(-24*time.Hour + 5*time.Minute)
			}, status: model.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryOutbox()
			if tt.seed != nil {
				seed(t, repo, "m1", tt.seed)
			} else {
				seed(t, repo, "m1")
			}

			m := newMailer(repo, failingWith(tt.err))
			n, err := m.ProcessDueBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			rec, _ := repo.FindByID(context.Background(), "m1")
			assert.Equal(t, tt.status, rec.Status)
			assert.Nil(t, rec.LockedUntil)
			require.NotNil(t, rec.LastError)
			assert.Contains(t, *rec.LastError, tt.err)
		})
	}
}

func TestProcessDueBatch_ConfigurationErrorFailsWithoutRetry(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")

	tr := transport.NewSMTPTransport(transport.SMTPConfig{}, 0, 0)
	m := newMailer(repo, tr)
	_, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusFailed, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "smtp configuration incomplete")
}

func TestProcessDueBatch_RespectsBatchSize(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	for i := 0; i < 15; i++ {
		seed(t, repo, fmt.Sprintf("m%02d", i))
	}
	tr := &stubTransport{}
	m := newMailer(repo, tr)

	n, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n, "stops early once drained")

	n, err = m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(15), tr.calls.Load())
}

func TestProcessDueBatch_OrderIsEarliestDueFirst(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "late", func(m *model.OutgoingMessage) { m.NextAttemptAt = testNow.Add(-time.Minute) })
	seed(t, repo, "early", func(m *model.OutgoingMessage) { m.NextAttemptAt = testNow.Add(-time.Hour) })
	tr := &stubTransport{}

	m := newMailer(repo, tr)
	_, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, "early", tr.sent[0].ID)
	assert.Equal(t, "late", tr.sent[1].ID)
}

type racingRepo struct {
	repository.OutboxRepository
}

func (racingRepo) Claim(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, nil
}

func TestClaimNext_LostRaceReturnsNone(t *testing.T) {
	inner := repository.NewMemoryOutbox()
	seed(t, inner, "m1")
	tr := &stubTransport{}

	m := newMailer(racingRepo{inner}, tr)
	rec, err := m.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Zero(t, tr.calls.Load())
}

func TestClaimNext_ConcurrentCallersSingleWinner(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")
	tr := &stubTransport{}

	a, b := newMailer(repo, tr), newMailer(repo, tr)
	var wg sync.WaitGroup
	var claimed atomic.Int32
	for _, m := range []*Mailer{a, b} {
		wg.Add(1)
		go func(m *Mailer) {
			defer wg.Done()
			rec, err := m.ClaimNext(context.Background())
			if err == nil && rec != nil {
				claimed.Add(1)
			}
		}(m)
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusProcessing, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
}

func TestClaimNext_ReclaimsExpiredLease(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1", func(m *model.OutgoingMessage) {
		expired := testNow.Add(-time.Second)
		m.Status = model.StatusProcessing
		m.AttemptCount = 1
		m.LockedUntil = &expired
	})
	tr := &stubTransport{}

	n, err := newMailer(repo, tr).ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusSent, rec.Status)
	assert.Equal(t, 2, rec.AttemptCount)
}

type brokenRepo struct {
	repository.OutboxRepository
}

func (brokenRepo) FindDue(context.Context, time.Time) (*model.OutgoingMessage, error) {
	return nil, errors.New("db down")
}

func TestProcessDueBatch_StoreErrorPropagates(t *testing.T) {
	m := newMailer(brokenRepo{repository.NewMemoryOutbox()}, &stubTransport{})
	n, err := m.ProcessDueBatch(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessSingleEmail_InterruptedSendKeepsLease(t *testing.T) {
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")

	ctx, cancel := context.WithCancel(context.Background())
	tr := &stubTransport{fn: func(ctx context.Context, _ transport.Message) (string, error) {
		cancel()
		return "", ctx.Err()
	}}

	m := newMailer(repo, tr)
	n, err := m.ProcessDueBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusProcessing, rec.Status)
	assert.NotNil(t, rec.LockedUntil)
}

func TestProcessSingleEmail_LogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")

	m := newMailer(repo, failingWith("Invalid credentials"))
	m.Log = zap.New(core)
	_, err := m.ProcessDueBatch(context.Background())
	require.NoError(t, err)

	failed := logs.FilterField(zap.String("action", "email.failed")).All()
	require.Len(t, failed, 1)
	ctx := failed[0].ContextMap()
	assert.Equal(t, "m1", ctx["outbox_id"])
	assert.Equal(t, "welcome", ctx["template"])
	assert.Equal(t, "permanent", ctx["kind"])
	assert.EqualValues(t, 1, ctx["attempt"])
}

func TestProcessSingleEmail_StaleWriteBackLeavesReclaimedRecord(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := repository.NewMemoryOutbox()
	seed(t, repo, "m1")

	// while A is stuck in Send its lease runs out and B delivers the record
	later := testNow.Add(2 * DefaultLease)
	b := newMailer(repo, &stubTransport{})
	b.Now = func() time.Time { return later }

	a := newMailer(repo, &stubTransport{fn: func(ctx context.Context, _ transport.Message) (string, error) {
		n, err := b.ProcessDueBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return "", errors.New("535 Invalid credentials")
	}})
	a.Log = zap.New(core)

	n, err := a.ProcessDueBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := repo.FindByID(context.Background(), "m1")
	assert.Equal(t, model.StatusSent, rec.Status)
	assert.Nil(t, rec.LastError)
	assert.Equal(t, 2, rec.AttemptCount)
	assert.Len(t, logs.FilterField(zap.String("action", "email.lease_lost")).All(), 1)
}
