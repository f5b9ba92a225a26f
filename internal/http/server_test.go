package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/render"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/service/queue"
)

const testKey = "secret-key"

type stubJournal struct {
	rows []model.DeliveryAttempt
}

func (s stubJournal) Record(context.Context, model.DeliveryAttempt) error { return nil }

func (s stubJournal) ListByOutboxID(_ context.Context, id string, _ int) ([]model.DeliveryAttempt, error) {
	var out []model.DeliveryAttempt
	for _, r := range s.rows {
		if r.OutboxID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixture struct {
	srv  *Server
	repo *repository.MemoryOutbox
}

func newFixture(t *testing.T, journal repository.AttemptJournal) fixture {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.APIKeys = []string{testKey}

	tpl, err := render.Default()
	require.NoError(t, err)
	repo := repository.NewMemoryOutbox()

	srv := NewServer(cfg, Deps{Queue: queue.New(repo, tpl, nil), Journal: journal})
	return fixture{srv: srv, repo: repo}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

const welcomeBody = `{"template":"welcome","to":"a@x.com, b@x.com",
	"variables":{"name":"Ada","club":"Chess Club","login_url":"https://example.com"}}`

func TestEnqueueEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/emails", welcomeBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res queue.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.OutboxID)

	m, err := f.repo.FindByID(context.Background(), res.OutboxID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com, b@x.com", m.ToRecipients)
	assert.Equal(t, model.StatusQueued, m.Status)
}

func TestEnqueueEndpoint_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"blank recipients", `{"template":"welcome","to":"   "}`, "invalid_recipients"},
		{"unknown template", `{"template":"nope","to":"a@x.com"}`, "invalid_template"},
		{"missing template", `{"to":"a@x.com"}`, "template is required"},
		{"malformed", `{"template":`, "bad request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/emails", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
	assert.Zero(t, f.repo.Len())
}

func TestGetAndRollbackEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/emails", welcomeBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var res queue.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = f.do(t, http.MethodGet, "/v1/emails/"+res.OutboxID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "QUEUED", got["status"])
	assert.Equal(t, "a@x.com, b@x.com", got["to"])
	assert.NotContains(t, got, "text_body")

	rec = f.do(t, http.MethodDelete, "/v1/emails/"+res.OutboxID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/emails/"+res.OutboxID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/emails/"+res.OutboxID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRollbackEndpoint_InFlight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/emails", welcomeBody)
	var res queue.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	ok, err := f.repo.Claim(context.Background(), res.OutboxID, time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	rec = f.do(t, http.MethodDelete, "/v1/emails/"+res.OutboxID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_cancellable")
}

func TestAttemptsEndpoint(t *testing.T) {
	journal := stubJournal{rows: []model.DeliveryAttempt{
		{OutboxID: "m1", Attempt: 1, Status: model.StatusRetrying, ErrorKind: "transient"},
		{OutboxID: "m1", Attempt: 2, Status: model.StatusSent},
		{OutboxID: "m2", Attempt: 1, Status: model.StatusSent},
	}}
	f := newFixture(t, journal)

	rec := f.do(t, http.MethodGet, "/v1/emails/m1/attempts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                     `json:"count"`
		Results []model.DeliveryAttempt `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, model.StatusSent, body.Results[1].Status)

	rec = f.do(t, http.MethodGet, "/v1/emails/none/attempts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/emails/x", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/emails/x", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.do(t, http.MethodPost, "/v1/emails", welcomeBody)
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mailoutbox_emails_total{stage="queued"}`)
}
