package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/model"
)

func TestReaderConfigDefaults(t *testing.T) {
	rc := readerConfig(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "email.requests", GroupID: "g"})

	assert.Equal(t, 1<<10, rc.MinBytes)
	assert.Equal(t, 10<<20, rc.MaxBytes)
	assert.Zero(t, rc.CommitInterval)
	assert.Equal(t, "email.requests", rc.Topic)
	assert.Equal(t, "g", rc.GroupID)
}

func TestReaderConfigOverrides(t *testing.T) {
	rc := readerConfig(config.KafkaConfig{MinBytes: 10, MaxBytes: 20, CommitInterval: 1500})

	assert.Equal(t, 10, rc.MinBytes)
	assert.Equal(t, 20, rc.MaxBytes)
	assert.Equal(t, 1500*time.Millisecond, rc.CommitInterval)
}

func TestEncodeRequest(t *testing.T) {
	req := model.EmailRequest{
		Template:    "welcome",
		Variables:   map[string]any{"name": "Ada"},
		To:          model.Recipients{"a@x.com"},
		Attachments: []model.Attachment{{Filename: "a.txt", Content: []byte("hi")}},
	}
	m, err := EncodeRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(m.Key))

	var got model.EmailRequest
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, req.To, got.To)
	assert.Equal(t, []byte("hi"), got.Attachments[0].Content)
}
