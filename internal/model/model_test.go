package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientsUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Recipients
		wantErr bool
	}{
		{"single string", `"a@x.com, b@x.com"`, Recipients{"a@x.com, b@x.com"}, false},
		{"list", `["a@x.com","b@x.com"]`, Recipients{"a@x.com", "b@x.com"}, false},
		{"number", `42`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Recipients
			err := json.Unmarshal([]byte(tt.in), &r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r)
		})
	}
}

func TestAttachmentsValueScan(t *testing.T) {
	v, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	in := Attachments{{Filename: "a.pdf", Content: []byte{0x25, 0x50}, ContentType: "application/pdf"}}
	v, err = in.Value()
	require.NoError(t, err)

	var out Attachments
	require.NoError(t, out.Scan([]byte(v.(string))))
	assert.Equal(t, in, out)

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)

	assert.Error(t, out.Scan(12))
	assert.Error(t, out.Scan("{not json"))
}

func TestMessageStatus(t *testing.T) {
	assert.True(t, StatusRetrying.Valid())
	assert.False(t, MessageStatus("DONE").Valid())
	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestClaimable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	tests := []struct {
		name string
		msg  OutgoingMessage
		want bool
	}{
		{"queued and due", OutgoingMessage{Status: StatusQueued, NextAttemptAt: now}, true},
		{"retrying not yet due", OutgoingMessage{Status: StatusRetrying, NextAttemptAt: future}, false},
		{"leased", OutgoingMessage{Status: StatusProcessing, NextAttemptAt: past, LockedUntil: &future}, false},
		{"lease expired", OutgoingMessage{Status: StatusProcessing, NextAttemptAt: past, LockedUntil: &past}, true},
		{"sent", OutgoingMessage{Status: StatusSent, NextAttemptAt: past}, false},
		{"failed", OutgoingMessage{Status: StatusFailed, NextAttemptAt: past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Claimable(now))
		})
	}
}

func TestOutgoingMessageRecipients(t *testing.T) {
	m := OutgoingMessage{ToRecipients: "a@x.com, ,b@x.com "}
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, m.Recipients())
}
