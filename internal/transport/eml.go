package transport

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/wneessen/go-mail"
)

// HeaderOutboxID carries the outbox record id on every composed message.
const HeaderOutboxID mail.Header = "X-Outbox-ID"

// Compose builds the MIME message shared by the SMTP relay and the dev .eml writer:
// text body, html alternative when present, one part per attachment.
// An empty messageID lets go-mail generate one.
func Compose(msg Message, messageID string, date time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address rejected: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient address rejected: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(date)
	if messageID == "" {
		m.SetMessageID()
	} else {
		m.SetMessageIDWithValue(messageID)
	}
	if msg.ID != "" {
		m.SetGenHeader(HeaderOutboxID, msg.ID)
	}

	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		if err := m.AttachReader(a.Filename, bytes.NewReader(a.Content),
			mail.WithFileContentType(mail.ContentType(contentTypeOf(a)))); err != nil {
			return nil, fmt.Errorf("attach %q: %w", a.Filename, err)
		}
	}
	return m, nil
}

// ComposeEML renders msg as an RFC 5322 document, the same bytes the relay would receive.
func ComposeEML(msg Message, messageID string, date time.Time) ([]byte, error) {
	m, err := Compose(msg, messageID, date)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentTypeOf(a model.Attachment) string {
	if a.ContentType != "" {
		return a.ContentType
	}
	if ct := mime.TypeByExtension(filepath.Ext(a.Filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
