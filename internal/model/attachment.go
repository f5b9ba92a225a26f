package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Attachment is a file carried with an outgoing message.
// Content is base64 in JSON form.
type Attachment struct {
	Filename    string `json:"filename"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// Attachments is stored as a nullable JSON column.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]Attachment(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attachments: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	var out []Attachment
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	*a = out
	return nil
}
