package model

import (
	"encoding/json"
	"fmt"
)

// EmailRequest is the payload accepted by the HTTP API and the Kafka intake topic.
type EmailRequest struct {
	Template    string         `json:"template"`
	Variables   map[string]any `json:"variables,omitempty"`
	To          Recipients     `json:"to"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// Recipients accepts either a single (possibly comma-separated) string or a list of strings.
type Recipients []string

func (r *Recipients) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*r = Recipients{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("recipients must be a string or a list of strings")
	}
	*r = many
	return nil
}
