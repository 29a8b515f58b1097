// Package model defines data structure.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the format used for generated timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var ErrInvalidMessage = errors.New("invalid message")

// Attachment references a file stored by the upload handler.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // MIME type
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Message is a single entry of the message log. It is used for the store,
// the REST surface and the relay payloads.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Timestamp  string      `json:"timestamp"`
	Read       bool        `json:"read"`
	Attachment *Attachment `json:"attachment,omitempty"`

	// Only set on assistant messages.
	Thinking     []string `json:"thinking,omitempty"`
	IsAIResponse bool     `json:"isAiResponse,omitempty"`
	Role         string   `json:"role,omitempty"`
}

type Sanitizer interface {
	Sanitize(s string) string
}

// DecodeMessage parses p and validates the result. Unknown fields are
// dropped; id and timestamp are left as sent.
func DecodeMessage(p []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(p, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the fields every stored message needs.
func (m Message) Validate() error {
	switch {
	case m.SenderID == "":
		return fmt.Errorf("%w: missing senderId", ErrInvalidMessage)
	case m.ReceiverID == "":
		return fmt.Errorf("%w: missing receiverId", ErrInvalidMessage)
	case m.Content == "" && m.Attachment == nil:
		return fmt.Errorf("%w: missing content", ErrInvalidMessage)
	case m.Role != "" && m.Role != "user" && m.Role != "assistant":
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	return nil
}

// WithDefaults fills in a generated id and timestamp when absent.
func (m Message) WithDefaults(now time.Time) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = now.UTC().Format(TimestampLayout)
	}
	return m
}

// Sanitize strips markup from the user supplied text fields.
func (m *Message) Sanitize(s Sanitizer) {
	if s == nil {
		return
	}
	m.Content = s.Sanitize(m.Content)
	if m.Attachment != nil {
		m.Attachment.Name = s.Sanitize(m.Attachment.Name)
	}
}

// Clone returns a deep copy so callers can't share slices or the attachment.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.Thinking != nil {
		m.Thinking = append([]string(nil), m.Thinking...)
	}
	return m
}
