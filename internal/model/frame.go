package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the "type" field of a relay frame.
type EventType string

const (
	NewMessage      EventType = "NEW_MESSAGE"
	InitialMessages EventType = "INITIAL_MESSAGES"
	MessageCreated  EventType = "MESSAGE_CREATED"
)

// Frame is the JSON envelope exchanged over the relay connection.
type Frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFrame marshals payload into a frame of the given type.
func EncodeFrame(t EventType, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s payload: %w", t, err)
	}
	b, err := json.Marshal(Frame{Type: t, Payload: p})
	if err != nil {
		return nil, fmt.Errorf("could not encode %s frame: %w", t, err)
	}
	return b, nil
}

// DecodeFrame parses a raw frame. The payload is left undecoded.
func DecodeFrame(p []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return Frame{}, fmt.Errorf("could not decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("could not decode frame: missing type")
	}
	return f, nil
}

// Message decodes the payload of a MESSAGE_CREATED or NEW_MESSAGE frame.
func (f Frame) Message() (Message, error) {
	var m Message
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		return Message{}, fmt.Errorf("could not decode %s payload: %w", f.Type, err)
	}
	return m, nil
}

// Messages decodes the payload of an INITIAL_MESSAGES frame.
func (f Frame) Messages() ([]Message, error) {
	var ms []Message
	if err := json.Unmarshal(f.Payload, &ms); err != nil {
		return nil, fmt.Errorf("could not decode %s payload: %w", f.Type, err)
	}
	if ms == nil {
		ms = []Message{}
	}
	return ms, nil
}
