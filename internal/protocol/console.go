package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies console websocket payload variants.
type MessageType string

const (
	TypeActivity    MessageType = "activity"
	TypeUserText    MessageType = "user_text"
	TypeClientEvent MessageType = "client_event"
	TypeState       MessageType = "state"
	TypeEntry       MessageType = "entry"
	TypeEvent       MessageType = "event"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Activity reports raw input-device interaction observed by the UI.
type Activity struct {
	Type   MessageType `json:"type"`
	Source string      `json:"source,omitempty"`
}

type UserText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientEvent struct {
	Type  MessageType `json:"type"`
	Event Event       `json:"event"`
}

type StateUpdate struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
	Error string      `json:"error,omitempty"`
}

type EntryUpdate struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Subtype string      `json:"subtype"`
}

type EventUpdate struct {
	Type      MessageType `json:"type"`
	Direction string      `json:"direction"`
	Event     Event       `json:"event"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseConsoleMessage decodes a message sent by a console client.
func ParseConsoleMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeActivity:
		var msg Activity
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUserText:
		var msg UserText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_text")
		}
		return msg, nil
	case TypeClientEvent:
		var msg ClientEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Event.Kind == "" {
			return nil, errors.New("invalid client_event")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
