package protocol

import (
	"errors"
	"testing"
)

func TestParseConsoleMessageUserText(t *testing.T) {
	msg, err := ParseConsoleMessage([]byte(`{"type":"user_text","text":"ping"}`))
	if err != nil {
		t.Fatalf("ParseConsoleMessage() error = %v", err)
	}
	text, ok := msg.(UserText)
	if !ok {
		t.Fatalf("message type = %T, want UserText", msg)
	}
	if text.Text != "ping" {
		t.Fatalf("Text = %q, want %q", text.Text, "ping")
	}
}

func TestParseConsoleMessageClientEvent(t *testing.T) {
	msg, err := ParseConsoleMessage([]byte(`{"type":"client_event","event":{"type":"response.create"}}`))
	if err != nil {
		t.Fatalf("ParseConsoleMessage() error = %v", err)
	}
	ce, ok := msg.(ClientEvent)
	if !ok {
		t.Fatalf("message type = %T, want ClientEvent", msg)
	}
	if ce.Event.Kind != KindResponseCreate {
		t.Fatalf("Kind = %q, want %q", ce.Event.Kind, KindResponseCreate)
	}
}

func TestParseConsoleMessageActivity(t *testing.T) {
	msg, err := ParseConsoleMessage([]byte(`{"type":"activity","source":"pointer"}`))
	if err != nil {
		t.Fatalf("ParseConsoleMessage() error = %v", err)
	}
	if a, ok := msg.(Activity); !ok || a.Source != "pointer" {
		t.Fatalf("message = %#v, want pointer activity", msg)
	}
}

func TestParseConsoleMessageRejects(t *testing.T) {
	if _, err := ParseConsoleMessage([]byte(`{"type":"wat"}`)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseConsoleMessage([]byte(`{"type":"user_text","text":"   "}`)); err == nil {
		t.Fatalf("expected validation error for blank text")
	}
	if _, err := ParseConsoleMessage([]byte(`{"type":"client_event"}`)); err == nil {
		t.Fatalf("expected validation error for missing event")
	}
}
