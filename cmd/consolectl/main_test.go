package main

import (
	"encoding/json"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseFlagsSplitsTexts(t *testing.T) {
	fs := flag.NewFlagSet("consolectl", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-base-url", "http://localhost:9000/", "-texts", "hello | |ping", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://localhost:9000" {
		t.Fatalf("baseURL = %q, want trailing slash trimmed", cfg.baseURL)
	}
	if len(cfg.texts) != 2 || cfg.texts[0] != "hello" || cfg.texts[1] != "ping" {
		t.Fatalf("texts = %q", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %v, want clamped to 1s", cfg.turnTimeout)
	}
}

func TestParseFlagsRejectsEmptyTexts(t *testing.T) {
	fs := flag.NewFlagSet("consolectl", flag.ContinueOnError)
	if _, err := parseFlags(fs, []string{"-texts", " | "}); err == nil {
		t.Fatal("parseFlags() expected error for empty texts")
	}
}

func TestWSURLFor(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/v1/session/ws"},
		{base: "https://console.example/app/", want: "wss://console.example/app/v1/session/ws"},
		{base: "ftp://console.example", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tc := range tests {
		got, err := wsURLFor(tc.base)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("wsURLFor(%q) expected error", tc.base)
			}
			continue
		}
		if err != nil {
			t.Fatalf("wsURLFor(%q) error = %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("wsURLFor(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		raw     string
		verbose bool
		want    string
		ok      bool
	}{
		{raw: `{"type":"state","state":"live"}`, want: "[live]", ok: true},
		{raw: `{"type":"state","state":"failed","error":"signaling rejected"}`, want: "[failed] signaling rejected", ok: true},
		{raw: `{"type":"entry","role":"assistant","content":"Hello"}`, want: "assistant: Hello", ok: true},
		{raw: `{"type":"error_event","code":"channel_not_ready","detail":"event channel not ready"}`, want: "error channel_not_ready: event channel not ready", ok: true},
		{raw: `{"type":"event","direction":"inbound","event":{"type":"session.created"}}`, ok: false},
		{raw: `{"type":"event","direction":"inbound","event":{"type":"session.created"}}`, verbose: true, want: `inbound {"type":"session.created"}`, ok: true},
	}
	for _, tc := range tests {
		var env wsEnvelope
		if err := json.Unmarshal([]byte(tc.raw), &env); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		got, ok := formatMessage(env, tc.verbose)
		if ok != tc.ok || strings.TrimSpace(got) != tc.want {
			t.Fatalf("formatMessage(%s) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAwaitAnswerTimesOut(t *testing.T) {
	answers := make(chan struct{})
	readErr := make(chan error)
	err := awaitAnswer(answers, readErr, 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("awaitAnswer() error = %v, want timeout", err)
	}
}
