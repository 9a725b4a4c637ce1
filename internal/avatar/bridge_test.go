package avatar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antoniostano/acolyte/internal/liveness"
	"github.com/antoniostano/acolyte/internal/session"
	"github.com/antoniostano/acolyte/internal/transcript"
)

func newMockBridge(t *testing.T, delay time.Duration) (*Bridge, *MockAgent) {
	t.Helper()
	var agent *MockAgent
	b := NewBridge(Config{RevealDelay: delay}, liveness.NewActivity(nil), func(cb Callbacks) Agent {
		agent = NewMockAgent(cb, nil)
		return agent
	})
	return b, agent
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMapState(t *testing.T) {
	tests := []struct {
		vendor string
		want   session.State
		ok     bool
	}{
		{vendor: "connecting", want: session.StateConnecting, ok: true},
		{vendor: "connected", want: session.StateLive, ok: true},
		{vendor: "disconnected", want: session.StateClosed, ok: true},
		{vendor: "closed", want: session.StateClosed, ok: true},
		{vendor: " Connected ", want: session.StateLive, ok: true},
		{vendor: "streaming", ok: false},
		{vendor: "", ok: false},
	}
	for _, tc := range tests {
		got, ok := MapState(tc.vendor)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("MapState(%q) = (%q, %v), want (%q, %v)", tc.vendor, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBridgeConnectGoesLiveAndReveals(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !b.Live() {
		t.Fatalf("state = %q, want live", b.Status().State)
	}
	waitFor(t, func() bool { return b.Status().Revealed })

	st := b.Status()
	if !st.StreamReady {
		t.Fatal("stream not marked ready")
	}
	if len(st.Transcript) != 1 || st.Transcript[0].Content != starterGreeting {
		t.Fatalf("transcript = %+v, want starter greeting", st.Transcript)
	}
	if len(st.StarterMessages) == 0 {
		t.Fatal("starter messages missing")
	}
}

func TestBridgeRevealDelayIsHonored(t *testing.T) {
	b, _ := newMockBridge(t, time.Hour)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if b.Status().Revealed {
		t.Fatal("revealed before delay elapsed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := b.Status().State; got != session.StateClosed {
		t.Fatalf("state after Close = %q, want closed", got)
	}
}

func TestBridgeNewMessagesSkipsKnownIdentities(t *testing.T) {
	b, _ := newMockBridge(t, 0)

	b.newMessages([]Message{{ID: "m1", Role: "user", Content: "first"}}, DeliveryUser)
	b.newMessages([]Message{
		{ID: "m1", Role: "user", Content: "edited"},
		{ID: "m2", Role: "assistant", Content: "reply"},
	}, DeliveryAnswer)

	entries := b.Status().Transcript
	if len(entries) != 2 {
		t.Fatalf("transcript len = %d, want 2: %+v", len(entries), entries)
	}
	if entries[0].Content != "first" {
		t.Fatalf("entry m1 content = %q, want original kept", entries[0].Content)
	}
	if entries[1].ID != "m2" || entries[1].Role != transcript.RoleAssistant {
		t.Fatalf("entry 1 = %+v, want assistant m2", entries[1])
	}
}

func TestBridgeChatDeduplicatesRedeliveredHistory(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := b.Chat(context.Background(), "hello"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if err := b.Chat(context.Background(), "again"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	entries := b.Status().Transcript
	// greeting + two user turns + two answers, despite four full-history deliveries
	if len(entries) != 5 {
		t.Fatalf("transcript len = %d, want 5: %+v", len(entries), entries)
	}
	wantRoles := []transcript.Role{
		transcript.RoleAssistant,
		transcript.RoleUser,
		transcript.RoleAssistant,
		transcript.RoleUser,
		transcript.RoleAssistant,
	}
	for i, e := range entries {
		if e.Role != wantRoles[i] {
			t.Fatalf("entry %d role = %q, want %q", i, e.Role, wantRoles[i])
		}
	}
	if entries[4].Content != "I heard you: again" {
		t.Fatalf("last answer = %q", entries[4].Content)
	}
}

func TestBridgeRejectsWhileDisconnected(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Chat(context.Background(), "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Chat() error = %v, want ErrNotConnected", err)
	}
	if err := b.Speak(context.Background(), SpeakInput{Input: "hello"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Speak() error = %v, want ErrNotConnected", err)
	}
}

func TestBridgeSpeakRequiresMoreThanTwoChars(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := b.Speak(context.Background(), SpeakInput{Input: "hi"}); !errors.Is(err, ErrSpeakTooShort) {
		t.Fatalf("Speak(hi) error = %v, want ErrSpeakTooShort", err)
	}
	if err := b.Speak(context.Background(), SpeakInput{Input: "hey"}); err != nil {
		t.Fatalf("Speak(hey) error = %v", err)
	}
	entries := b.Status().Transcript
	if last := entries[len(entries)-1]; last.Content != "hey" || last.Role != transcript.RoleAssistant {
		t.Fatalf("last entry = %+v, want spoken text", last)
	}
}

func TestBridgeRateRecordsScore(t *testing.T) {
	b, agent := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := b.Chat(context.Background(), "rate me"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	entries := b.Status().Transcript
	answer := entries[len(entries)-1]

	if err := b.Rate(context.Background(), answer.ID, 1); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if score, ok := agent.Rating(answer.ID); !ok || score != 1 {
		t.Fatalf("Rating() = (%d, %v), want (1, true)", score, ok)
	}
	if err := b.Rate(context.Background(), "missing", 1); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Rate(missing) error = %v, want ErrUnknownMessage", err)
	}
}

func TestBridgeReconnectResetsReveal(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return b.Status().Revealed })

	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if !b.Live() {
		t.Fatal("not live after reconnect")
	}
	waitFor(t, func() bool { return b.Status().Revealed })
	if got := len(b.Status().Transcript); got != 1 {
		t.Fatalf("transcript len = %d, want greeting kept once", got)
	}
}

func TestBridgeIgnoresUnknownVendorState(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	b.connectionStateChanged("buffering")
	if got := b.Status().State; got != session.StateIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestBridgeDrivenBySupervisor(t *testing.T) {
	b, _ := newMockBridge(t, 0)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sup := liveness.NewSupervisor(liveness.Config{Name: "avatar"}, b.Activity(), b)

	now := b.Activity().Last().Add(61 * time.Second)
	if !sup.Tick(context.Background(), now) {
		t.Fatal("Tick() did not reconnect an idle avatar")
	}
	if !b.Live() {
		t.Fatal("avatar not live after supervised reconnect")
	}
	if last := b.Activity().Last(); last.Before(now) {
		t.Fatalf("activity = %v, want >= tick time %v", last, now)
	}
}
