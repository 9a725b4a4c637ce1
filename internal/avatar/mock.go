package avatar

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var DefaultStarterMessages = []string{
	"What is NADAC?",
	"How does a PBM negotiate rebates?",
	"Explain AWP versus WAC.",
}

// MockAgent is an in-process avatar that answers deterministically. Like the
// vendor SDK it redelivers the full conversation on every message callback.
type MockAgent struct {
	cb       Callbacks
	starters []string

	mu        sync.Mutex
	connected bool
	history   []Message
	ratings   map[string]int
}

func NewMockAgent(cb Callbacks, starters []string) *MockAgent {
	if starters == nil {
		starters = DefaultStarterMessages
	}
	return &MockAgent{cb: cb, starters: starters, ratings: make(map[string]int)}
}

func (a *MockAgent) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.emitState(VendorConnecting)
	if a.cb.OnStreamReady != nil {
		a.cb.OnStreamReady()
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.emitState(VendorConnected)
	return nil
}

func (a *MockAgent) Disconnect() error {
	a.mu.Lock()
	was := a.connected
	a.connected = false
	a.mu.Unlock()
	if was {
		a.emitState(VendorClosed)
	}
	return nil
}

func (a *MockAgent) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	was := a.connected
	a.connected = false
	a.mu.Unlock()
	if was {
		a.emitState(VendorDisconnected)
	}
	return a.Connect(ctx)
}

func (a *MockAgent) Chat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.isConnected() {
		return ErrNotConnected
	}
	a.emitMessages(Message{ID: uuid.NewString(), Role: "user", Content: text}, DeliveryUser)
	a.emitMessages(Message{ID: uuid.NewString(), Role: "assistant", Content: fmt.Sprintf("I heard you: %s", text)}, DeliveryAnswer)
	return nil
}

func (a *MockAgent) Speak(ctx context.Context, in SpeakInput) error {
	if len([]rune(strings.TrimSpace(in.Input))) <= 2 {
		return ErrSpeakTooShort
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.isConnected() {
		return ErrNotConnected
	}
	a.emitMessages(Message{ID: uuid.NewString(), Role: "assistant", Content: strings.TrimSpace(in.Input)}, DeliveryAnswer)
	return nil
}

func (a *MockAgent) Rate(ctx context.Context, messageID string, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.history {
		if m.ID == messageID {
			a.ratings[messageID] = score
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
}

// Rating returns the score recorded for messageID.
func (a *MockAgent) Rating(messageID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	score, ok := a.ratings[messageID]
	return score, ok
}

func (a *MockAgent) StarterMessages() []string {
	return append([]string(nil), a.starters...)
}

func (a *MockAgent) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *MockAgent) emitState(state string) {
	if a.cb.OnConnectionState != nil {
		a.cb.OnConnectionState(state)
	}
}

func (a *MockAgent) emitMessages(m Message, kind DeliveryKind) {
	a.mu.Lock()
	a.history = append(a.history, m)
	batch := append([]Message(nil), a.history...)
	a.mu.Unlock()
	if a.cb.OnNewMessages != nil {
		a.cb.OnNewMessages(batch, kind)
	}
}
