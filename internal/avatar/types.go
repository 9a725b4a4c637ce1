package avatar

import (
	"context"
	"errors"
	"strings"

	"github.com/antoniostano/acolyte/internal/session"
)

// Connection states reported by the avatar vendor.
const (
	VendorConnecting   = "connecting"
	VendorConnected    = "connected"
	VendorDisconnected = "disconnected"
	VendorClosed       = "closed"
)

// DeliveryKind tags a batch of messages delivered by the vendor.
type DeliveryKind string

const (
	DeliveryUser    DeliveryKind = "user"
	DeliveryAnswer  DeliveryKind = "answer"
	DeliveryPartial DeliveryKind = "partial"
)

var (
	ErrNotConnected   = errors.New("avatar not connected")
	ErrSpeakTooShort  = errors.New("speak input must be longer than 2 characters")
	ErrUnknownMessage = errors.New("unknown avatar message")
	ErrEmptyText      = errors.New("text is empty")
)

// Message is one vendor message. ID may be empty.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SpeakInput struct {
	Type    string `json:"type"`
	Input   string `json:"input"`
	VoiceID string `json:"voice_id,omitempty"`
}

// Callbacks are registered with the vendor agent at construction.
type Callbacks struct {
	OnStreamReady     func()
	OnConnectionState func(state string)
	OnNewMessages     func(batch []Message, kind DeliveryKind)
	OnError           func(err error)
}

// Agent is the imperative surface of a managed avatar session.
type Agent interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Chat(ctx context.Context, text string) error
	Speak(ctx context.Context, in SpeakInput) error
	Rate(ctx context.Context, messageID string, score int) error
	StarterMessages() []string
}

// MapState translates a vendor connection state into the session vocabulary.
// Unknown states report false.
func MapState(vendor string) (session.State, bool) {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case VendorConnecting:
		return session.StateConnecting, true
	case VendorConnected:
		return session.StateLive, true
	case VendorDisconnected, VendorClosed:
		return session.StateClosed, true
	default:
		return "", false
	}
}
