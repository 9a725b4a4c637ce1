package avatar

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/acolyte/internal/liveness"
	"github.com/antoniostano/acolyte/internal/observability"
	"github.com/antoniostano/acolyte/internal/session"
	"github.com/antoniostano/acolyte/internal/transcript"
)

const starterGreeting = "Hello! I can help you with the following:"

type Config struct {
	// RevealDelay is how long a connected avatar settles before it is shown.
	// Zero defers the reveal to a later scheduling turn.
	RevealDelay time.Duration
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Status is what the control API reports for the avatar session.
type Status struct {
	State           session.State      `json:"state"`
	Revealed        bool               `json:"revealed"`
	StreamReady     bool               `json:"stream_ready"`
	StarterMessages []string           `json:"starter_messages,omitempty"`
	Transcript      []transcript.Entry `json:"transcript"`
}

// Bridge owns an avatar agent and folds its callbacks into the session
// vocabulary: mapped states, a deduplicated transcript and the shared activity
// timestamp.
type Bridge struct {
	agent      Agent
	activity   *liveness.Activity
	transcript *transcript.Transcript
	delay      time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu          sync.Mutex
	state       session.State
	revealed    bool
	streamReady bool
	generation  uint64
	reveal      *time.Timer
}

// NewBridge builds the agent with the bridge's callbacks.
func NewBridge(cfg Config, activity *liveness.Activity, newAgent func(Callbacks) Agent) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if activity == nil {
		activity = liveness.NewActivity(nil)
	}
	delay := cfg.RevealDelay
	if delay < 0 {
		delay = 0
	}
	b := &Bridge{
		activity:   activity,
		transcript: transcript.New(),
		delay:      delay,
		metrics:    cfg.Metrics,
		logger:     logger.With(slog.String("component", "avatar")),
		state:      session.StateIdle,
	}
	b.agent = newAgent(Callbacks{
		OnStreamReady:     b.streamReadyChanged,
		OnConnectionState: b.connectionStateChanged,
		OnNewMessages:     b.newMessages,
		OnError:           b.agentError,
	})
	return b
}

func (b *Bridge) Connect(ctx context.Context) error {
	b.activity.Touch()
	return b.agent.Connect(ctx)
}

func (b *Bridge) Disconnect() error {
	return b.agent.Disconnect()
}

// Reconnect satisfies liveness.Target.
func (b *Bridge) Reconnect(ctx context.Context) error {
	b.activity.Touch()
	return b.agent.Reconnect(ctx)
}

func (b *Bridge) Chat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	b.activity.Touch()
	if !b.Live() {
		return ErrNotConnected
	}
	return b.agent.Chat(ctx, text)
}

// Speak has the avatar say in.Input verbatim. Inputs of two characters or
// fewer are rejected.
func (b *Bridge) Speak(ctx context.Context, in SpeakInput) error {
	b.activity.Touch()
	if len([]rune(strings.TrimSpace(in.Input))) <= 2 {
		return ErrSpeakTooShort
	}
	if in.Type == "" {
		in.Type = "text"
	}
	if !b.Live() {
		return ErrNotConnected
	}
	return b.agent.Speak(ctx, in)
}

func (b *Bridge) Rate(ctx context.Context, messageID string, score int) error {
	b.activity.Touch()
	return b.agent.Rate(ctx, messageID, score)
}

func (b *Bridge) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == session.StateLive
}

func (b *Bridge) Activity() *liveness.Activity {
	return b.activity
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	st := Status{
		State:       b.state,
		Revealed:    b.revealed,
		StreamReady: b.streamReady,
	}
	b.mu.Unlock()
	st.StarterMessages = b.agent.StarterMessages()
	st.Transcript = b.transcript.Entries()
	return st
}

// Close cancels a pending reveal and disconnects the agent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.generation++
	if b.reveal != nil {
		b.reveal.Stop()
		b.reveal = nil
	}
	b.mu.Unlock()
	return b.agent.Disconnect()
}

func (b *Bridge) streamReadyChanged() {
	b.mu.Lock()
	b.streamReady = true
	b.mu.Unlock()
}

func (b *Bridge) connectionStateChanged(vendor string) {
	state, ok := MapState(vendor)
	if !ok {
		b.logger.Warn("ignoring unknown avatar connection state", slog.String("state", vendor))
		return
	}

	b.mu.Lock()
	prev := b.state
	b.state = state
	b.generation++
	if b.reveal != nil {
		b.reveal.Stop()
		b.reveal = nil
	}
	b.revealed = false
	switch state {
	case session.StateClosed:
		b.streamReady = false
	case session.StateLive:
		gen := b.generation
		b.reveal = time.AfterFunc(b.delay, func() { b.revealIfCurrent(gen) })
	}
	b.mu.Unlock()

	if prev != state {
		b.logger.Info("avatar state", slog.String("from", string(prev)), slog.String("to", string(state)))
	}
	if state == session.StateLive {
		b.activity.Touch()
		b.greet()
	}
}

func (b *Bridge) revealIfCurrent(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != gen || b.state != session.StateLive {
		return
	}
	b.revealed = true
	b.reveal = nil
}

// greet seeds an empty transcript with the starter greeting.
func (b *Bridge) greet() {
	if b.transcript.Len() > 0 || len(b.agent.StarterMessages()) == 0 {
		return
	}
	entry, ok := b.transcript.Append(transcript.NewEntry(transcript.RoleAssistant, starterGreeting, transcript.SubtypeMessage))
	if ok {
		b.metrics.TranscriptEntry(string(entry.Role), string(entry.Subtype))
	}
}

func (b *Bridge) newMessages(batch []Message, kind DeliveryKind) {
	b.activity.Touch()
	entries := make([]transcript.Entry, 0, len(batch))
	for _, m := range batch {
		// The vendor redelivers the whole history with every batch.
		if m.ID != "" && b.transcript.Contains(m.ID) {
			continue
		}
		role := transcript.RoleAssistant
		if strings.EqualFold(m.Role, string(transcript.RoleUser)) {
			role = transcript.RoleUser
		}
		entries = append(entries, transcript.Entry{
			ID:        m.ID,
			Role:      role,
			Content:   m.Content,
			Subtype:   transcript.SubtypeMessage,
			CreatedAt: time.Now().UTC(),
		})
	}
	added := b.transcript.Merge(entries)
	for _, e := range added {
		b.metrics.TranscriptEntry(string(e.Role), string(e.Subtype))
	}
	b.logger.Debug("avatar messages", slog.String("kind", string(kind)), slog.Int("batch", len(batch)), slog.Int("added", len(added)))
}

func (b *Bridge) agentError(err error) {
	if err == nil {
		return
	}
	b.logger.Error("avatar agent error", slog.String("error", err.Error()))
}
