package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/acolyte/internal/liveness"
	"github.com/antoniostano/acolyte/internal/observability"
	"github.com/antoniostano/acolyte/internal/protocol"
	"github.com/antoniostano/acolyte/internal/transcript"
)

const (
	DefaultChannelLabel   = "oai-events"
	DefaultWelcomeMessage = "Welcome to the Acolyte Health Realtime Console! I'm ready to assist you."
)

var tracer = otel.Tracer("github.com/antoniostano/acolyte/internal/session")

type Config struct {
	ChannelLabel   string
	WelcomeMessage string
	// Instructions are appended to every outbound user text.
	Instructions  string
	EventLogLimit int
}

type Deps struct {
	Peers       PeerFactory
	Media       MediaSource
	Signaler    Signaler
	Credentials CredentialSource
	Enricher    Enricher
	Activity    *liveness.Activity
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Snapshot is a point-in-time copy of the observable session state.
type Snapshot struct {
	State      State                    `json:"state"`
	Error      string                   `json:"error,omitempty"`
	Transcript []transcript.Entry       `json:"transcript"`
	Events     []transcript.LoggedEvent `json:"events"`
}

// attempt owns the resources acquired by one Start. Its fields are written
// only while the attempt is current and c.mu is held.
type attempt struct {
	ctx        context.Context
	cancel     context.CancelFunc
	credential string
	track      MediaTrack
	peer       PeerConnection
	channel    EventChannel
	// failure is set when a peer or channel failure tears the attempt down.
	failure error
}

// Controller runs at most one realtime session at a time. Each Start builds a
// fresh attempt, so a failed session is replaced rather than resumed.
type Controller struct {
	cfg         Config
	peers       PeerFactory
	media       MediaSource
	signaler    Signaler
	credentials CredentialSource
	enricher    Enricher
	activity    *liveness.Activity
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time

	transcript *transcript.Transcript
	reconciler *transcript.Reconciler
	events     *transcript.EventLog
	updates    *broadcaster

	mu      sync.Mutex
	state   State
	cur     *attempt
	lastErr error
}

func NewController(cfg Config, deps Deps) *Controller {
	if strings.TrimSpace(cfg.ChannelLabel) == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	if strings.TrimSpace(cfg.WelcomeMessage) == "" {
		cfg.WelcomeMessage = DefaultWelcomeMessage
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Activity == nil {
		deps.Activity = liveness.NewActivity(deps.Now)
	}
	tr := transcript.New()
	c := &Controller{
		cfg:         cfg,
		peers:       deps.Peers,
		media:       deps.Media,
		signaler:    deps.Signaler,
		credentials: deps.Credentials,
		enricher:    deps.Enricher,
		activity:    deps.Activity,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With(slog.String("component", "session")),
		now:         deps.Now,
		transcript:  tr,
		reconciler:  transcript.NewReconciler(tr),
		events:      transcript.NewEventLog(cfg.EventLogLimit),
		state:       StateIdle,
	}
	c.updates = newBroadcaster(func() { c.metrics.DroppedEvent("subscriber_full") })
	c.metrics.SetState(string(StateIdle), knownStates)
	return c
}

// Start acquires media, opens the peer connection and event channel and runs
// the signaling exchange. The session becomes live when the channel opens.
func (c *Controller) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session.start", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateLive, StateClosing:
		state := c.state
		c.mu.Unlock()
		span.SetAttributes(attribute.String("session.state", string(state)))
		return ErrAlreadyActive
	}
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{ctx: actx, cancel: cancel}
	c.cur = a
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.metrics.SessionEvent("start")

	if err := c.connect(a); err != nil {
		err = c.abort(a, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Controller) connect(a *attempt) error {
	credential, err := c.credentials.Lookup(a.ctx)
	if err != nil {
		return fmt.Errorf("lookup credential: %w", err)
	}
	if !c.adopt(a, func() { a.credential = credential }) {
		return ErrStopped
	}

	track, err := c.media.Acquire(a.ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAcquisitionDenied, err)
	}
	if !c.adopt(a, func() { a.track = track }) {
		_ = track.Stop()
		return ErrStopped
	}

	peer, err := c.peers.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	if !c.adopt(a, func() { a.peer = peer }) {
		_ = peer.Close()
		return ErrStopped
	}
	peer.OnFailure(func(err error) { c.peerFailed(a, err) })
	if err := peer.AddTrack(track); err != nil {
		return fmt.Errorf("add local track: %w", err)
	}

	channel, err := peer.CreateChannel(c.cfg.ChannelLabel)
	if err != nil {
		return fmt.Errorf("create event channel: %w", err)
	}
	if !c.adopt(a, func() { a.channel = channel }) {
		_ = channel.Close()
		return ErrStopped
	}
	channel.OnOpen(func() { c.channelOpened(a) })
	channel.OnMessage(func(data []byte) { c.receive(a, data) })
	channel.OnClose(func() { c.channelClosed(a) })

	offer, err := peer.CreateOffer(a.ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	started := c.now()
	answer, err := c.signaler.Exchange(a.ctx, credential, offer)
	c.metrics.ObserveSignalingLatency(c.now().Sub(started))
	if err != nil {
		return err
	}

	if !c.adopt(a, func() {}) {
		return ErrStopped
	}
	if err := peer.SetAnswer(answer); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	return nil
}

// adopt runs fn under the lock if a is still the current attempt.
func (c *Controller) adopt(a *attempt, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != a {
		return false
	}
	fn()
	return true
}

// abort moves a failed attempt to StateFailed and releases what it acquired.
// An attempt already detached by Stop reports ErrStopped instead, and one
// detached by a connection failure reports that failure.
func (c *Controller) abort(a *attempt, err error) error {
	c.mu.Lock()
	if c.cur != a {
		failure := a.failure
		c.mu.Unlock()
		if failure != nil {
			return failure
		}
		return ErrStopped
	}
	c.cur = nil
	c.lastErr = err
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	a.cancel()
	c.release(a)
	c.metrics.SessionEvent("failed")
	attrs := []any{slog.String("error", err.Error())}
	var retry interface{ Retryable() bool }
	if errors.As(err, &retry) {
		attrs = append(attrs, slog.Bool("retryable", retry.Retryable()))
	}
	c.logger.Error("session start failed", attrs...)
	return err
}

// Stop tears down whatever the current attempt holds and leaves the session
// closed. It is a no-op when nothing is active.
func (c *Controller) Stop() {
	c.mu.Lock()
	a := c.cur
	if a == nil {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	a.cancel()
	c.release(a)

	c.mu.Lock()
	if c.cur == nil && c.state == StateClosing {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()
	c.metrics.SessionEvent("stopped")
}

// Reconnect replaces the current session with a fresh one.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.metrics.SessionEvent("reconnect")
	c.Stop()
	return c.Start(ctx)
}

func (c *Controller) release(a *attempt) {
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			c.logger.Warn("close event channel", slog.String("error", err.Error()))
		}
	}
	if a.track != nil {
		if err := a.track.Stop(); err != nil {
			c.logger.Warn("stop local track", slog.String("error", err.Error()))
		}
	}
	if a.peer != nil {
		if err := a.peer.Close(); err != nil {
			c.logger.Warn("close peer connection", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) peerFailed(a *attempt, err error) {
	if err == nil {
		err = errors.New("peer connection failed")
	}
	if c.fail(a, err, StateConnecting, StateLive) {
		c.logger.Error("peer connection failed", slog.String("error", err.Error()))
	}
}

// fail detaches a from the controller and moves to StateFailed when a is
// current and in one of the given states.
func (c *Controller) fail(a *attempt, err error, from ...State) bool {
	c.mu.Lock()
	if c.cur != a || !slices.Contains(from, c.state) {
		c.mu.Unlock()
		return false
	}
	c.cur = nil
	a.failure = err
	c.lastErr = err
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	a.cancel()
	c.release(a)
	c.metrics.SessionEvent("failed")
	return true
}

func (c *Controller) channelOpened(a *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != a || c.state != StateConnecting {
		return
	}
	welcome := c.transcript.Reset(transcript.NewEntry(transcript.RoleAssistant, c.cfg.WelcomeMessage, transcript.SubtypeMessage))
	c.events.Clear()
	c.activity.Touch()
	c.setStateLocked(StateLive)
	c.metrics.SessionEvent("live")
	c.updates.publish(Update{Type: UpdateEntry, Entry: welcome})
}

// channelClosed treats a close on the current attempt as remote; local
// teardown detaches the attempt before closing the channel.
func (c *Controller) channelClosed(a *attempt) {
	if c.fail(a, ErrChannelClosed, StateLive) {
		c.logger.Warn("event channel closed by remote peer")
	}
}

func (c *Controller) receive(a *attempt, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		c.metrics.DroppedEvent("malformed")
		c.logger.Warn("dropping malformed event", slog.String("error", err.Error()), slog.Int("bytes", len(data)))
		return
	}
	protocol.Stamp(&ev, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != a {
		return
	}
	c.activity.Touch()
	logged := transcript.LoggedEvent{Direction: transcript.DirectionInbound, Event: ev}
	c.events.Record(logged.Direction, ev)
	c.metrics.ChannelMessage(string(logged.Direction), string(ev.Kind))
	c.updates.publish(Update{Type: UpdateEvent, Event: logged})

	if entry, ok := c.reconciler.Reconcile(ev); ok {
		c.metrics.TranscriptEntry(string(entry.Role), string(entry.Subtype))
		c.updates.publish(Update{Type: UpdateEntry, Entry: entry})
	}
}

// Send stamps ev and transmits it on the event channel. Events are never
// queued: anything sent while the channel is not open is dropped with
// ErrChannelNotReady.
func (c *Controller) Send(ev protocol.Event) (protocol.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ev)
}

func (c *Controller) sendLocked(ev protocol.Event) (protocol.Event, error) {
	if c.state != StateLive || c.cur == nil || c.cur.channel == nil || !c.cur.channel.IsOpen() {
		c.metrics.DroppedEvent("channel_not_ready")
		c.logger.Warn("dropping client event, channel not open",
			slog.String("type", string(ev.Kind)),
			slog.String("state", string(c.state)),
		)
		return protocol.Event{}, ErrChannelNotReady
	}

	protocol.Stamp(&ev, c.now())
	data, err := protocol.Encode(ev)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("encode event: %w", err)
	}
	if err := c.cur.channel.Send(data); err != nil {
		c.metrics.DroppedEvent("send_error")
		c.logger.Warn("send client event", slog.String("type", string(ev.Kind)), slog.String("error", err.Error()))
		return protocol.Event{}, fmt.Errorf("send event: %w", err)
	}

	c.activity.Touch()
	logged := transcript.LoggedEvent{Direction: transcript.DirectionOutbound, Event: ev}
	c.events.Record(logged.Direction, ev)
	c.metrics.ChannelMessage(string(logged.Direction), string(ev.Kind))
	c.updates.publish(Update{Type: UpdateEvent, Event: logged})
	return ev, nil
}

// SendText records text as a user entry and asks the backend to respond to it.
// The entry is appended before any event is transmitted.
func (c *Controller) SendText(ctx context.Context, text string) (transcript.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return transcript.Entry{}, ErrEmptyMessage
	}

	c.mu.Lock()
	live := c.state == StateLive && c.cur != nil
	var credential string
	if live {
		credential = c.cur.credential
	}
	c.mu.Unlock()
	if !live {
		c.metrics.DroppedEvent("channel_not_ready")
		return transcript.Entry{}, ErrChannelNotReady
	}

	wire := c.compose(ctx, credential, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.cur == nil {
		c.metrics.DroppedEvent("channel_not_ready")
		return transcript.Entry{}, ErrChannelNotReady
	}
	entry := c.reconciler.AppendUser(text)
	c.metrics.TranscriptEntry(string(entry.Role), string(entry.Subtype))
	c.updates.publish(Update{Type: UpdateEntry, Entry: entry})

	if _, err := c.sendLocked(protocol.NewUserText(wire)); err != nil {
		return entry, err
	}
	if _, err := c.sendLocked(protocol.NewResponseCreate()); err != nil {
		return entry, err
	}
	return entry, nil
}

func (c *Controller) compose(ctx context.Context, credential, text string) string {
	var extra string
	if c.enricher != nil {
		got, err := c.enricher.Enrich(ctx, credential, text)
		if err != nil {
			c.logger.Warn("context enrichment failed", slog.String("error", err.Error()))
		} else {
			extra = strings.TrimSpace(got)
		}
	}
	instructions := strings.TrimSpace(c.cfg.Instructions)

	var b strings.Builder
	b.WriteString(text)
	if extra != "" {
		b.WriteString("\n\nRelevant context: ")
		b.WriteString(extra)
	}
	if instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(instructions)
	}
	return b.String()
}

// Touch records user interaction observed outside the protocol.
func (c *Controller) Touch() {
	c.activity.Touch()
}

func (c *Controller) Activity() *liveness.Activity {
	return c.activity
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Live reports whether the session is in StateLive.
func (c *Controller) Live() bool {
	return c.State() == StateLive
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	state, lastErr := c.state, c.lastErr
	c.mu.Unlock()
	snap := Snapshot{
		State:      state,
		Transcript: c.transcript.Entries(),
		Events:     c.events.Snapshot(),
	}
	if lastErr != nil {
		snap.Error = lastErr.Error()
	}
	return snap
}

// Subscribe streams updates until the returned cancel function is called.
func (c *Controller) Subscribe(buffer int) (<-chan Update, func()) {
	return c.updates.subscribe(buffer)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Info("session state", slog.String("from", string(c.state)), slog.String("to", string(s)))
	c.state = s
	c.metrics.SetState(string(s), knownStates)
	u := Update{Type: UpdateState, State: s}
	if c.lastErr != nil && s == StateFailed {
		u.Error = c.lastErr.Error()
	}
	c.updates.publish(u)
}
