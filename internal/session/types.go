package session

import (
	"context"
	"errors"
)

// State is the lifecycle state of the realtime session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

var knownStates = []string{
	string(StateIdle),
	string(StateConnecting),
	string(StateLive),
	string(StateClosing),
	string(StateClosed),
	string(StateFailed),
}

var (
	ErrChannelNotReady        = errors.New("event channel not ready")
	ErrMediaAcquisitionDenied = errors.New("media acquisition denied")
	ErrAlreadyActive          = errors.New("session already active")
	ErrStopped                = errors.New("session stopped during start")
	ErrEmptyMessage           = errors.New("message text is empty")
	ErrChannelClosed          = errors.New("event channel closed by remote peer")
)

// PeerConnection is the platform peer-connection primitive.
type PeerConnection interface {
	AddTrack(track MediaTrack) error
	CreateChannel(label string) (EventChannel, error)
	// CreateOffer returns the local description once candidate gathering is complete.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	OnFailure(fn func(error))
	Close() error
}

// EventChannel is the ordered message channel carried by the peer connection.
type EventChannel interface {
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	IsOpen() bool
	Send(data []byte) error
	Close() error
}

type MediaTrack interface {
	Stop() error
}

type MediaSource interface {
	Acquire(ctx context.Context) (MediaTrack, error)
}

type PeerFactory interface {
	NewPeer() (PeerConnection, error)
}

type Signaler interface {
	Exchange(ctx context.Context, credential, offer string) (string, error)
}

type CredentialSource interface {
	Lookup(ctx context.Context) (string, error)
}

// Enricher returns extra context for outbound user text. An empty result adds nothing.
type Enricher interface {
	Enrich(ctx context.Context, credential, text string) (string, error)
}
