package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/antoniostano/acolyte/internal/session"
)

var ErrForeignTrack = errors.New("track was not created by this package")

// Factory builds pion peer connections for the session controller.
type Factory struct {
	config webrtc.Configuration
	logger *slog.Logger
}

// NewFactory parses iceServers as STUN/TURN URLs. An empty list relies on
// host candidates only.
func NewFactory(iceServers []string, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	var servers []webrtc.ICEServer
	for _, raw := range iceServers {
		if url := strings.TrimSpace(raw); url != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
		}
	}
	return &Factory{
		config: webrtc.Configuration{ICEServers: servers},
		logger: logger.With(slog.String("component", "webrtc")),
	}
}

func (f *Factory) NewPeer() (session.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{pc: pc, logger: f.logger}
	pc.OnConnectionStateChange(p.connectionStateChanged)
	return p, nil
}

// Peer adapts *webrtc.PeerConnection to session.PeerConnection.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu        sync.Mutex
	onFailure func(error)
}

type localTrack interface {
	local() webrtc.TrackLocal
}

func (p *Peer) AddTrack(track session.MediaTrack) error {
	lt, ok := track.(localTrack)
	if !ok {
		return ErrForeignTrack
	}
	if _, err := p.pc.AddTrack(lt.local()); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	return nil
}

func (p *Peer) CreateChannel(label string) (session.EventChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return &Channel{dc: dc}, nil
}

// CreateOffer sets the local description and waits for ICE gathering so the
// returned SDP carries every candidate.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	return local.SDP, nil
}

func (p *Peer) SetAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *Peer) OnFailure(fn func(error)) {
	p.mu.Lock()
	p.onFailure = fn
	p.mu.Unlock()
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) connectionStateChanged(state webrtc.PeerConnectionState) {
	p.logger.Debug("peer connection state", slog.String("state", state.String()))
	if state != webrtc.PeerConnectionStateFailed {
		return
	}
	p.mu.Lock()
	fn := p.onFailure
	p.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("peer connection %s", state))
	}
}

// Channel adapts *webrtc.DataChannel to session.EventChannel. Messages are
// sent as text frames.
type Channel struct {
	dc *webrtc.DataChannel
}

func (c *Channel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *Channel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *Channel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *Channel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *Channel) Send(data []byte) error {
	return c.dc.SendText(string(data))
}

func (c *Channel) Close() error {
	return c.dc.Close()
}
