package webrtcpeer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/antoniostano/acolyte/internal/session"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource provides an outbound Opus track that carries silence. The
// server has no capture device, so the track only keeps the audio m-line
// negotiated while the backend speaks.
type SilenceSource struct {
	StreamID string
}

func (s SilenceSource) Acquire(ctx context.Context) (session.MediaTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "acolyte"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create opus track: %w", err)
	}
	t := &SilenceTrack{track: track, stop: make(chan struct{}), done: make(chan struct{})}
	go t.run()
	return t, nil
}

// SilenceTrack writes silence frames until Stop is called.
type SilenceTrack struct {
	track *webrtc.TrackLocalStaticSample
	once  sync.Once
	stop  chan struct{}
	done  chan struct{}
}

func (t *SilenceTrack) local() webrtc.TrackLocal { return t.track }

func (t *SilenceTrack) run() {
	defer close(t.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			// Unbound tracks drop samples without error.
			_ = t.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}

func (t *SilenceTrack) Stop() error {
	t.once.Do(func() { close(t.stop) })
	<-t.done
	return nil
}
