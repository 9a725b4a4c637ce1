package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/acolyte/internal/avatar"
	"github.com/antoniostano/acolyte/internal/config"
	"github.com/antoniostano/acolyte/internal/credential"
	"github.com/antoniostano/acolyte/internal/observability"
	"github.com/antoniostano/acolyte/internal/protocol"
	"github.com/antoniostano/acolyte/internal/session"
	"github.com/antoniostano/acolyte/internal/signaling"
	"github.com/antoniostano/acolyte/internal/transcript"
)

// Session is the realtime session driven by the control API.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() session.Snapshot
	SendText(ctx context.Context, text string) (transcript.Entry, error)
	Send(ev protocol.Event) (protocol.Event, error)
	Touch()
	Subscribe(buffer int) (<-chan session.Update, func())
}

// CredentialProbe checks a credential against the realtime backend.
type CredentialProbe interface {
	Validate(ctx context.Context, credential string) bool
}

type Avatar interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Chat(ctx context.Context, text string) error
	Speak(ctx context.Context, in avatar.SpeakInput) error
	Rate(ctx context.Context, messageID string, score int) error
	Status() avatar.Status
}

type Deps struct {
	Session     Session
	Credentials session.CredentialSource
	Probe       CredentialProbe
	// Avatar is nil when the avatar collaborator is disabled.
	Avatar  Avatar
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg         config.Config
	session     Session
	credentials session.CredentialSource
	probe       CredentialProbe
	avatar      Avatar
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		session:     deps.Session,
		credentials: deps.Credentials,
		probe:       deps.Probe,
		avatar:      deps.Avatar,
		metrics:     deps.Metrics,
		logger:      logger.With(slog.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the session unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/credential/status", s.handleCredentialStatus)
	r.Post("/v1/session/start", s.handleStartSession)
	r.Post("/v1/session/stop", s.handleStopSession)
	r.Get("/v1/session", s.handleGetSession)
	r.Post("/v1/session/messages", s.handleSendMessage)
	r.Post("/v1/session/events", s.handleSendEvent)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Post("/v1/activity", s.handleActivity)

	if s.avatar != nil {
		r.Route("/v1/avatar", func(r chi.Router) {
			r.Get("/", s.handleAvatarStatus)
			r.Post("/connect", s.handleAvatarConnect)
			r.Post("/disconnect", s.handleAvatarDisconnect)
			r.Post("/reconnect", s.handleAvatarReconnect)
			r.Post("/chat", s.handleAvatarChat)
			r.Post("/speak", s.handleAvatarSpeak)
			r.Post("/rate", s.handleAvatarRate)
		})
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"avatar_enabled": s.avatar != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"session_state":  s.session.Snapshot().State,
		"avatar_enabled": s.avatar != nil,
	})
}

type credentialStatus struct {
	Configured bool `json:"configured"`
	Valid      bool `json:"valid"`
}

func (s *Server) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	value, err := s.credentials.Lookup(r.Context())
	if err != nil && !errors.Is(err, credential.ErrNotConfigured) {
		respondError(w, http.StatusInternalServerError, "credential_lookup_failed", err.Error())
		return
	}
	status := credentialStatus{Configured: strings.TrimSpace(value) != ""}
	if status.Configured {
		status.Valid = s.probe.Validate(r.Context(), value)
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	value, err := s.credentials.Lookup(r.Context())
	switch {
	case errors.Is(err, credential.ErrNotConfigured):
		respondError(w, http.StatusUnauthorized, "credential_missing", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "credential_lookup_failed", err.Error())
		return
	}
	if !s.probe.Validate(r.Context(), value) {
		respondError(w, http.StatusUnauthorized, "credential_invalid", credential.ErrInvalid.Error())
		return
	}

	if err := s.session.Start(r.Context()); err != nil {
		status, code := startErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict, "session_active"
	case errors.Is(err, session.ErrStopped):
		return http.StatusConflict, "session_stopped"
	case errors.Is(err, signaling.ErrSignalingRejected):
		return http.StatusBadGateway, "signaling_rejected"
	case errors.Is(err, session.ErrMediaAcquisitionDenied):
		return http.StatusInternalServerError, "media_acquisition_denied"
	case errors.Is(err, credential.ErrNotConfigured):
		return http.StatusUnauthorized, "credential_missing"
	default:
		return http.StatusInternalServerError, "session_start_failed"
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, _ *http.Request) {
	s.session.Stop()
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entry, err := s.session.SendText(r.Context(), req.Text)
	if err != nil {
		status, code := sendErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, entry)
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var ev protocol.Event
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_event", err.Error())
		return
	}
	sent, err := s.session.Send(ev)
	if err != nil {
		status, code := sendErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, sent)
}

func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, session.ErrChannelNotReady):
		return http.StatusConflict, "channel_not_ready"
	default:
		return http.StatusInternalServerError, "send_failed"
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	s.session.Touch()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.session.Subscribe(256)
	defer unsubscribe()
	replies := make(chan any, 16)

	snap := s.session.Snapshot()
	initial := []any{protocol.StateUpdate{Type: protocol.TypeState, State: string(snap.State), Error: snap.Error}}
	for _, e := range snap.Transcript {
		initial = append(initial, entryMessage(e))
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				cancel()
				return false
			}
			return true
		}
		for _, msg := range initial {
			if !write(msg) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if !write(updateMessage(u)) {
					return
				}
			case msg := <-replies:
				if !write(msg) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	reply := func(code string, err error) {
		select {
		case replies <- protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code, Detail: err.Error()}:
		default:
			// Keep websocket writes single-threaded; drop if the reply queue is saturated.
			s.metrics.DroppedEvent("ws_reply_full")
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseConsoleMessage(data)
		if err != nil {
			reply("invalid_client_message", err)
			continue
		}
		switch msg := parsed.(type) {
		case protocol.Activity:
			s.session.Touch()
		case protocol.UserText:
			if _, err := s.session.SendText(ctx, msg.Text); err != nil {
				_, code := sendErrorStatus(err)
				reply(code, err)
			}
		case protocol.ClientEvent:
			if _, err := s.session.Send(msg.Event); err != nil {
				_, code := sendErrorStatus(err)
				reply(code, err)
			}
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func updateMessage(u session.Update) any {
	switch u.Type {
	case session.UpdateEntry:
		return entryMessage(u.Entry)
	case session.UpdateEvent:
		return protocol.EventUpdate{
			Type:      protocol.TypeEvent,
			Direction: string(u.Event.Direction),
			Event:     u.Event.Event,
		}
	default:
		return protocol.StateUpdate{Type: protocol.TypeState, State: string(u.State), Error: u.Error}
	}
}

func entryMessage(e transcript.Entry) protocol.EntryUpdate {
	return protocol.EntryUpdate{
		Type:    protocol.TypeEntry,
		ID:      e.ID,
		Role:    string(e.Role),
		Content: e.Content,
		Subtype: string(e.Subtype),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
