package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a realtime protocol event variant.
type Kind string

const (
	KindItemCreate          Kind = "conversation.item.create"
	KindResponseCreate      Kind = "response.create"
	KindAudioTranscriptDone Kind = "response.audio_transcript.done"
)

// TimestampLayout renders envelope timestamps as wall-clock time of day.
const TimestampLayout = "3:04:05 PM"

const (
	fieldType      = "type"
	fieldEventID   = "event_id"
	fieldTimestamp = "timestamp"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrMissingKind    = errors.New("event kind is required")
)

// Event is one realtime message with its envelope fields lifted out of the payload.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp string
	Payload   Payload
}

// Payload is implemented by the known event bodies and by Unrecognized.
type Payload interface {
	payloadKind() Kind
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type Item struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type,omitempty"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ItemCreate struct {
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

type ResponseCreate struct {
	Response json.RawMessage `json:"response,omitempty"`
}

type AudioTranscriptDone struct {
	ResponseID   string `json:"response_id,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// Unrecognized keeps every non-envelope field of a kind we do not classify,
// so it can be logged and re-encoded without loss.
type Unrecognized struct {
	Fields map[string]json.RawMessage
}

func (ItemCreate) payloadKind() Kind          { return KindItemCreate }
func (ResponseCreate) payloadKind() Kind      { return KindResponseCreate }
func (AudioTranscriptDone) payloadKind() Kind { return KindAudioTranscriptDone }
func (Unrecognized) payloadKind() Kind        { return "" }

// NewEventID returns a fresh event identity.
func NewEventID() string {
	return uuid.NewString()
}

// Stamp backfills identity and timestamp. Values already present are kept.
func Stamp(ev *Event, now time.Time) {
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = now.Format(TimestampLayout)
	}
}

// NewUserText builds the client event that adds a user text item to the conversation.
func NewUserText(text string) Event {
	return Event{
		Kind: KindItemCreate,
		Payload: ItemCreate{Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		}},
	}
}

// NewResponseCreate builds the client event asking the backend to respond.
func NewResponseCreate() Event {
	return Event{Kind: KindResponseCreate, Payload: ResponseCreate{}}
}

// Encode renders the event as a single JSON object with envelope fields at the top level.
func Encode(ev Event) ([]byte, error) {
	kind := ev.Kind
	if kind == "" && ev.Payload != nil {
		kind = ev.Payload.payloadKind()
	}
	if kind == "" {
		return nil, ErrMissingKind
	}

	fields := make(map[string]json.RawMessage)
	switch p := ev.Payload.(type) {
	case nil:
	case Unrecognized:
		for k, v := range p.Fields {
			fields[k] = v
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", kind, err)
		}
	}

	if err := setString(fields, fieldType, string(kind)); err != nil {
		return nil, err
	}
	if ev.ID != "" {
		if err := setString(fields, fieldEventID, ev.ID); err != nil {
			return nil, err
		}
	}
	if ev.Timestamp != "" {
		if err := setString(fields, fieldTimestamp, ev.Timestamp); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// Decode parses one wire message. Every failure wraps ErrMalformedEvent.
func Decode(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if fields == nil {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedEvent)
	}

	kind, err := stringField(fields, fieldType)
	if err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(kind) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev := Event{Kind: Kind(kind)}
	if ev.ID, err = stringField(fields, fieldEventID); err != nil {
		return Event{}, err
	}
	if ev.Timestamp, err = stringField(fields, fieldTimestamp); err != nil {
		return Event{}, err
	}

	switch ev.Kind {
	case KindItemCreate:
		var p ItemCreate
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Kind, err)
		}
		ev.Payload = p
	case KindResponseCreate:
		var p ResponseCreate
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Kind, err)
		}
		ev.Payload = p
	case KindAudioTranscriptDone:
		var p AudioTranscriptDone
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Kind, err)
		}
		ev.Payload = p
	default:
		delete(fields, fieldType)
		delete(fields, fieldEventID)
		delete(fields, fieldTimestamp)
		ev.Payload = Unrecognized{Fields: fields}
	}
	return ev, nil
}

func (ev Event) MarshalJSON() ([]byte, error) {
	return Encode(ev)
}

func (ev *Event) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*ev = decoded
	return nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedEvent, key)
	}
	return s, nil
}

func setString(fields map[string]json.RawMessage, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}
