package transcript

import (
	"sync"

	"github.com/antoniostano/acolyte/internal/protocol"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type LoggedEvent struct {
	Direction Direction      `json:"direction"`
	Event     protocol.Event `json:"event"`
}

// EventLog keeps raw protocol events most-recent-first for diagnostics.
type EventLog struct {
	mu     sync.RWMutex
	limit  int
	events []LoggedEvent
}

// NewEventLog returns a log holding at most limit events; zero means unbounded.
func NewEventLog(limit int) *EventLog {
	if limit < 0 {
		limit = 0
	}
	return &EventLog{limit: limit}
}

func (l *EventLog) Record(dir Direction, ev protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]LoggedEvent{{Direction: dir, Event: ev}}, l.events...)
	if l.limit > 0 && len(l.events) > l.limit {
		l.events = l.events[:l.limit]
	}
}

func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Snapshot returns the events newest first.
func (l *EventLog) Snapshot() []LoggedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LoggedEvent, len(l.events))
	copy(out, l.events)
	return out
}
