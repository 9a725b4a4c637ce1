package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Subtype string

const (
	SubtypeMessage    Subtype = "message"
	SubtypeTranscript Subtype = "transcript"
)

// Entry is one conversational turn. Entries are never mutated after append.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Subtype   Subtype   `json:"subtype"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry builds an entry with a fresh identity.
func NewEntry(role Role, content string, subtype Subtype) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Subtype:   subtype,
		CreatedAt: time.Now().UTC(),
	}
}

// Transcript is an append-only, identity-deduplicated list of entries.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
}

func New() *Transcript {
	return &Transcript{ids: make(map[string]struct{})}
}

// Append adds e unless an entry with the same identity exists. Entries without
// an identity get a fresh one.
func (t *Transcript) Append(e Entry) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(e)
}

// Merge appends the entries of an externally sourced batch whose identities
// are not yet present, preserving batch order, and returns what was added.
func (t *Transcript) Merge(batch []Entry) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var added []Entry
	for _, e := range batch {
		if stored, ok := t.appendLocked(e); ok {
			added = append(added, stored)
		}
	}
	return added
}

// Reset replaces the whole transcript with a single entry. It is only used when
// a session goes live.
func (t *Transcript) Reset(first Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.ids = make(map[string]struct{})
	stored, _ := t.appendLocked(first)
	return stored
}

// Contains reports whether an entry with identity id is present.
func (t *Transcript) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy in arrival order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) appendLocked(e Entry) (Entry, bool) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := t.ids[e.ID]; ok {
		return Entry{}, false
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Subtype == "" {
		e.Subtype = SubtypeMessage
	}
	t.ids[e.ID] = struct{}{}
	t.entries = append(t.entries, e)
	return e, true
}
