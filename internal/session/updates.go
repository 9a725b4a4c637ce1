package session

import (
	"sync"

	"github.com/antoniostano/acolyte/internal/transcript"
)

type UpdateType string

const (
	UpdateState UpdateType = "state"
	UpdateEntry UpdateType = "entry"
	UpdateEvent UpdateType = "event"
)

// Update is one observable change pushed to subscribers.
type Update struct {
	Type  UpdateType
	State State
	Error string
	Entry transcript.Entry
	Event transcript.LoggedEvent
}

type broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Update
	onDrop func()
}

func newBroadcaster(onDrop func()) *broadcaster {
	return &broadcaster{subs: make(map[int]chan Update), onDrop: onDrop}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; a subscriber with a full buffer misses the update.
func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}
