package liveness

import (
	"sync"
	"time"
)

// Activity holds the wall-clock time of the last user interaction or protocol
// event. Every writer overwrites it with "now"; last write wins.
type Activity struct {
	mu   sync.RWMutex
	last time.Time
	now  func() time.Time
}

func NewActivity(now func() time.Time) *Activity {
	if now == nil {
		now = time.Now
	}
	return &Activity{last: now(), now: now}
}

func (a *Activity) Touch() {
	a.TouchAt(a.now())
}

func (a *Activity) TouchAt(t time.Time) {
	a.mu.Lock()
	a.last = t
	a.mu.Unlock()
}

func (a *Activity) Last() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Idle reports the time elapsed between the last activity and now.
func (a *Activity) Idle(now time.Time) time.Duration {
	return now.Sub(a.Last())
}
