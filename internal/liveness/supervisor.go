package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultIdleThreshold = 60 * time.Second
)

// Target is the connection a supervisor keeps alive.
type Target interface {
	// Live reports whether the target is in the live state. Only live targets
	// are eligible for an idle reconnect.
	Live() bool
	Reconnect(ctx context.Context) error
}

type Config struct {
	Name          string
	PollInterval  time.Duration
	IdleThreshold time.Duration
	// OnReconnect runs after every idle-triggered reconnect attempt.
	OnReconnect func(err error)
	Logger      *slog.Logger
	Now         func() time.Time
}

// Supervisor forces a reconnect when a live target has seen no activity for
// longer than the idle threshold.
type Supervisor struct {
	name          string
	pollInterval  time.Duration
	idleThreshold time.Duration
	activity      *Activity
	target        Target
	onReconnect   func(error)
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg Config, activity *Activity, target Target) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "session"
	}
	return &Supervisor{
		name:          cfg.Name,
		pollInterval:  cfg.PollInterval,
		idleThreshold: cfg.IdleThreshold,
		activity:      activity,
		target:        target,
		onReconnect:   cfg.OnReconnect,
		logger:        cfg.Logger.With(slog.String("target", cfg.Name)),
		now:           cfg.Now,
	}
}

// Start begins polling until ctx is done or Stop is called. Calling Start on a
// running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	ticker := time.NewTicker(s.pollInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Tick(runCtx, s.now())
			}
		}
	}()
}

// Stop cancels the poll loop and waits for an in-flight tick to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one idle check at now and reports whether it forced a reconnect.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) bool {
	if !s.target.Live() {
		return false
	}
	idle := s.activity.Idle(now)
	if idle <= s.idleThreshold {
		return false
	}

	s.logger.Info("no activity past idle threshold, reconnecting",
		slog.Duration("idle", idle),
		slog.Duration("threshold", s.idleThreshold),
	)
	s.activity.TouchAt(now)
	err := s.target.Reconnect(ctx)
	if err != nil {
		s.logger.Warn("idle reconnect failed", slog.String("error", err.Error()))
	}
	// The reconnect itself may have touched the cell with an earlier clock.
	after := s.now()
	if !after.After(now) {
		after = now
	}
	if s.activity.Last().Before(after) {
		s.activity.TouchAt(after)
	}
	if s.onReconnect != nil {
		s.onReconnect(err)
	}
	return true
}
