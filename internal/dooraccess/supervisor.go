package dooraccess

import (
	"context"
	"sync"
	"time"
)

// Supervisor defaults.
const (
	DefaultSuperviseInterval = 15 * time.Second

	// Reconnect delays double from initialRetryDelay up to maxRetryDelay.
	initialRetryDelay = 5 * time.Second
	maxRetryDelay     = 5 * time.Minute
)

// Controller is an adapter and the endpoint it should stay connected to.
type Controller struct {
	ID      string
	Adapter Adapter
	Host    string
	Port    int
	Params  map[string]string
}

// supervised is a controller plus its reconnect and replay state.
type supervised struct {
	Controller
	cursor    EventCursor
	retry     time.Duration
	nextRetry time.Time
}

// Supervisor keeps door controllers connected and replays their event
// stores to the adapters' listeners.
//
// Thread Safety:
//   - Add, Tick and Shutdown are safe to call from multiple goroutines; calls
//     are serialised.
//   - The Supervisor owns its adapters. Nothing else should call them while
//     Run is active.
type Supervisor struct {
	interval time.Duration
	logger   Logger
	now      func() time.Time

	mu          sync.Mutex
	controllers []*supervised
}

// NewSupervisor creates a supervisor. A non-positive interval uses
// DefaultSuperviseInterval.
func NewSupervisor(interval time.Duration, logger Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultSuperviseInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Add places a controller under supervision. It is connected on the next Tick.
func (s *Supervisor) Add(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers = append(s.controllers, &supervised{Controller: c})
}

// Run ticks immediately and then on every interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("door controller supervisor started", "interval", s.interval.String())
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("door controller supervisor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick connects controllers whose retry delay has passed and replays new
// events from the ones that are connected.
func (s *Supervisor) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.controllers {
		if ctx.Err() != nil {
			return
		}
		if !c.Adapter.IsConnected() && !s.connect(ctx, c) {
			continue
		}
		s.replay(ctx, c)
	}
}

// connect attempts a login, scheduling the next attempt on failure.
func (s *Supervisor) connect(ctx context.Context, c *supervised) bool {
	now := s.now()
	if now.Before(c.nextRetry) {
		return false
	}

	if err := c.Adapter.Connect(ctx, c.Host, c.Port, c.Params); err != nil {
		c.retry = nextRetryDelay(c.retry)
		c.nextRetry = now.Add(c.retry)
		s.logger.Warn("door controller not connected",
			"controller", c.ID,
			"system", c.Adapter.SystemName(),
			"retry_in", c.retry.String(),
			"error", err,
		)
		return false
	}

	c.retry = 0
	c.nextRetry = time.Time{}
	// Start from now rather than replaying the controller's whole history.
	if c.cursor.Since.IsZero() {
		c.cursor.Since = now
	}
	s.logger.Info("door controller connected", "controller", c.ID, "system", c.Adapter.SystemName())
	return true
}

// replay reads new controller events. A failed read drops the session so
// the next Tick logs in again.
func (s *Supervisor) replay(ctx context.Context, c *supervised) {
	source, ok := c.Adapter.(EventSource)
	if !ok {
		return
	}
	if _, err := source.PollEvents(ctx, &c.cursor); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("door controller event poll failed, dropping session",
			"controller", c.ID,
			"system", c.Adapter.SystemName(),
			"error", err,
		)
		c.Adapter.Disconnect(ctx)
	}
}

// Shutdown disconnects every connected controller. Call it after Run returns.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.controllers {
		if c.Adapter.IsConnected() {
			c.Adapter.Disconnect(ctx)
		}
	}
}

// Connected returns the IDs of controllers with a live session.
func (s *Supervisor) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, c := range s.controllers {
		if c.Adapter.IsConnected() {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func nextRetryDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return initialRetryDelay
	}
	return min(current*2, maxRetryDelay)
}
