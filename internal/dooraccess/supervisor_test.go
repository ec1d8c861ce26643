package dooraccess

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

// offlineLogin makes f's login fail with 503 while down is set.
func offlineLogin(f *fakeController, down *atomic.Bool) {
	f.mu.Lock()
	login := f.routes[f.loginKey]
	f.mu.Unlock()
	f.handle(f.loginKey, func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		login(w, r)
	})
}

func newTestSupervisor(clock *time.Time) *Supervisor {
	s := NewSupervisor(time.Minute, nil)
	s.now = func() time.Time { return *clock }
	return s
}

func TestSupervisor_ReconnectsWithBackoff(t *testing.T) {
	f := newFakeController(t, Dahua)
	var down atomic.Bool
	down.Store(true)
	offlineLogin(f, &down)

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSupervisor(&clock)
	a := NewDahuaAdapter(nil)
	host, port := f.hostPort(t)
	s.Add(Controller{ID: "lobby", Adapter: a, Host: host, Port: port})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	ctx := context.Background()
	s.Tick(ctx)
	if a.IsConnected() {
		t.Fatal("IsConnected() = true while controller is down")
	}
	if got := f.count(f.loginKey); got != 1 {
		t.Fatalf("login attempts = %d, want 1", got)
	}

	// Within the retry delay nothing is attempted.
	down.Store(false)
	clock = clock.Add(initialRetryDelay / 2)
	s.Tick(ctx)
	if got := f.count(f.loginKey); got != 1 {
		t.Errorf("login attempts before retry delay = %d, want 1", got)
	}

	clock = clock.Add(initialRetryDelay)
	s.Tick(ctx)
	if !a.IsConnected() {
		t.Fatalf("IsConnected() = false after controller came back; LastError = %q", a.LastError())
	}
	if got := s.Connected(); !slices.Equal(got, []string{"lobby"}) {
		t.Errorf("Connected() = %v, want [lobby]", got)
	}
}

func TestSupervisor_ReplaysEventsAfterConnect(t *testing.T) {
	f := newFakeController(t, Hikvision)
	store := &eventStore{}
	serveEvents(f, Hikvision, store)
	store.set(
		map[string]any{"serialNo": 1, "major": 5, "minor": 1, "time": "2026-03-01T09:59:00Z"},
		map[string]any{"serialNo": 2, "major": 5, "minor": 0x19, "time": "2026-03-01T10:00:30Z", "doorNo": "2"},
	)

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSupervisor(&clock)
	a := NewHikvisionAdapter(nil)
	rec := &recordingListener{}
	a.RegisterEventListener(rec)
	host, port := f.hostPort(t)
	s.Add(Controller{ID: "lobby", Adapter: a, Host: host, Port: port})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	s.Tick(context.Background())

	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1 (history before connect is skipped)", len(rec.events))
	}
	if ev := rec.events[0]; ev.Type != EventForcedOpen || ev.DoorID != "2" {
		t.Errorf("event = %s door %q, want FORCED_OPEN door 2", ev.Type, ev.DoorID)
	}

	s.Tick(context.Background())
	if len(rec.events) != 1 {
		t.Errorf("events after second tick = %d, want 1", len(rec.events))
	}
}

func TestSupervisor_FailedPollDropsSession(t *testing.T) {
	f := newFakeController(t, ZKTeco)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSupervisor(&clock)
	a := NewZKTecoAdapter(nil)
	host, port := f.hostPort(t)
	s.Add(Controller{ID: "dock", Adapter: a, Host: host, Port: port})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	s.Tick(context.Background())
	if !a.IsConnected() {
		t.Fatalf("IsConnected() = false; LastError = %q", a.LastError())
	}

	// The controller restarted and forgot the session.
	f.handle("GET /api/transaction/list", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	s.Tick(context.Background())
	if a.IsConnected() {
		t.Fatal("IsConnected() = true after failed event poll")
	}

	logins := f.count(f.loginKey)
	s.Tick(context.Background())
	if got := f.count(f.loginKey); got != logins+1 {
		t.Errorf("login attempts = %d, want %d (relogin on next tick)", got, logins+1)
	}
}

func TestSupervisor_RunStopsOnCancel(t *testing.T) {
	s := NewSupervisor(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNextRetryDelay(t *testing.T) {
	d := time.Duration(0)
	var got []time.Duration
	for range 8 {
		d = nextRetryDelay(d)
		got = append(got, d)
	}
	if got[0] != initialRetryDelay || got[1] != 2*initialRetryDelay {
		t.Errorf("first delays = %v", got[:2])
	}
	if last := got[len(got)-1]; last != maxRetryDelay {
		t.Errorf("delay after 8 failures = %v, want %v", last, maxRetryDelay)
	}
}
