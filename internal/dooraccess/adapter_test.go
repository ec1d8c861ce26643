package dooraccess

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

var allManufacturers = []Manufacturer{Hikvision, Dahua, ZKTeco}

func newAdapter(t *testing.T, m Manufacturer) Adapter {
	t.Helper()
	a, err := NewFactory(nil).Create(string(m))
	if err != nil {
		t.Fatalf("Create(%s) error = %v", m, err)
	}
	return a
}

// sessionOps calls every operation that needs a live session.
func sessionOps(a Adapter) map[string]error {
	ctx := context.Background()
	errs := map[string]error{}
	_, errs["Authenticate"] = a.Authenticate(ctx, "emp-1", "secret")
	_, errs["OpenDoor"] = a.OpenDoor(ctx, "1", "emp-1")
	_, errs["CloseDoor"] = a.CloseDoor(ctx, "1", "emp-1")
	_, errs["GrantPermission"] = a.GrantPermission(ctx, "emp-1", []string{"1"}, "")
	_, errs["RevokePermission"] = a.RevokePermission(ctx, "emp-1", []string{"1"})
	_, errs["UserPermissions"] = a.UserPermissions(ctx, "emp-1")
	_, errs["AccessLogs"] = a.AccessLogs(ctx, LogFilter{})
	_, errs["DoorStatus"] = a.DoorStatus(ctx, "1")
	_, errs["SystemInfo"] = a.SystemInfo(ctx)
	return errs
}

func TestAdapter_RequiresConnection(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)

			for op, err := range sessionOps(a) {
				if !errors.Is(err, ErrNotConnected) {
					t.Errorf("%s before Connect error = %v, want ErrNotConnected", op, err)
				}
			}

			// Connect and disconnect, then confirm the ops still do no I/O.
			f.connect(t, a)
			a.Disconnect(context.Background())
			before := f.requestCount()

			for op, err := range sessionOps(a) {
				if !errors.Is(err, ErrNotConnected) {
					t.Errorf("%s after Disconnect error = %v, want ErrNotConnected", op, err)
				}
			}
			if got := f.requestCount(); got != before {
				t.Errorf("requests after Disconnect = %d, want %d", got, before)
			}
			if a.LastError() == "" {
				t.Error("LastError() should describe the not-connected failure")
			}
		})
	}
}

func TestAdapter_ConnectDisconnect(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)

			if a.IsConnected() {
				t.Fatal("new adapter should not be connected")
			}
			f.connect(t, a)
			if !a.IsConnected() {
				t.Fatal("IsConnected() = false after Connect")
			}

			a.Disconnect(context.Background())
			a.Disconnect(context.Background())
			if a.IsConnected() {
				t.Error("IsConnected() = true after Disconnect")
			}
			if a.LastError() != "" {
				t.Errorf("LastError() = %q, want empty", a.LastError())
			}
		})
	}
}

func TestAdapter_DisconnectWithoutConnect(t *testing.T) {
	for _, m := range allManufacturers {
		a := newAdapter(t, m)
		a.Disconnect(context.Background())
		if a.IsConnected() {
			t.Errorf("%s: IsConnected() = true", m)
		}
	}
}

func TestAdapter_ReconnectLogsOutPreviousSession(t *testing.T) {
	logout := map[Manufacturer]string{
		Hikvision: "PUT /ISAPI/Security/sessionLogout",
		Dahua:     "POST /api/v1/logout",
		ZKTeco:    "POST /api/auth/logout",
	}
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)

			f.connect(t, a)
			f.connect(t, a)

			if got := f.count(logout[m]); got != 1 {
				t.Errorf("logout calls = %d, want 1", got)
			}
			if got := f.count(f.loginKey); got != 2 {
				t.Errorf("login calls = %d, want 2", got)
			}
			if !a.IsConnected() {
				t.Error("IsConnected() = false after reconnect")
			}
		})
	}
}

func TestAdapter_ConnectFailure(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			host, port := f.hostPort(t)

			err := a.Connect(context.Background(), host, port, map[string]string{"password": "wrong"})
			if !errors.Is(err, ErrConnection) {
				t.Fatalf("Connect() error = %v, want ErrConnection", err)
			}
			if a.IsConnected() {
				t.Error("IsConnected() = true after failed Connect")
			}
			if a.LastError() != err.Error() {
				t.Errorf("LastError() = %q, want %q", a.LastError(), err.Error())
			}
		})
	}
}

func TestAdapter_ConnectInvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		port   int
		params map[string]string
	}{
		{"empty host", "", 80, nil},
		{"port zero", "10.0.0.1", 0, nil},
		{"port too large", "10.0.0.1", 70000, nil},
		{"bad scheme", "10.0.0.1", 80, map[string]string{"scheme": "ftp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, Hikvision)
			err := a.Connect(context.Background(), tt.host, tt.port, tt.params)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Connect() error = %v, want ErrInvalidArgument", err)
			}
			if a.LastError() != "" {
				t.Errorf("LastError() = %q, invalid arguments must not set it", a.LastError())
			}
		})
	}
}

func TestAdapter_OpenCloseDoorNotifiesListeners(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)

			var order []string
			first := &recordingListener{name: "first", order: &order}
			second := &recordingListener{name: "second", order: &order}
			a.RegisterEventListener(first)
			a.RegisterEventListener(second)

			start := time.Now()
			ok, err := a.OpenDoor(context.Background(), "1", "emp-1")
			if err != nil || !ok {
				t.Fatalf("OpenDoor() = %v, %v", ok, err)
			}
			ok, err = a.CloseDoor(context.Background(), "1", "emp-1")
			if err != nil || !ok {
				t.Fatalf("CloseDoor() = %v, %v", ok, err)
			}

			want := []string{"first", "second", "first", "second"}
			if len(order) != len(want) {
				t.Fatalf("delivery order = %v, want %v", order, want)
			}
			for i := range want {
				if order[i] != want[i] {
					t.Fatalf("delivery order = %v, want %v", order, want)
				}
			}

			for _, l := range []*recordingListener{first, second} {
				if len(l.events) != 2 {
					t.Fatalf("%s got %d events, want 2", l.name, len(l.events))
				}
				if l.events[0].Type != EventDoorOpen || l.events[1].Type != EventDoorClose {
					t.Errorf("%s event types = %s, %s", l.name, l.events[0].Type, l.events[1].Type)
				}
				for _, ev := range l.events {
					if ev.Timestamp.Before(start) {
						t.Errorf("event timestamp %v before call start %v", ev.Timestamp, start)
					}
					if ev.DoorID != "1" || ev.UserID != "emp-1" {
						t.Errorf("event door/user = %q/%q", ev.DoorID, ev.UserID)
					}
					if ev.Data()["manufacturer"] != string(m) {
						t.Errorf("event manufacturer = %v", ev.Data()["manufacturer"])
					}
				}
			}
		})
	}
}

func TestAdapter_FailingListenerIsIsolated(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)

			failing := &recordingListener{name: "failing", err: errors.New("listener broke")}
			panicking := &recordingListener{name: "panicking", panicMsg: "boom"}
			healthy := &recordingListener{name: "healthy"}
			a.RegisterEventListener(failing)
			a.RegisterEventListener(panicking)
			a.RegisterEventListener(healthy)

			ok, err := a.OpenDoor(context.Background(), "1", "emp-1")
			if err != nil || !ok {
				t.Fatalf("OpenDoor() = %v, %v; listener failures must not change the result", ok, err)
			}
			if len(healthy.events) != 1 {
				t.Errorf("healthy listener got %d events, want 1", len(healthy.events))
			}
			if a.LastError() != "" {
				t.Errorf("LastError() = %q, listener failures must not set it", a.LastError())
			}
		})
	}
}

func TestAdapter_ListenerDeduplication(t *testing.T) {
	f := newFakeController(t, Dahua)
	a := newAdapter(t, Dahua)
	f.connect(t, a)

	l := &recordingListener{name: "once"}
	a.RegisterEventListener(l)
	a.RegisterEventListener(l)

	if _, err := a.OpenDoor(context.Background(), "1", "emp-1"); err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}
	if len(l.events) != 1 {
		t.Errorf("deliveries = %d, want 1", len(l.events))
	}
}

func TestAdapter_FuncListenerRegisteredTwice(t *testing.T) {
	f := newFakeController(t, Dahua)
	a := NewDahuaAdapter(nil)
	f.connect(t, a)

	var deliveries int
	fn := EventListenerFunc(func(AccessEvent) error {
		deliveries++
		return nil
	})
	a.RegisterEventListener(fn)
	a.RegisterEventListener(fn)

	if _, err := a.OpenDoor(context.Background(), "1", "emp-1"); err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}
	if deliveries != 2 {
		t.Errorf("deliveries = %d, want 2 (function listeners are not deduplicated)", deliveries)
	}
}

func TestAdapter_Authenticate(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)

			l := &recordingListener{name: "auth"}
			a.RegisterEventListener(l)

			ok, err := a.Authenticate(context.Background(), "emp-1", "secret")
			if err != nil || !ok {
				t.Errorf("Authenticate(secret) = %v, %v", ok, err)
			}
			ok, err = a.Authenticate(context.Background(), "emp-1", "wrong")
			if err != nil || ok {
				t.Errorf("Authenticate(wrong) = %v, %v", ok, err)
			}
			if len(l.events) != 2 || l.events[0].Type != EventUserAuthentication || l.events[1].Type != EventAccessDenied {
				t.Errorf("authentication events = %+v", l.events)
			}
		})
	}
}

func TestAdapter_ControllerErrorSetsLastError(t *testing.T) {
	verify := map[Manufacturer]string{
		Hikvision: "POST /ISAPI/AccessControl/UserInfo/Verify",
		Dahua:     "POST /api/v1/users/emp-1/verify",
		ZKTeco:    "POST /api/person/verify",
	}
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)
			f.handle(verify[m], func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})

			_, err := a.Authenticate(context.Background(), "emp-1", "secret")
			if !errors.Is(err, ErrAdapter) {
				t.Fatalf("Authenticate() error = %v, want ErrAdapter", err)
			}
			if a.LastError() != err.Error() {
				t.Errorf("LastError() = %q, want %q", a.LastError(), err.Error())
			}
		})
	}
}

func TestAdapter_Permissions(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)
			ctx := context.Background()

			ok, err := a.GrantPermission(ctx, "emp-1", []string{"1", "2"}, "weekdays")
			if err != nil || !ok {
				t.Errorf("GrantPermission() = %v, %v", ok, err)
			}
			ok, err = a.RevokePermission(ctx, "emp-1", []string{"2"})
			if err != nil || !ok {
				t.Errorf("RevokePermission() = %v, %v", ok, err)
			}

			records, err := a.UserPermissions(ctx, "emp-1")
			if err != nil {
				t.Fatalf("UserPermissions() error = %v", err)
			}
			if len(records) != 2 {
				t.Errorf("UserPermissions() returned %d records, want 2", len(records))
			}

			_, err = a.GrantPermission(ctx, "emp-1", nil, "")
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("GrantPermission(no doors) error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestAdapter_AccessLogsKeepControllerOrder(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)

			records, err := a.AccessLogs(context.Background(), LogFilter{DoorID: "1"})
			if err != nil {
				t.Fatalf("AccessLogs() error = %v", err)
			}
			if len(records) != 2 {
				t.Fatalf("AccessLogs() returned %d records, want 2", len(records))
			}
			first := records[0]["serialNo"]
			if first == nil {
				first = records[0]["id"]
			}
			if first != float64(9) {
				t.Errorf("first record = %v, want controller order preserved", records[0])
			}
		})
	}
}

func TestAdapter_StatusCarriesManufacturer(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)

			status, err := a.DoorStatus(context.Background(), "1")
			if err != nil {
				t.Fatalf("DoorStatus() error = %v", err)
			}
			if status["manufacturer"] != string(m) || status["door_id"] != "1" {
				t.Errorf("DoorStatus() = %v", status)
			}

			info, err := a.SystemInfo(context.Background())
			if err != nil {
				t.Fatalf("SystemInfo() error = %v", err)
			}
			if info["manufacturer"] != string(m) || info["model"] == nil {
				t.Errorf("SystemInfo() = %v", info)
			}
		})
	}
}

func TestAdapter_InvalidArgumentsLeaveLastErrorUntouched(t *testing.T) {
	for _, m := range allManufacturers {
		t.Run(string(m), func(t *testing.T) {
			f := newFakeController(t, m)
			a := newAdapter(t, m)
			f.connect(t, a)
			ctx := context.Background()

			if _, err := a.OpenDoor(ctx, "", "emp-1"); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("OpenDoor(\"\") error = %v", err)
			}
			if _, err := a.DoorStatus(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("DoorStatus(\"\") error = %v", err)
			}
			if _, err := a.Authenticate(ctx, "", "x"); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Authenticate(\"\") error = %v", err)
			}
			if a.LastError() != "" {
				t.Errorf("LastError() = %q, want empty", a.LastError())
			}
		})
	}
}

func TestAdapter_Timeout(t *testing.T) {
	a := newAdapter(t, ZKTeco)
	if a.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", a.Timeout(), DefaultTimeout)
	}
	a.SetTimeout(250 * time.Millisecond)
	if a.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout() = %v after SetTimeout", a.Timeout())
	}
	a.SetTimeout(0)
	if a.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v after SetTimeout(0), want default", a.Timeout())
	}
}

func TestAdapter_TimeoutBoundsControllerCalls(t *testing.T) {
	f := newFakeController(t, Dahua)
	a := newAdapter(t, Dahua)
	f.connect(t, a)

	release := make(chan struct{})
	defer close(release)
	f.handle("GET /api/v1/system/info", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	a.SetTimeout(50 * time.Millisecond)
	start := time.Now()
	_, err := a.SystemInfo(context.Background())
	if !errors.Is(err, ErrAdapter) {
		t.Fatalf("SystemInfo() error = %v, want ErrAdapter", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("SystemInfo() took %v, timeout not applied", elapsed)
	}
}

func TestParseLogRange(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		wantErr bool
		wantS   time.Time
		wantE   time.Time
	}{
		{"both empty", "", "", false, time.Time{}, time.Time{}},
		{"rfc3339", "2026-03-01T08:00:00Z", "2026-03-01T18:00:00Z", false,
			time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)},
		{"datetime", "2026-03-01 08:00:00", "", false, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), time.Time{}},
		{"date only", "", "2026-03-02", false, time.Time{}, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"garbage", "yesterday", "", true, time.Time{}, time.Time{}},
		{"reversed", "2026-03-02", "2026-03-01", true, time.Time{}, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e, err := ParseLogRange(tt.start, tt.end)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("ParseLogRange() error = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLogRange() error = %v", err)
			}
			if !s.Equal(tt.wantS) || !e.Equal(tt.wantE) {
				t.Errorf("ParseLogRange() = %v, %v; want %v, %v", s, e, tt.wantS, tt.wantE)
			}
		})
	}
}
