package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// MockProtocol is a test implementation of Protocol that counts lifecycle calls.
type MockProtocol struct {
	mu          sync.Mutex
	name        string
	initErr     error
	initPanics  bool
	initCalls   int
	destroyCall int
	lastConfig  Config
	values      map[string]any
	status      Status

	// offline devices read as not connected until Connect succeeds,
	// which it does only while unreachable is false.
	offline     map[string]bool
	unreachable bool
	connects    []DeviceConfig
}

func NewMockProtocol(name string) *MockProtocol {
	return &MockProtocol{name: name, status: StatusOnline}
}

func (m *MockProtocol) Init(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	if m.initPanics {
		panic("bad plugin")
	}
	if m.initErr != nil {
		return m.initErr
	}
	m.lastConfig = config
	return nil
}

func (m *MockProtocol) Connect(_ context.Context, dev DeviceConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects = append(m.connects, dev)
	if m.offline[dev.ID] {
		if m.unreachable {
			return false
		}
		delete(m.offline, dev.ID)
	}
	return true
}

func (m *MockProtocol) Disconnect(string) {}

func (m *MockProtocol) ReadData(_ context.Context, deviceID string, _ []string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deviceID == "missing" || m.offline[deviceID] {
		return nil, ErrDeviceNotConnected
	}
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MockProtocol) WriteData(context.Context, string, map[string]any) bool { return true }

func (m *MockProtocol) DeviceStatus(deviceID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline[deviceID] {
		return StatusOffline
	}
	return m.status
}

func (m *MockProtocol) HealthCheck(context.Context, string) bool { return true }

func (m *MockProtocol) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyCall++
}

func (m *MockProtocol) Name() string               { return m.name }
func (m *MockProtocol) Version() string            { return "1.0.0" }
func (m *MockProtocol) SupportedMetrics() []string { return []string{"temperature"} }

func (m *MockProtocol) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls, m.destroyCall
}

func (m *MockProtocol) setReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = !reachable
}

func (m *MockProtocol) connectedWith() []DeviceConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeviceConfig(nil), m.connects...)
}

func (m *MockProtocol) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	p := NewMockProtocol("SNMP")

	if err := r.Register(p, Config{"community": "public"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !r.IsRegistered("SNMP") || !r.IsReady("SNMP") {
		t.Error("protocol should be registered and ready")
	}
	got, ok := r.Get("SNMP")
	if !ok || got != p {
		t.Errorf("Get() = %v, %v", got, ok)
	}
	if cfg, ok := r.Config("SNMP"); !ok || cfg["community"] != "public" {
		t.Errorf("Config() = %v, %v", cfg, ok)
	}
}

func TestRegistry_LookupsOnUnknownName(t *testing.T) {
	r := NewRegistry()
	if r.IsRegistered("nope") {
		t.Error("IsRegistered() = true")
	}
	if p, ok := r.Get("nope"); ok || p != nil {
		t.Error("Get() found unknown protocol")
	}
	if cfg, ok := r.Config("nope"); ok || cfg != nil {
		t.Error("Config() found unknown protocol")
	}
	if len(r.List()) != 0 {
		t.Error("List() should be empty")
	}
	err := r.Use("nope", func(Protocol) error { return nil })
	if !errors.Is(err, ErrUnsupportedProtocol) {
		t.Errorf("Use() error = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestRegistry_RegisterInitFailure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MockProtocol)
	}{
		{"init error", func(m *MockProtocol) { m.initErr = errors.New("missing oids") }},
		{"init panic", func(m *MockProtocol) { m.initPanics = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			p := NewMockProtocol("MODBUS")
			tt.mutate(p)

			err := r.Register(p, Config{})
			if !errors.Is(err, ErrRegistration) || !errors.Is(err, ErrInitialization) {
				t.Errorf("Register() error = %v, want ErrRegistration wrapping ErrInitialization", err)
			}
			if r.IsRegistered("MODBUS") {
				t.Error("failed registration must not be stored")
			}
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	first := NewMockProtocol("BMS")
	second := NewMockProtocol("BMS")

	if err := r.Register(first, nil); err != nil {
		t.Fatal(err)
	}
	err := r.Register(second, nil)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register() error = %v, want ErrAlreadyRegistered", err)
	}
	if got, _ := r.Get("BMS"); got != first {
		t.Error("duplicate registration replaced the original")
	}
	if inits, _ := second.counts(); inits != 0 {
		t.Error("rejected plugin must not be initialised")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	p := NewMockProtocol("FIREHOST")
	if err := r.Register(p, nil); err != nil {
		t.Fatal(err)
	}

	r.Unregister("FIREHOST")
	if r.IsRegistered("FIREHOST") {
		t.Error("IsRegistered() = true after Unregister")
	}
	if _, destroys := p.counts(); destroys != 1 {
		t.Errorf("Destroy called %d times, want 1", destroys)
	}

	r.Unregister("FIREHOST")
	if _, destroys := p.counts(); destroys != 1 {
		t.Error("second Unregister must be a no-op")
	}

	// The name is free again.
	if err := r.Register(NewMockProtocol("FIREHOST"), nil); err != nil {
		t.Errorf("re-Register() error = %v", err)
	}
}

func TestRegistry_UpdateConfigScenario(t *testing.T) {
	r := NewRegistry()
	p := NewMockProtocol("SENSOR-A")

	if err := r.Register(p, Config{"pollIntervalMs": 5000}); err != nil {
		t.Fatal(err)
	}
	cfg, _ := r.Config("SENSOR-A")
	if cfg["pollIntervalMs"] != 5000 {
		t.Fatalf("Config() = %v", cfg)
	}

	initsBefore, destroysBefore := p.counts()
	if err := r.UpdateConfig("SENSOR-A", Config{"pollIntervalMs": 1000}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	cfg, _ = r.Config("SENSOR-A")
	if cfg["pollIntervalMs"] != 1000 {
		t.Errorf("Config() after update = %v", cfg)
	}

	inits, destroys := p.counts()
	if inits-initsBefore != 1 || destroys-destroysBefore != 1 {
		t.Errorf("update made %d init and %d destroy calls, want 1 each", inits-initsBefore, destroys-destroysBefore)
	}
	if p.lastConfig["pollIntervalMs"] != 1000 {
		t.Errorf("plugin saw config %v", p.lastConfig)
	}
}

func TestRegistry_UpdateConfigUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	if err := r.UpdateConfig("GHOST", Config{"a": 1}); err != nil {
		t.Errorf("UpdateConfig() error = %v", err)
	}
	if r.IsRegistered("GHOST") {
		t.Error("UpdateConfig must not create a registration")
	}
}

func TestRegistry_UpdateConfigInitFailureDisables(t *testing.T) {
	r := NewRegistry()
	p := NewMockProtocol("CUSTOM")
	if err := r.Register(p, Config{"ok": true}); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	p.initErr = fmt.Errorf("%w: bad port", ErrInitialization)
	p.mu.Unlock()

	err := r.UpdateConfig("CUSTOM", Config{"ok": false})
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("UpdateConfig() error = %v, want ErrInitialization", err)
	}
	if !r.IsRegistered("CUSTOM") || r.IsReady("CUSTOM") {
		t.Error("entry should remain registered but not ready")
	}
	if err := r.Use("CUSTOM", func(Protocol) error { return nil }); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Use() error = %v, want ErrNotInitialized", err)
	}

	p.mu.Lock()
	p.initErr = nil
	p.mu.Unlock()
	if err := r.UpdateConfig("CUSTOM", Config{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if !r.IsReady("CUSTOM") {
		t.Error("successful update should re-enable the protocol")
	}
}

func TestRegistry_ConfigIsCopied(t *testing.T) {
	r := NewRegistry()
	input := Config{"oids": map[string]any{"uptime": ".1.3.6.1.2.1.1.3.0"}}
	if err := r.Register(NewMockProtocol("SNMP"), input); err != nil {
		t.Fatal(err)
	}

	input["oids"].(map[string]any)["uptime"] = "changed"
	cfg, _ := r.Config("SNMP")
	cfg["extra"] = true

	again, _ := r.Config("SNMP")
	if again["oids"].(map[string]any)["uptime"] != ".1.3.6.1.2.1.1.3.0" {
		t.Error("caller mutation leaked into stored config")
	}
	if _, ok := again["extra"]; ok {
		t.Error("Config() returned the stored map")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"SNMP", "BMS", "MODBUS"} {
		if err := r.Register(NewMockProtocol(name), nil); err != nil {
			t.Fatal(err)
		}
	}
	got := r.List()
	want := []string{"BMS", "MODBUS", "SNMP"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List() = %v, want %v", got, want)
		}
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry()
	a, b := NewMockProtocol("A"), NewMockProtocol("B")
	for _, p := range []*MockProtocol{a, b} {
		if err := r.Register(p, nil); err != nil {
			t.Fatal(err)
		}
	}

	r.Shutdown()
	r.Shutdown()

	for _, p := range []*MockProtocol{a, b} {
		if _, destroys := p.counts(); destroys != 1 {
			t.Errorf("%s destroyed %d times, want 1", p.name, destroys)
		}
	}
	if len(r.List()) != 0 {
		t.Error("List() not empty after Shutdown")
	}
	if err := r.Register(NewMockProtocol("C"), nil); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Register() after Shutdown error = %v", err)
	}
	if err := r.UpdateConfig("A", nil); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("UpdateConfig() after Shutdown error = %v", err)
	}
	r.Unregister("A")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := range 20 {
		name := fmt.Sprintf("P%d", i%5)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewMockProtocol(name)
			_ = r.Register(p, Config{"i": i})
			_ = r.UpdateConfig(name, Config{"i": i + 100})
			_ = r.Use(name, func(Protocol) error { return nil })
			r.IsRegistered(name)
			r.List()
			r.Config(name)
			if i%3 == 0 {
				r.Unregister(name)
			}
		}()
	}
	wg.Wait()

	for _, name := range r.List() {
		if !r.IsRegistered(name) {
			t.Errorf("List() returned %s but IsRegistered() = false", name)
		}
	}
	r.Shutdown()
}

func TestRegistry_UnknownNamesLeaveNoLocks(t *testing.T) {
	r := NewRegistry()
	lockCount := func() int {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.locks)
	}

	for i := range 50 {
		name := fmt.Sprintf("ghost-%d", i)
		_ = r.Use(name, func(Protocol) error { return nil })
		_ = r.UpdateConfig(name, nil)
		r.Unregister(name)
	}
	failing := NewMockProtocol("BROKEN")
	failing.initErr = errors.New("bad config")
	_ = r.Register(failing, nil)
	if n := lockCount(); n != 0 {
		t.Errorf("locks after calls for unknown names = %d, want 0", n)
	}

	p := NewMockProtocol("SNMP")
	if err := r.Register(p, nil); err != nil {
		t.Fatal(err)
	}
	if n := lockCount(); n != 1 {
		t.Errorf("locks with one protocol = %d, want 1", n)
	}
	r.Unregister("SNMP")
	if n := lockCount(); n != 0 {
		t.Errorf("locks after Unregister = %d, want 0", n)
	}

	if err := r.Use("SNMP", func(Protocol) error { return nil }); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Errorf("Use() after Unregister error = %v, want ErrUnsupportedProtocol", err)
	}
	if err := r.Register(NewMockProtocol("SNMP"), nil); err != nil {
		t.Errorf("Register() after Unregister error = %v", err)
	}
}
