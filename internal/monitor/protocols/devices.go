package protocols

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

// device is one connected device and its protocol-specific handle.
type device[C any] struct {
	cfg    monitor.DeviceConfig
	conn   C
	status monitor.Status
}

// deviceTable tracks connected devices for a plugin.
type deviceTable[C any] struct {
	mu      sync.RWMutex
	devices map[string]*device[C]
}

func newDeviceTable[C any]() *deviceTable[C] {
	return &deviceTable[C]{devices: make(map[string]*device[C])}
}

// put stores a device as online, returning any handle it replaced.
func (t *deviceTable[C]) put(cfg monitor.DeviceConfig, conn C) (C, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, had := t.devices[cfg.ID]
	t.devices[cfg.ID] = &device[C]{cfg: cfg, conn: conn, status: monitor.StatusOnline}
	if had {
		return prev.conn, true
	}
	var zero C
	return zero, false
}

// remove drops a device and returns its handle.
func (t *deviceTable[C]) remove(id string) (C, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[id]
	if !ok {
		var zero C
		return zero, false
	}
	delete(t.devices, id)
	return d.conn, true
}

// get returns a device's config and handle.
func (t *deviceTable[C]) get(id string) (monitor.DeviceConfig, C, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[id]
	if !ok {
		var zero C
		return monitor.DeviceConfig{}, zero, false
	}
	return d.cfg, d.conn, true
}

// lookup is get for callers that need only the handle, failing with
// ErrDeviceNotConnected.
func (t *deviceTable[C]) lookup(id string) (C, error) {
	_, conn, ok := t.get(id)
	if !ok {
		return conn, fmt.Errorf("%w: %s", monitor.ErrDeviceNotConnected, id)
	}
	return conn, nil
}

func (t *deviceTable[C]) setStatus(id string, status monitor.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.devices[id]; ok {
		d.status = status
	}
}

// status returns a device's status; unknown devices are offline.
func (t *deviceTable[C]) status(id string) monitor.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if d, ok := t.devices[id]; ok {
		return d.status
	}
	return monitor.StatusOffline
}

// drain removes every device and returns their handles.
func (t *deviceTable[C]) drain() []C {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]C, 0, len(t.devices))
	for id, d := range t.devices {
		out = append(out, d.conn)
		delete(t.devices, id)
	}
	return out
}

// lifecycle tracks whether a plugin is initialised.
type lifecycle struct {
	mu    sync.RWMutex
	ready bool
}

// begin marks the plugin initialised, rejecting a second Init without Destroy.
func (l *lifecycle) begin(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return fmt.Errorf("%w: %s already initialised; call Destroy first", monitor.ErrInitialization, name)
	}
	l.ready = true
	return nil
}

func (l *lifecycle) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = false
}

// check fails with ErrNotInitialized unless the plugin is initialised.
func (l *lifecycle) check(name string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return fmt.Errorf("%w: %s", monitor.ErrNotInitialized, name)
	}
	return nil
}

// selectMetrics filters requested against available. An empty request
// selects everything available.
func selectMetrics[V any](available map[string]V, requested []string) map[string]V {
	if len(requested) == 0 {
		return available
	}
	out := make(map[string]V, len(requested))
	for _, m := range requested {
		if v, ok := available[m]; ok {
			out[m] = v
		}
	}
	return out
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func initError(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", monitor.ErrInitialization, name, fmt.Sprintf(format, args...))
}
