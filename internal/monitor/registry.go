package monitor

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// entry is one registered plugin.
type entry struct {
	protocol Protocol
	config   Config
	ready    bool
}

// Registry owns protocol plugins keyed by name.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Lifecycle calls (Register, Unregister, UpdateConfig) and Use are
//     serialised per name; lookups never block on them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	locks   map[string]*sync.Mutex
	closed  bool

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		locks:   make(map[string]*sync.Mutex),
		logger:  NoopLogger{},
	}
}

// SetLogger sets the logger for lifecycle events.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = NoopLogger{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

func (r *Registry) log() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// acquire locks name's lifecycle mutex. With create false a name that has
// no mutex yet fails with ErrUnsupportedProtocol, so calls for unknown
// names never allocate one.
func (r *Registry) acquire(name string, create bool) (*sync.Mutex, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		l, ok := r.locks[name]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, name)
			}
			l = &sync.Mutex{}
			r.locks[name] = l
		}
		r.mu.Unlock()

		l.Lock()
		r.mu.RLock()
		current, closed := r.locks[name] == l, r.closed
		r.mu.RUnlock()
		switch {
		case closed:
			l.Unlock()
			return nil, ErrRegistryClosed
		case current:
			return l, nil
		}
		// Retired while we waited; start over with the name's current mutex.
		l.Unlock()
	}
}

// release unlocks l, retiring it first when name has no entry.
func (r *Registry) release(name string, l *sync.Mutex) {
	r.mu.Lock()
	if _, ok := r.entries[name]; !ok && r.locks[name] == l {
		delete(r.locks, name)
	}
	r.mu.Unlock()
	l.Unlock()
}

// lookup returns the entry for name under the read lock.
func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Register initialises p with config and stores it under p.Name().
//
// Nothing is stored when Init fails. A name already present is rejected
// with ErrAlreadyRegistered; replace a plugin by Unregister followed by
// Register, or change its configuration with UpdateConfig.
func (r *Registry) Register(p Protocol, config Config) error {
	if p == nil {
		return fmt.Errorf("%w: nil protocol", ErrRegistration)
	}
	name := p.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: protocol name is empty", ErrRegistration)
	}

	lock, err := r.acquire(name, true)
	if err != nil {
		return err
	}
	defer r.release(name, lock)

	if _, exists := r.lookup(name); exists {
		return fmt.Errorf("%w: %w: %s", ErrRegistration, ErrAlreadyRegistered, name)
	}

	stored := config.Clone()
	if err := initialize(p, stored.Clone()); err != nil {
		r.log().Warn("protocol registration failed", "protocol", name, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrRegistration, name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		destroy(p, r.log())
		return ErrRegistryClosed
	}
	r.entries[name] = &entry{protocol: p, config: stored, ready: true}
	r.mu.Unlock()

	r.log().Info("protocol registered", "protocol", name, "version", p.Version())
	return nil
}

// Unregister destroys and removes the named plugin. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	lock, err := r.acquire(name, false)
	if err != nil {
		return
	}
	defer r.release(name, lock)

	r.mu.Lock()
	e, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	destroy(e.protocol, r.log())
	r.log().Info("protocol unregistered", "protocol", name)
}

// UpdateConfig destroys the named plugin and initialises the same instance
// with config. Unknown names are ignored.
//
// If Init fails the plugin stays registered but not ready: Use returns
// ErrNotInitialized until a later UpdateConfig succeeds. The stored config
// is the one most recently passed, whether or not Init accepted it.
func (r *Registry) UpdateConfig(name string, config Config) error {
	lock, err := r.acquire(name, false)
	if errors.Is(err, ErrUnsupportedProtocol) {
		return nil
	}
	if err != nil {
		return err
	}
	defer r.release(name, lock)

	e, ok := r.lookup(name)
	if !ok {
		return nil
	}

	destroy(e.protocol, r.log())
	stored := config.Clone()
	initErr := initialize(e.protocol, stored.Clone())

	r.mu.Lock()
	e.config = stored
	e.ready = initErr == nil
	r.mu.Unlock()

	if initErr != nil {
		r.log().Error("protocol re-initialisation failed, protocol disabled", "protocol", name, "error", initErr)
		return fmt.Errorf("updating %s: %w", name, initErr)
	}
	r.log().Info("protocol configuration updated", "protocol", name)
	return nil
}

// Use runs fn with the named plugin while holding the name's lifecycle lock,
// so the plugin cannot be destroyed or re-initialised during fn. fn must not
// call lifecycle methods or Use for the same name.
//
// Returns ErrUnsupportedProtocol for unknown names and ErrNotInitialized for
// a plugin left disabled by a failed UpdateConfig.
func (r *Registry) Use(name string, fn func(Protocol) error) error {
	lock, err := r.acquire(name, false)
	if err != nil {
		return err
	}
	defer r.release(name, lock)

	r.mu.RLock()
	e, ok := r.entries[name]
	var ready bool
	if ok {
		ready = e.ready
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProtocol, name)
	}
	if !ready {
		return fmt.Errorf("%w: %s", ErrNotInitialized, name)
	}
	return fn(e.protocol)
}

// Get returns the named plugin.
func (r *Registry) Get(name string) (Protocol, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return e.protocol, true
}

// IsRegistered reports whether name is in the registry.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// IsReady reports whether the named plugin is registered and initialised.
func (r *Registry) IsReady(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.ready
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Config returns a copy of the named plugin's stored configuration.
func (r *Registry) Config(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.config.Clone(), true
}

// Shutdown destroys every plugin and closes the registry. Later lifecycle
// calls return ErrRegistryClosed and lookups find nothing. Calling Shutdown
// again is a no-op.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	names := make([]string, 0, len(r.locks))
	for name := range r.locks {
		names = append(names, name)
	}
	locks := maps.Clone(r.locks)
	logger := r.logger
	r.mu.Unlock()

	slices.Sort(names)
	destroyed := 0
	for _, name := range names {
		lock := locks[name]
		lock.Lock()

		r.mu.Lock()
		e, ok := r.entries[name]
		delete(r.entries, name)
		r.mu.Unlock()

		if ok {
			destroy(e.protocol, logger)
			destroyed++
		}
		lock.Unlock()
	}
	logger.Info("protocol registry shut down", "destroyed", destroyed)
}

// initialize calls Init, converting a panic into an error and making sure
// the result wraps ErrInitialization.
func initialize(p Protocol, config Config) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: init panicked: %v", ErrInitialization, rec)
		}
	}()
	if err := p.Init(config); err != nil {
		if errors.Is(err, ErrInitialization) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	return nil
}

// destroy calls Destroy, logging instead of propagating a panic.
func destroy(p Protocol, logger Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("protocol destroy panicked", "protocol", p.Name(), "panic", rec)
		}
	}()
	p.Destroy()
}
