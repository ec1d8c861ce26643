package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

// Poller defaults.
const (
	DefaultPollInterval = 30 * time.Second

	// maxConcurrentProtocols bounds how many protocols are polled at once.
	maxConcurrentProtocols = 8
)

// MetricsWriter stores device samples. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteSample(protocol, deviceID string, values map[string]any, ts time.Time)
	WriteDeviceStatus(protocol, deviceID, status string, ts time.Time)
}

// StatusPublisher announces device status changes. *mqtt.Client satisfies it.
type StatusPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Target is one device the poller samples.
type Target struct {
	Protocol string
	// Device is also used to reconnect a device the protocol has no
	// connection for.
	Device DeviceConfig
	// Metrics to read; empty reads everything the device exposes.
	Metrics []string
}

// statusMessage is the retained payload on graylogic/monitor/{protocol}/{device}/status.
type statusMessage struct {
	Protocol  string `json:"protocol"`
	DeviceID  string `json:"device_id"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Poller periodically reads every target through the Registry.
//
// Protocols are polled concurrently; devices of one protocol are polled in
// order while the Registry holds that protocol's lifecycle lock.
type Poller struct {
	registry  *Registry
	interval  time.Duration
	writer    MetricsWriter
	publisher StatusPublisher
	logger    Logger

	mu         sync.Mutex
	targets    []Target
	lastStatus map[string]Status
	now        func() time.Time
}

// NewPoller creates a poller. writer and publisher may be nil when the
// corresponding backend is disabled. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(registry *Registry, interval time.Duration, writer MetricsWriter, publisher StatusPublisher) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		registry:   registry,
		interval:   interval,
		writer:     writer,
		publisher:  publisher,
		logger:     NoopLogger{},
		lastStatus: make(map[string]Status),
		now:        time.Now,
	}
}

// SetLogger sets the poller's logger.
func (p *Poller) SetLogger(logger Logger) {
	if logger == nil {
		logger = NoopLogger{}
	}
	p.logger = logger
}

// AddTarget schedules a device for polling.
func (p *Poller) AddTarget(t Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, t)
}

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("monitor poller started", "interval", p.interval.String())
	for {
		if err := p.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("monitor poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("monitor poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce samples every target once.
func (p *Poller) PollOnce(ctx context.Context) error {
	byProtocol := p.groupTargets()

	names := make([]string, 0, len(byProtocol))
	for name := range byProtocol {
		names = append(names, name)
	}
	slices.Sort(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProtocols)
	for _, name := range names {
		targets := byProtocol[name]
		g.Go(func() error {
			return p.pollProtocol(gctx, name, targets)
		})
	}
	return g.Wait()
}

func (p *Poller) groupTargets() map[string][]Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]Target)
	for _, t := range p.targets {
		out[t.Protocol] = append(out[t.Protocol], t)
	}
	return out
}

// pollProtocol samples one protocol's targets. A missing or disabled
// protocol is logged and skipped so other protocols keep polling.
func (p *Poller) pollProtocol(ctx context.Context, name string, targets []Target) error {
	err := p.registry.Use(name, func(proto Protocol) error {
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.pollDevice(ctx, proto, t)
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		p.logger.Debug("protocol skipped", "protocol", name, "error", err)
		return nil
	}
}

func (p *Poller) pollDevice(ctx context.Context, proto Protocol, t Target) {
	id := t.Device.ID
	values, err := proto.ReadData(ctx, id, t.Metrics)
	if errors.Is(err, ErrDeviceNotConnected) && p.reconnect(ctx, proto, t) {
		values, err = proto.ReadData(ctx, id, t.Metrics)
	}
	ts := p.now()
	if err != nil {
		p.logger.Debug("device read failed", "protocol", t.Protocol, "device_id", id, "error", err)
	} else if len(values) > 0 && p.writer != nil {
		p.writer.WriteSample(t.Protocol, id, values, ts)
	}

	p.recordStatus(t.Protocol, id, proto.DeviceStatus(id), ts)
}

// reconnect connects a device that was unreachable at startup or dropped
// since, for example by a configuration update.
func (p *Poller) reconnect(ctx context.Context, proto Protocol, t Target) bool {
	if !proto.Connect(ctx, t.Device) {
		p.logger.Debug("device reconnect failed", "protocol", t.Protocol, "device_id", t.Device.ID)
		return false
	}
	p.logger.Info("device reconnected", "protocol", t.Protocol, "device_id", t.Device.ID)
	return true
}

// recordStatus publishes a status only when it changed since the last poll.
func (p *Poller) recordStatus(protocol, deviceID string, status Status, ts time.Time) {
	key := protocol + "/" + deviceID

	p.mu.Lock()
	prev, seen := p.lastStatus[key]
	p.lastStatus[key] = status
	p.mu.Unlock()

	if seen && prev == status {
		return
	}

	if seen {
		p.logger.Info("device status changed", "protocol", protocol, "device_id", deviceID,
			"from", string(prev), "to", string(status))
	}
	if p.writer != nil {
		p.writer.WriteDeviceStatus(protocol, deviceID, string(status), ts)
	}
	if p.publisher != nil {
		msg := statusMessage{Protocol: protocol, DeviceID: deviceID, Status: status, Timestamp: ts.UnixMilli()}
		if err := p.publisher.PublishJSON(mqtt.Topics{}.MonitorStatus(protocol, deviceID), msg, true); err != nil {
			p.logger.Warn("device status publish failed", "protocol", protocol, "device_id", deviceID, "error", err)
		}
	}
}

// LastStatus returns the status seen on the most recent poll of a device.
func (p *Poller) LastStatus(protocol, deviceID string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.lastStatus[protocol+"/"+deviceID]
	return s, ok
}
