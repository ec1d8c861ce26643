package protocols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const bmsVersion = "1.0.0"

// Broker is the subset of the MQTT client the BMS plugin needs.
// *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

type bmsSettings struct {
	qos        byte
	staleAfter time.Duration
	points     []string
	writable   []string
}

type bmsPoint struct {
	value any
	at    time.Time
}

// bmsConn caches the latest value of every point a device has reported.
type bmsConn struct {
	topic string

	mu     sync.RWMutex
	points map[string]bmsPoint
}

// BMS mirrors building-management points bridged onto MQTT.
//
// A device reports each point on graylogic/bms/{device}/{point} with a JSON
// payload that is either a bare value or {"value": ...}. Writes are
// published to graylogic/bms/{device}/set/{point}.
//
// Config keys:
//   - qos: subscription and command QoS, default 1
//   - stale_after_ms: age after which a point marks the device warning,
//     default 60000; 0 disables the check
//   - points: optional list of expected points
//   - writable: optional list of points that accept commands; defaults to points
type BMS struct {
	name   string
	logger monitor.Logger
	broker Broker
	life   lifecycle
	now    func() time.Time

	mu       sync.RWMutex
	settings bmsSettings

	devices *deviceTable[*bmsConn]
}

// NewBMS creates a BMS plugin using broker for transport. A nil broker
// leaves the plugin unable to connect devices.
func NewBMS(name string, broker Broker, logger monitor.Logger) *BMS {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &BMS{
		name:    name,
		logger:  logger,
		broker:  broker,
		now:     time.Now,
		devices: newDeviceTable[*bmsConn](),
	}
}

// Init validates and applies config.
func (b *BMS) Init(config monitor.Config) error {
	settings, err := b.parse(config)
	if err != nil {
		return err
	}
	if err := b.life.begin(b.name); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings = settings
	b.mu.Unlock()
	b.logger.Info("bms protocol initialised", "protocol", b.name, "points", len(settings.points))
	return nil
}

func (b *BMS) parse(config monitor.Config) (bmsSettings, error) {
	var settings bmsSettings

	qos, err := config.Int("qos", 1)
	if err != nil || qos < 0 || qos > 2 {
		return settings, initError(b.name, "qos must be 0, 1 or 2")
	}
	settings.qos = byte(qos)

	if settings.staleAfter, err = config.Millis("stale_after_ms", time.Minute); err != nil {
		return settings, initError(b.name, "%v", err)
	}
	if settings.points, err = config.Strings("points"); err != nil {
		return settings, initError(b.name, "%v", err)
	}
	if settings.writable, err = config.Strings("writable"); err != nil {
		return settings, initError(b.name, "%v", err)
	}
	if settings.writable == nil {
		settings.writable = settings.points
	}
	for _, p := range settings.writable {
		if len(settings.points) > 0 && !slices.Contains(settings.points, p) {
			return settings, initError(b.name, "writable point %s is not in points", p)
		}
	}
	slices.Sort(settings.points)
	return settings, nil
}

func (b *BMS) current() bmsSettings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Connect subscribes to the device's point topics.
func (b *BMS) Connect(_ context.Context, dev monitor.DeviceConfig) bool {
	if b.life.check(b.name) != nil || dev.ID == "" {
		return false
	}
	if b.broker == nil || !b.broker.IsConnected() {
		b.logger.Warn("bms broker not connected", "protocol", b.name, "device_id", dev.ID)
		return false
	}

	conn := &bmsConn{
		topic:  mqtt.Topics{}.AllBMSPoints(dev.ID),
		points: make(map[string]bmsPoint),
	}
	if prev, had := b.devices.remove(dev.ID); had {
		b.unsubscribe(prev)
	}
	if err := b.broker.Subscribe(conn.topic, b.current().qos, b.handler(conn)); err != nil {
		b.logger.Warn("bms subscribe failed", "protocol", b.name, "device_id", dev.ID, "error", err)
		return false
	}
	b.devices.put(dev, conn)
	return true
}

func (b *BMS) handler(conn *bmsConn) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		value, err := decodeBMSValue(payload)
		if err != nil {
			return fmt.Errorf("bms point %s: %w", topic, err)
		}
		conn.mu.Lock()
		conn.points[mqtt.LastSegment(topic)] = bmsPoint{value: value, at: b.now()}
		conn.mu.Unlock()
		return nil
	}
}

// decodeBMSValue accepts a bare JSON value or an object carrying "value".
func decodeBMSValue(payload []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if obj, ok := raw.(map[string]any); ok {
		v, ok := obj["value"]
		if !ok {
			return nil, errors.New("object payload without value")
		}
		return v, nil
	}
	return raw, nil
}

func (b *BMS) unsubscribe(conn *bmsConn) {
	if b.broker == nil {
		return
	}
	if err := b.broker.Unsubscribe(conn.topic); err != nil {
		b.logger.Debug("bms unsubscribe failed", "protocol", b.name, "topic", conn.topic, "error", err)
	}
}

// Disconnect unsubscribes from the device's topics and drops cached points.
func (b *BMS) Disconnect(deviceID string) {
	if conn, ok := b.devices.remove(deviceID); ok {
		b.unsubscribe(conn)
	}
}

// ReadData returns cached point values. A device with no cached values,
// or with a stale requested point, is marked warning; a lost broker
// connection marks it error.
func (b *BMS) ReadData(_ context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := b.life.check(b.name); err != nil {
		return nil, err
	}
	conn, err := b.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}
	settings := b.current()

	now := b.now()
	stale := false
	conn.mu.RLock()
	selected := selectMetrics(conn.points, metrics)
	out := make(map[string]any, len(selected))
	for point, p := range selected {
		out[point] = p.value
		if settings.staleAfter > 0 && now.Sub(p.at) > settings.staleAfter {
			stale = true
		}
	}
	conn.mu.RUnlock()

	switch {
	case !b.broker.IsConnected():
		b.devices.setStatus(deviceID, monitor.StatusError)
	case len(out) == 0 || stale:
		b.devices.setStatus(deviceID, monitor.StatusWarning)
	default:
		b.devices.setStatus(deviceID, monitor.StatusOnline)
	}
	return out, nil
}

// WriteData publishes one command per point. Every point is checked
// against the writable list before anything is published.
func (b *BMS) WriteData(_ context.Context, deviceID string, data map[string]any) bool {
	if b.life.check(b.name) != nil || len(data) == 0 {
		return false
	}
	if _, err := b.devices.lookup(deviceID); err != nil {
		return false
	}
	settings := b.current()

	points := sortedKeys(data)
	for _, p := range points {
		if len(settings.writable) > 0 && !slices.Contains(settings.writable, p) {
			return false
		}
	}
	for _, p := range points {
		topic := mqtt.Topics{}.BMSSet(deviceID, p)
		if err := b.broker.PublishJSON(topic, map[string]any{"value": data[p]}, false); err != nil {
			b.logger.Warn("bms command failed", "protocol", b.name, "device_id", deviceID, "point", p, "error", err)
			return false
		}
	}
	return true
}

// DeviceStatus returns the status from the last read.
func (b *BMS) DeviceStatus(deviceID string) monitor.Status {
	return b.devices.status(deviceID)
}

// HealthCheck reports whether the broker is connected and the device has
// reported at least one fresh point.
func (b *BMS) HealthCheck(_ context.Context, deviceID string) bool {
	if b.life.check(b.name) != nil {
		return false
	}
	conn, err := b.devices.lookup(deviceID)
	if err != nil || !b.broker.IsConnected() {
		return false
	}
	staleAfter := b.current().staleAfter
	now := b.now()

	conn.mu.RLock()
	defer conn.mu.RUnlock()
	for _, p := range conn.points {
		if staleAfter == 0 || now.Sub(p.at) <= staleAfter {
			return true
		}
	}
	return false
}

// Destroy unsubscribes every device.
func (b *BMS) Destroy() {
	for _, conn := range b.devices.drain() {
		b.unsubscribe(conn)
	}
	b.life.end()
}

// Name returns the instance name.
func (b *BMS) Name() string { return b.name }

// Version returns the plugin version.
func (b *BMS) Version() string { return bmsVersion }

// SupportedMetrics lists the configured points.
func (b *BMS) SupportedMetrics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.settings.points)
}
