package protocols

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const (
	modbusVersion     = "1.0.0"
	modbusDefaultPort = 502
	maxUnitID         = 247
)

type modbusSettings struct {
	unitID    byte
	registers map[string]uint16
	scale     map[string]float64
	input     bool
	signed    bool
	timeout   time.Duration
}

type modbusConn struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// Modbus reads and writes single 16-bit registers over Modbus TCP.
//
// Config keys:
//   - registers: mapping of metric name to register address (required)
//   - scale: mapping of metric name to multiplier applied on read, divided on write
//   - unit_id: default 1 (a device's "unit_id" param overrides it)
//   - register_type: "holding" (default) or "input"; input registers are read-only
//   - signed: read registers as int16
//   - timeout_ms: default 1000
type Modbus struct {
	name   string
	logger monitor.Logger
	life   lifecycle

	mu       sync.RWMutex
	settings modbusSettings

	devices *deviceTable[*modbusConn]
}

// NewModbus creates a Modbus TCP plugin instance.
func NewModbus(name string, logger monitor.Logger) *Modbus {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &Modbus{name: name, logger: logger, devices: newDeviceTable[*modbusConn]()}
}

// Init validates and applies config.
func (m *Modbus) Init(config monitor.Config) error {
	settings, err := m.parse(config)
	if err != nil {
		return err
	}
	if err := m.life.begin(m.name); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	m.logger.Info("modbus protocol initialised", "protocol", m.name, "registers", len(settings.registers))
	return nil
}

func (m *Modbus) parse(config monitor.Config) (modbusSettings, error) {
	var settings modbusSettings

	unit, err := config.Int("unit_id", 1)
	if err != nil || unit < 1 || unit > maxUnitID {
		return settings, initError(m.name, "unit_id must be 1-%d", maxUnitID)
	}
	settings.unitID = byte(unit)

	switch t := config.String("register_type", "holding"); t {
	case "holding":
	case "input":
		settings.input = true
	default:
		return settings, initError(m.name, "unknown register_type %q", t)
	}

	if settings.signed, err = config.Bool("signed", false); err != nil {
		return settings, initError(m.name, "%v", err)
	}
	if settings.timeout, err = config.Millis("timeout_ms", time.Second); err != nil {
		return settings, initError(m.name, "%v", err)
	}

	addrs, err := config.FloatMap("registers")
	if err != nil {
		return settings, initError(m.name, "%v", err)
	}
	if len(addrs) == 0 {
		return settings, initError(m.name, "at least one register is required")
	}
	settings.registers = make(map[string]uint16, len(addrs))
	for metric, a := range addrs {
		if a < 0 || a > math.MaxUint16 || a != math.Trunc(a) {
			return settings, initError(m.name, "register %v for %s out of range", a, metric)
		}
		settings.registers[metric] = uint16(a)
	}

	if settings.scale, err = config.FloatMap("scale"); err != nil {
		return settings, initError(m.name, "%v", err)
	}
	for metric, f := range settings.scale {
		if _, ok := settings.registers[metric]; !ok {
			return settings, initError(m.name, "scale given for unknown metric %s", metric)
		}
		if f == 0 {
			return settings, initError(m.name, "scale for %s must not be zero", metric)
		}
	}
	return settings, nil
}

func (m *Modbus) current() modbusSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Connect opens a TCP connection to the device.
func (m *Modbus) Connect(_ context.Context, dev monitor.DeviceConfig) bool {
	if m.life.check(m.name) != nil || dev.ID == "" || dev.Host == "" {
		return false
	}
	settings := m.current()

	port := dev.Port
	if port == 0 {
		port = modbusDefaultPort
	}
	unit := settings.unitID
	if v := dev.Params["unit_id"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxUnitID {
			m.logger.Warn("modbus device has invalid unit_id", "protocol", m.name, "device_id", dev.ID, "unit_id", v)
			return false
		}
		unit = byte(n)
	}

	handler := modbus.NewTCPClientHandler(net.JoinHostPort(dev.Host, strconv.Itoa(port)))
	handler.Timeout = settings.timeout
	handler.SlaveId = unit
	if err := handler.Connect(); err != nil {
		m.logger.Warn("modbus connect failed", "protocol", m.name, "device_id", dev.ID, "error", err)
		return false
	}

	conn := &modbusConn{handler: handler, client: modbus.NewClient(handler)}
	if prev, had := m.devices.put(dev, conn); had {
		prev.close()
	}
	return true
}

func (c *modbusConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.Close() //nolint:errcheck // best-effort cleanup
}

// read fetches one register.
func (c *modbusConn) read(address uint16, input bool) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		data []byte
		err  error
	)
	if input {
		data, err = c.client.ReadInputRegisters(address, 1)
	} else {
		data, err = c.client.ReadHoldingRegisters(address, 1)
	}
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, errShortResponse
	}
	return binary.BigEndian.Uint16(data), nil
}

// Disconnect closes the device's connection.
func (m *Modbus) Disconnect(deviceID string) {
	if conn, ok := m.devices.remove(deviceID); ok {
		conn.close()
	}
}

// ReadData reads each selected register. A device answering some but not
// all registers is marked warning; answering none marks it error.
func (m *Modbus) ReadData(_ context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := m.life.check(m.name); err != nil {
		return nil, err
	}
	conn, err := m.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	settings := m.current()
	selected := selectMetrics(settings.registers, metrics)
	out := make(map[string]any, len(selected))
	failed := 0
	for _, metric := range sortedKeys(selected) {
		raw, err := conn.read(selected[metric], settings.input)
		if err != nil {
			failed++
			m.logger.Debug("modbus read failed", "protocol", m.name, "device_id", deviceID, "metric", metric, "error", err)
			continue
		}
		out[metric] = settings.decode(metric, raw)
	}

	switch {
	case failed == 0:
		m.devices.setStatus(deviceID, monitor.StatusOnline)
	case failed < len(selected):
		m.devices.setStatus(deviceID, monitor.StatusWarning)
	default:
		m.devices.setStatus(deviceID, monitor.StatusError)
	}
	return out, nil
}

func (s modbusSettings) factor(metric string) float64 {
	if f, ok := s.scale[metric]; ok {
		return f
	}
	return 1
}

func (s modbusSettings) decode(metric string, raw uint16) float64 {
	v := float64(raw)
	if s.signed {
		v = float64(int16(raw)) //nolint:gosec // two's complement reinterpretation
	}
	return v * s.factor(metric)
}

// encode converts an engineering value back to a register word.
func (s modbusSettings) encode(metric string, value any) (uint16, bool) {
	f, err := monitor.ToFloat(value)
	if err != nil {
		return 0, false
	}
	word := math.Round(f / s.factor(metric))
	if s.signed {
		if word < math.MinInt16 || word > math.MaxInt16 {
			return 0, false
		}
		return uint16(int16(word)), true //nolint:gosec // range checked above
	}
	if word < 0 || word > math.MaxUint16 {
		return 0, false
	}
	return uint16(word), true
}

// WriteData validates every value before writing any register, then writes
// them in metric order. A failed write reports false; registers already
// written keep their new values.
func (m *Modbus) WriteData(_ context.Context, deviceID string, data map[string]any) bool {
	if m.life.check(m.name) != nil || len(data) == 0 {
		return false
	}
	settings := m.current()
	if settings.input {
		return false
	}
	conn, err := m.devices.lookup(deviceID)
	if err != nil {
		return false
	}

	metrics := sortedKeys(data)
	words := make([]uint16, len(metrics))
	for i, metric := range metrics {
		if _, ok := settings.registers[metric]; !ok {
			return false
		}
		w, ok := settings.encode(metric, data[metric])
		if !ok {
			return false
		}
		words[i] = w
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i, metric := range metrics {
		if _, err := conn.client.WriteSingleRegister(settings.registers[metric], words[i]); err != nil {
			m.logger.Warn("modbus write failed", "protocol", m.name, "device_id", deviceID, "metric", metric, "error", err)
			m.devices.setStatus(deviceID, monitor.StatusError)
			return false
		}
	}
	return true
}

// DeviceStatus returns the status from the last read or write.
func (m *Modbus) DeviceStatus(deviceID string) monitor.Status {
	return m.devices.status(deviceID)
}

// HealthCheck reads the lowest configured register.
func (m *Modbus) HealthCheck(_ context.Context, deviceID string) bool {
	if m.life.check(m.name) != nil {
		return false
	}
	conn, err := m.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	settings := m.current()
	lowest := uint16(math.MaxUint16)
	for _, a := range settings.registers {
		lowest = min(lowest, a)
	}
	_, err = conn.read(lowest, settings.input)
	return err == nil
}

// Destroy closes every connection.
func (m *Modbus) Destroy() {
	for _, conn := range m.devices.drain() {
		conn.close()
	}
	m.life.end()
}

// Name returns the instance name.
func (m *Modbus) Name() string { return m.name }

// Version returns the plugin version.
func (m *Modbus) Version() string { return modbusVersion }

// SupportedMetrics lists the configured register names.
func (m *Modbus) SupportedMetrics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.settings.registers)
}
