package protocols

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const customVersion = "1.0.0"

type customSettings struct {
	metrics  []string
	timeout  time.Duration
	maxFrame int
}

// customConn is one framed session. Requests are strictly request/response;
// the session is redialled after an I/O or framing error.
type customConn struct {
	addr     string
	timeout  time.Duration
	maxFrame int

	mu   sync.Mutex
	conn net.Conn
}

// Custom speaks the gateway's own CBOR request/response protocol, for
// devices that ship a small agent instead of a standard interface.
//
// Config keys:
//   - metrics: list of metric names the agent serves
//   - timeout_ms: per-request timeout, default 3000
//   - max_frame_bytes: default 65536
//
// Devices have no default port.
type Custom struct {
	name   string
	logger monitor.Logger
	life   lifecycle

	mu       sync.RWMutex
	settings customSettings

	devices *deviceTable[*customConn]
}

// NewCustom creates a custom protocol plugin instance.
func NewCustom(name string, logger monitor.Logger) *Custom {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &Custom{name: name, logger: logger, devices: newDeviceTable[*customConn]()}
}

// Init validates and applies config.
func (c *Custom) Init(config monitor.Config) error {
	var settings customSettings
	var err error
	if settings.metrics, err = config.Strings("metrics"); err != nil {
		return initError(c.name, "%v", err)
	}
	slices.Sort(settings.metrics)
	settings.metrics = slices.Compact(settings.metrics)
	if settings.timeout, err = config.Millis("timeout_ms", 3*time.Second); err != nil {
		return initError(c.name, "%v", err)
	}
	if settings.timeout == 0 {
		return initError(c.name, "timeout_ms must be positive")
	}
	if settings.maxFrame, err = config.Int("max_frame_bytes", defaultMaxFrameBytes); err != nil || settings.maxFrame < 16 {
		return initError(c.name, "max_frame_bytes must be at least 16")
	}

	if err := c.life.begin(c.name); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	c.logger.Info("custom protocol initialised", "protocol", c.name, "metrics", len(settings.metrics))
	return nil
}

func (c *Custom) current() customSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Connect dials the agent and pings it.
func (c *Custom) Connect(ctx context.Context, dev monitor.DeviceConfig) bool {
	if c.life.check(c.name) != nil || dev.ID == "" || dev.Host == "" || dev.Port == 0 {
		return false
	}
	settings := c.current()
	conn := &customConn{
		addr:     net.JoinHostPort(dev.Host, strconv.Itoa(dev.Port)),
		timeout:  settings.timeout,
		maxFrame: settings.maxFrame,
	}
	if _, err := conn.roundTrip(ctx, customRequest{Op: opPing}); err != nil {
		c.logger.Warn("custom connect failed", "protocol", c.name, "device_id", dev.ID, "error", err)
		conn.close()
		return false
	}
	if prev, had := c.devices.put(dev, conn); had {
		prev.close()
	}
	return true
}

// roundTrip sends req with a fresh ID and returns the matching response.
// A response with OK false is returned with an error wrapping
// errDeviceRejected and leaves the session open.
func (cc *customConn) roundTrip(ctx context.Context, req customRequest) (customResponse, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.conn == nil {
		d := net.Dialer{Timeout: cc.timeout}
		conn, err := d.DialContext(ctx, "tcp", cc.addr)
		if err != nil {
			return customResponse{}, err
		}
		cc.conn = conn
	}
	deadline := time.Now().Add(cc.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	cc.conn.SetDeadline(deadline) //nolint:errcheck // surfaced by the I/O below

	req.ID = uuid.NewString()
	if err := writeFrame(cc.conn, req, cc.maxFrame); err != nil {
		cc.drop()
		return customResponse{}, err
	}
	var resp customResponse
	if err := readFrame(cc.conn, &resp, cc.maxFrame); err != nil {
		cc.drop()
		return customResponse{}, err
	}
	if resp.ID != req.ID {
		cc.drop()
		return customResponse{}, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%w: %s: %s", errDeviceRejected, req.Op, resp.Error)
	}
	return resp, nil
}

// drop closes a broken session. The caller holds cc.mu.
func (cc *customConn) drop() {
	if cc.conn != nil {
		cc.conn.Close() //nolint:errcheck // best-effort cleanup
		cc.conn = nil
	}
}

func (cc *customConn) close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.drop()
}

// Disconnect closes the device's session.
func (c *Custom) Disconnect(deviceID string) {
	if conn, ok := c.devices.remove(deviceID); ok {
		conn.close()
	}
}

// ReadData asks the agent for the selected metrics. The agent may report
// its own status; otherwise an answered read marks the device online.
func (c *Custom) ReadData(ctx context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := c.life.check(c.name); err != nil {
		return nil, err
	}
	conn, err := c.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	resp, err := conn.roundTrip(ctx, customRequest{Op: opRead, Metrics: metrics})
	if err != nil {
		c.logger.Warn("custom read failed", "protocol", c.name, "device_id", deviceID, "error", err)
		c.devices.setStatus(deviceID, monitor.StatusError)
		return map[string]any{}, nil
	}

	out := make(map[string]any, len(resp.Values))
	for k, v := range resp.Values {
		if len(metrics) > 0 && !slices.Contains(metrics, k) {
			continue
		}
		if f, err := monitor.ToFloat(v); err == nil {
			if _, isString := v.(string); !isString {
				v = f
			}
		}
		out[k] = v
	}

	switch status := monitor.Status(resp.Status); status {
	case monitor.StatusOnline, monitor.StatusWarning, monitor.StatusError:
		c.devices.setStatus(deviceID, status)
	default:
		c.devices.setStatus(deviceID, monitor.StatusOnline)
	}
	return out, nil
}

// WriteData sends every entry in one write request; the agent applies it
// as a whole or rejects it.
func (c *Custom) WriteData(ctx context.Context, deviceID string, data map[string]any) bool {
	if c.life.check(c.name) != nil || len(data) == 0 {
		return false
	}
	conn, err := c.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	if _, err := conn.roundTrip(ctx, customRequest{Op: opWrite, Data: data}); err != nil {
		c.logger.Warn("custom write failed", "protocol", c.name, "device_id", deviceID, "error", err)
		return false
	}
	return true
}

// DeviceStatus returns the status from the last read.
func (c *Custom) DeviceStatus(deviceID string) monitor.Status {
	return c.devices.status(deviceID)
}

// HealthCheck pings the agent.
func (c *Custom) HealthCheck(ctx context.Context, deviceID string) bool {
	if c.life.check(c.name) != nil {
		return false
	}
	conn, err := c.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	_, err = conn.roundTrip(ctx, customRequest{Op: opPing})
	return err == nil
}

// Destroy closes every session.
func (c *Custom) Destroy() {
	for _, conn := range c.devices.drain() {
		conn.close()
	}
	c.life.end()
}

// Name returns the instance name.
func (c *Custom) Name() string { return c.name }

// Version returns the plugin version.
func (c *Custom) Version() string { return customVersion }

// SupportedMetrics lists the configured metrics.
func (c *Custom) SupportedMetrics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.settings.metrics)
}
