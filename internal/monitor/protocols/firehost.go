package protocols

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const (
	fireHostVersion     = "1.0.0"
	fireHostDefaultPort = 10001

	codeReady      = 220
	codeOK         = 200
	codeStatusList = 210
)

type fireHostSettings struct {
	timeout     time.Duration
	alarmValues []string
	writable    []string
}

// fireHostConn is one line-protocol session. The session is redialled on
// the next command after an I/O error.
type fireHostConn struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	tp   *textproto.Conn
}

// FireHost talks to fire alarm host panels over their ASCII line protocol.
//
// The panel greets with "220", answers STATUS with "210" followed by
// dot-terminated key=value lines, applies "SET k=v ..." atomically with
// "200", and answers PING with "200".
//
// Config keys:
//   - timeout_ms: per-command timeout, default 3000
//   - alarm_values: values that mark the device warning, default ["alarm", "fault"]
//   - writable: optional list of keys that SET accepts
type FireHost struct {
	name   string
	logger monitor.Logger
	life   lifecycle

	mu       sync.RWMutex
	settings fireHostSettings

	devices *deviceTable[*fireHostConn]
}

// NewFireHost creates a fire host plugin instance.
func NewFireHost(name string, logger monitor.Logger) *FireHost {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &FireHost{name: name, logger: logger, devices: newDeviceTable[*fireHostConn]()}
}

// Init validates and applies config.
func (f *FireHost) Init(config monitor.Config) error {
	var settings fireHostSettings
	var err error
	if settings.timeout, err = config.Millis("timeout_ms", 3*time.Second); err != nil {
		return initError(f.name, "%v", err)
	}
	if settings.timeout == 0 {
		return initError(f.name, "timeout_ms must be positive")
	}
	if settings.alarmValues, err = config.Strings("alarm_values"); err != nil {
		return initError(f.name, "%v", err)
	}
	if settings.alarmValues == nil {
		settings.alarmValues = []string{"alarm", "fault"}
	}
	if settings.writable, err = config.Strings("writable"); err != nil {
		return initError(f.name, "%v", err)
	}

	if err := f.life.begin(f.name); err != nil {
		return err
	}
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	f.logger.Info("firehost protocol initialised", "protocol", f.name)
	return nil
}

func (f *FireHost) current() fireHostSettings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// Connect dials the panel and waits for its greeting.
func (f *FireHost) Connect(ctx context.Context, dev monitor.DeviceConfig) bool {
	if f.life.check(f.name) != nil || dev.ID == "" || dev.Host == "" {
		return false
	}
	port := dev.Port
	if port == 0 {
		port = fireHostDefaultPort
	}
	conn := &fireHostConn{
		addr:    net.JoinHostPort(dev.Host, strconv.Itoa(port)),
		timeout: f.current().timeout,
	}

	conn.mu.Lock()
	err := conn.dial(ctx)
	conn.mu.Unlock()
	if err != nil {
		f.logger.Warn("firehost connect failed", "protocol", f.name, "device_id", dev.ID, "error", err)
		return false
	}
	if prev, had := f.devices.put(dev, conn); had {
		prev.close()
	}
	return true
}

// dial opens the session. The caller holds c.mu.
func (c *fireHostConn) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	tp := textproto.NewConn(nc)
	nc.SetDeadline(time.Now().Add(c.timeout)) //nolint:errcheck // surfaced by the read below
	if _, _, err := tp.ReadResponse(codeReady); err != nil {
		tp.Close() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("greeting: %w", err)
	}
	c.conn, c.tp = nc, tp
	return nil
}

// command sends one command and reads the reply, redialling first if the
// previous command broke the session. Dot lines are read when the reply
// code is codeStatusList.
func (c *fireHostConn) command(ctx context.Context, expect int, format string, args ...any) (string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		if err := c.dial(ctx); err != nil {
			return "", nil, err
		}
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline) //nolint:errcheck // surfaced by the I/O below

	id, err := c.tp.Cmd(format, args...)
	if err != nil {
		c.drop()
		return "", nil, err
	}
	c.tp.StartResponse(id)
	defer c.tp.EndResponse(id)

	_, msg, err := c.tp.ReadResponse(expect)
	if err != nil {
		var protoErr *textproto.Error
		if !errors.As(err, &protoErr) {
			c.drop()
		}
		return "", nil, err
	}
	if expect != codeStatusList {
		return msg, nil, nil
	}
	lines, err := c.tp.ReadDotLines()
	if err != nil {
		c.drop()
		return "", nil, err
	}
	return msg, lines, nil
}

// drop closes a broken session. The caller holds c.mu.
func (c *fireHostConn) drop() {
	if c.tp != nil {
		c.tp.Close() //nolint:errcheck // best-effort cleanup
	}
	c.conn, c.tp = nil, nil
}

func (c *fireHostConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp != nil {
		c.tp.Cmd("QUIT") //nolint:errcheck // best-effort goodbye
	}
	c.drop()
}

// Disconnect says goodbye and closes the session.
func (f *FireHost) Disconnect(deviceID string) {
	if conn, ok := f.devices.remove(deviceID); ok {
		conn.close()
	}
}

// ReadData issues STATUS. A panel reporting any alarm value is marked
// warning; an unreachable panel is marked error and returns no values.
func (f *FireHost) ReadData(ctx context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := f.life.check(f.name); err != nil {
		return nil, err
	}
	conn, err := f.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}
	settings := f.current()

	_, lines, err := conn.command(ctx, codeStatusList, "STATUS")
	if err != nil {
		f.logger.Warn("firehost status failed", "protocol", f.name, "device_id", deviceID, "error", err)
		f.devices.setStatus(deviceID, monitor.StatusError)
		return map[string]any{}, nil
	}

	values := make(map[string]any, len(lines))
	alarm := false
	for _, line := range lines {
		key, raw, ok := strings.Cut(line, "=")
		key, raw = strings.TrimSpace(key), strings.TrimSpace(raw)
		if !ok || key == "" {
			continue
		}
		if slices.Contains(settings.alarmValues, strings.ToLower(raw)) {
			alarm = true
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			values[key] = n
		} else {
			values[key] = raw
		}
	}

	if alarm {
		f.devices.setStatus(deviceID, monitor.StatusWarning)
	} else {
		f.devices.setStatus(deviceID, monitor.StatusOnline)
	}
	return selectMetrics(values, metrics), nil
}

// WriteData sends every entry in one SET command, which the panel applies
// as a whole.
func (f *FireHost) WriteData(ctx context.Context, deviceID string, data map[string]any) bool {
	if f.life.check(f.name) != nil || len(data) == 0 {
		return false
	}
	conn, err := f.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	settings := f.current()

	pairs := make([]string, 0, len(data))
	for _, key := range sortedKeys(data) {
		if len(settings.writable) > 0 && !slices.Contains(settings.writable, key) {
			return false
		}
		value := fmt.Sprint(data[key])
		if !fireHostToken(key) || !fireHostToken(value) {
			return false
		}
		pairs = append(pairs, key+"="+value)
	}

	if _, _, err := conn.command(ctx, codeOK, "SET %s", strings.Join(pairs, " ")); err != nil {
		f.logger.Warn("firehost set failed", "protocol", f.name, "device_id", deviceID, "error", err)
		return false
	}
	return true
}

// fireHostToken reports whether s can be sent as one side of a key=value pair.
func fireHostToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, "= \t\r\n")
}

// DeviceStatus returns the status from the last read.
func (f *FireHost) DeviceStatus(deviceID string) monitor.Status {
	return f.devices.status(deviceID)
}

// HealthCheck sends PING.
func (f *FireHost) HealthCheck(ctx context.Context, deviceID string) bool {
	if f.life.check(f.name) != nil {
		return false
	}
	conn, err := f.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	_, _, err = conn.command(ctx, codeOK, "PING")
	return err == nil
}

// Destroy closes every session.
func (f *FireHost) Destroy() {
	for _, conn := range f.devices.drain() {
		conn.close()
	}
	f.life.end()
}

// Name returns the instance name.
func (f *FireHost) Name() string { return f.name }

// Version returns the plugin version.
func (f *FireHost) Version() string { return fireHostVersion }

// SupportedMetrics lists the writable keys. Status keys are defined by the
// panel's zone layout.
func (f *FireHost) SupportedMetrics() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.settings.writable)
}
