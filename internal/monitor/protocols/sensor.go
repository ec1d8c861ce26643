package protocols

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const (
	sensorVersion      = "1.0.0"
	maxSensorBodyBytes = 1 << 20
)

type sensorSettings struct {
	scheme       string
	path         string
	readingsPath string
	fields       map[string]string
	metrics      []string
	healthPath   string
	writePath    string
	cacheTTL     time.Duration
	timeout      time.Duration
}

// sensorConn caches the last reading from one device.
type sensorConn struct {
	baseURL string
	apiKey  string

	mu        sync.Mutex
	values    map[string]any
	fetchedAt time.Time
}

// Sensor reads environmental sensors that expose readings as JSON over HTTP.
//
// Config keys:
//   - path: readings endpoint, default "/api/readings"
//   - readings_path: gjson path of the readings object, default "readings";
//     "" uses the whole document
//   - fields: mapping of metric name to gjson path, for values outside the
//     readings object or under other names
//   - metrics: optional list of metric names the devices are expected to report
//   - poll_interval_ms: readings are reused for this long, default 5000
//   - health_path: default "/health"
//   - write_path: endpoint accepting a JSON object of values; without it
//     the device is read-only
//   - scheme: "http" (default) or "https"
//   - timeout_ms: default 3000
//
// A device's "api_key" param is sent as the X-API-Key header.
type Sensor struct {
	name   string
	logger monitor.Logger
	client *http.Client
	life   lifecycle
	now    func() time.Time

	mu       sync.RWMutex
	settings sensorSettings

	devices *deviceTable[*sensorConn]
}

// NewSensor creates an HTTP sensor plugin instance.
func NewSensor(name string, logger monitor.Logger) *Sensor {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &Sensor{
		name:    name,
		logger:  logger,
		client:  &http.Client{},
		now:     time.Now,
		devices: newDeviceTable[*sensorConn](),
	}
}

// Init validates and applies config.
func (s *Sensor) Init(config monitor.Config) error {
	settings, err := s.parse(config)
	if err != nil {
		return err
	}
	if err := s.life.begin(s.name); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.logger.Info("sensor protocol initialised", "protocol", s.name, "path", settings.path)
	return nil
}

func (s *Sensor) parse(config monitor.Config) (sensorSettings, error) {
	settings := sensorSettings{
		scheme:       config.String("scheme", "http"),
		path:         config.String("path", "/api/readings"),
		readingsPath: config.String("readings_path", "readings"),
		healthPath:   config.String("health_path", "/health"),
		writePath:    config.String("write_path", ""),
	}
	if settings.scheme != "http" && settings.scheme != "https" {
		return settings, initError(s.name, "scheme must be http or https")
	}
	for key, p := range map[string]string{"path": settings.path, "health_path": settings.healthPath, "write_path": settings.writePath} {
		if p != "" && p[0] != '/' {
			return settings, initError(s.name, "%s must start with /", key)
		}
	}
	if settings.path == "" {
		return settings, initError(s.name, "path is required")
	}

	var err error
	if settings.cacheTTL, err = config.Millis("poll_interval_ms", 5*time.Second); err != nil {
		return settings, initError(s.name, "%v", err)
	}
	if settings.timeout, err = config.Millis("timeout_ms", 3*time.Second); err != nil {
		return settings, initError(s.name, "%v", err)
	}
	if settings.fields, err = config.StringMap("fields"); err != nil {
		return settings, initError(s.name, "%v", err)
	}
	for metric, p := range settings.fields {
		if p == "" {
			return settings, initError(s.name, "empty path for field %s", metric)
		}
	}
	declared, err := config.Strings("metrics")
	if err != nil {
		return settings, initError(s.name, "%v", err)
	}
	for _, m := range declared {
		if !slices.Contains(settings.metrics, m) {
			settings.metrics = append(settings.metrics, m)
		}
	}
	for metric := range settings.fields {
		if !slices.Contains(settings.metrics, metric) {
			settings.metrics = append(settings.metrics, metric)
		}
	}
	slices.Sort(settings.metrics)
	return settings, nil
}

func (s *Sensor) current() sensorSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Connect fetches one reading to confirm the device answers.
func (s *Sensor) Connect(ctx context.Context, dev monitor.DeviceConfig) bool {
	if s.life.check(s.name) != nil || dev.ID == "" || dev.Host == "" {
		return false
	}
	settings := s.current()

	host := dev.Host
	if dev.Port != 0 {
		host = net.JoinHostPort(dev.Host, strconv.Itoa(dev.Port))
	}
	conn := &sensorConn{
		baseURL: settings.scheme + "://" + host,
		apiKey:  dev.Params["api_key"],
	}
	values, err := s.fetch(ctx, conn, settings)
	if err != nil {
		s.logger.Warn("sensor connect failed", "protocol", s.name, "device_id", dev.ID, "error", err)
		return false
	}
	conn.values, conn.fetchedAt = values, s.now()

	s.devices.put(dev, conn)
	return true
}

// Disconnect forgets the device and its cached reading.
func (s *Sensor) Disconnect(deviceID string) {
	s.devices.remove(deviceID)
}

// ReadData returns the cached reading if it is younger than
// poll_interval_ms, otherwise fetches a new one. A failed fetch marks the
// device error and returns no values.
func (s *Sensor) ReadData(ctx context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := s.life.check(s.name); err != nil {
		return nil, err
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}
	settings := s.current()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.values == nil || s.now().Sub(conn.fetchedAt) >= settings.cacheTTL {
		values, err := s.fetch(ctx, conn, settings)
		if err != nil {
			s.logger.Warn("sensor read failed", "protocol", s.name, "device_id", deviceID, "error", err)
			s.devices.setStatus(deviceID, monitor.StatusError)
			return map[string]any{}, nil
		}
		conn.values, conn.fetchedAt = values, s.now()
	}

	s.devices.setStatus(deviceID, monitor.StatusOnline)
	selected := selectMetrics(conn.values, metrics)
	out := make(map[string]any, len(selected))
	for k, v := range selected {
		out[k] = v
	}
	return out, nil
}

func (s *Sensor) fetch(ctx context.Context, conn *sensorConn, settings sensorSettings) (map[string]any, error) {
	body, err := s.do(ctx, conn, settings, http.MethodGet, settings.path, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", errDeviceRejected)
	}
	return extractReadings(body, settings.readingsPath, settings.fields), nil
}

// extractReadings collects scalar members of the readings object plus the
// explicitly mapped fields. Nested objects, arrays and nulls are skipped.
func extractReadings(body []byte, readingsPath string, fields map[string]string) map[string]any {
	root := gjson.ParseBytes(body)
	if readingsPath != "" {
		root = root.Get(readingsPath)
	}

	out := make(map[string]any)
	if root.IsObject() {
		root.ForEach(func(key, value gjson.Result) bool {
			if v, ok := scalar(value); ok {
				out[key.String()] = v
			}
			return true
		})
	}
	for metric, p := range fields {
		if v, ok := scalar(gjson.GetBytes(body, p)); ok {
			out[metric] = v
		}
	}
	return out
}

func scalar(r gjson.Result) (any, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		return r.Str, true
	case gjson.True, gjson.False:
		return r.Bool(), true
	default:
		return nil, false
	}
}

func (s *Sensor) do(ctx context.Context, conn *sensorConn, settings sensorSettings, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, settings.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, conn.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if conn.apiKey != "" {
		req.Header.Set("X-API-Key", conn.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSensorBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", errDeviceRejected, method, path, resp.StatusCode)
	}
	return data, nil
}

// WriteData posts data as one JSON object to write_path, so the device
// accepts or rejects it as a whole. The cached reading is discarded on
// success.
func (s *Sensor) WriteData(ctx context.Context, deviceID string, data map[string]any) bool {
	if s.life.check(s.name) != nil || len(data) == 0 {
		return false
	}
	settings := s.current()
	if settings.writePath == "" {
		return false
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}
	if _, err := s.do(ctx, conn, settings, http.MethodPost, settings.writePath, payload); err != nil {
		s.logger.Warn("sensor write failed", "protocol", s.name, "device_id", deviceID, "error", err)
		return false
	}

	conn.mu.Lock()
	conn.values = nil
	conn.mu.Unlock()
	return true
}

// DeviceStatus returns the status from the last read.
func (s *Sensor) DeviceStatus(deviceID string) monitor.Status {
	return s.devices.status(deviceID)
}

// HealthCheck requests health_path.
func (s *Sensor) HealthCheck(ctx context.Context, deviceID string) bool {
	if s.life.check(s.name) != nil {
		return false
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	settings := s.current()
	_, err = s.do(ctx, conn, settings, http.MethodGet, settings.healthPath, nil)
	return err == nil
}

// Destroy forgets every device and closes idle connections.
func (s *Sensor) Destroy() {
	s.devices.drain()
	s.client.CloseIdleConnections()
	s.life.end()
}

// Name returns the instance name.
func (s *Sensor) Name() string { return s.name }

// Version returns the plugin version.
func (s *Sensor) Version() string { return sensorVersion }

// SupportedMetrics lists the declared metrics and mapped fields.
func (s *Sensor) SupportedMetrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.settings.metrics)
}
