package protocols

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

const (
	snmpVersion     = "1.0.0"
	snmpDefaultPort = 161
	oidSysUpTime    = ".1.3.6.1.2.1.1.3.0"
)

// snmpBuiltinOIDs are metrics every SNMP instance can read without configuration.
var snmpBuiltinOIDs = map[string]string{
	"sys_descr":            ".1.3.6.1.2.1.1.1.0",
	"sys_uptime":           oidSysUpTime,
	"sys_name":             ".1.3.6.1.2.1.1.5.0",
	"ups_battery_capacity": ".1.3.6.1.2.1.33.1.2.4.0",
	"ups_input_voltage":    ".1.3.6.1.2.1.33.1.3.3.1.3.1",
	"ups_output_load":      ".1.3.6.1.2.1.33.1.4.4.1.5.1",
}

type snmpSettings struct {
	community string
	version   gosnmp.SnmpVersion
	oids      map[string]string // metric -> OID with leading dot
	timeout   time.Duration
	retries   int
}

// snmpConn serialises requests on one gosnmp session, which is not safe
// for concurrent use.
type snmpConn struct {
	mu     sync.Mutex
	client *gosnmp.GoSNMP
}

// SNMP polls devices over SNMP v1 or v2c.
//
// Config keys:
//   - community: default "public" (a device's "community" param overrides it)
//   - version: "1" or "2c" (default)
//   - oids: mapping of metric name to OID, merged over the built-in metrics
//   - timeout_ms: per-request timeout, default 2000
//   - retries: default 1
type SNMP struct {
	name   string
	logger monitor.Logger
	life   lifecycle

	mu       sync.RWMutex
	settings snmpSettings

	devices *deviceTable[*snmpConn]
}

// NewSNMP creates an SNMP plugin instance.
func NewSNMP(name string, logger monitor.Logger) *SNMP {
	if logger == nil {
		logger = monitor.NoopLogger{}
	}
	return &SNMP{name: name, logger: logger, devices: newDeviceTable[*snmpConn]()}
}

// Init validates and applies config.
func (s *SNMP) Init(config monitor.Config) error {
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
	s.logger.Info("snmp protocol initialised", "protocol", s.name, "metrics", len(settings.oids))
	return nil
}

func (s *SNMP) parse(config monitor.Config) (snmpSettings, error) {
	settings := snmpSettings{community: config.String("community", "public")}

	switch v := config.String("version", "2c"); v {
	case "1":
		settings.version = gosnmp.Version1
	case "2c", "2":
		settings.version = gosnmp.Version2c
	default:
		return settings, initError(s.name, "unsupported snmp version %q", v)
	}

	var err error
	if settings.timeout, err = config.Millis("timeout_ms", 2*time.Second); err != nil {
		return settings, initError(s.name, "%v", err)
	}
	if settings.retries, err = config.Int("retries", 1); err != nil || settings.retries < 0 {
		return settings, initError(s.name, "retries must be a non-negative integer")
	}

	custom, err := config.StringMap("oids")
	if err != nil {
		return settings, initError(s.name, "%v", err)
	}
	settings.oids = maps.Clone(snmpBuiltinOIDs)
	for metric, oid := range custom {
		oid = strings.TrimSpace(oid)
		if oid == "" || strings.Trim(oid, ".0123456789") != "" {
			return settings, initError(s.name, "invalid OID %q for metric %s", oid, metric)
		}
		if !strings.HasPrefix(oid, ".") {
			oid = "." + oid
		}
		settings.oids[metric] = oid
	}
	return settings, nil
}

func (s *SNMP) current() snmpSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Connect opens a UDP session and confirms the agent answers.
func (s *SNMP) Connect(_ context.Context, dev monitor.DeviceConfig) bool {
	if s.life.check(s.name) != nil || dev.ID == "" || dev.Host == "" {
		return false
	}
	settings := s.current()

	port := dev.Port
	if port == 0 {
		port = snmpDefaultPort
	}
	community := settings.community
	if c := dev.Params["community"]; c != "" {
		community = c
	}

	client := &gosnmp.GoSNMP{
		Target:    dev.Host,
		Port:      uint16(port), //nolint:gosec // port validated by config
		Transport: "udp",
		Community: community,
		Version:   settings.version,
		Timeout:   settings.timeout,
		Retries:   settings.retries,
		MaxOids:   gosnmp.MaxOids,
		Context:   context.Background(),
	}
	if err := client.Connect(); err != nil {
		s.logger.Warn("snmp connect failed", "protocol", s.name, "device_id", dev.ID, "error", err)
		return false
	}
	if _, err := client.Get([]string{oidSysUpTime}); err != nil {
		s.logger.Warn("snmp agent not answering", "protocol", s.name, "device_id", dev.ID, "error", err)
		client.Conn.Close() //nolint:errcheck // best-effort cleanup
		return false
	}

	if prev, had := s.devices.put(dev, &snmpConn{client: client}); had {
		prev.close()
	}
	return true
}

func (c *snmpConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client.Conn != nil {
		c.client.Conn.Close() //nolint:errcheck // best-effort cleanup
	}
}

// Disconnect closes a device's session.
func (s *SNMP) Disconnect(deviceID string) {
	if conn, ok := s.devices.remove(deviceID); ok {
		conn.close()
	}
}

// ReadData issues GET requests for the selected metrics.
func (s *SNMP) ReadData(_ context.Context, deviceID string, metrics []string) (map[string]any, error) {
	if err := s.life.check(s.name); err != nil {
		return nil, err
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	selected := selectMetrics(s.current().oids, metrics)
	byOID := make(map[string]string, len(selected))
	oids := make([]string, 0, len(selected))
	for _, metric := range sortedKeys(selected) {
		byOID[selected[metric]] = metric
		oids = append(oids, selected[metric])
	}

	out := make(map[string]any, len(oids))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for start := 0; start < len(oids); start += gosnmp.MaxOids {
		end := min(start+gosnmp.MaxOids, len(oids))
		pkt, err := conn.client.Get(oids[start:end])
		if err != nil {
			s.logger.Warn("snmp get failed", "protocol", s.name, "device_id", deviceID, "error", err)
			s.devices.setStatus(deviceID, monitor.StatusError)
			return out, nil
		}
		for _, pdu := range pkt.Variables {
			metric, ok := byOID[pdu.Name]
			if !ok {
				continue
			}
			if v, ok := snmpValue(pdu); ok {
				out[metric] = v
			}
		}
	}

	s.devices.setStatus(deviceID, monitor.StatusOnline)
	return out, nil
}

// snmpValue converts a PDU to a Go value. Missing objects report false.
func snmpValue(pdu gosnmp.SnmpPDU) (any, bool) {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return nil, false
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b), true
		}
		return fmt.Sprint(pdu.Value), true
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.OpaqueFloat, gosnmp.OpaqueDouble:
		f, err := monitor.ToFloat(pdu.Value)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return fmt.Sprint(pdu.Value), true
	}
}

// WriteData issues one SET for every entry. SNMP applies a SET request as
// a whole, so the device either takes every value or none.
func (s *SNMP) WriteData(_ context.Context, deviceID string, data map[string]any) bool {
	if s.life.check(s.name) != nil || len(data) == 0 {
		return false
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return false
	}

	oids := s.current().oids
	pdus := make([]gosnmp.SnmpPDU, 0, len(data))
	for _, metric := range sortedKeys(data) {
		oid, ok := oids[metric]
		if !ok {
			return false
		}
		pdu, ok := snmpSetPDU(oid, data[metric])
		if !ok {
			return false
		}
		pdus = append(pdus, pdu)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	pkt, err := conn.client.Set(pdus)
	if err != nil || pkt.Error != gosnmp.NoError {
		s.logger.Warn("snmp set failed", "protocol", s.name, "device_id", deviceID, "error", err)
		return false
	}
	return true
}

// snmpSetPDU encodes whole numbers as Integer and strings as OctetString.
func snmpSetPDU(oid string, value any) (gosnmp.SnmpPDU, bool) {
	if s, ok := value.(string); ok {
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.OctetString, Value: s}, true
	}
	f, err := monitor.ToFloat(value)
	if err != nil || f != float64(int(f)) {
		return gosnmp.SnmpPDU{}, false
	}
	return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: int(f)}, true
}

// DeviceStatus returns the status from the last read.
func (s *SNMP) DeviceStatus(deviceID string) monitor.Status {
	return s.devices.status(deviceID)
}

// HealthCheck reads sysUpTime.
func (s *SNMP) HealthCheck(_ context.Context, deviceID string) bool {
	if s.life.check(s.name) != nil {
		return false
	}
	conn, err := s.devices.lookup(deviceID)
	if err != nil {
		return false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	pkt, err := conn.client.Get([]string{oidSysUpTime})
	return err == nil && pkt.Error == gosnmp.NoError
}

// Destroy closes every session.
func (s *SNMP) Destroy() {
	for _, conn := range s.devices.drain() {
		conn.close()
	}
	s.life.end()
}

// Name returns the instance name.
func (s *SNMP) Name() string { return s.name }

// Version returns the plugin version.
func (s *SNMP) Version() string { return snmpVersion }

// SupportedMetrics lists built-in and configured metric names.
func (s *SNMP) SupportedMetrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.oids == nil {
		return sortedKeys(snmpBuiltinOIDs)
	}
	return sortedKeys(s.settings.oids)
}
