package protocols

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gosnmp/gosnmp"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

func TestSNMPInitValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  monitor.Config
		wantErr bool
	}{
		{"defaults", monitor.Config{}, false},
		{"version 1", monitor.Config{"version": "1"}, false},
		{"bad version", monitor.Config{"version": "3"}, true},
		{"custom oid", monitor.Config{"oids": map[string]any{"rack_temp": "1.3.6.1.4.1.9.1"}}, false},
		{"bad oid", monitor.Config{"oids": map[string]any{"rack_temp": "iso.org"}}, true},
		{"negative retries", monitor.Config{"retries": -1}, true},
		{"negative timeout", monitor.Config{"timeout_ms": -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewSNMP("snmp", nil)
			err := p.Init(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, monitor.ErrInitialization) {
				t.Errorf("Init() error = %v, want ErrInitialization", err)
			}
		})
	}
}

func TestSNMPLifecycle(t *testing.T) {
	p := NewSNMP("snmp", nil)

	if _, err := p.ReadData(context.Background(), "ups-1", nil); !errors.Is(err, monitor.ErrNotInitialized) {
		t.Errorf("ReadData() before Init error = %v, want ErrNotInitialized", err)
	}
	if p.Connect(context.Background(), monitor.DeviceConfig{ID: "ups-1", Host: "127.0.0.1"}) {
		t.Error("Connect() before Init = true, want false")
	}

	if err := p.Init(monitor.Config{}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := p.Init(monitor.Config{}); !errors.Is(err, monitor.ErrInitialization) {
		t.Errorf("second Init() error = %v, want ErrInitialization", err)
	}

	if _, err := p.ReadData(context.Background(), "ups-1", nil); !errors.Is(err, monitor.ErrDeviceNotConnected) {
		t.Errorf("ReadData() unknown device error = %v, want ErrDeviceNotConnected", err)
	}
	if p.WriteData(context.Background(), "ups-1", map[string]any{"sys_name": "x"}) {
		t.Error("WriteData() unknown device = true, want false")
	}
	if got := p.DeviceStatus("ups-1"); got != monitor.StatusOffline {
		t.Errorf("DeviceStatus() = %q, want offline", got)
	}

	p.Destroy()
	if err := p.Init(monitor.Config{"version": "1"}); err != nil {
		t.Errorf("Init() after Destroy error = %v", err)
	}
}

func TestSNMPConnectUnreachableAgent(t *testing.T) {
	p := NewSNMP("snmp", nil)
	if err := p.Init(monitor.Config{"timeout_ms": 100, "retries": 0}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer p.Destroy()

	dev := monitor.DeviceConfig{ID: "ups-1", Host: "127.0.0.1", Port: 1}
	if p.Connect(context.Background(), dev) {
		t.Fatal("Connect() to closed port = true, want false")
	}
	if p.HealthCheck(context.Background(), "ups-1") {
		t.Error("HealthCheck() = true for device that never connected")
	}
}

func TestSNMPSupportedMetrics(t *testing.T) {
	p := NewSNMP("snmp", nil)
	if got := p.SupportedMetrics(); !slices.Contains(got, "sys_uptime") {
		t.Errorf("SupportedMetrics() before Init = %v, want built-ins", got)
	}

	if err := p.Init(monitor.Config{"oids": map[string]any{"rack_temp": ".1.3.6.1.4.1.9.1"}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	got := p.SupportedMetrics()
	if !slices.Contains(got, "rack_temp") || !slices.Contains(got, "ups_output_load") {
		t.Errorf("SupportedMetrics() = %v, want built-ins plus rack_temp", got)
	}
	if !slices.IsSorted(got) {
		t.Errorf("SupportedMetrics() = %v, want sorted", got)
	}
}

func TestSNMPValue(t *testing.T) {
	tests := []struct {
		name   string
		pdu    gosnmp.SnmpPDU
		want   any
		wantOK bool
	}{
		{"octet string", gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("ups-east")}, "ups-east", true},
		{"integer", gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 42}, 42.0, true},
		{"gauge", gosnmp.SnmpPDU{Type: gosnmp.Gauge32, Value: uint(230)}, 230.0, true},
		{"timeticks", gosnmp.SnmpPDU{Type: gosnmp.TimeTicks, Value: uint32(12345)}, 12345.0, true},
		{"counter64", gosnmp.SnmpPDU{Type: gosnmp.Counter64, Value: uint64(7)}, 7.0, true},
		{"no such object", gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}, nil, false},
		{"no such instance", gosnmp.SnmpPDU{Type: gosnmp.NoSuchInstance}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := snmpValue(tt.pdu)
			if ok != tt.wantOK {
				t.Fatalf("snmpValue() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("snmpValue() = %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestSNMPSetPDU(t *testing.T) {
	pdu, ok := snmpSetPDU(".1.3.6.1.2.1.1.5.0", "ups-east")
	if !ok || pdu.Type != gosnmp.OctetString {
		t.Errorf("snmpSetPDU(string) = %+v, %v", pdu, ok)
	}
	pdu, ok = snmpSetPDU(".1.3.6.1.4.1.9.1", 3)
	if !ok || pdu.Type != gosnmp.Integer || pdu.Value != 3 {
		t.Errorf("snmpSetPDU(int) = %+v, %v", pdu, ok)
	}
	if _, ok := snmpSetPDU(".1.3.6.1.4.1.9.1", 1.5); ok {
		t.Error("snmpSetPDU(1.5) ok = true, want false")
	}
	if _, ok := snmpSetPDU(".1.3.6.1.4.1.9.1", []int{1}); ok {
		t.Error("snmpSetPDU(slice) ok = true, want false")
	}
}
