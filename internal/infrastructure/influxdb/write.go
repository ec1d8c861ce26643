package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	// measurementMonitorSamples holds every value read from a monitored device.
	measurementMonitorSamples = "monitor_samples"

	measurementMonitorStatus = "monitor_status"
)

// WriteSample records one poll of a monitored device.
//
// Each entry of values becomes a field; protocol and deviceID become tags.
// Values of types InfluxDB cannot store natively are written in their
// string form. Empty samples are dropped.
func (c *Client) WriteSample(protocol, deviceID string, values map[string]any, ts time.Time) {
	if !c.IsConnected() || len(values) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}

	point := write.NewPoint(
		measurementMonitorSamples,
		map[string]string{
			"protocol":  protocol,
			"device_id": deviceID,
		},
		fields,
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a device's status label so outages can be charted.
func (c *Client) WriteDeviceStatus(protocol, deviceID, status string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementMonitorStatus,
		map[string]string{
			"protocol":  protocol,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"status": status,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
