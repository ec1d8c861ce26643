// Package influxdb provides InfluxDB connectivity for Gray Logic Gateway.
//
// It wraps the official influxdb-client-go v2 library. The monitor poller
// writes every device sample here as a point in the "monitor_samples"
// measurement, tagged with protocol and device.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSample("SNMP", "ups-1", map[string]any{"battery_pct": 98.0}, time.Now())
//
// Writes are non-blocking and batched; asynchronous failures are delivered
// to the callback set with SetOnError.
package influxdb
