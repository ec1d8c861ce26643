// Package monitor defines the facility-monitoring protocol contract and the
// registry that owns protocol plugin instances.
//
// A Protocol plugin speaks one device protocol (SNMP, Modbus, BMS over MQTT,
// HTTP sensors, fire alarm hosts, or a custom CBOR protocol) and manages its
// own per-device connections. Plugins live in the Registry under a unique
// name, for example "SENSOR-A":
//
//	registry := monitor.NewRegistry()
//	defer registry.Shutdown()
//
//	if err := registry.Register(plugin, monitor.Config{"poll_interval_ms": 5000}); err != nil {
//	    return err
//	}
//	err := registry.Use("SENSOR-A", func(p monitor.Protocol) error {
//	    values, err := p.ReadData(ctx, "lobby-temp", []string{"temperature"})
//	    ...
//	})
//
// # Lifecycle
//
// Register initialises a plugin and stores it only if Init succeeds.
// UpdateConfig destroys and re-initialises the same instance. Unregister and
// Shutdown destroy plugins. Lifecycle calls and Use for one name are
// serialised; different names proceed independently.
//
// The Poller samples every configured device on an interval and forwards
// readings to a MetricsWriter and status changes to a StatusPublisher.
package monitor
