// Package protocols implements the monitor.Protocol plugins:
//
//   - SNMP: polls OIDs with gosnmp (v1 and v2c)
//   - Modbus: reads and writes holding or input registers over Modbus TCP
//   - BMS: mirrors building-management points published on MQTT
//   - Sensor: reads JSON readings from HTTP sensors
//   - FireHost: talks to fire alarm panels over a line-based TCP protocol
//   - Custom: exchanges CBOR frames with site-specific devices
//
// Each plugin instance has its own name so several instances of the same
// kind can sit in one registry. Use New to build one from configuration.
package protocols
