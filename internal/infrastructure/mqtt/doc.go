// Package mqtt provides MQTT connectivity for Gray Logic Gateway.
//
// The gateway uses the site's MQTT bus for three things:
//   - Forwarding door-access events (graylogic/door/{manufacturer}/{door}/event)
//   - Publishing monitored device status (graylogic/monitor/{protocol}/{device}/status)
//   - Transporting BMS point values and commands for the BMS monitor protocol
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration, a Last Will on graylogic/system/status, and panic recovery
// around message handlers.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.MonitorStatus("SNMP", "ups-1"), status, true)
package mqtt
