package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"door event", topics.DoorEvent("hikvision", "door-1"), "graylogic/door/hikvision/door-1/event"},
		{"door event sanitised", topics.DoorEvent("zkteco", "a/b+#"), "graylogic/door/zkteco/a_b__/event"},
		{"monitor status", topics.MonitorStatus("SENSOR-A", "temp-01"), "graylogic/monitor/SENSOR-A/temp-01/status"},
		{"bms set", topics.BMSSet("ahu-1", "setpoint"), "graylogic/bms/ahu-1/set/setpoint"},
		{"system status", topics.SystemStatus(), "graylogic/system/status"},
		{"all bms points", topics.AllBMSPoints("ahu-1"), "graylogic/bms/ahu-1/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLastSegment(t *testing.T) {
	if got := LastSegment("graylogic/bms/ahu-1/supply_temp"); got != "supply_temp" {
		t.Errorf("LastSegment() = %q, want %q", got, "supply_temp")
	}
	if got := LastSegment("plain"); got != "plain" {
		t.Errorf("LastSegment() = %q, want %q", got, "plain")
	}
}
