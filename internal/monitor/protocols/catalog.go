package protocols

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/monitor"
)

// Kind names accepted by New.
const (
	KindSNMP     = "snmp"
	KindModbus   = "modbus"
	KindBMS      = "bms"
	KindSensor   = "sensor"
	KindFireHost = "firehost"
	KindCustom   = "custom"
)

// Deps are the shared collaborators plugins may need.
type Deps struct {
	// Broker carries BMS traffic. Nil leaves BMS plugins unable to connect.
	Broker Broker
	Logger monitor.Logger
}

var constructors = map[string]func(name string, deps Deps) monitor.Protocol{
	KindSNMP:     func(name string, d Deps) monitor.Protocol { return NewSNMP(name, d.Logger) },
	KindModbus:   func(name string, d Deps) monitor.Protocol { return NewModbus(name, d.Logger) },
	KindBMS:      func(name string, d Deps) monitor.Protocol { return NewBMS(name, d.Broker, d.Logger) },
	KindSensor:   func(name string, d Deps) monitor.Protocol { return NewSensor(name, d.Logger) },
	KindFireHost: func(name string, d Deps) monitor.Protocol { return NewFireHost(name, d.Logger) },
	KindCustom:   func(name string, d Deps) monitor.Protocol { return NewCustom(name, d.Logger) },
}

// New creates an uninitialised plugin of the given kind. Kinds are matched
// case-insensitively; "fire_host" and "fire-host" are accepted for firehost.
func New(kind, name string, deps Deps) (monitor.Protocol, error) {
	key := strings.ToLower(strings.TrimSpace(kind))
	key = strings.NewReplacer("_", "", "-", "").Replace(key)
	build, ok := constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", monitor.ErrUnsupportedProtocol, kind)
	}
	if name == "" {
		name = strings.ToUpper(key)
	}
	if deps.Logger == nil {
		deps.Logger = monitor.NoopLogger{}
	}
	return build(name, deps), nil
}

// Kinds lists the supported plugin kinds in order.
func Kinds() []string {
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

var (
	_ monitor.Protocol = (*SNMP)(nil)
	_ monitor.Protocol = (*Modbus)(nil)
	_ monitor.Protocol = (*BMS)(nil)
	_ monitor.Protocol = (*Sensor)(nil)
	_ monitor.Protocol = (*FireHost)(nil)
	_ monitor.Protocol = (*Custom)(nil)
)
