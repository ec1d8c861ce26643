package dooraccess

import (
	"fmt"
	"strings"
)

// Manufacturer is the canonical identifier of a supported controller family.
type Manufacturer string

// Supported manufacturers.
const (
	Hikvision Manufacturer = "HIKVISION"
	Dahua     Manufacturer = "DAHUA"
	ZKTeco    Manufacturer = "ZKTECO"
)

// SystemName returns the human-readable controller family name.
func (m Manufacturer) SystemName() string {
	switch m {
	case Hikvision:
		return "Hikvision Access Control"
	case Dahua:
		return "Dahua Access Control"
	case ZKTeco:
		return "ZKTeco Access Control"
	default:
		return string(m)
	}
}

// vendor describes one supported manufacturer.
type vendor struct {
	manufacturer Manufacturer
	aliases      []string
	build        func(logger Logger) Adapter
}

// vendors is the closed set of supported manufacturers, in listing order.
var vendors = []vendor{
	{
		manufacturer: Hikvision,
		aliases:      []string{"HIK"},
		build:        func(l Logger) Adapter { return NewHikvisionAdapter(l) },
	},
	{
		manufacturer: Dahua,
		aliases:      []string{"DH"},
		build:        func(l Logger) Adapter { return NewDahuaAdapter(l) },
	},
	{
		manufacturer: ZKTeco,
		aliases:      []string{"ZK"},
		build:        func(l Logger) Adapter { return NewZKTecoAdapter(l) },
	},
}

// lookup maps every upper-cased name and alias to its vendor.
var lookup = func() map[string]*vendor {
	m := make(map[string]*vendor)
	for i := range vendors {
		v := &vendors[i]
		m[string(v.manufacturer)] = v
		for _, alias := range v.aliases {
			m[alias] = v
		}
	}
	return m
}()

// ParseManufacturer resolves a name or alias, ignoring case and surrounding space.
func ParseManufacturer(name string) (Manufacturer, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("%w: manufacturer is required", ErrInvalidArgument)
	}
	v, ok := lookup[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedManufacturer, name)
	}
	return v.manufacturer, nil
}

// Factory builds unconnected adapters by manufacturer name. It keeps no
// reference to the adapters it returns; callers own them and must Disconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Factory struct {
	logger Logger
}

// NewFactory creates a Factory whose adapters log through logger.
// A nil logger disables logging.
func NewFactory(logger Logger) *Factory {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Factory{logger: logger}
}

// Create returns a new, unconnected adapter for the named manufacturer.
//
// Returns ErrInvalidArgument for an empty name and ErrUnsupportedManufacturer
// for an unknown one.
func (f *Factory) Create(name string) (Adapter, error) {
	m, err := ParseManufacturer(name)
	if err != nil {
		return nil, err
	}
	adapter := lookup[string(m)].build(f.logger)
	f.logger.Debug("door access adapter created", "manufacturer", string(m), "requested", name)
	return adapter, nil
}

// IsSupported reports whether name resolves to a supported manufacturer.
func (f *Factory) IsSupported(name string) bool {
	_, err := ParseManufacturer(name)
	return err == nil
}

// SupportedManufacturers returns the canonical identifiers in a stable order.
// Aliases are not included.
func (f *Factory) SupportedManufacturers() []Manufacturer {
	out := make([]Manufacturer, len(vendors))
	for i, v := range vendors {
		out[i] = v.manufacturer
	}
	return out
}

// Compile-time checks that every vendor satisfies Adapter and EventSource.
var (
	_ Adapter = (*HikvisionAdapter)(nil)
	_ Adapter = (*DahuaAdapter)(nil)
	_ Adapter = (*ZKTecoAdapter)(nil)

	_ EventSource = (*HikvisionAdapter)(nil)
	_ EventSource = (*DahuaAdapter)(nil)
	_ EventSource = (*ZKTecoAdapter)(nil)
)
