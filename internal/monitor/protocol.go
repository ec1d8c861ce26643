package monitor

import "context"

// Status is a device's health label.
type Status string

// Device status values.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Logger is the logging interface used by the monitor packages.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// DeviceConfig identifies one monitored device.
type DeviceConfig struct {
	ID     string
	Host   string
	Port   int
	Params map[string]string
}

// Protocol is the contract every monitoring protocol plugin meets.
//
// Plugins must be safe for concurrent use; the Registry serialises lifecycle
// calls but not reads from different goroutines.
type Protocol interface {
	// Init prepares the plugin from config. Calling Init again is only
	// valid after Destroy. Invalid config returns an error wrapping
	// ErrInitialization.
	Init(config Config) error

	// Connect opens a logical connection to a device. An unreachable device
	// yields false, not an error.
	Connect(ctx context.Context, device DeviceConfig) bool

	// Disconnect releases one device. It is a no-op for unknown devices.
	Disconnect(deviceID string)

	// ReadData returns values for the requested metrics; an empty request
	// reads every metric the device exposes. Unsupported or unreadable
	// metrics are absent from the result. Errors are reserved for lifecycle
	// misuse (ErrNotInitialized, ErrDeviceNotConnected).
	ReadData(ctx context.Context, deviceID string, metrics []string) (map[string]any, error)

	// WriteData applies every entry of data or reports false.
	WriteData(ctx context.Context, deviceID string, data map[string]any) bool

	// DeviceStatus returns the last known status; unknown devices are offline.
	DeviceStatus(deviceID string) Status

	// HealthCheck checks a device without changing its state.
	HealthCheck(ctx context.Context, deviceID string) bool

	// Destroy disconnects every device and releases plugin resources.
	Destroy()

	// Name is the plugin instance's registry key.
	Name() string

	// Version is the protocol implementation version.
	Version() string

	// SupportedMetrics lists the metric names the plugin can read.
	SupportedMetrics() []string
}
