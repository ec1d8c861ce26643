package dooraccess

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds each outbound controller call unless SetTimeout is used.
const DefaultTimeout = 5 * time.Second

// Logger is the logging interface used by adapters.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Record is a loosely typed row returned by a controller, such as a
// permission entry or an access log line.
type Record = map[string]any

// LogFilter narrows an access log query. An empty DoorID matches every door
// and a zero Start or End leaves that side of the range open.
type LogFilter struct {
	DoorID string
	Start  time.Time
	End    time.Time
}

// logTimeLayouts are the accepted string forms for log range bounds.
var logTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseLogRange parses optional start and end bounds. Empty strings produce
// zero times. Values without a zone are read as UTC.
func ParseLogRange(start, end string) (time.Time, time.Time, error) {
	s, err := parseLogTime(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start time: %w", ErrInvalidArgument, err)
	}
	e, err := parseLogTime(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end time: %w", ErrInvalidArgument, err)
	}
	if !s.IsZero() && !e.IsZero() && e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end time before start time", ErrInvalidArgument)
	}
	return s, e, nil
}

func parseLogTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range logTimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Adapter is the contract every door-access controller implementation meets.
//
// Connection parameters recognised by all adapters:
//   - username, password: controller credentials (manufacturer defaults apply when absent)
//   - scheme: "http" (default) or "https"
type Adapter interface {
	// Connect logs in and establishes the session, closing any previous one first.
	// Failures wrap ErrConnection.
	Connect(ctx context.Context, host string, port int, params map[string]string) error

	// Disconnect logs out on a best-effort basis and releases the session.
	// It never fails and is safe to call repeatedly.
	Disconnect(ctx context.Context)

	// IsConnected reports whether a session is live.
	IsConnected() bool

	// Authenticate verifies a user's credentials against the controller.
	Authenticate(ctx context.Context, userID, password string) (bool, error)

	// OpenDoor and CloseDoor actuate a door and, on success, notify listeners.
	// A false result with a nil error means the controller refused the command.
	OpenDoor(ctx context.Context, doorID, userID string) (bool, error)
	CloseDoor(ctx context.Context, doorID, userID string) (bool, error)

	// GrantPermission and RevokePermission change a user's rights on several
	// doors in one controller call and report overall success.
	GrantPermission(ctx context.Context, userID string, doorIDs []string, schedule string) (bool, error)
	RevokePermission(ctx context.Context, userID string, doorIDs []string) (bool, error)

	// UserPermissions lists the user's permission entries in controller order.
	UserPermissions(ctx context.Context, userID string) ([]Record, error)

	// AccessLogs lists access log entries in controller order.
	AccessLogs(ctx context.Context, filter LogFilter) ([]Record, error)

	// RegisterEventListener adds a listener unless it is already registered.
	// Identity is only detectable for comparable listeners such as pointers;
	// an EventListenerFunc registered twice receives every event twice.
	RegisterEventListener(listener EventListener)

	// DoorStatus and SystemInfo return snapshots that always carry a
	// "manufacturer" field.
	DoorStatus(ctx context.Context, doorID string) (Record, error)
	SystemInfo(ctx context.Context) (Record, error)

	// LastError returns the message of the most recent failure, or "".
	LastError() string

	SetTimeout(timeout time.Duration)
	Timeout() time.Duration

	// SystemName is the human-readable controller family name.
	SystemName() string

	// Manufacturer is the canonical manufacturer identifier.
	Manufacturer() Manufacturer
}
