package dooraccess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a controller response is read.
const maxResponseBytes = 4 << 20

type credentials struct {
	username string
	password string
}

// session is the connection state shared by every adapter. Vendors embed it
// and supply login, logout and authorize for their dialect.
type session struct {
	manufacturer Manufacturer
	defaults     credentials

	baseURL string
	creds   credentials
	token   string
	client  *http.Client

	timeout   time.Duration
	lastError string
	listeners listenerSet
	logger    Logger

	// login returns the session token for s.creds.
	login func(ctx context.Context) (string, error)
	// logout ends the controller session. Errors are logged, never returned.
	logout func(ctx context.Context) error
	// authorize attaches s.token to an outbound request.
	authorize func(req *http.Request)
}

func newSession(m Manufacturer, defaults credentials, logger Logger) *session {
	if logger == nil {
		logger = noopLogger{}
	}
	return &session{
		manufacturer: m,
		defaults:     defaults,
		timeout:      DefaultTimeout,
		logger:       logger,
	}
}

// SetLogger replaces the adapter's logger.
func (s *session) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Connect validates the endpoint, drops any existing session and logs in.
func (s *session) Connect(ctx context.Context, host string, port int, params map[string]string) error {
	const op = "connect"

	host = strings.TrimSpace(host)
	if host == "" {
		return invalidArgument(op, "host is required")
	}
	if port < 1 || port > 65535 {
		return invalidArgument(op, fmt.Sprintf("port %d out of range", port))
	}
	scheme := "http"
	if v := strings.ToLower(strings.TrimSpace(params["scheme"])); v != "" {
		if v != "http" && v != "https" {
			return invalidArgument(op, fmt.Sprintf("unsupported scheme %q", v))
		}
		scheme = v
	}

	if s.client != nil {
		s.Disconnect(ctx)
	}

	s.baseURL = scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
	s.creds = s.defaults
	if v := params["username"]; v != "" {
		s.creds.username = v
	}
	if v := params["password"]; v != "" {
		s.creds.password = v
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // DefaultTransport is always *http.Transport
	s.client = &http.Client{Transport: transport}

	token, err := s.login(ctx)
	if err == nil && token == "" {
		err = errors.New("controller returned no session token")
	}
	if err != nil {
		s.release()
		return s.fail(ErrConnection, op, err)
	}

	s.token = token
	s.logger.Info("door controller connected",
		"manufacturer", string(s.manufacturer),
		"endpoint", s.baseURL,
	)
	return nil
}

// Disconnect ends the session. It never fails and is a no-op when idle.
func (s *session) Disconnect(ctx context.Context) {
	if s.client == nil {
		s.token = ""
		return
	}
	if s.token != "" {
		if err := s.logout(ctx); err != nil {
			s.logger.Warn("door controller logout failed",
				"manufacturer", string(s.manufacturer),
				"endpoint", s.baseURL,
				"error", err,
			)
		}
	}
	s.release()
	s.logger.Info("door controller disconnected",
		"manufacturer", string(s.manufacturer),
		"endpoint", s.baseURL,
	)
}

// release drops the token and closes pooled connections.
func (s *session) release() {
	s.token = ""
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
}

// IsConnected reports whether a transport and a session token are both held.
func (s *session) IsConnected() bool {
	return s.client != nil && s.token != ""
}

// LastError returns the most recent failure message, or "" if none.
func (s *session) LastError() string {
	return s.lastError
}

// SetTimeout sets the bound for each controller call. Non-positive values
// restore DefaultTimeout.
func (s *session) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s.timeout = timeout
}

// Timeout returns the per-call bound.
func (s *session) Timeout() time.Duration {
	return s.timeout
}

// RegisterEventListener adds listener unless it is already registered.
// Function listeners are never recognised as duplicates.
func (s *session) RegisterEventListener(listener EventListener) {
	if s.listeners.add(listener) {
		s.logger.Debug("access event listener registered",
			"manufacturer", string(s.manufacturer),
			"listeners", s.listeners.len(),
		)
	}
}

// SystemName returns the controller family name.
func (s *session) SystemName() string {
	return s.manufacturer.SystemName()
}

// Manufacturer returns the canonical manufacturer identifier.
func (s *session) Manufacturer() Manufacturer {
	return s.manufacturer
}

// requireConnected fails with ErrNotConnected when no session is live.
func (s *session) requireConnected(op string) error {
	if s.IsConnected() {
		return nil
	}
	err := fmt.Errorf("%w: %s", ErrNotConnected, op)
	s.lastError = err.Error()
	return err
}

// fail records err as the last error and wraps it with kind.
func (s *session) fail(kind error, op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", kind, op, err)
	s.lastError = wrapped.Error()
	s.logger.Warn("door controller call failed",
		"manufacturer", string(s.manufacturer),
		"operation", op,
		"error", err,
	)
	return wrapped
}

// refused records a command the controller declined.
func (s *session) refused(op, reason string) {
	if reason == "" {
		reason = "no reason given"
	}
	s.lastError = fmt.Sprintf("%s: refused by controller: %s", op, reason)
	s.logger.Warn("door controller refused command",
		"manufacturer", string(s.manufacturer),
		"operation", op,
		"reason", reason,
	)
}

// emit notifies listeners of an event raised by this adapter.
func (s *session) emit(eventType EventType, doorID, userID string, data map[string]any) {
	if s.listeners.len() == 0 {
		return
	}
	attrs := map[string]any{"manufacturer": string(s.manufacturer)}
	maps.Copy(attrs, data)
	s.listeners.notify(NewAccessEvent(eventType, doorID, userID, "", time.Now(), attrs), s.logger)
}

// stamp sets the manufacturer field on a status snapshot.
func (s *session) stamp(rec Record) Record {
	if rec == nil {
		rec = Record{}
	}
	rec["manufacturer"] = string(s.manufacturer)
	return rec
}

// call performs one JSON request against the controller within the session
// timeout. Non-2xx responses are errors. The response headers are returned
// so login handlers can read cookies.
func (s *session) call(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := s.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" && s.authorize != nil {
		s.authorize(req)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.Header, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.Header, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet(data))
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp.Header, nil
}

// snippet trims a response body for inclusion in an error message.
func snippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func invalidArgument(op, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, op, msg)
}

// requireDoorIDs rejects an empty door list or blank entries.
func requireDoorIDs(op string, doorIDs []string) error {
	if len(doorIDs) == 0 {
		return invalidArgument(op, "at least one door ID is required")
	}
	for _, id := range doorIDs {
		if strings.TrimSpace(id) == "" {
			return invalidArgument(op, "door IDs must not be blank")
		}
	}
	return nil
}

// formatBound renders a log range bound, or "" for an open side.
func formatBound(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
