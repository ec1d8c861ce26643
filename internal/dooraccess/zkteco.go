package dooraccess

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// zkTimeLayout is the timestamp format used in ZKTeco queries.
const zkTimeLayout = "2006-01-02 15:04:05"

// ZKTecoAdapter talks to ZKTeco controllers over their JSON API, where every
// response is wrapped in a {code, msg, data} envelope and code 0 means success.
//
// Session: POST /api/auth/login returns a token sent in the "token" header.
// Default credentials are admin/123456.
//
// Permission changes report how many doors were applied. A call succeeds only
// if every requested door was applied.
type ZKTecoAdapter struct {
	*session
}

type zkEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// NewZKTecoAdapter creates an unconnected ZKTeco adapter.
func NewZKTecoAdapter(logger Logger) *ZKTecoAdapter {
	a := &ZKTecoAdapter{session: newSession(ZKTeco, credentials{username: "admin", password: "123456"}, logger)}
	a.login = a.tokenLogin
	a.logout = a.tokenLogout
	a.authorize = func(req *http.Request) {
		req.Header.Set("token", a.token)
	}
	return a
}

// invoke performs a call and unwraps the envelope. A non-zero code is
// returned as refusal with a nil error; out is only decoded on success.
func (a *ZKTecoAdapter) invoke(ctx context.Context, method, path string, query url.Values, body, out any) (refusal string, err error) {
	var env zkEnvelope
	if _, err := a.call(ctx, method, path, query, body, &env); err != nil {
		return "", err
	}
	if env.Code != 0 {
		if env.Msg == "" {
			return fmt.Sprintf("code %d", env.Code), nil
		}
		return fmt.Sprintf("code %d: %s", env.Code, env.Msg), nil
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decoding %s data: %w", path, err)
		}
	}
	return "", nil
}

// query is invoke for read operations, where a refusal is an error.
func (a *ZKTecoAdapter) query(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	refusal, err := a.invoke(ctx, method, path, query, body, out)
	if err != nil {
		return a.fail(ErrAdapter, op, err)
	}
	if refusal != "" {
		return a.fail(ErrAdapter, op, fmt.Errorf("controller returned %s", refusal))
	}
	return nil
}

func (a *ZKTecoAdapter) tokenLogin(ctx context.Context) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	refusal, err := a.invoke(ctx, http.MethodPost, "/api/auth/login", nil,
		map[string]string{"username": a.creds.username, "password": a.creds.password}, &data)
	if err != nil {
		return "", err
	}
	if refusal != "" {
		return "", fmt.Errorf("login rejected: %s", refusal)
	}
	return data.Token, nil
}

func (a *ZKTecoAdapter) tokenLogout(ctx context.Context) error {
	refusal, err := a.invoke(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	if err != nil {
		return err
	}
	if refusal != "" {
		return fmt.Errorf("logout rejected: %s", refusal)
	}
	return nil
}

// Authenticate verifies a person's PIN and password.
func (a *ZKTecoAdapter) Authenticate(ctx context.Context, userID, password string) (bool, error) {
	const op = "authenticate"
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}

	var data struct {
		Verified bool `json:"verified"`
	}
	if err := a.query(ctx, op, http.MethodPost, "/api/person/verify", nil,
		map[string]string{"pin": userID, "password": password}, &data); err != nil {
		return false, err
	}

	if data.Verified {
		a.emit(EventUserAuthentication, "", userID, nil)
	} else {
		a.emit(EventAccessDenied, "", userID, map[string]any{"reason": "invalid credentials"})
	}
	return data.Verified, nil
}

// OpenDoor unlocks a door remotely.
func (a *ZKTecoAdapter) OpenDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.remote(ctx, "open_door", "/api/door/remoteOpen", EventDoorOpen, doorID, userID)
}

// CloseDoor locks a door remotely.
func (a *ZKTecoAdapter) CloseDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.remote(ctx, "close_door", "/api/door/remoteClose", EventDoorClose, doorID, userID)
}

func (a *ZKTecoAdapter) remote(ctx context.Context, op, path string, event EventType, doorID, userID string) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if doorID == "" {
		return false, invalidArgument(op, "door ID is required")
	}

	refusal, err := a.invoke(ctx, http.MethodPost, path, nil, map[string]string{"doorId": doorID, "pin": userID}, nil)
	if err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if refusal != "" {
		a.refused(op, refusal)
		return false, nil
	}

	a.emit(event, doorID, userID, nil)
	return true, nil
}

// GrantPermission adds a person to the doors' access level under a time zone.
func (a *ZKTecoAdapter) GrantPermission(ctx context.Context, userID string, doorIDs []string, schedule string) (bool, error) {
	body := map[string]any{"pin": userID, "doorIds": doorIDs}
	if schedule != "" {
		body["timeZone"] = schedule
	}
	return a.accessLevel(ctx, "grant_permission", "/api/accLevel/addPerson", userID, doorIDs, body)
}

// RevokePermission removes a person from the doors' access level.
func (a *ZKTecoAdapter) RevokePermission(ctx context.Context, userID string, doorIDs []string) (bool, error) {
	return a.accessLevel(ctx, "revoke_permission", "/api/accLevel/deletePerson", userID, doorIDs,
		map[string]any{"pin": userID, "doorIds": doorIDs})
}

func (a *ZKTecoAdapter) accessLevel(ctx context.Context, op, path, userID string, doorIDs []string, body map[string]any) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}
	if err := requireDoorIDs(op, doorIDs); err != nil {
		return false, err
	}

	var data struct {
		Applied int `json:"applied"`
	}
	refusal, err := a.invoke(ctx, http.MethodPost, path, nil, body, &data)
	if err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if refusal != "" {
		a.refused(op, refusal)
		return false, nil
	}
	if data.Applied != len(doorIDs) {
		a.refused(op, fmt.Sprintf("applied to %d of %d doors", data.Applied, len(doorIDs)))
		return false, nil
	}
	return true, nil
}

// UserPermissions lists the person's access levels.
func (a *ZKTecoAdapter) UserPermissions(ctx context.Context, userID string) ([]Record, error) {
	const op = "user_permissions"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, invalidArgument(op, "user ID is required")
	}

	var records []Record
	if err := a.query(ctx, op, http.MethodGet, "/api/person/accLevels", url.Values{"pin": {userID}}, nil, &records); err != nil {
		return nil, err
	}
	return nonNil(records), nil
}

// AccessLogs lists access transactions.
func (a *ZKTecoAdapter) AccessLogs(ctx context.Context, filter LogFilter) ([]Record, error) {
	const op = "access_logs"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	q := url.Values{}
	if filter.DoorID != "" {
		q.Set("doorId", filter.DoorID)
	}
	if v := formatBound(filter.Start, zkTimeLayout); v != "" {
		q.Set("startTime", v)
	}
	if v := formatBound(filter.End, zkTimeLayout); v != "" {
		q.Set("endTime", v)
	}

	var records []Record
	if err := a.query(ctx, op, http.MethodGet, "/api/transaction/list", q, nil, &records); err != nil {
		return nil, err
	}
	return nonNil(records), nil
}

// DoorStatus returns the controller's view of one door.
func (a *ZKTecoAdapter) DoorStatus(ctx context.Context, doorID string) (Record, error) {
	const op = "door_status"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if doorID == "" {
		return nil, invalidArgument(op, "door ID is required")
	}

	var rec Record
	if err := a.query(ctx, op, http.MethodGet, "/api/door/status", url.Values{"doorId": {doorID}}, nil, &rec); err != nil {
		return nil, err
	}
	rec = a.stamp(rec)
	rec["door_id"] = doorID
	return rec, nil
}

// SystemInfo returns the controller's device information.
func (a *ZKTecoAdapter) SystemInfo(ctx context.Context) (Record, error) {
	const op = "system_info"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	var rec Record
	if err := a.query(ctx, op, http.MethodGet, "/api/device/info", nil, nil, &rec); err != nil {
		return nil, err
	}
	return a.stamp(rec), nil
}

// zkEventTypes maps transaction event codes to event types.
// Door open and close come from the door sensor, not remote commands.
var zkEventTypes = map[int]EventType{
	0:   EventAccessGranted,   // normal verify open
	23:  EventAccessDenied,    // access denied
	27:  EventInvalidCard,     // unregistered card
	28:  EventDoorOpenTooLong, // door open timeout
	100: EventAlarm,           // tamper alarm
	101: EventAlarm,           // duress alarm
	102: EventForcedOpen,      // opened forcefully
	200: EventDoorOpen,        // door opened correctly
	201: EventDoorClose,       // door closed correctly
}

// PollEvents replays new transactions.
func (a *ZKTecoAdapter) PollEvents(ctx context.Context, cursor *EventCursor) (int, error) {
	return a.replay(ctx, cursor, a.AccessLogs, decodeZKTecoEvent)
}

func decodeZKTecoEvent(rec Record) (storedEvent, bool) {
	code, ok := recordInt(rec, "event_type")
	if !ok {
		return storedEvent{}, false
	}
	eventType, ok := zkEventTypes[code]
	if !ok {
		return storedEvent{}, false
	}
	// Query bounds are sent in UTC and so are transaction times.
	at, err := time.Parse(zkTimeLayout, recordString(rec, "time"))
	if err != nil {
		return storedEvent{}, false
	}
	ev := storedEvent{
		eventType: eventType,
		doorID:    recordString(rec, "door_id"),
		userID:    recordString(rec, "pin"),
		userName:  recordString(rec, "name"),
		at:        at,
		data:      map[string]any{"event_code": code},
	}
	ev.key = eventKey(recordString(rec, "id"), ev)
	return ev, true
}
