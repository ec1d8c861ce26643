package dooraccess

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DahuaAdapter talks to Dahua controllers over their JSON REST interface.
//
// Session: POST /api/v1/login returns a token sent as a bearer token.
// Default credentials are admin/admin.
//
// Permission changes are applied door by door and the controller lists any
// doors it could not update. A call succeeds only if no door failed; the
// failed doors are recorded in LastError.
type DahuaAdapter struct {
	*session
}

// dahuaResult is the command response body.
type dahuaResult struct {
	Result bool     `json:"result"`
	Error  string   `json:"error"`
	Failed []string `json:"failed"`
}

// NewDahuaAdapter creates an unconnected Dahua adapter.
func NewDahuaAdapter(logger Logger) *DahuaAdapter {
	a := &DahuaAdapter{session: newSession(Dahua, credentials{username: "admin", password: "admin"}, logger)}
	a.login = a.tokenLogin
	a.logout = a.tokenLogout
	a.authorize = func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return a
}

func (a *DahuaAdapter) tokenLogin(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if _, err := a.call(ctx, http.MethodPost, "/api/v1/login", nil,
		map[string]string{"username": a.creds.username, "password": a.creds.password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" && resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.Token, nil
}

func (a *DahuaAdapter) tokenLogout(ctx context.Context) error {
	_, err := a.call(ctx, http.MethodPost, "/api/v1/logout", nil, nil, nil)
	return err
}

// Authenticate verifies a user's password on the controller.
func (a *DahuaAdapter) Authenticate(ctx context.Context, userID, password string) (bool, error) {
	const op = "authenticate"
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}

	var resp dahuaResult
	if _, err := a.call(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(userID)+"/verify", nil,
		map[string]string{"password": password}, &resp); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}

	if resp.Result {
		a.emit(EventUserAuthentication, "", userID, nil)
	} else {
		a.emit(EventAccessDenied, "", userID, map[string]any{"reason": "invalid credentials"})
	}
	return resp.Result, nil
}

// OpenDoor unlocks a door.
func (a *DahuaAdapter) OpenDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.doorCommand(ctx, "open_door", "open", EventDoorOpen, doorID, userID)
}

// CloseDoor locks a door.
func (a *DahuaAdapter) CloseDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.doorCommand(ctx, "close_door", "close", EventDoorClose, doorID, userID)
}

func (a *DahuaAdapter) doorCommand(ctx context.Context, op, action string, event EventType, doorID, userID string) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if doorID == "" {
		return false, invalidArgument(op, "door ID is required")
	}

	var resp dahuaResult
	if _, err := a.call(ctx, http.MethodPost, "/api/v1/doors/"+url.PathEscape(doorID)+"/"+action, nil,
		map[string]string{"user_id": userID}, &resp); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if !resp.Result {
		a.refused(op, resp.Error)
		return false, nil
	}

	a.emit(event, doorID, userID, nil)
	return true, nil
}

// GrantPermission gives a user rights on doors, optionally limited to a schedule.
func (a *DahuaAdapter) GrantPermission(ctx context.Context, userID string, doorIDs []string, schedule string) (bool, error) {
	body := map[string]any{"doors": doorIDs}
	if schedule != "" {
		body["schedule"] = schedule
	}
	return a.permissionCommand(ctx, "grant_permission", http.MethodPut, userID, doorIDs, body)
}

// RevokePermission removes a user's rights on doors.
func (a *DahuaAdapter) RevokePermission(ctx context.Context, userID string, doorIDs []string) (bool, error) {
	return a.permissionCommand(ctx, "revoke_permission", http.MethodDelete, userID, doorIDs, map[string]any{"doors": doorIDs})
}

func (a *DahuaAdapter) permissionCommand(ctx context.Context, op, method, userID string, doorIDs []string, body map[string]any) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}
	if err := requireDoorIDs(op, doorIDs); err != nil {
		return false, err
	}

	var resp dahuaResult
	if _, err := a.call(ctx, method, "/api/v1/users/"+url.PathEscape(userID)+"/permissions", nil, body, &resp); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if len(resp.Failed) > 0 {
		a.refused(op, fmt.Sprintf("doors not updated: %s", strings.Join(resp.Failed, ",")))
		return false, nil
	}
	if !resp.Result {
		a.refused(op, resp.Error)
		return false, nil
	}
	return true, nil
}

// UserPermissions lists the user's door permissions.
func (a *DahuaAdapter) UserPermissions(ctx context.Context, userID string) ([]Record, error) {
	const op = "user_permissions"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, invalidArgument(op, "user ID is required")
	}

	var resp struct {
		Permissions []Record `json:"permissions"`
	}
	if _, err := a.call(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/permissions", nil, nil, &resp); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return nonNil(resp.Permissions), nil
}

// AccessLogs queries the controller's access records.
func (a *DahuaAdapter) AccessLogs(ctx context.Context, filter LogFilter) ([]Record, error) {
	const op = "access_logs"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	query := url.Values{}
	if filter.DoorID != "" {
		query.Set("door", filter.DoorID)
	}
	if v := formatBound(filter.Start, time.RFC3339); v != "" {
		query.Set("start", v)
	}
	if v := formatBound(filter.End, time.RFC3339); v != "" {
		query.Set("end", v)
	}

	var resp struct {
		Records []Record `json:"records"`
	}
	if _, err := a.call(ctx, http.MethodGet, "/api/v1/records", query, nil, &resp); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return nonNil(resp.Records), nil
}

// DoorStatus returns the controller's view of one door.
func (a *DahuaAdapter) DoorStatus(ctx context.Context, doorID string) (Record, error) {
	const op = "door_status"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if doorID == "" {
		return nil, invalidArgument(op, "door ID is required")
	}

	var rec Record
	if _, err := a.call(ctx, http.MethodGet, "/api/v1/doors/"+url.PathEscape(doorID)+"/status", nil, nil, &rec); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	rec = a.stamp(rec)
	rec["door_id"] = doorID
	return rec, nil
}

// SystemInfo returns the controller's system information.
func (a *DahuaAdapter) SystemInfo(ctx context.Context) (Record, error) {
	const op = "system_info"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	var rec Record
	if _, err := a.call(ctx, http.MethodGet, "/api/v1/system/info", nil, nil, &rec); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return a.stamp(rec), nil
}

// dahuaErrUnknownCard is the AccessControl error code for a card the
// controller does not know.
const dahuaErrUnknownCard = 0x10

// PollEvents replays new access records.
func (a *DahuaAdapter) PollEvents(ctx context.Context, cursor *EventCursor) (int, error) {
	return a.replay(ctx, cursor, a.AccessLogs, decodeDahuaEvent)
}

func decodeDahuaEvent(rec Record) (storedEvent, bool) {
	code := recordString(rec, "event")

	var eventType EventType
	switch code {
	case "AccessControl":
		granted, _ := recordInt(rec, "status")
		errCode, _ := recordInt(rec, "error_code")
		switch {
		case granted == 1:
			eventType = EventAccessGranted
		case errCode == dahuaErrUnknownCard:
			eventType = EventInvalidCard
		default:
			eventType = EventAccessDenied
		}
	case "DoorStatus":
		switch strings.ToLower(recordString(rec, "state")) {
		case "open":
			eventType = EventDoorOpen
		case "close", "closed":
			eventType = EventDoorClose
		default:
			return storedEvent{}, false
		}
	case "BreakIn":
		eventType = EventForcedOpen
	case "DoorNotClosed":
		eventType = EventDoorOpenTooLong
	case "AlarmLocal", "Duress", "ChassisIntruded":
		eventType = EventAlarm
	default:
		return storedEvent{}, false
	}

	at, err := time.Parse(time.RFC3339, recordString(rec, "time"))
	if err != nil {
		return storedEvent{}, false
	}
	ev := storedEvent{
		eventType: eventType,
		doorID:    recordString(rec, "door"),
		userID:    recordString(rec, "user_id"),
		userName:  recordString(rec, "user_name"),
		at:        at,
		data:      map[string]any{"event_code": code},
	}
	ev.key = eventKey(recordString(rec, "id"), ev)
	return ev, true
}
