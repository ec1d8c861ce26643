package dooraccess

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// hikSessionCookie carries the session token on ISAPI requests.
const hikSessionCookie = "WebSession"

// HikvisionAdapter talks to Hikvision controllers over the ISAPI JSON interface.
//
// Session: POST /ISAPI/Security/sessionLogin sets a WebSession cookie that
// accompanies every later request. Default credentials are admin/12345.
//
// Permission changes are applied by the controller as one transaction per
// call, so the overall status code is the result for every door listed.
type HikvisionAdapter struct {
	*session
}

// hikStatus is the ISAPI command response envelope; statusCode 1 means OK.
type hikStatus struct {
	StatusCode    int    `json:"statusCode"`
	StatusString  string `json:"statusString"`
	SubStatusCode string `json:"subStatusCode"`
}

func (s hikStatus) ok() bool {
	return s.StatusCode == 1
}

func (s hikStatus) reason() string {
	if s.SubStatusCode != "" {
		return s.StatusString + " (" + s.SubStatusCode + ")"
	}
	return s.StatusString
}

// NewHikvisionAdapter creates an unconnected Hikvision adapter.
func NewHikvisionAdapter(logger Logger) *HikvisionAdapter {
	a := &HikvisionAdapter{session: newSession(Hikvision, credentials{username: "admin", password: "12345"}, logger)}
	a.login = a.sessionLogin
	a.logout = a.sessionLogout
	a.authorize = func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: hikSessionCookie, Value: a.token})
	}
	return a
}

func (a *HikvisionAdapter) sessionLogin(ctx context.Context) (string, error) {
	header, err := a.call(ctx, http.MethodPost, "/ISAPI/Security/sessionLogin", nil,
		map[string]string{"userName": a.creds.username, "password": a.creds.password}, nil)
	if err != nil {
		return "", err
	}
	for _, c := range (&http.Response{Header: header}).Cookies() {
		if c.Name == hikSessionCookie {
			return c.Value, nil
		}
	}
	return "", errors.New("login response carried no " + hikSessionCookie + " cookie")
}

func (a *HikvisionAdapter) sessionLogout(ctx context.Context) error {
	_, err := a.call(ctx, http.MethodPut, "/ISAPI/Security/sessionLogout", nil, nil, nil)
	return err
}

// Authenticate verifies an employee's password on the controller.
func (a *HikvisionAdapter) Authenticate(ctx context.Context, userID, password string) (bool, error) {
	const op = "authenticate"
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}

	var resp struct {
		Verified bool `json:"verified"`
	}
	if _, err := a.call(ctx, http.MethodPost, "/ISAPI/AccessControl/UserInfo/Verify", nil,
		map[string]string{"employeeNo": userID, "password": password}, &resp); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}

	if resp.Verified {
		a.emit(EventUserAuthentication, "", userID, nil)
	} else {
		a.emit(EventAccessDenied, "", userID, map[string]any{"reason": "invalid credentials"})
	}
	return resp.Verified, nil
}

// OpenDoor unlocks a door through remote control.
func (a *HikvisionAdapter) OpenDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.remoteControl(ctx, "open_door", "open", EventDoorOpen, doorID, userID)
}

// CloseDoor locks a door through remote control.
func (a *HikvisionAdapter) CloseDoor(ctx context.Context, doorID, userID string) (bool, error) {
	return a.remoteControl(ctx, "close_door", "close", EventDoorClose, doorID, userID)
}

func (a *HikvisionAdapter) remoteControl(ctx context.Context, op, cmd string, event EventType, doorID, userID string) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if doorID == "" {
		return false, invalidArgument(op, "door ID is required")
	}

	var status hikStatus
	body := map[string]any{
		"RemoteControlDoor": map[string]string{"cmd": cmd, "employeeNo": userID},
	}
	if _, err := a.call(ctx, http.MethodPut, "/ISAPI/AccessControl/RemoteControl/door/"+url.PathEscape(doorID), nil, body, &status); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if !status.ok() {
		a.refused(op, status.reason())
		return false, nil
	}

	a.emit(event, doorID, userID, nil)
	return true, nil
}

// GrantPermission gives a user rights on doors under a plan template.
// An empty schedule means the controller's always-on template.
func (a *HikvisionAdapter) GrantPermission(ctx context.Context, userID string, doorIDs []string, schedule string) (bool, error) {
	return a.modifyRights(ctx, "grant_permission", "/ISAPI/AccessControl/UserRight/Modify", userID, doorIDs, schedule)
}

// RevokePermission removes a user's rights on doors.
func (a *HikvisionAdapter) RevokePermission(ctx context.Context, userID string, doorIDs []string) (bool, error) {
	return a.modifyRights(ctx, "revoke_permission", "/ISAPI/AccessControl/UserRight/Delete", userID, doorIDs, "")
}

func (a *HikvisionAdapter) modifyRights(ctx context.Context, op, path, userID string, doorIDs []string, schedule string) (bool, error) {
	if err := a.requireConnected(op); err != nil {
		return false, err
	}
	if userID == "" {
		return false, invalidArgument(op, "user ID is required")
	}
	if err := requireDoorIDs(op, doorIDs); err != nil {
		return false, err
	}

	right := map[string]any{"employeeNo": userID, "doorNo": doorIDs}
	if schedule != "" {
		right["planTemplateNo"] = schedule
	}

	var status hikStatus
	if _, err := a.call(ctx, http.MethodPut, path, nil, map[string]any{"UserRight": right}, &status); err != nil {
		return false, a.fail(ErrAdapter, op, err)
	}
	if !status.ok() {
		a.refused(op, status.reason())
		return false, nil
	}
	return true, nil
}

// UserPermissions lists the user's door rights.
func (a *HikvisionAdapter) UserPermissions(ctx context.Context, userID string) ([]Record, error) {
	const op = "user_permissions"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, invalidArgument(op, "user ID is required")
	}

	var resp struct {
		UserRight []Record `json:"UserRight"`
	}
	if _, err := a.call(ctx, http.MethodGet, "/ISAPI/AccessControl/UserRight/"+url.PathEscape(userID), nil, nil, &resp); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return nonNil(resp.UserRight), nil
}

// AccessLogs searches the controller's access event store.
func (a *HikvisionAdapter) AccessLogs(ctx context.Context, filter LogFilter) ([]Record, error) {
	const op = "access_logs"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	cond := map[string]any{}
	if filter.DoorID != "" {
		cond["doorNo"] = filter.DoorID
	}
	if v := formatBound(filter.Start, time.RFC3339); v != "" {
		cond["startTime"] = v
	}
	if v := formatBound(filter.End, time.RFC3339); v != "" {
		cond["endTime"] = v
	}

	var resp struct {
		AcsEvent struct {
			InfoList []Record `json:"InfoList"`
		} `json:"AcsEvent"`
	}
	if _, err := a.call(ctx, http.MethodPost, "/ISAPI/AccessControl/AcsEvent", nil,
		map[string]any{"AcsEventCond": cond}, &resp); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return nonNil(resp.AcsEvent.InfoList), nil
}

// DoorStatus returns the controller's view of one door.
func (a *HikvisionAdapter) DoorStatus(ctx context.Context, doorID string) (Record, error) {
	const op = "door_status"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if doorID == "" {
		return nil, invalidArgument(op, "door ID is required")
	}

	var rec Record
	if _, err := a.call(ctx, http.MethodGet, "/ISAPI/AccessControl/Door/status/"+url.PathEscape(doorID), nil, nil, &rec); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	rec = a.stamp(rec)
	rec["door_id"] = doorID
	return rec, nil
}

// SystemInfo returns the controller's device information.
func (a *HikvisionAdapter) SystemInfo(ctx context.Context) (Record, error) {
	const op = "system_info"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}

	var rec Record
	if _, err := a.call(ctx, http.MethodGet, "/ISAPI/System/deviceInfo", nil, nil, &rec); err != nil {
		return nil, a.fail(ErrAdapter, op, err)
	}
	return a.stamp(rec), nil
}

// nonNil returns records, or an empty slice when the controller sent none.
func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

// ISAPI event store major types.
const (
	hikMajorAlarm = 0x1
	hikMajorEvent = 0x5
)

// hikMinorEvents maps minor codes of major type 0x5 to event types.
// Door open and close come from the door contact, not remote commands.
var hikMinorEvents = map[int]EventType{
	0x01: EventAccessGranted,   // legal card pass
	0x06: EventAccessDenied,    // card has no right
	0x09: EventInvalidCard,     // card number not found
	0x17: EventDoorOpen,        // door open (contact)
	0x18: EventDoorClose,       // door closed (contact)
	0x19: EventForcedOpen,      // door abnormally open
	0x1a: EventDoorOpenTooLong, // door open timeout
}

// PollEvents replays new entries of the AcsEvent store.
func (a *HikvisionAdapter) PollEvents(ctx context.Context, cursor *EventCursor) (int, error) {
	return a.replay(ctx, cursor, a.AccessLogs, decodeHikvisionEvent)
}

func decodeHikvisionEvent(rec Record) (storedEvent, bool) {
	major, _ := recordInt(rec, "major")
	minor, _ := recordInt(rec, "minor")

	var eventType EventType
	switch major {
	case hikMajorAlarm:
		eventType = EventAlarm
	case hikMajorEvent:
		t, ok := hikMinorEvents[minor]
		if !ok {
			return storedEvent{}, false
		}
		eventType = t
	default:
		return storedEvent{}, false
	}

	at, err := time.Parse(time.RFC3339, recordString(rec, "time"))
	if err != nil {
		return storedEvent{}, false
	}
	ev := storedEvent{
		eventType: eventType,
		doorID:    recordString(rec, "doorNo"),
		userID:    recordString(rec, "employeeNoString"),
		userName:  recordString(rec, "name"),
		at:        at,
		data:      map[string]any{"major": major, "minor": minor},
	}
	ev.key = eventKey(recordString(rec, "serialNo"), ev)
	return ev, true
}
