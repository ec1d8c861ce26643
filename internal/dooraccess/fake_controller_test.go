package dooraccess

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
)

// fakeController is an in-process controller speaking one vendor dialect.
// Routes are keyed by "METHOD /path"; every route except login requires the
// session token issued at login.
type fakeController struct {
	mu         sync.Mutex
	routes     map[string]http.HandlerFunc
	requests   []string
	loginKey   string
	authorized func(r *http.Request) bool
	server     *httptest.Server
}

func newFakeController(t *testing.T, m Manufacturer) *fakeController {
	t.Helper()
	f := &fakeController{routes: make(map[string]http.HandlerFunc)}
	switch m {
	case Hikvision:
		hikvisionRoutes(f)
	case Dahua:
		dahuaRoutes(f)
	case ZKTeco:
		zktecoRoutes(f)
	default:
		t.Fatalf("no fake controller for %s", m)
	}
	f.server = httptest.NewServer(f)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, key)
	h, ok := f.routes[key]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if key != f.loginKey && !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h(w, r)
}

// handle replaces the handler for a route.
func (f *fakeController) handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = h
}

func (f *fakeController) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeController) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == key {
			n++
		}
	}
	return n
}

func (f *fakeController) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("splitting host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	return host, port
}

// connect attaches a to f and fails the test on error.
func (f *fakeController) connect(t *testing.T, a Adapter) {
	t.Helper()
	host, port := f.hostPort(t)
	if err := a.Connect(context.Background(), host, port, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { a.Disconnect(context.Background()) })
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck // test helper
}

func decodeBody(r *http.Request) map[string]any {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test helper
	return body
}

func hikvisionRoutes(f *fakeController) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"statusCode": 1, "statusString": "OK"})
	}
	f.loginKey = "POST /ISAPI/Security/sessionLogin"
	f.authorized = func(r *http.Request) bool {
		c, err := r.Cookie(hikSessionCookie)
		return err == nil && c.Value == "hik-session"
	}
	f.routes[f.loginKey] = func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		if body["userName"] != "admin" || body["password"] != "12345" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: hikSessionCookie, Value: "hik-session"})
		writeJSON(w, map[string]any{"statusCode": 1})
	}
	f.routes["PUT /ISAPI/Security/sessionLogout"] = ok
	f.routes["POST /ISAPI/AccessControl/UserInfo/Verify"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"verified": decodeBody(r)["password"] == "secret"})
	}
	f.routes["PUT /ISAPI/AccessControl/RemoteControl/door/1"] = ok
	f.routes["PUT /ISAPI/AccessControl/UserRight/Modify"] = ok
	f.routes["PUT /ISAPI/AccessControl/UserRight/Delete"] = ok
	f.routes["GET /ISAPI/AccessControl/UserRight/emp-1"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"UserRight": []map[string]any{{"doorNo": "1"}, {"doorNo": "2"}}})
	}
	f.routes["POST /ISAPI/AccessControl/AcsEvent"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"AcsEvent": map[string]any{
			"InfoList": []map[string]any{{"serialNo": 9}, {"serialNo": 3}},
		}})
	}
	f.routes["GET /ISAPI/AccessControl/Door/status/1"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"doorState": "closed"})
	}
	f.routes["GET /ISAPI/System/deviceInfo"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"model": "DS-K2604"})
	}
}

func dahuaRoutes(f *fakeController) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"result": true})
	}
	f.loginKey = "POST /api/v1/login"
	f.authorized = func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer dh-token"
	}
	f.routes[f.loginKey] = func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		if body["username"] != "admin" || body["password"] != "admin" {
			writeJSON(w, map[string]any{"error": "bad credentials"})
			return
		}
		writeJSON(w, map[string]any{"token": "dh-token"})
	}
	f.routes["POST /api/v1/logout"] = ok
	f.routes["POST /api/v1/users/emp-1/verify"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"result": decodeBody(r)["password"] == "secret"})
	}
	f.routes["POST /api/v1/doors/1/open"] = ok
	f.routes["POST /api/v1/doors/1/close"] = ok
	f.routes["PUT /api/v1/users/emp-1/permissions"] = ok
	f.routes["DELETE /api/v1/users/emp-1/permissions"] = ok
	f.routes["GET /api/v1/users/emp-1/permissions"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"permissions": []map[string]any{{"door": "1"}, {"door": "2"}}})
	}
	f.routes["GET /api/v1/records"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"records": []map[string]any{{"id": 9}, {"id": 3}}})
	}
	f.routes["GET /api/v1/doors/1/status"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"state": "closed"})
	}
	f.routes["GET /api/v1/system/info"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"model": "ASC1204"})
	}
}

func zktecoRoutes(f *fakeController) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "msg": "success"})
	}
	applied := func(w http.ResponseWriter, r *http.Request) {
		doors, _ := decodeBody(r)["doorIds"].([]any)
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"applied": len(doors)}})
	}
	f.loginKey = "POST /api/auth/login"
	f.authorized = func(r *http.Request) bool {
		return r.Header.Get("token") == "zk-token"
	}
	f.routes[f.loginKey] = func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		if body["username"] != "admin" || body["password"] != "123456" {
			writeJSON(w, map[string]any{"code": 1001, "msg": "invalid password"})
			return
		}
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"token": "zk-token"}})
	}
	f.routes["POST /api/auth/logout"] = ok
	f.routes["POST /api/person/verify"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"verified": decodeBody(r)["password"] == "secret"}})
	}
	f.routes["POST /api/door/remoteOpen"] = ok
	f.routes["POST /api/door/remoteClose"] = ok
	f.routes["POST /api/accLevel/addPerson"] = applied
	f.routes["POST /api/accLevel/deletePerson"] = applied
	f.routes["GET /api/person/accLevels"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": []map[string]any{{"levelId": "1"}, {"levelId": "2"}}})
	}
	f.routes["GET /api/transaction/list"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": []map[string]any{{"id": 9}, {"id": 3}}})
	}
	f.routes["GET /api/door/status"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"state": "closed"}})
	}
	f.routes["GET /api/device/info"] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"model": "inBio460"}})
	}
}

// recordingListener captures events and optionally fails.
type recordingListener struct {
	name     string
	order    *[]string
	events   []AccessEvent
	err      error
	panicMsg string
}

func (l *recordingListener) HandleAccessEvent(event AccessEvent) error {
	if l.order != nil {
		*l.order = append(*l.order, l.name)
	}
	l.events = append(l.events, event)
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	return l.err
}
