package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/store"
)

func newTestServer(env *testEnv, opts HTTPOptions) http.Handler {
	return NewHTTPServer(env.service, opts).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "tomorrow_session" && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected session cookie, headers=%v", rr.Header())
	return nil
}

func TestAdminBootstrapFlow(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodGet, "/api/admin/exists", "")
	if payload := decodeResponse(t, rr); payload["exists"] != false {
		t.Fatalf("expected exists=false, got %v", payload["exists"])
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/register", `{"name":"Pastor","password":"shepherd"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(t, rr)
	if !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie")
	}
	if strings.Contains(rr.Body.String(), "pass_hash") {
		t.Fatalf("register response leaks digest: %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/register", `{"name":"Other","password":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 on second register, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["error"] != "Admin already exists" || payload["ok"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/login", `{"name":"Pastor","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/api/admin/login", `{"name":"Pastor","password":"shepherd"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	login := sessionCookie(t, rr)

	rr = doJSON(t, server, http.MethodGet, "/api/admin/list_admins", "", login)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/logout", "", login)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodGet, "/api/admin/list_admins", "", login)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected revoked session to be rejected, got %d", rr.Code)
	}
}

func TestPrayerReplyByStaff(t *testing.T) {
	env := newTestEnv(t)
	env.addStaff(t, "Grace", "pw", store.Perms{"reply_prayers": true})
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodPost, "/api/prayers", `{"name":"Ann","body":"  healing  "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	submitted := decodeResponse(t, rr)["prayer"].(map[string]any)
	id := submitted["id"].(string)
	if submitted["body"] != "healing" || submitted["status"] != "open" {
		t.Fatalf("unexpected prayer %v", submitted)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/prayers", "")
	var listed []store.Prayer
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("parse prayers: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("expected submitted prayer in list, got %+v", listed)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/prayers/"+id+"/reply", `{"reply":"praying"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without session, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/staff/login", `{"name":"Grace","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(t, rr)

	rr = doJSON(t, server, http.MethodGet, "/api/staff/me", "", cookie)
	if me := decodeResponse(t, rr); me["ok"] != true {
		t.Fatalf("expected staff/me ok, got %v", me)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/prayers/"+id+"/reply", `{"reply":"praying"}`, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	replied := decodeResponse(t, rr)["prayer"].(map[string]any)
	if replied["status"] != "answered" || replied["reply"] != "praying" {
		t.Fatalf("unexpected reply %v", replied)
	}
	if replied["updated_at"].(string) <= submitted["updated_at"].(string) {
		t.Fatalf("expected updated_at to advance: %v -> %v", submitted["updated_at"], replied["updated_at"])
	}
}

func TestPrayerAnsweredByAdmin(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodPost, "/api/admin/register", `{"name":"root","password":"x"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(t, rr)

	rr = doJSON(t, server, http.MethodPost, "/api/prayers", `{"name":"Ada","body":"pray for me"}`)
	submitted := decodeResponse(t, rr)["prayer"].(map[string]any)
	if submitted["id"] == "" || submitted["status"] != "open" || submitted["reply"] != "" {
		t.Fatalf("unexpected prayer %v", submitted)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/prayers/"+submitted["id"].(string)+"/reply", `{"reply":"Amen"}`, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	replied := decodeResponse(t, rr)["prayer"].(map[string]any)
	if replied["id"] != submitted["id"] || replied["status"] != "answered" || replied["reply"] != "Amen" {
		t.Fatalf("unexpected reply %v", replied)
	}
	if replied["updated_at"].(string) <= submitted["updated_at"].(string) {
		t.Fatalf("expected updated_at to advance: %v -> %v", submitted["updated_at"], replied["updated_at"])
	}
}

func TestStaffPermissionCodes(t *testing.T) {
	env := newTestEnv(t)
	staff := env.addStaff(t, "Reader", "pw", store.Perms{"post_content": false})
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodPost, "/api/staff/login", `{"name":"Reader","password":"pw"}`)
	cookie := sessionCookie(t, rr)

	cases := []struct {
		name    string
		method  string
		path    string
		cookies []*http.Cookie
		code    string
	}{
		{"anonymous content", http.MethodPost, "/api/admin/events", nil, "LOGIN_REQUIRED"},
		{"staff without perm", http.MethodPost, "/api/admin/events", []*http.Cookie{cookie}, "PERMISSION_DENIED"},
		{"staff on admin route", http.MethodGet, "/api/admin/members", []*http.Cookie{cookie}, "AUTH_REQUIRED"},
		{"anonymous admin route", http.MethodGet, "/api/admin/staff", nil, "AUTH_REQUIRED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, tc.method, tc.path, `{"title":"x"}`, tc.cookies...)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if code := decodeResponse(t, rr)["code"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
		})
	}

	if err := env.service.DeleteStaff(context.Background(), staff.ID); err != nil {
		t.Fatalf("DeleteStaff() error = %v", err)
	}
	rr = doJSON(t, server, http.MethodPost, "/api/admin/events", `{"title":"x"}`, cookie)
	if code := decodeResponse(t, rr)["code"]; code != "STAFF_NOT_FOUND" {
		t.Fatalf("expected STAFF_NOT_FOUND after deletion, got %v", code)
	}
}

func TestContentRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addStaff(t, "Poster", "pw", store.Perms{"post_content": true, "add_donations": true})
	server := newTestServer(env, HTTPOptions{})
	cookie := sessionCookie(t, doJSON(t, server, http.MethodPost, "/api/staff/login", `{"name":"Poster","password":"pw"}`))

	rr := doJSON(t, server, http.MethodPost, "/api/admin/bible", `{"verse":"John 3:16"}`, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	item, ok := decodeResponse(t, rr)["bible"].(map[string]any)
	if !ok || item["verse"] != "John 3:16" {
		t.Fatalf("expected bible item in response, got %s", rr.Body.String())
	}
	id := item["id"].(string)

	rr = doJSON(t, server, http.MethodPut, "/api/admin/bible/"+id, `{"note":"memorise"}`, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/public", "")
	var public struct {
		Bible []map[string]any `json:"bible"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &public); err != nil {
		t.Fatalf("parse public: %v", err)
	}
	if len(public.Bible) != 1 || public.Bible[0]["note"] != "memorise" {
		t.Fatalf("expected updated bible entry in public view, got %v", public.Bible)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/admin/donations", `{"amount":"abc"}`, cookie)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/api/admin/contributions", `{"amount":5}`, cookie)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without add_contributions, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/admin/bible/"+id, "", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodDelete, "/api/admin/bible/"+id, "", cookie)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", rr.Code)
	}
}

func TestPulseToken(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodGet, "/api/pulse?source=cron", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/pulse?source=cron&token=pulse-secret", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/pulse", bytes.NewBufferString(`{"source":"uptime","note":"ok"}`))
	req.Header.Set("X-Pulse-Token", "pulse-secret")
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	pulses := env.service.ListPulses(context.Background())
	if len(pulses) != 2 || pulses[0].Source != "uptime" || pulses[1].Source != "cron" {
		t.Fatalf("unexpected pulses %+v", pulses)
	}
}

type degradedDocs struct {
	*persist.Coordinator
}

func (d degradedDocs) Health() persist.Health {
	health := d.Coordinator.Health()
	health.Degraded = true
	health.LastError = "remote unreachable"
	return health
}

func TestReadyReportsDegradedPersistence(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{})

	rr := doJSON(t, server, http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	env.service.docs = degradedDocs{Coordinator: env.coord}
	rr = doJSON(t, server, http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	checks := payload["checks"].(map[string]any)
	persistence := checks["persistence"].(map[string]any)
	if !strings.Contains(persistence["error"].(string), "remote unreachable") {
		t.Fatalf("expected degraded reason, got %v", persistence)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health should stay 200 while degraded, got %d", rr.Code)
	}
}

func TestStaticFilesHideDocument(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	dataFile := filepath.Join(root, "data.json")
	for name, body := range map[string]string{
		"index.html": "<h1>welcome</h1>",
		"data.json":  `{"admins":[]}`,
		".env":       "SECRET=1",
		"app.js":     "console.log(1)",
	} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	server := newTestServer(env, HTTPOptions{StaticDir: root, Hidden: []string{dataFile}})

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "welcome"},
		{"/app.js", http.StatusOK, "console.log"},
		{"/data.json", http.StatusNotFound, "Not Found"},
		{"/.env", http.StatusNotFound, "Not Found"},
		{"/staff", http.StatusNotFound, "Staff page not created"},
		{"/api/unknown", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rr := doJSON(t, server, http.MethodGet, tc.path, "")
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %q", tc.body, rr.Body.String())
			}
		})
	}
}

func TestRateLimitedLogin(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{RateLimit: 1})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = doJSON(t, server, http.MethodPost, "/api/staff/login", `{"name":"x","password":"y"}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	rr := doJSON(t, server, http.MethodGet, "/api/public", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reads should not be limited, got %d", rr.Code)
	}
}

func TestInvalidBodyAndOptions(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env, HTTPOptions{CORSOrigin: "https://church.example"})

	rr := doJSON(t, server, http.MethodPost, "/api/prayers", `{"body":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", code)
	}

	rr = doJSON(t, server, http.MethodOptions, "/api/prayers", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://church.example" {
		t.Fatalf("expected CORS origin header, got %q", origin)
	}
}
