package handler

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"gymkiosk/internal/attendance"
	"gymkiosk/internal/auth"
	"gymkiosk/internal/config"
	"gymkiosk/internal/faceclient"
	"gymkiosk/internal/identity"
	"gymkiosk/internal/member"
	"gymkiosk/internal/model"
	"gymkiosk/internal/photos"
	"gymkiosk/internal/store"
)

type noopNotifier struct{}

func (noopNotifier) MemberRegistered(model.Member) error { return nil }
func (noopNotifier) MemberUpdated(model.Member) error    { return nil }
func (noopNotifier) MemberDeleted(model.Member) error    { return nil }

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.App{
		Env:            "test",
		DataDir:        dir,
		PhotoDir:       filepath.Join(dir, "member_images"),
		FaceSkip:       true,
		MatchThreshold: identity.DefaultThreshold,
		StaffPassword:  "s3cret",
		JWTIssuer:      "gymkiosk",
		JWTSigningKey:  "test-signing-key",
		AccessTTL:      time.Hour,
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	ph, err := photos.New(cfg.PhotoDir)
	if err != nil {
		t.Fatalf("photos.New failed: %v", err)
	}
	face := faceclient.New("", cfg.FaceSkip)
	settings := config.NewSettingsFile(filepath.Join(dir, "config.json"))
	members := member.NewService(st, ph, noopNotifier{}, settings)
	ledger := attendance.NewLedger(st)
	resolver := identity.NewResolver(identity.NewVerifier(face, cfg.MatchThreshold), cfg.MatchThreshold)

	h := New(cfg, st, ph, members, ledger, resolver, settings, face)
	r := gin.New()
	h.Routes(r, auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	return r
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartBody builds a form with the given fields plus an optional
// photo file part.
func multipartBody(t *testing.T, fields map[string]string, photo []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if photo != nil {
		part, err := w.CreateFormFile("photo", "capture.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(photo); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func memberFields(name string) map[string]string {
	return map[string]string{
		"name":       name,
		"gender":     "Male",
		"email":      strings.ToLower(name) + "@example.com",
		"mobile":     "9876543210",
		"membership": "Monthly",
		"fee":        "500",
		"join_date":  "2024-02-01",
	}
}

func registerMember(t *testing.T, r *gin.Engine, name string) model.Member {
	t.Helper()
	body, ct := multipartBody(t, memberFields(name), jpegBytes(t))
	rec := doRequest(t, r, http.MethodPost, "/api/members", body, ct, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", name, rec.Code, rec.Body.String())
	}
	var res member.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("register %s: bad body: %v", name, err)
	}
	return res.Member
}

func staffToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/api/login",
		strings.NewReader(`{"password":"s3cret"}`), "application/json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	return res.AccessToken
}

func TestRegisterAndGetMember(t *testing.T) {
	r := testRouter(t)

	m := registerMember(t, r, "Alice")
	if m.ID != "1" {
		t.Errorf("first auto ID should be 1, got %q", m.ID)
	}

	rec := doRequest(t, r, http.MethodGet, "/api/members/1", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get member: status %d", rec.Code)
	}
	var got model.Member
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Alice" || got.Membership != model.MembershipMonthly {
		t.Errorf("unexpected member: %+v", got)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/members/99", nil, "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown member should be 404, got %d", rec.Code)
	}
}

func TestRegisterMember_Validation(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name string
		mut  func(map[string]string)
	}{
		{"missing name", func(f map[string]string) { delete(f, "name") }},
		{"bad gender", func(f map[string]string) { f["gender"] = "unknown" }},
		{"bad membership", func(f map[string]string) { f["membership"] = "Weekly" }},
		{"bad email", func(f map[string]string) { f["email"] = "not-an-email" }},
		{"negative fee", func(f map[string]string) { f["fee"] = "-10" }},
		{"bad join date", func(f map[string]string) { f["join_date"] = "01/02/2024" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := memberFields("Alice")
			tc.mut(fields)
			body, ct := multipartBody(t, fields, jpegBytes(t))
			rec := doRequest(t, r, http.MethodPost, "/api/members", body, ct, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("missing photo", func(t *testing.T) {
		body, ct := multipartBody(t, memberFields("Alice"), nil)
		rec := doRequest(t, r, http.MethodPost, "/api/members", body, ct, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status %d, want 400", rec.Code)
		}
	})
}

func TestRegisterMember_DuplicateID(t *testing.T) {
	r := testRouter(t)

	fields := memberFields("Alice")
	fields["id"] = "42"
	body, ct := multipartBody(t, fields, jpegBytes(t))
	if rec := doRequest(t, r, http.MethodPost, "/api/members", body, ct, ""); rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	fields = memberFields("Impostor")
	fields["id"] = "42"
	body, ct = multipartBody(t, fields, jpegBytes(t))
	rec := doRequest(t, r, http.MethodPost, "/api/members", body, ct, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate id should be 409, got %d", rec.Code)
	}
}

func TestListMembers_Filter(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")
	registerMember(t, r, "Alina")
	registerMember(t, r, "Bob")

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?id=2", 1},
		{"?name=ALI", 2},
		{"?name=nobody", 0},
	}
	for _, tc := range tests {
		rec := doRequest(t, r, http.MethodGet, "/api/members"+tc.query, nil, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status %d", tc.query, rec.Code)
		}
		var got []model.Member
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%q: %v", tc.query, err)
		}
		if len(got) != tc.want {
			t.Errorf("%q: got %d members, want %d", tc.query, len(got), tc.want)
		}
	}
}

func TestExportMembersCSV(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")

	rec := doRequest(t, r, http.MethodGet, "/api/members/export", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "members_filtered.csv") {
		t.Errorf("content disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID,Name,Gender") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Alice") {
		t.Errorf("row missing member: %q", lines[1])
	}
}

func TestUpdateAndDeleteRequireAuth(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")

	fields := memberFields("Alice")
	body, ct := multipartBody(t, fields, nil)
	if rec := doRequest(t, r, http.MethodPut, "/api/members/1", body, ct, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated update should be 401, got %d", rec.Code)
	}
	if rec := doRequest(t, r, http.MethodDelete, "/api/members/1", nil, "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated delete should be 401, got %d", rec.Code)
	}
	if rec := doRequest(t, r, http.MethodDelete, "/api/members/1", nil, "", "not-a-token"); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token should be 401, got %d", rec.Code)
	}
}

func TestUpdateMember(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")
	token := staffToken(t, r)

	fields := memberFields("Alice Cooper")
	fields["membership"] = "Yearly"
	fields["fee"] = "5000"
	body, ct := multipartBody(t, fields, nil)
	rec := doRequest(t, r, http.MethodPut, "/api/members/1", body, ct, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res member.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Member.Name != "Alice Cooper" || res.Member.Membership != model.MembershipYearly {
		t.Errorf("update not applied: %+v", res.Member)
	}

	body, ct = multipartBody(t, memberFields("Ghost"), nil)
	if rec := doRequest(t, r, http.MethodPut, "/api/members/99", body, ct, token); rec.Code != http.StatusNotFound {
		t.Errorf("unknown member update should be 404, got %d", rec.Code)
	}
}

func TestUpdateMember_OmittedJoinDateKeepsStored(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")
	token := staffToken(t, r)

	fields := memberFields("Alice")
	delete(fields, "join_date")
	body, ct := multipartBody(t, fields, nil)
	rec := doRequest(t, r, http.MethodPut, "/api/members/1", body, ct, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/members/1", nil, "", "")
	var got model.Member
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.JoinDate.Format(model.DateLayout) != "2024-02-01" {
		t.Errorf("join date after update = %s, want 2024-02-01 kept", got.JoinDate.Format(model.DateLayout))
	}
}

func TestDeleteMember(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")
	token := staffToken(t, r)

	rec := doRequest(t, r, http.MethodDelete, "/api/members/1", nil, "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(t, r, http.MethodGet, "/api/members/1", nil, "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleted member should be gone, got %d", rec.Code)
	}
}

func TestAttendanceEntryAndExit(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")

	probe := func() (io.Reader, string) {
		return multipartBody(t, nil, jpegBytes(t))
	}

	body, ct := probe()
	rec := doRequest(t, r, http.MethodPost, "/api/attendance/entry", body, ct, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("entry: status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Matched    bool                   `json:"matched"`
		Member     model.Member           `json:"member"`
		Compared   int                    `json:"compared"`
		Attendance model.AttendanceRecord `json:"attendance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Matched || res.Member.ID != "1" {
		t.Errorf("entry did not match the member: %+v", res)
	}
	if res.Compared != 1 {
		t.Errorf("compared = %d, want 1", res.Compared)
	}
	if res.Attendance.Status != model.StatusPresent || res.Attendance.EntryTime == "" {
		t.Errorf("entry record: %+v", res.Attendance)
	}

	// Second entry the same day is rejected.
	body, ct = probe()
	if rec := doRequest(t, r, http.MethodPost, "/api/attendance/entry", body, ct, ""); rec.Code != http.StatusConflict {
		t.Errorf("second entry should be 409, got %d: %s", rec.Code, rec.Body.String())
	}

	body, ct = probe()
	rec = doRequest(t, r, http.MethodPost, "/api/attendance/exit", body, ct, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("exit: status %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Attendance.Status != model.StatusExited || res.Attendance.ExitTime == "" {
		t.Errorf("exit record: %+v", res.Attendance)
	}

	// No open entry remains.
	body, ct = probe()
	if rec := doRequest(t, r, http.MethodPost, "/api/attendance/exit", body, ct, ""); rec.Code != http.StatusConflict {
		t.Errorf("exit without open entry should be 409, got %d", rec.Code)
	}
}

func TestAttendanceEntry_NoMembers(t *testing.T) {
	r := testRouter(t)

	body, ct := multipartBody(t, nil, jpegBytes(t))
	rec := doRequest(t, r, http.MethodPost, "/api/attendance/entry", body, ct, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty roster should be 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAttendanceEntry_PhotoRequired(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")

	body, ct := multipartBody(t, nil, nil)
	rec := doRequest(t, r, http.MethodPost, "/api/attendance/entry", body, ct, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing photo should be 400, got %d", rec.Code)
	}
}

func TestListAttendance_Filter(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")

	body, ct := multipartBody(t, nil, jpegBytes(t))
	if rec := doRequest(t, r, http.MethodPost, "/api/attendance/entry", body, ct, ""); rec.Code != http.StatusOK {
		t.Fatalf("entry: %d", rec.Code)
	}

	today := time.Now().Format(model.DateLayout)
	rec := doRequest(t, r, http.MethodGet, "/api/attendance?date="+today, nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var records []model.AttendanceRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].MemberID != "1" {
		t.Errorf("unexpected records: %+v", records)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/attendance?date=1999-01-01", nil, "", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records for a past date, got %d", len(records))
	}
}

func TestLogin(t *testing.T) {
	r := testRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/api/login",
		strings.NewReader(`{"password":"wrong"}`), "application/json", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password should be 401, got %d", rec.Code)
	}

	token := staffToken(t, r)
	if token == "" {
		t.Fatal("empty access token")
	}
}

func TestSettings(t *testing.T) {
	r := testRouter(t)
	token := staffToken(t, r)

	rec := doRequest(t, r, http.MethodGet, "/api/settings", nil, "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["configured"] != false {
		t.Errorf("fresh install should be unconfigured: %v", got)
	}

	rec = doRequest(t, r, http.MethodPut, "/api/settings",
		strings.NewReader(`{"admin_email":"gym@example.com","admin_pass":"app-password"}`),
		"application/json", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("save settings: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/settings", nil, "", token)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["admin_email"] != "gym@example.com" || got["configured"] != true {
		t.Errorf("settings not persisted: %v", got)
	}
	if strings.Contains(rec.Body.String(), "app-password") {
		t.Error("password must never be echoed")
	}
}

func TestReset(t *testing.T) {
	r := testRouter(t)
	registerMember(t, r, "Alice")
	token := staffToken(t, r)

	rec := doRequest(t, r, http.MethodPost, "/api/reset",
		strings.NewReader(`{"confirm":"yes please"}`), "application/json", token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong phrase should be 400, got %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodPost, "/api/reset",
		strings.NewReader(`{"confirm":"DELETE ALL"}`), "application/json", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/members", nil, "", "")
	var members []model.Member
	if err := json.Unmarshal(rec.Body.Bytes(), &members); err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Errorf("members survived reset: %d", len(members))
	}
}
