package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct {
	signInFn func(context.Context, string, string) (identity.Session, error)
}

var tokens = map[string]Viewer{
	"tok-mgr": manager,
	"tok-c":   contributor,
	"tok-r":   receiver,
	"tok-x":   outsider,
	"tok-adm": admin,
}

func (f *fakeAuth) SignIn(ctx context.Context, username, password string) (identity.Session, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, username, password)
	}
	return identity.Session{}, identity.ErrInvalidCredentials
}

func (f *fakeAuth) Refresh(context.Context, string) (identity.Session, error) {
	return identity.Session{}, identity.ErrSessionRevoked
}

func (f *fakeAuth) SignOut(context.Context, identity.Principal, string) error { return nil }

func (f *fakeAuth) Principal(_ context.Context, token string) (identity.Principal, error) {
	viewer, ok := tokens[token]
	if !ok {
		return identity.Principal{}, identity.ErrSessionRevoked
	}
	return identity.Principal{UserID: viewer.UserID, Username: viewer.Name, Role: viewer.Role}, nil
}

func (f *fakeAuth) ResolveProfile(_ context.Context, p identity.Principal) (domain.User, error) {
	return domain.User{ID: p.UserID, DisplayName: p.Username, Role: p.Role}, nil
}

func newTestHandler(t *testing.T, fs *fakeStore, projects ...domain.Project) http.Handler {
	t.Helper()
	svc, _ := newTestService(fs, projects...)
	return NewHTTPServer(svc, &fakeAuth{}, nil, "https://kt.example.com", nil).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeStore{})
	rr := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestReadyReportsDatabase(t *testing.T) {
	fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("connection refused") }}
	h := newTestHandler(t, fs)
	rr := doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode(t, rr)["status"] != "not_ready" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())
	for _, token := range []string{"", "tok-unknown"} {
		rr := doJSON(t, h, http.MethodGet, "/api/projects", token, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d", token, rr.Code)
		}
		body := decode(t, rr)
		if body["success"] != false || body["code"] != CodeUnauthorized {
			t.Fatalf("body = %v", body)
		}
	}
}

func TestListProjectsIsScopedToViewer(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())

	rr := doJSON(t, h, http.MethodGet, "/api/projects", "tok-c", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["success"] != true || len(body["projects"].([]any)) != 1 {
		t.Fatalf("body = %v", body)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/projects", "tok-x", nil)
	if got := len(decode(t, rr)["projects"].([]any)); got != 0 {
		t.Fatalf("outsider sees %d projects", got)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/projects/prj_1", "tok-x", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("outsider get status = %d", rr.Code)
	}
}

func TestSubmitEmptySectionIsUnprocessable(t *testing.T) {
	fs := &fakeStore{}
	h := newTestHandler(t, fs, seedProject())

	rr := doJSON(t, h, http.MethodPost, "/api/projects/prj_1/sections/sec_a/status", "tok-c", map[string]any{"status": "Ready for Review"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if decode(t, rr)["code"] != CodeValidationRejected {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if len(fs.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", fs.Calls())
	}
}

func TestSubmitSectionWithContent(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())

	rr := doJSON(t, h, http.MethodPost, "/api/projects/prj_1/sections/sec_a/status", "tok-c", map[string]any{
		"status":  "Ready for Review",
		"content": "Deploys go through the release train.",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	project := decode(t, rr)["project"].(map[string]any)
	if project["completion"] != float64(25) || project["status"] != string(domain.ProjectInProgress) {
		t.Fatalf("project = %v", project)
	}
}

func TestUnknownStatusIsRejected(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())
	rr := doJSON(t, h, http.MethodPost, "/api/projects/prj_1/sections/sec_a/status", "tok-c", map[string]any{"status": "Done"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())
	req := httptest.NewRequest(http.MethodPost, "/api/projects/prj_1/sections/sec_a/comments", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer tok-r")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || decode(t, rr)["code"] != CodeInvalidBody {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUploadAttachment(t *testing.T) {
	h := newTestHandler(t, &fakeStore{}, seedProject())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "runbook.md")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("# Runbook"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/projects/prj_1/sections/sec_a/attachments", &buf)
	req.Header.Set("Authorization", "Bearer tok-c")
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	attachment := decode(t, rr)["attachment"].(map[string]any)
	if attachment["fileName"] != "runbook.md" {
		t.Fatalf("attachment = %v", attachment)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/projects/prj_1/sections/sec_a/attachments/"+attachment["id"].(string), "tok-r", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("download status = %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://blobs.test/"+attachment["url"].(string) {
		t.Fatalf("Location = %q", loc)
	}
}

func TestSignInWithBadCredentials(t *testing.T) {
	h := newTestHandler(t, &fakeStore{})
	rr := doJSON(t, h, http.MethodPost, "/api/auth/signin", "", map[string]string{"username": "kim", "password": "nope"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode(t, rr)["code"] != CodeUnauthorized {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestSession(t *testing.T) {
	h := newTestHandler(t, &fakeStore{})

	rr := doJSON(t, h, http.MethodGet, "/api/session", "", nil)
	if rr.Code != http.StatusOK || decode(t, rr)["authenticated"] != false {
		t.Fatalf("anonymous session = %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/session", "tok-mgr", nil)
	body := decode(t, rr)
	if body["authenticated"] != true {
		t.Fatalf("session = %v", body)
	}
	if user := body["user"].(map[string]any); user["id"] != managerID {
		t.Fatalf("user = %v", user)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := newTestHandler(t, &fakeStore{})
	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "https://kt.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://kt.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	h := newTestHandler(t, &fakeStore{})
	rr := doJSON(t, h, http.MethodGet, "/api/nope", "", nil)
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != CodeNotFound {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}
