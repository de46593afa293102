package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"license-admission-service/config"
	"license-admission-service/internal/domain"
	"license-admission-service/internal/infra"
	"license-admission-service/internal/license"
	"license-admission-service/internal/license/licensetest"
	"license-admission-service/internal/repository"
	"license-admission-service/internal/usecase"
)

type testEnv struct {
	db      *gorm.DB
	service *usecase.LicenseService
	license *LicenseHandler
	session *SessionHandler
}

func setupHandler(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	sql := `
		CREATE TABLE licenses (
			id TEXT PRIMARY KEY,
			license_key TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			end_date DATE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE active_sessions (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			log_id TEXT NOT NULL,
			login_time DATETIME NOT NULL,
			logout_time DATETIME,
			is_active INTEGER NOT NULL DEFAULT 1,
			token TEXT NOT NULL UNIQUE
		);
	`
	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}

	secret := []byte(licensetest.Secret)
	validator := license.NewValidator(secret, &licensetest.Host{MACs: []string{licensetest.MAC}})
	service := usecase.NewLicenseService(
		validator,
		license.NewState(),
		secret,
		repository.NewLicenseRepository(db),
		repository.NewSessionRepository(db),
		infra.NewArtifactFile(filepath.Join(t.TempDir(), "license.key")),
	)

	return &testEnv{
		db:      db,
		service: service,
		license: NewLicenseHandler(service),
		session: NewSessionHandler(service),
	}
}

// issueRelative は今日を基準にした有効期間のライセンスを発行する。
func issueRelative(t *testing.T, mac string, startOffset, endOffset, users int) string {
	t.Helper()
	today := domain.DateOf(time.Now())
	claims := licensetest.Claims(mac,
		domain.DateOf(today.AddDate(0, 0, startOffset)),
		domain.DateOf(today.AddDate(0, 0, endOffset)),
		users,
	)
	return licensetest.MustIssue([]byte(licensetest.Secret), claims)
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func (e *testEnv) upload(t *testing.T, artifact string) UploadResponse {
	t.Helper()
	req := jsonRequest(t, http.MethodPost, "/v1/licenses", UploadRequest{LicenseKey: artifact, UploadedBy: "admin"})
	rec := httptest.NewRecorder()
	e.license.Upload(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestUpload_Success(t *testing.T) {
	e := setupHandler(t)

	resp := e.upload(t, issueRelative(t, licensetest.MAC, -30, 365, 5))

	if resp.ID == "" || !resp.IsActive {
		t.Errorf("want active license with id, got %+v", resp.LicenseMetadataResponse)
	}
	if resp.License == nil || resp.License.Users != 5 {
		t.Errorf("want users 5, got %+v", resp.License)
	}
	if resp.Warning != "" {
		t.Errorf("want no warning, got %q", resp.Warning)
	}
}

func TestUpload_ExpiringSoonWarning(t *testing.T) {
	e := setupHandler(t)

	resp := e.upload(t, issueRelative(t, licensetest.MAC, -30, 3, 5))

	if resp.Warning == "" {
		t.Error("want expiry warning")
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid json",
			body:     "not-an-object",
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
		{
			name:     "malformed artifact",
			body:     UploadRequest{LicenseKey: "garbage", UploadedBy: "admin"},
			wantCode: http.StatusBadRequest,
			wantErr:  "MALFORMED_LICENSE",
		},
		{
			name:     "host mismatch",
			body:     UploadRequest{LicenseKey: issueRelative(t, "11:22:33:44:55:66", -30, 365, 5), UploadedBy: "admin"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "HOST_MISMATCH",
		},
		{
			name:     "not yet valid",
			body:     UploadRequest{LicenseKey: issueRelative(t, licensetest.MAC, 10, 365, 5), UploadedBy: "admin"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "NOT_YET_VALID",
		},
		{
			name:     "expired",
			body:     UploadRequest{LicenseKey: issueRelative(t, licensetest.MAC, -60, -1, 5), UploadedBy: "admin"},
			wantCode: http.StatusForbidden,
			wantErr:  "LICENSE_EXPIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupHandler(t)
			rec := httptest.NewRecorder()
			e.license.Upload(rec, jsonRequest(t, http.MethodPost, "/v1/licenses", tt.body))

			if rec.Code != tt.wantCode {
				t.Errorf("want status %d, got %d", tt.wantCode, rec.Code)
			}
			var resp map[string]interface{}
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp["code"] != tt.wantErr {
				t.Errorf("want code %s, got %v", tt.wantErr, resp["code"])
			}
		})
	}
}

func TestVerify(t *testing.T) {
	e := setupHandler(t)
	e.upload(t, issueRelative(t, licensetest.MAC, -30, 365, 5))

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.license.Verify(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: licensetest.Secret}))

		if rec.Code != http.StatusOK {
			t.Fatalf("want status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp VerifyResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if !resp.Valid || resp.Expired {
			t.Errorf("want valid result, got %+v", resp)
		}
	})

	t.Run("secret mismatch", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.license.Verify(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: "wrong"}))

		if rec.Code != http.StatusForbidden {
			t.Errorf("want status 403, got %d", rec.Code)
		}
	})
}

func TestVerify_Expired(t *testing.T) {
	e := setupHandler(t)
	artifact := issueRelative(t, licensetest.MAC, -60, -1, 5)
	if err := e.db.Exec("INSERT INTO licenses (id, license_key, uploaded_by, is_active) VALUES (?, ?, ?, ?)",
		"expired-license", artifact, "admin", true).Error; err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}

	rec := httptest.NewRecorder()
	e.license.Verify(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: licensetest.Secret}))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("want status 403, got %d", rec.Code)
	}
	var resp VerifyResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Valid || !resp.Expired || resp.License == nil {
		t.Errorf("want expired result with license, got %+v", resp)
	}
}

func TestVerify_NotFound(t *testing.T) {
	e := setupHandler(t)

	rec := httptest.NewRecorder()
	e.license.Verify(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: licensetest.Secret}))

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestListAndDelete(t *testing.T) {
	e := setupHandler(t)
	first := e.upload(t, issueRelative(t, licensetest.MAC, -30, 365, 2))
	second := e.upload(t, issueRelative(t, licensetest.MAC, -30, 365, 3))

	rec := httptest.NewRecorder()
	e.license.List(rec, httptest.NewRequest(http.MethodGet, "/v1/licenses", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var list LicenseListResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list.Licenses) != 2 {
		t.Fatalf("want 2 licenses, got %d", len(list.Licenses))
	}
	active := 0
	for _, l := range list.Licenses {
		if l.IsActive {
			active++
			if l.ID != second.ID {
				t.Errorf("want latest upload active, got %s", l.ID)
			}
		}
	}
	if active != 1 {
		t.Errorf("want exactly 1 active license, got %d", active)
	}

	for _, id := range []string{first.ID, second.ID} {
		rec := httptest.NewRecorder()
		e.license.Delete(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/licenses/"+id, nil), "id", id))
		if rec.Code != http.StatusNoContent {
			t.Errorf("want status 204, got %d", rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	e.license.Delete(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/licenses/"+first.ID, nil), "id", first.ID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.license.Status(rec, httptest.NewRequest(http.MethodGet, "/v1/license/status", nil))
	var status StatusResponse
	json.NewDecoder(rec.Body).Decode(&status)
	if status.Status != string(license.StatusAbsent) || status.License != nil {
		t.Errorf("want absent status after deleting active license, got %+v", status)
	}
}

func TestSessions(t *testing.T) {
	e := setupHandler(t)
	e.upload(t, issueRelative(t, licensetest.MAC, -30, 365, 1))

	rec := httptest.NewRecorder()
	e.session.Create(rec, jsonRequest(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Username: "alice", LogID: "log-1"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session SessionResponse
	json.NewDecoder(rec.Body).Decode(&session)
	if session.Token == "" {
		t.Fatal("want token")
	}

	rec = httptest.NewRecorder()
	e.session.Create(rec, jsonRequest(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Username: "bob", LogID: "log-2"}))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("want status 429, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.license.Status(rec, httptest.NewRequest(http.MethodGet, "/v1/license/status", nil))
	var status StatusResponse
	json.NewDecoder(rec.Body).Decode(&status)
	if status.Status != string(license.StatusActive) || status.ActiveSessions != 1 {
		t.Errorf("want active with 1 session, got %+v", status)
	}

	rec = httptest.NewRecorder()
	e.session.Delete(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+session.Token, nil), "token", session.Token))
	if rec.Code != http.StatusNoContent {
		t.Errorf("want status 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.session.Delete(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+session.Token, nil), "token", session.Token))
	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestSessions_InvalidRequest(t *testing.T) {
	e := setupHandler(t)

	rec := httptest.NewRecorder()
	e.session.Create(rec, jsonRequest(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Username: "alice"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestRouter(t *testing.T) {
	e := setupHandler(t)
	router := NewRouter(e.license, e.session, &config.Config{
		OtelServiceName: "license-admission-service",
		VerifyRateLimit: 1,
		VerifyRateBurst: 5,
	})

	tests := []struct {
		method   string
		path     string
		wantCode int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/v1/license/status", http.StatusOK},
		{http.MethodGet, "/v1/licenses", http.StatusOK},
		{http.MethodDelete, "/v1/licenses/unknown", http.StatusNotFound},
		{http.MethodDelete, "/v1/sessions/unknown", http.StatusNotFound},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("want status %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestRouter_VerifyRateLimited(t *testing.T) {
	e := setupHandler(t)
	router := NewRouter(e.license, e.session, &config.Config{
		OtelServiceName: "license-admission-service",
		VerifyRateLimit: 0.001,
		VerifyRateBurst: 1,
	})

	want := []int{http.StatusForbidden, http.StatusTooManyRequests}
	for i, code := range want {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: "wrong"}))
		if rec.Code != code {
			t.Errorf("request %d: want status %d, got %d", i, code, rec.Code)
		}
	}
}

func TestVerify_MissingSecret(t *testing.T) {
	e := setupHandler(t)

	rec := httptest.NewRecorder()
	e.license.Verify(rec, jsonRequest(t, http.MethodPost, "/v1/license/verify", map[string]string{}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["message"] != "invalid request: secret failed on required" {
		t.Errorf("unexpected message: %v", resp["message"])
	}
}

func TestUnconfiguredSecret(t *testing.T) {
	e := setupHandler(t)
	service := usecase.NewLicenseService(
		license.NewValidator(nil, &licensetest.Host{MACs: []string{licensetest.MAC}}),
		license.NewState(),
		nil,
		repository.NewLicenseRepository(e.db),
		repository.NewSessionRepository(e.db),
		infra.NewArtifactFile(filepath.Join(t.TempDir(), "license.key")),
	)
	h := NewLicenseHandler(service)

	tests := []struct {
		name  string
		serve func(w http.ResponseWriter)
	}{
		{
			name: "verify",
			serve: func(w http.ResponseWriter) {
				h.Verify(w, jsonRequest(t, http.MethodPost, "/v1/license/verify", VerifyRequest{Secret: licensetest.Secret}))
			},
		},
		{
			name: "upload",
			serve: func(w http.ResponseWriter) {
				h.Upload(w, jsonRequest(t, http.MethodPost, "/v1/licenses",
					UploadRequest{LicenseKey: issueRelative(t, licensetest.MAC, -30, 365, 5), UploadedBy: "admin"}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.serve(rec)

			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("want status 503, got %d", rec.Code)
			}
			var resp map[string]interface{}
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp["code"] != "LICENSE_UNCONFIGURED" {
				t.Errorf("want code LICENSE_UNCONFIGURED, got %v", resp["code"])
			}
		})
	}
}
