package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-report-download-panel/internal/backend"
	"go-report-download-panel/internal/download"
	"go-report-download-panel/internal/session"
	"go-report-download-panel/internal/statuslog"
)

func testController(t *testing.T) (*download.Controller, *session.Registry, *statuslog.Log) {
	t.Helper()
	bc := backend.NewClient("", time.Second)
	reg := session.NewRegistry(time.Hour, nil)
	t.Cleanup(reg.Close)
	status := statuslog.New(100)
	ctrl := download.NewController(bc, reg, status, nil, "5")
	return ctrl, reg, status
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return payload
}

func TestDownloadStartHandler_ValidationErrors(t *testing.T) {
	ctrl, _, _ := testController(t)
	h := downloadStartHandler(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/download/start", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	payload := decode(t, rr)
	issues, ok := payload["issues"].([]any)
	if !ok || len(issues) != 3 {
		t.Fatalf("expected 3 validation issues, got %v", payload["issues"])
	}
}

func TestDownloadStartHandler_RejectsGet(t *testing.T) {
	ctrl, _, _ := testController(t)
	h := downloadStartHandler(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestDownloadStartHandler_InvalidJSON(t *testing.T) {
	ctrl, _, _ := testController(t)
	h := downloadStartHandler(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/download/start", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestDownloadSessionsHandler_Empty(t *testing.T) {
	_, reg, _ := testController(t)
	h := downloadSessionsHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	payload := decode(t, rr)
	data, ok := payload["data"].([]any)
	if !ok || len(data) != 0 {
		t.Fatalf("expected empty data array, got %v", payload["data"])
	}
}

func TestSessionDetailRouter_Toggle(t *testing.T) {
	_, reg, _ := testController(t)
	reg.Add("123", time.Now(), nil)
	h := sessionDetailRouter(reg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/download/sessions/123/toggle", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	payload := decode(t, rr)
	data := payload["data"].(map[string]any)
	if data["expanded"] != true {
		t.Fatalf("expected expanded=true, got %v", data["expanded"])
	}
}

func TestSessionDetailRouter_UnknownSession(t *testing.T) {
	_, reg, _ := testController(t)
	h := sessionDetailRouter(reg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/download/sessions/999/toggle", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestSessionDetailRouter_InvalidPath(t *testing.T) {
	_, reg, _ := testController(t)
	h := sessionDetailRouter(reg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/download/sessions/123/unknown", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestDownloadStatusHandler_GetAndClear(t *testing.T) {
	ctrl, _, status := testController(t)
	status.Append(statuslog.LevelInfo, "hello")
	h := downloadStatusHandler(status, ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	payload := decode(t, rr)
	data := payload["data"].(map[string]any)
	if data["busy"] != false {
		t.Fatalf("expected busy=false, got %v", data["busy"])
	}
	if data["stream_state"] != "closed" {
		t.Fatalf("expected stream_state=closed, got %v", data["stream_state"])
	}
	if entries := data["entries"].([]any); len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/download/status", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if status.Len() != 0 {
		t.Fatalf("expected cleared log, got %d entries", status.Len())
	}
}

func TestDraftHandler_Disabled(t *testing.T) {
	h := draftHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/draft", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if decode(t, rr)["error"] == nil {
		t.Fatalf("expected error field in response")
	}
}

func TestSchedulesHandler_RejectsPastRunTime(t *testing.T) {
	h := schedulesHandler(backend.NewClient("", time.Second))

	body := `{"config_name":"weekly","trigger_type":"date","run_datetime":"2020-01-01T10:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestSchedulesHandler_RequiresConfigName(t *testing.T) {
	h := schedulesHandler(backend.NewClient("", time.Second))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestConfigDetailRouter_EmptyName(t *testing.T) {
	h := configDetailRouter(backend.NewClient("", time.Second))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestParseScheduleTime(t *testing.T) {
	if _, err := parseScheduleTime("2026-09-01T10:30"); err != nil {
		t.Fatalf("datetime-local format rejected: %v", err)
	}
	if _, err := parseScheduleTime("2026-09-01T10:30:00Z"); err != nil {
		t.Fatalf("RFC 3339 format rejected: %v", err)
	}
	if _, err := parseScheduleTime("not a time"); err == nil {
		t.Fatalf("expected error for invalid timestamp")
	}
}

func TestDashboardHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	dashboardHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Report Download Panel") {
		t.Fatalf("expected dashboard HTML in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr = httptest.NewRecorder()
	dashboardHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestNormalizeMetricPath(t *testing.T) {
	cases := map[string]string{
		"/":                                    "/",
		"/metrics":                             "/metrics",
		"/api/v1/configs/weekly":               "/api/v1/configs/{name}",
		"/api/v1/schedules/job-1":              "/api/v1/schedules/{id}",
		"/api/v1/download/sessions/123/toggle": "/api/v1/download/sessions/{id}/toggle",
		"/api/v1/history":                      "/api/v1/history",
	}
	for in, want := range cases {
		if got := normalizeMetricPath(in); got != want {
			t.Fatalf("normalizeMetricPath(%q) = %q, want %q", in, got, want)
		}
	}
}
