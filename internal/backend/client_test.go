package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestStartDownloadAccepted(t *testing.T) {
	var got FormSnapshot
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/start-download", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(StatusReply{Status: "started"})
	})

	reply, err := c.StartDownload(context.Background(), FormSnapshot{
		Email:    "a@b.c",
		Password: "secret",
		Reports:  []ReportSpec{{ReportType: "sales", FromDate: "2026-01-01", ToDate: "2026-01-31", ChunkSize: "5"}},
		Regions:  []string{"us"},
	})
	require.NoError(t, err)
	assert.True(t, reply.Started())
	assert.Equal(t, "a@b.c", got.Email)
	assert.Equal(t, "sales", got.Reports[0].ReportType)
}

func TestStartDownloadRejectionIsNotATransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(StatusReply{Status: "error", Message: "Login failed"})
	})

	reply, err := c.StartDownload(context.Background(), FormSnapshot{})
	require.NoError(t, err)
	assert.False(t, reply.Started())
	assert.Equal(t, "Login failed", reply.Message)
}

func TestDoJSONUndecodableErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.StartDownload(context.Background(), FormSnapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestGetReportsRegionsRejectsEmptyCatalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ReportOptions{})
	})

	_, err := c.GetReportsRegions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reports found")
}

func TestGetReportsRegions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get-reports-regions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ReportOptions{
			Reports:            []string{"sales", "inventory"},
			ReportURLsMap:      map[string]string{"sales": "https://x/sales", "inventory": "https://x/inv"},
			RegionRequiredURLs: []string{"https://x/sales"},
			Regions:            map[string]string{"us": "United States"},
		})
	})

	opts, err := c.GetReportsRegions(context.Background())
	require.NoError(t, err)
	assert.True(t, opts.RequiresRegion([]string{"sales"}))
	assert.False(t, opts.RequiresRegion([]string{"inventory"}))
	assert.False(t, opts.RequiresRegion(nil))
}

func TestGetConfigs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"configs": []string{"weekly", "monthly"},
		})
	})

	names, err := c.GetConfigs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly", "monthly"}, names)
}

func TestLoadConfigEscapesName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/load-config/weekly%20sales", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "success",
			"config_data": FormSnapshot{Email: "a@b.c"},
		})
	})

	snap, err := c.LoadConfig(context.Background(), "weekly sales")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", snap.Email)
}

func TestGetLogsWarningMeansEmptyHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "warning",
			"message": "log file not found",
		})
	})

	entries, err := c.GetLogs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetSchedules(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"schedules": []Schedule{
				{ID: "job-1", NextRunTime: "2026-09-01 10:00:00", Trigger: "date", Args: []string{"weekly"}},
				{ID: "job-2", NextRunTime: "2026-09-02 10:00:00", Trigger: "date"},
			},
		})
	})

	items, err := c.GetSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "weekly", items[0].ConfigName())
	assert.Equal(t, "Unknown Config", items[1].ConfigName())
}

func TestClientDisabledWithoutEndpoint(t *testing.T) {
	c := NewClient("", time.Second)
	assert.False(t, c.Enabled())
	_, err := c.GetConfigs(context.Background())
	assert.Error(t, err)
}

func TestLogEntryField(t *testing.T) {
	e := LogEntry{
		"Report Type": "sales",
		"Duration":    float64(42),
		"Status":      "",
	}
	assert.Equal(t, "sales", e.Field("Report Type"))
	assert.Equal(t, "42", e.Field("Duration"))
	assert.Equal(t, "-", e.Field("Status"))
	assert.Equal(t, "-", e.Field("Missing"))
}
