package http

import (
	"encoding/json"
	"errors"
	nethttp "net/http"
	"sort"
	"strings"
	"time"

	"go-report-download-panel/internal/backend"
	"go-report-download-panel/internal/download"
	"go-report-download-panel/internal/draft"
	"go-report-download-panel/internal/session"
	"go-report-download-panel/internal/statuslog"
)

type saveConfigRequest struct {
	Name   string               `json:"name"`
	Config backend.FormSnapshot `json:"config"`
}

type scheduleCreateRequest struct {
	ConfigName  string `json:"config_name"`
	TriggerType string `json:"trigger_type"`
	RunDatetime string `json:"run_datetime"`
}

type saveDraftRequest struct {
	Payload string `json:"payload"`
}

func downloadStartHandler(ctrl *download.Controller) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		var snap backend.FormSnapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}

		start := time.Now()
		sessionID, err := ctrl.Submit(r.Context(), snap)
		recordBackendCall("StartDownload", time.Since(start).Seconds(), err)
		if err != nil {
			var verr *download.ValidationError
			if errors.As(err, &verr) {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{
					"error":  "validation failed",
					"issues": verr.Issues,
				})
				return
			}
			if errors.Is(err, download.ErrBusy) {
				writeJSON(w, nethttp.StatusConflict, map[string]any{
					"error": "a download is already in progress",
				})
				return
			}
			var rerr *download.RejectedError
			if errors.As(err, &rerr) {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": rerr.Message})
				return
			}
			writeJSON(w, nethttp.StatusBadGateway, map[string]any{
				"error": "failed to reach download backend",
			})
			return
		}

		writeJSON(w, nethttp.StatusAccepted, map[string]any{
			"data": map[string]any{
				"session_id": sessionID,
			},
		})
	}
}

func downloadSessionsHandler(reg *session.Registry) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		rows := reg.Render()
		if rows == nil {
			rows = []session.SummaryRow{}
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{
				"count": len(rows),
			},
			"data": rows,
		})
	}
}

// sessionDetailRouter handles /api/v1/download/sessions/{id}/toggle.
func sessionDetailRouter(reg *session.Registry) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/download/sessions/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 2 || parts[1] != "toggle" || parts[0] == "" {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		if r.Method != nethttp.MethodPost {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		expanded, ok := reg.ToggleExpanded(parts[0])
		if !ok {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "unknown session"})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"data": map[string]any{
				"id":       parts[0],
				"expanded": expanded,
			},
		})
	}
}

func downloadStatusHandler(status *statuslog.Log, ctrl *download.Controller) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"data": map[string]any{
					"busy":         ctrl.Busy(),
					"stream_state": string(ctrl.StreamState()),
					"history_seq":  ctrl.HistorySeq(),
					"entries":      status.Snapshot(),
				},
			})
		case nethttp.MethodDelete:
			status.Clear()
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"data": map[string]any{"cleared": true},
			})
		default:
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	}
}

func reportOptionsHandler(ctrl *download.Controller) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		start := time.Now()
		opts, err := ctrl.RefreshOptions(r.Context())
		recordBackendCall("GetReportsRegions", time.Since(start).Seconds(), err)
		if err != nil {
			// Serve the cached copy when the backend blips; the form stays usable.
			if cached := ctrl.Options(); cached != nil {
				writeJSON(w, nethttp.StatusOK, map[string]any{
					"meta": map[string]any{"stale": true},
					"data": cached,
				})
				return
			}
			writeJSON(w, nethttp.StatusBadGateway, map[string]any{
				"error": "failed to fetch report options",
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{"stale": false},
			"data": opts,
		})
	}
}

func configsHandler(bc *backend.Client) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			start := time.Now()
			names, err := bc.GetConfigs(r.Context())
			recordBackendCall("GetConfigs", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to list configurations"})
				return
			}
			sort.Strings(names)
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"meta": map[string]any{"count": len(names)},
				"data": names,
			})
		case nethttp.MethodPost:
			var req saveConfigRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
				return
			}
			req.Name = strings.TrimSpace(req.Name)
			if req.Name == "" {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "configuration name is required"})
				return
			}
			start := time.Now()
			reply, err := bc.SaveConfig(r.Context(), req.Name, req.Config)
			recordBackendCall("SaveConfig", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to save configuration"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": reply})
		default:
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	}
}

// configDetailRouter handles /api/v1/configs/{name}: GET loads, PUT saves, DELETE
// removes.
func configDetailRouter(bc *backend.Client) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/configs/"), "/")
		if name == "" || strings.Contains(name, "/") {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		switch r.Method {
		case nethttp.MethodGet:
			start := time.Now()
			snap, err := bc.LoadConfig(r.Context(), name)
			recordBackendCall("LoadConfig", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to load configuration"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": snap})
		case nethttp.MethodPut:
			var snap backend.FormSnapshot
			if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
				return
			}
			start := time.Now()
			reply, err := bc.SaveConfig(r.Context(), name, snap)
			recordBackendCall("SaveConfig", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to save configuration"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": reply})
		case nethttp.MethodDelete:
			start := time.Now()
			reply, err := bc.DeleteConfig(r.Context(), name)
			recordBackendCall("DeleteConfig", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to delete configuration"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": reply})
		default:
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	}
}

func schedulesHandler(bc *backend.Client) nethttp.HandlerFunc {
	type scheduleRow struct {
		ID          string `json:"id"`
		ConfigName  string `json:"config_name"`
		NextRunTime string `json:"next_run_time"`
		Trigger     string `json:"trigger"`
	}
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			start := time.Now()
			items, err := bc.GetSchedules(r.Context())
			recordBackendCall("GetSchedules", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to list schedules"})
				return
			}
			rows := make([]scheduleRow, 0, len(items))
			for _, s := range items {
				rows = append(rows, scheduleRow{
					ID:          s.ID,
					ConfigName:  s.ConfigName(),
					NextRunTime: s.NextRunTime,
					Trigger:     s.Trigger,
				})
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"meta": map[string]any{"count": len(rows)},
				"data": rows,
			})
		case nethttp.MethodPost:
			var req scheduleCreateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
				return
			}
			if strings.TrimSpace(req.ConfigName) == "" {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "config_name is required"})
				return
			}
			if req.TriggerType == "" {
				req.TriggerType = "date"
			}
			if req.TriggerType == "date" {
				runAt, err := parseScheduleTime(req.RunDatetime)
				if err != nil {
					writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "run_datetime must be a valid timestamp"})
					return
				}
				if time.Until(runAt) < time.Minute {
					writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "run_datetime must be at least one minute in the future"})
					return
				}
			}
			start := time.Now()
			reply, err := bc.ScheduleJob(r.Context(), backend.ScheduleRequest{
				ConfigName:  strings.TrimSpace(req.ConfigName),
				TriggerType: req.TriggerType,
				RunDatetime: req.RunDatetime,
			})
			recordBackendCall("ScheduleJob", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to schedule job"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": reply})
		default:
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	}
}

// scheduleDetailRouter handles DELETE /api/v1/schedules/{id}.
func scheduleDetailRouter(bc *backend.Client) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/"), "/")
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		if r.Method != nethttp.MethodDelete {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		start := time.Now()
		reply, err := bc.CancelSchedule(r.Context(), id)
		recordBackendCall("CancelSchedule", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to cancel schedule"})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"data": reply})
	}
}

func historyHandler(bc *backend.Client, ctrl *download.Controller) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		start := time.Now()
		entries, err := bc.GetLogs(r.Context())
		recordBackendCall("GetLogs", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "failed to fetch download history"})
			return
		}
		counts := map[string]int{}
		for _, e := range entries {
			status := strings.ToLower(e.Field("Status"))
			counts[status]++
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{
				"count":         len(entries),
				"status_counts": counts,
				"history_seq":   ctrl.HistorySeq(),
				"generated_at":  time.Now().UTC(),
			},
			"data": entries,
		})
	}
}

func draftHandler(store *draft.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{
				"error": "draft store disabled (set APP_DRAFT_SQLITE_PATH)",
			})
			return
		}
		switch r.Method {
		case nethttp.MethodGet:
			start := time.Now()
			payload, ok, err := store.Restore(r.Context())
			recordDraftQuery("Restore", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to read form draft"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"data": map[string]any{
					"exists":  ok,
					"payload": payload,
				},
			})
		case nethttp.MethodPut:
			var req saveDraftRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
				return
			}
			start := time.Now()
			err := store.Save(r.Context(), req.Payload)
			recordDraftQuery("Save", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to save form draft"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": map[string]any{"saved": true}})
		case nethttp.MethodDelete:
			start := time.Now()
			err := store.Clear(r.Context())
			recordDraftQuery("Clear", time.Since(start).Seconds(), err)
			if err != nil {
				writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to clear form draft"})
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"data": map[string]any{"cleared": true}})
		default:
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	}
}

// parseScheduleTime accepts the datetime-local format the form produces and full
// RFC 3339 stamps.
func parseScheduleTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", v, time.Local)
}
