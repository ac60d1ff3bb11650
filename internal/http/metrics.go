package http

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	appStartedAtUnix = time.Now().Unix()
	inFlightRequests int64
	metricsMu        sync.Mutex
	httpSeries       = map[httpMetricKey]*httpMetricSeries{}
	backendSeries    = map[backendMetricKey]*backendMetricSeries{}
	draftSeries      = map[string]*draftMetricSeries{}
	streamEvents     = map[string]uint64{}
	downloadRuns     = map[string]uint64{}

	activeSessionsFn func() int
	streamStateFn    func() string
)

// SetMetricsProbes wires the gauges that are read at scrape time rather than
// recorded on events.
func SetMetricsProbes(activeSessions func() int, streamState func() string) {
	metricsMu.Lock()
	activeSessionsFn = activeSessions
	streamStateFn = streamState
	metricsMu.Unlock()
}

func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricsMu.Lock()
		keys := make([]httpMetricKey, 0, len(httpSeries))
		for k := range httpSeries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Method != keys[j].Method {
				return keys[i].Method < keys[j].Method
			}
			if keys[i].Path != keys[j].Path {
				return keys[i].Path < keys[j].Path
			}
			return keys[i].Status < keys[j].Status
		})
		snapshot := make([]struct {
			Key    httpMetricKey
			Series httpMetricSeries
		}, 0, len(keys))
		for _, k := range keys {
			snapshot = append(snapshot, struct {
				Key    httpMetricKey
				Series httpMetricSeries
			}{k, *httpSeries[k]})
		}

		beKeys := make([]backendMetricKey, 0, len(backendSeries))
		for k := range backendSeries {
			beKeys = append(beKeys, k)
		}
		sort.Slice(beKeys, func(i, j int) bool { return beKeys[i].Operation < beKeys[j].Operation })
		beSnapshot := make([]struct {
			Key    backendMetricKey
			Series backendMetricSeries
		}, 0, len(beKeys))
		for _, k := range beKeys {
			beSnapshot = append(beSnapshot, struct {
				Key    backendMetricKey
				Series backendMetricSeries
			}{k, *backendSeries[k]})
		}

		drKeys := make([]string, 0, len(draftSeries))
		for k := range draftSeries {
			drKeys = append(drKeys, k)
		}
		sort.Strings(drKeys)
		drSnapshot := make([]struct {
			Op     string
			Series draftMetricSeries
		}, 0, len(drKeys))
		for _, k := range drKeys {
			drSnapshot = append(drSnapshot, struct {
				Op     string
				Series draftMetricSeries
			}{k, *draftSeries[k]})
		}

		evKeys := make([]string, 0, len(streamEvents))
		for k := range streamEvents {
			evKeys = append(evKeys, k)
		}
		sort.Strings(evKeys)
		evCounts := make(map[string]uint64, len(streamEvents))
		for k, v := range streamEvents {
			evCounts[k] = v
		}

		runKeys := make([]string, 0, len(downloadRuns))
		for k := range downloadRuns {
			runKeys = append(runKeys, k)
		}
		sort.Strings(runKeys)
		runCounts := make(map[string]uint64, len(downloadRuns))
		for k, v := range downloadRuns {
			runCounts[k] = v
		}

		sessionsFn := activeSessionsFn
		stateFn := streamStateFn
		metricsMu.Unlock()

		_, _ = fmt.Fprintln(w, "# HELP report_panel_http_requests_total Total HTTP requests handled by this app.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_http_requests_total counter")
		for _, it := range snapshot {
			_, _ = fmt.Fprintf(w, "report_panel_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				escapeLabel(it.Key.Method), escapeLabel(it.Key.Path), escapeLabel(it.Key.Status), it.Series.Count)
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_http_request_duration_seconds_sum Total duration in seconds for observed requests.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_http_request_duration_seconds_sum counter")
		for _, it := range snapshot {
			_, _ = fmt.Fprintf(w, "report_panel_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %.9f\n",
				escapeLabel(it.Key.Method), escapeLabel(it.Key.Path), escapeLabel(it.Key.Status), it.Series.DurationSecondsSum)
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_http_request_duration_seconds_count Number of observed requests in duration series.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_http_request_duration_seconds_count counter")
		for _, it := range snapshot {
			_, _ = fmt.Fprintf(w, "report_panel_http_request_duration_seconds_count{method=%q,path=%q,status=%q} %d\n",
				escapeLabel(it.Key.Method), escapeLabel(it.Key.Path), escapeLabel(it.Key.Status), it.Series.Count)
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_http_in_flight_requests In-flight HTTP requests currently served by this app.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_http_in_flight_requests gauge")
		_, _ = fmt.Fprintf(w, "report_panel_http_in_flight_requests %d\n", atomic.LoadInt64(&inFlightRequests))

		_, _ = fmt.Fprintln(w, "# HELP report_panel_backend_call_duration_seconds_sum Backend call duration sum in seconds by operation.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_backend_call_duration_seconds_sum counter")
		for _, it := range beSnapshot {
			_, _ = fmt.Fprintf(w, "report_panel_backend_call_duration_seconds_sum{operation=%q} %.9f\n",
				escapeLabel(it.Key.Operation), it.Series.DurationSecondsSum)
		}
		_, _ = fmt.Fprintln(w, "# HELP report_panel_backend_call_duration_seconds_count Backend call observation count by operation.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_backend_call_duration_seconds_count counter")
		for _, it := range beSnapshot {
			_, _ = fmt.Fprintf(w, "report_panel_backend_call_duration_seconds_count{operation=%q} %d\n",
				escapeLabel(it.Key.Operation), it.Series.Count)
		}
		_, _ = fmt.Fprintln(w, "# HELP report_panel_backend_call_errors_total Backend call errors by operation.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_backend_call_errors_total counter")
		for _, it := range beSnapshot {
			_, _ = fmt.Fprintf(w, "report_panel_backend_call_errors_total{operation=%q} %d\n",
				escapeLabel(it.Key.Operation), it.Series.Errors)
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_draft_query_duration_seconds_sum Draft store query duration sum in seconds by operation.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_draft_query_duration_seconds_sum counter")
		for _, it := range drSnapshot {
			_, _ = fmt.Fprintf(w, "report_panel_draft_query_duration_seconds_sum{operation=%q} %.9f\n",
				escapeLabel(it.Op), it.Series.DurationSecondsSum)
		}
		_, _ = fmt.Fprintln(w, "# HELP report_panel_draft_query_errors_total Draft store query errors by operation.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_draft_query_errors_total counter")
		for _, it := range drSnapshot {
			_, _ = fmt.Fprintf(w, "report_panel_draft_query_errors_total{operation=%q} %d\n",
				escapeLabel(it.Op), it.Series.Errors)
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_stream_events_total Status stream events by kind.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_stream_events_total counter")
		for _, k := range evKeys {
			_, _ = fmt.Fprintf(w, "report_panel_stream_events_total{event=%q} %d\n", escapeLabel(k), evCounts[k])
		}

		_, _ = fmt.Fprintln(w, "# HELP report_panel_download_runs_total Download jobs reaching a terminal state by outcome.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_download_runs_total counter")
		for _, k := range runKeys {
			_, _ = fmt.Fprintf(w, "report_panel_download_runs_total{outcome=%q} %d\n", escapeLabel(k), runCounts[k])
		}

		if sessionsFn != nil {
			_, _ = fmt.Fprintln(w, "# HELP report_panel_active_sessions Download sessions currently tracked.")
			_, _ = fmt.Fprintln(w, "# TYPE report_panel_active_sessions gauge")
			_, _ = fmt.Fprintf(w, "report_panel_active_sessions %d\n", sessionsFn())
		}
		if stateFn != nil {
			_, _ = fmt.Fprintln(w, "# HELP report_panel_stream_connected Whether the status stream is open (1) or not (0).")
			_, _ = fmt.Fprintln(w, "# TYPE report_panel_stream_connected gauge")
			connected := 0
			if stateFn() == "open" {
				connected = 1
			}
			_, _ = fmt.Fprintf(w, "report_panel_stream_connected %d\n", connected)
		}

		uptime := time.Now().Unix() - appStartedAtUnix
		_, _ = fmt.Fprintln(w, "# HELP report_panel_uptime_seconds Process uptime in seconds.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_uptime_seconds gauge")
		_, _ = fmt.Fprintf(w, "report_panel_uptime_seconds %d\n", uptime)

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		_, _ = fmt.Fprintln(w, "# HELP report_panel_runtime_goroutines Number of goroutines.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_runtime_goroutines gauge")
		_, _ = fmt.Fprintf(w, "report_panel_runtime_goroutines %d\n", runtime.NumGoroutine())
		_, _ = fmt.Fprintln(w, "# HELP report_panel_runtime_memory_alloc_bytes Heap allocation bytes.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_runtime_memory_alloc_bytes gauge")
		_, _ = fmt.Fprintf(w, "report_panel_runtime_memory_alloc_bytes %d\n", ms.Alloc)
		_, _ = fmt.Fprintln(w, "# HELP report_panel_runtime_gc_total Total GC runs since process start.")
		_, _ = fmt.Fprintln(w, "# TYPE report_panel_runtime_gc_total counter")
		_, _ = fmt.Fprintf(w, "report_panel_runtime_gc_total %d\n", ms.NumGC)

		if cpuSec, ok := processCPUSeconds(); ok {
			_, _ = fmt.Fprintln(w, "# HELP report_panel_runtime_cpu_seconds_total Total CPU time consumed by this process in seconds.")
			_, _ = fmt.Fprintln(w, "# TYPE report_panel_runtime_cpu_seconds_total counter")
			_, _ = fmt.Fprintf(w, "report_panel_runtime_cpu_seconds_total %.6f\n", cpuSec)
		}
	})
}

func appMetricsSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type endpointRow struct {
			Method  string  `json:"method"`
			Path    string  `json:"path"`
			Status  string  `json:"status"`
			Count   uint64  `json:"count"`
			AvgMS   float64 `json:"avg_ms"`
			TotalMS float64 `json:"total_ms"`
		}
		type backendRow struct {
			Operation string  `json:"operation"`
			Count     uint64  `json:"count"`
			Errors    uint64  `json:"errors"`
			AvgMS     float64 `json:"avg_ms"`
		}

		metricsMu.Lock()
		httpRows := make([]endpointRow, 0, len(httpSeries))
		for k, s := range httpSeries {
			avg := 0.0
			if s.Count > 0 {
				avg = (s.DurationSecondsSum / float64(s.Count)) * 1000.0
			}
			httpRows = append(httpRows, endpointRow{
				Method:  k.Method,
				Path:    k.Path,
				Status:  k.Status,
				Count:   s.Count,
				AvgMS:   avg,
				TotalMS: s.DurationSecondsSum * 1000.0,
			})
		}

		backendRows := make([]backendRow, 0, len(backendSeries))
		backendErrors := uint64(0)
		for k, s := range backendSeries {
			avg := 0.0
			if s.Count > 0 {
				avg = (s.DurationSecondsSum / float64(s.Count)) * 1000.0
			}
			backendRows = append(backendRows, backendRow{
				Operation: k.Operation,
				Count:     s.Count,
				Errors:    s.Errors,
				AvgMS:     avg,
			})
			backendErrors += s.Errors
		}

		draftErrors := uint64(0)
		for _, s := range draftSeries {
			draftErrors += s.Errors
		}
		metricsMu.Unlock()

		sort.Slice(httpRows, func(i, j int) bool { return httpRows[i].AvgMS > httpRows[j].AvgMS })
		sort.Slice(backendRows, func(i, j int) bool { return backendRows[i].AvgMS > backendRows[j].AvgMS })

		topHTTP := httpRows
		if len(topHTTP) > 5 {
			topHTTP = topHTTP[:5]
		}
		topBackend := backendRows
		if len(topBackend) > 5 {
			topBackend = topBackend[:5]
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"generated_at": time.Now().UTC(),
			},
			"data": map[string]any{
				"top_http_slowest_avg_ms":    topHTTP,
				"top_backend_slowest_avg_ms": topBackend,
				"errors": map[string]any{
					"backend_call_total": backendErrors,
					"draft_query_total":  draftErrors,
				},
			},
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&inFlightRequests, 1)
		defer atomic.AddInt64(&inFlightRequests, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := normalizeMetricPath(r.URL.Path)
		sec := time.Since(start).Seconds()
		recordHTTPMetric(r.Method, route, rec.status, sec)
	})
}

func normalizeMetricPath(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/metrics":
		return "/metrics"
	case strings.HasPrefix(path, "/api/v1/configs/"):
		return "/api/v1/configs/{name}"
	case strings.HasPrefix(path, "/api/v1/schedules/"):
		return "/api/v1/schedules/{id}"
	case strings.HasPrefix(path, "/api/v1/download/sessions/") && strings.HasSuffix(path, "/toggle"):
		return "/api/v1/download/sessions/{id}/toggle"
	default:
		return path
	}
}

type httpMetricKey struct {
	Method string
	Path   string
	Status string
}

type httpMetricSeries struct {
	Count              uint64
	DurationSecondsSum float64
}

type backendMetricKey struct {
	Operation string
}

type backendMetricSeries struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

type draftMetricSeries struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

func recordHTTPMetric(method, path string, status int, durationSeconds float64) {
	key := httpMetricKey{
		Method: method,
		Path:   path,
		Status: fmt.Sprintf("%d", status),
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := httpSeries[key]
	if !ok {
		row = &httpMetricSeries{}
		httpSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

func recordBackendCall(operation string, durationSeconds float64, err error) {
	if operation == "" {
		return
	}
	key := backendMetricKey{Operation: operation}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := backendSeries[key]
	if !ok {
		row = &backendMetricSeries{}
		backendSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

func recordDraftQuery(operation string, durationSeconds float64, err error) {
	if operation == "" {
		return
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := draftSeries[operation]
	if !ok {
		row = &draftMetricSeries{}
		draftSeries[operation] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

func recordStreamEvent(event string) {
	if event == "" {
		return
	}
	metricsMu.Lock()
	streamEvents[event]++
	metricsMu.Unlock()
}

func recordDownloadRun(outcome string) {
	outcome = strings.TrimSpace(strings.ToLower(outcome))
	if outcome == "" {
		outcome = "unknown"
	}
	metricsMu.Lock()
	downloadRuns[outcome]++
	metricsMu.Unlock()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func processCPUSeconds() (float64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	user := float64(ru.Utime.Sec) + (float64(ru.Utime.Usec) / 1_000_000.0)
	sys := float64(ru.Stime.Sec) + (float64(ru.Stime.Usec) / 1_000_000.0)
	return user + sys, true
}
