package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the report backend over its HTTP API. The backend is opaque: the
// panel never reaches past this surface (no direct database or filesystem access).
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Endpoint returns the configured backend base URL.
func (c *Client) Endpoint() string {
	if c == nil {
		return ""
	}
	return c.endpoint
}

// StreamURL is the address of the backend's status event stream.
func (c *Client) StreamURL() string {
	return c.endpoint + "/stream-status"
}

// StartDownload submits a download job. A non-2xx reply is not an error at this
// level: the backend encodes rejection in the {status, message} envelope and the
// caller decides how to surface it.
func (c *Client) StartDownload(ctx context.Context, snap FormSnapshot) (StatusReply, error) {
	var reply StatusReply
	err := c.doJSON(ctx, http.MethodPost, "/start-download", snap, &reply)
	return reply, err
}

// GetReportsRegions fetches the report/region metadata driving the download form.
func (c *Client) GetReportsRegions(ctx context.Context) (*ReportOptions, error) {
	var out ReportOptions
	if err := c.getJSON(ctx, "/get-reports-regions", &out); err != nil {
		return nil, err
	}
	if len(out.Reports) == 0 {
		return nil, fmt.Errorf("no reports found in backend response")
	}
	return &out, nil
}

// GetConfigs lists saved configuration names.
func (c *Client) GetConfigs(ctx context.Context) ([]string, error) {
	var raw struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Configs []string `json:"configs"`
	}
	if err := c.getJSON(ctx, "/get-configs", &raw); err != nil {
		return nil, err
	}
	if raw.Status != "success" {
		return nil, replyError("get-configs", raw.Status, raw.Message)
	}
	if raw.Configs == nil {
		raw.Configs = []string{}
	}
	return raw.Configs, nil
}

// LoadConfig fetches one named configuration.
func (c *Client) LoadConfig(ctx context.Context, name string) (*FormSnapshot, error) {
	var raw struct {
		Status     string        `json:"status"`
		Message    string        `json:"message"`
		ConfigData *FormSnapshot `json:"config_data"`
	}
	if err := c.getJSON(ctx, "/load-config/"+url.PathEscape(name), &raw); err != nil {
		return nil, err
	}
	if raw.Status != "success" || raw.ConfigData == nil {
		return nil, replyError("load-config", raw.Status, raw.Message)
	}
	return raw.ConfigData, nil
}

// SaveConfig persists a named configuration.
func (c *Client) SaveConfig(ctx context.Context, name string, snap FormSnapshot) (StatusReply, error) {
	body := map[string]any{
		"config_name": name,
		"config_data": snap,
	}
	var reply StatusReply
	err := c.doJSON(ctx, http.MethodPost, "/save-config", body, &reply)
	return reply, err
}

// DeleteConfig removes a named configuration.
func (c *Client) DeleteConfig(ctx context.Context, name string) (StatusReply, error) {
	var reply StatusReply
	err := c.doJSON(ctx, http.MethodDelete, "/delete-config/"+url.PathEscape(name), nil, &reply)
	return reply, err
}

// GetSchedules lists pending scheduled jobs.
func (c *Client) GetSchedules(ctx context.Context) ([]Schedule, error) {
	var raw struct {
		Status    string     `json:"status"`
		Message   string     `json:"message"`
		Schedules []Schedule `json:"schedules"`
	}
	if err := c.getJSON(ctx, "/get-schedules", &raw); err != nil {
		return nil, err
	}
	if raw.Status != "success" {
		return nil, replyError("get-schedules", raw.Status, raw.Message)
	}
	if raw.Schedules == nil {
		raw.Schedules = []Schedule{}
	}
	return raw.Schedules, nil
}

// ScheduleJob creates a one-shot scheduled download of a saved configuration.
func (c *Client) ScheduleJob(ctx context.Context, req ScheduleRequest) (StatusReply, error) {
	var reply StatusReply
	err := c.doJSON(ctx, http.MethodPost, "/schedule-job", req, &reply)
	return reply, err
}

// CancelSchedule removes a scheduled job by id.
func (c *Client) CancelSchedule(ctx context.Context, jobID string) (StatusReply, error) {
	var reply StatusReply
	err := c.doJSON(ctx, http.MethodDelete, "/cancel-schedule/"+url.PathEscape(jobID), nil, &reply)
	return reply, err
}

// GetLogs fetches the download history. A "warning" status (log file missing yet)
// yields an empty slice, matching the backend's contract.
func (c *Client) GetLogs(ctx context.Context) ([]LogEntry, error) {
	var raw struct {
		Status  string     `json:"status"`
		Message string     `json:"message"`
		Logs    []LogEntry `json:"logs"`
	}
	if err := c.getJSON(ctx, "/get-logs", &raw); err != nil {
		return nil, err
	}
	switch raw.Status {
	case "success", "warning":
		if raw.Logs == nil {
			raw.Logs = []LogEntry{}
		}
		return raw.Logs, nil
	default:
		return nil, replyError("get-logs", raw.Status, raw.Message)
	}
}

// Ping probes backend reachability via the metadata endpoint.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.GetReportsRegions(ctx)
	return time.Since(start), err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// doJSON issues one request and decodes the JSON reply. Backend rejections arrive
// with non-2xx codes but a well-formed {status, message} body, so a decodable body
// wins over the status code; an undecodable non-2xx reply becomes a transport error.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if !c.Enabled() {
		return fmt.Errorf("backend endpoint not configured")
	}

	u, err := url.Parse(c.endpoint + path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		blob, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(blob, out); err != nil {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("backend status=%d body=%s", resp.StatusCode, excerpt(blob))
			}
			return fmt.Errorf("backend returned unparseable response: %w", err)
		}
	}
	return nil
}

func replyError(op, status, message string) error {
	if message == "" {
		message = fmt.Sprintf("unexpected status %q", status)
	}
	return fmt.Errorf("%s: %s", op, message)
}

func excerpt(blob []byte) string {
	s := strings.TrimSpace(string(blob))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
