// Package download orchestrates the start-download flow: validate the form
// snapshot, submit it, register the session and attach the status stream.
package download

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"

	"go-report-download-panel/internal/backend"
	"go-report-download-panel/internal/session"
	"go-report-download-panel/internal/statuslog"
	"go-report-download-panel/internal/stream"
)

var log = logging.MustGetLogger("download")

// ValidationError reports every violated rule of a form snapshot, not just the
// first. It never reaches the network layer.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

// RejectedError is a backend reply that did not accept the job.
type RejectedError struct {
	Status  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("download not started (status %q)", e.Status)
}

// ErrBusy rejects a submit while a previous one is still in flight.
var ErrBusy = fmt.Errorf("a download is already in progress")

// DraftStore is the slice of the form-draft store the controller needs: the draft
// is discarded exactly once, when a download is actually submitted.
type DraftStore interface {
	Clear(ctx context.Context) error
}

// StreamClient is the status stream owned by the controller.
type StreamClient interface {
	Open(sessionID string)
	Close()
	State() stream.State
}

// Controller drives one start-download request end to end and reacts to the stream
// events that follow. It implements stream.Handler.
type Controller struct {
	backend  *backend.Client
	sessions *session.Registry
	status   *statuslog.Log
	drafts   DraftStore

	defaultChunkSize string

	mu      sync.Mutex
	busy    bool
	stream  StreamClient
	options *backend.ReportOptions

	historySeq atomic.Int64
}

func NewController(bc *backend.Client, reg *session.Registry, status *statuslog.Log, drafts DraftStore, defaultChunkSize string) *Controller {
	if defaultChunkSize == "" {
		defaultChunkSize = "5"
	}
	return &Controller{
		backend:          bc,
		sessions:         reg,
		status:           status,
		drafts:           drafts,
		defaultChunkSize: defaultChunkSize,
	}
}

// SetStream wires the status stream client. Split from the constructor because the
// stream's handler is (a wrapper around) this controller.
func (c *Controller) SetStream(s StreamClient) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

// Busy reports whether a submitted download is still holding the form.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// StreamState returns the stream connection state, Closed when no stream is wired.
func (c *Controller) StreamState() stream.State {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return stream.StateClosed
	}
	return s.State()
}

// HistorySeq increments whenever a job reaches a terminal state; the history panel
// refetches when it observes a change.
func (c *Controller) HistorySeq() int64 {
	return c.historySeq.Load()
}

// Options returns the cached reports/regions metadata, nil before the first fetch.
func (c *Controller) Options() *backend.ReportOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// RefreshOptions fetches the reports/regions metadata and caches it for region
// validation and the form dropdowns.
func (c *Controller) RefreshOptions(ctx context.Context) (*backend.ReportOptions, error) {
	opts, err := c.backend.GetReportsRegions(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()
	return opts, nil
}

// Normalize drops incomplete rows the way the form gatherer does (a row without a
// report type is not a row) and applies the chunk-size default.
func (c *Controller) Normalize(snap backend.FormSnapshot) backend.FormSnapshot {
	rows := make([]backend.ReportSpec, 0, len(snap.Reports))
	for _, r := range snap.Reports {
		if strings.TrimSpace(r.ReportType) == "" {
			continue
		}
		r.ChunkSize = strings.TrimSpace(r.ChunkSize)
		if r.ChunkSize == "" {
			r.ChunkSize = c.defaultChunkSize
		}
		rows = append(rows, r)
	}
	snap.Reports = rows
	if snap.Regions == nil {
		snap.Regions = []string{}
	}
	return snap
}

// Validate checks a normalized snapshot and accumulates every violation.
func (c *Controller) Validate(snap backend.FormSnapshot) *ValidationError {
	var issues []string
	if strings.TrimSpace(snap.Email) == "" {
		issues = append(issues, "Email is required.")
	}
	if snap.Password == "" {
		issues = append(issues, "Password is required.")
	}
	if len(snap.Reports) == 0 {
		issues = append(issues, "Please configure at least one valid report.")
	}
	for i, r := range snap.Reports {
		if strings.TrimSpace(r.FromDate) == "" {
			issues = append(issues, fmt.Sprintf("From date is missing for row %d.", i+1))
		}
		if strings.TrimSpace(r.ToDate) == "" {
			issues = append(issues, fmt.Sprintf("To date is missing for row %d.", i+1))
		}
	}
	if opts := c.Options(); opts != nil && len(snap.Reports) > 0 {
		types := make([]string, 0, len(snap.Reports))
		for _, r := range snap.Reports {
			types = append(types, r.ReportType)
		}
		if opts.RequiresRegion(types) && len(snap.Regions) == 0 {
			issues = append(issues, "Selected report(s) require region selection.")
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Submit runs the whole flow: validate, hold the form, POST, register the session
// and open the stream. It returns the new session id on acceptance.
func (c *Controller) Submit(ctx context.Context, snap backend.FormSnapshot) (string, error) {
	snap = c.Normalize(snap)
	if verr := c.Validate(snap); verr != nil {
		return "", verr
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.busy = true
	s := c.stream
	c.mu.Unlock()

	c.status.Clear()
	c.status.Append(statuslog.LevelInfo, "Initiating download request...")

	// The submitted form is no longer a draft.
	if c.drafts != nil {
		if err := c.drafts.Clear(ctx); err != nil {
			log.Warningf("failed to clear form draft: %v", err)
		}
	}

	sessionID := strconv.FormatInt(time.Now().UnixMilli(), 10)

	reply, err := c.backend.StartDownload(ctx, snap)
	if err != nil {
		c.fail(sessionID, fmt.Sprintf("Network or Server Error: %v", err))
		return "", fmt.Errorf("start download: %w", err)
	}
	if !reply.Started() {
		msg := reply.Message
		if msg == "" {
			msg = fmt.Sprintf("Failed to start download (status %q).", reply.Status)
		}
		c.fail(sessionID, msg)
		return "", &RejectedError{Status: reply.Status, Message: msg}
	}

	c.sessions.Add(sessionID, time.Now(), snap.Reports)
	c.status.Append(statuslog.LevelInfo, "Request accepted. Waiting for status updates...")

	if s != nil {
		s.Open(sessionID)
	}
	return sessionID, nil
}

// fail releases the form and surfaces the failure; any session registered for this
// attempt is removed.
func (c *Controller) fail(sessionID, msg string) {
	c.sessions.Remove(sessionID)
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.status.Append(statuslog.LevelError, msg)
	log.Errorf("download submit failed: %s", msg)
}

// --- stream.Handler ---

func (c *Controller) StreamOpened(sessionID, connID string) {
	c.status.Append(statuslog.LevelInfo, "Connected to status stream.")
}

func (c *Controller) StreamMessage(sessionID, line string) {
	c.status.Append(statuslog.LevelLog, line)
}

func (c *Controller) StreamFinished(sessionID string) {
	c.status.Append(statuslog.LevelSuccess, "--- PROCESS COMPLETED ---")
	c.sessions.Remove(sessionID)
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.historySeq.Add(1)
	log.Infof("download finished session=%s", sessionID)
}

func (c *Controller) StreamJobError(sessionID, message string) {
	// Job-level failure: the session is gone but the stream stays open for the
	// remaining progress lines.
	c.status.Append(statuslog.LevelError, message)
	c.sessions.Remove(sessionID)
	c.historySeq.Add(1)
	log.Warningf("download job error session=%s: %s", sessionID, message)
}

func (c *Controller) StreamTransportError(sessionID string, err error) {
	c.status.Append(statuslog.LevelError, "Status stream connection error. Attempting to reconnect...")
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	log.Warningf("stream transport error session=%s: %v", sessionID, err)
}

func (c *Controller) StreamStale(sessionID string, idle time.Duration) {
	// Recovered automatically by reconnect; invisible to the user.
	log.Warningf("stream stale session=%s idle=%s", sessionID, idle)
}
