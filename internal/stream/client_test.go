package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Kind    string
	Payload string
}

// recordingHandler collects classified events and signals terminal ones.
type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
	done   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{}, 4)}
}

func (h *recordingHandler) record(kind, payload string) {
	h.mu.Lock()
	h.events = append(h.events, recordedEvent{Kind: kind, Payload: payload})
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]recordedEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) kinds() []string {
	var out []string
	for _, e := range h.snapshot() {
		out = append(out, e.Kind)
	}
	return out
}

func (h *recordingHandler) StreamOpened(sessionID, connID string)    { h.record("opened", connID) }
func (h *recordingHandler) StreamMessage(sessionID, line string)     { h.record("message", line) }
func (h *recordingHandler) StreamJobError(sessionID, message string) { h.record("job_error", message) }
func (h *recordingHandler) StreamStale(sessionID string, idle time.Duration) {
	h.record("stale", idle.String())
}

func (h *recordingHandler) StreamFinished(sessionID string) {
	h.record("finished", "")
	h.done <- struct{}{}
}

func (h *recordingHandler) StreamTransportError(sessionID string, err error) {
	h.record("transport_error", err.Error())
}

func (h *recordingHandler) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal stream event")
	}
}

func sseServer(t *testing.T, script func(conn int, w http.ResponseWriter, flush func())) *httptest.Server {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		script(int(n), w, flusher.Flush)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func send(w http.ResponseWriter, flush func(), data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	flush()
}

func TestClientFinishedClosesStream(t *testing.T) {
	srv := sseServer(t, func(_ int, w http.ResponseWriter, flush func()) {
		send(w, flush, "Logging in...")
		send(w, flush, "Downloading report 1 of 2")
		send(w, flush, "FINISHED")
	})

	h := newRecordingHandler()
	c := NewClient(Options{URL: srv.URL}, h)
	c.Open("1700000000000")
	h.waitFinished(t)
	c.Close()

	assert.Equal(t, []string{"opened", "message", "message", "finished"}, h.kinds())
	assert.Equal(t, StateClosed, c.State())

	events := h.snapshot()
	assert.Equal(t, "Logging in...", events[1].Payload)
}

func TestClientJobErrorKeepsStreamOpen(t *testing.T) {
	srv := sseServer(t, func(_ int, w http.ResponseWriter, flush func()) {
		send(w, flush, "ERROR: disk full")
		send(w, flush, "cleaning up temp files")
		send(w, flush, "FINISHED")
	})

	h := newRecordingHandler()
	c := NewClient(Options{URL: srv.URL}, h)
	c.Open("1700000000001")
	h.waitFinished(t)
	c.Close()

	// The job error does not tear the connection down: the plain line after it
	// arrives on the same connection.
	assert.Equal(t, []string{"opened", "job_error", "message", "finished"}, h.kinds())
	assert.Equal(t, "ERROR: disk full", h.snapshot()[1].Payload)
}

func TestClientReconnectsAfterTransportError(t *testing.T) {
	srv := sseServer(t, func(conn int, w http.ResponseWriter, flush func()) {
		if conn == 1 {
			send(w, flush, "halfway there")
			return // drop the connection mid-job
		}
		send(w, flush, "FINISHED")
	})

	h := newRecordingHandler()
	c := NewClient(Options{URL: srv.URL, ReconnectDelay: 20 * time.Millisecond}, h)
	c.Open("1700000000002")
	h.waitFinished(t)
	c.Close()

	assert.Equal(t, []string{"opened", "message", "transport_error", "opened", "finished"}, h.kinds())

	// Each connection attempt carries its own id.
	events := h.snapshot()
	assert.NotEqual(t, events[0].Payload, events[3].Payload)
}

func TestClientRetriesWhileBackendDown(t *testing.T) {
	srv := sseServer(t, func(conn int, w http.ResponseWriter, flush func()) {
		if conn < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		send(w, flush, "FINISHED")
	})

	h := newRecordingHandler()
	c := NewClient(Options{URL: srv.URL, ReconnectDelay: 10 * time.Millisecond}, h)
	c.Open("1700000000003")
	h.waitFinished(t)
	c.Close()

	assert.Equal(t, []string{"transport_error", "transport_error", "opened", "finished"}, h.kinds())
}

func TestClientWatchdogForcesReconnect(t *testing.T) {
	block := make(chan struct{})
	srv := sseServer(t, func(conn int, w http.ResponseWriter, flush func()) {
		if conn == 1 {
			send(w, flush, "working")
			<-block // go quiet without closing
			return
		}
		send(w, flush, "FINISHED")
	})
	defer close(block)

	h := newRecordingHandler()
	c := NewClient(Options{
		URL:              srv.URL,
		WatchdogInterval: 20 * time.Millisecond,
		KeepAliveTimeout: 50 * time.Millisecond,
	}, h)
	c.Open("1700000000004")
	h.waitFinished(t)
	c.Close()

	kinds := h.kinds()
	assert.Contains(t, kinds, "stale")
	// Staleness reconnects without a transport error in between.
	assert.NotContains(t, kinds, "transport_error")
	assert.Equal(t, "finished", kinds[len(kinds)-1])
}

func TestClientOpenReplacesPreviousConnection(t *testing.T) {
	block := make(chan struct{})
	srv := sseServer(t, func(conn int, w http.ResponseWriter, flush func()) {
		if conn == 1 {
			send(w, flush, "first stream")
			<-block
			return
		}
		send(w, flush, "FINISHED")
	})
	defer close(block)

	h := newRecordingHandler()
	c := NewClient(Options{URL: srv.URL}, h)
	c.Open("100")
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)

	c.Open("200")
	h.waitFinished(t)
	c.Close()
	assert.Equal(t, StateClosed, c.State())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	h := newRecordingHandler()
	c := NewClient(Options{URL: "http://127.0.0.1:0"}, h)
	c.Close()
	c.Close()
	assert.Equal(t, StateClosed, c.State())
}

func TestReadEventsParsesWireFormat(t *testing.T) {
	input := ": keep-alive comment\n" +
		"data: first line\n\n" +
		"data:no space\n\n" +
		"data: part one\n" +
		"data: part two\n\n" +
		"event: ignored\n" +
		"data: tail"

	events := make(chan string, 8)
	errs := make(chan error, 1)
	readEvents(strings.NewReader(input), events, errs)

	var got []string
	for e := range events {
		got = append(got, e)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"first line", "no space", "part one\npart two", "tail"}, got)
}
