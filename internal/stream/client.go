// Package stream consumes the backend's status event stream. The panel holds at
// most one live stream connection; messages are classified (terminal, job error,
// progress) and handed to a single consumer via the Handler callbacks, which all run
// on one goroutine.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("stream")

// State is the connection lifecycle state.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// Terminal and job-error signals on the wire. The stream does not tag events with a
// session id; attribution is the opener's problem (see Handler).
const (
	finishedSignal = "FINISHED"
	errorPrefix    = "ERROR:"
)

// Handler receives classified stream events. The sessionID is the session that
// opened the stream: terminal signals carry no id of their own, so they are
// attributed to the most recent opener, exactly as the protocol allows.
type Handler interface {
	StreamOpened(sessionID, connID string)
	StreamMessage(sessionID, line string)
	StreamFinished(sessionID string)
	StreamJobError(sessionID, message string)
	StreamTransportError(sessionID string, err error)
	StreamStale(sessionID string, idle time.Duration)
}

// Options configures a Client.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration // fixed backoff after transport errors, unbounded retries
	WatchdogInterval time.Duration
	KeepAliveTimeout time.Duration
	HTTPClient       *http.Client // no global timeout: the stream is long-lived
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	if out.WatchdogInterval <= 0 {
		out.WatchdogInterval = 30 * time.Second
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = time.Hour
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{}
	}
	return out
}

// Client owns the single status stream connection.
type Client struct {
	opts    Options
	handler Handler

	mu           sync.Mutex
	state        State
	cancel       context.CancelFunc
	done         chan struct{}
	lastActivity time.Time
}

func NewClient(opts Options, handler Handler) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		handler: handler,
		state:   StateClosed,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts consuming the stream on behalf of sessionID. Any previous connection
// is closed first: there is never more than one live stream.
func (c *Client) Open(sessionID string) {
	c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.state = StateConnecting
	c.mu.Unlock()

	go c.run(ctx, sessionID, done)
}

// Close tears down the live connection, if any, and waits for its consumer loop to
// exit. Closing an already-closed client is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idle() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// run is the connect/consume/reconnect loop. It exits on FINISHED, on context
// cancellation, and on nothing else: transport errors and staleness both lead back
// to a fresh connection (fixed delay for the former, immediate for the latter).
func (c *Client) run(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	for {
		c.setState(StateConnecting)
		connID := uuid.NewString()

		resp, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return
			}
			log.Warningf("stream connect failed conn=%s: %v", connID, err)
			c.handler.StreamTransportError(sessionID, err)
			c.setState(StateReconnecting)
			if !sleepCtx(ctx, c.opts.ReconnectDelay) {
				c.setState(StateClosed)
				return
			}
			continue
		}

		c.touch()
		c.setState(StateOpen)
		log.Infof("stream connected conn=%s session=%s", connID, sessionID)
		c.handler.StreamOpened(sessionID, connID)

		events := make(chan string)
		readErr := make(chan error, 1)
		go readEvents(resp.Body, events, readErr)

		watchdog := time.NewTicker(c.opts.WatchdogInterval)

		finished := false
		stale := false
		var transportErr error

	consume:
		for {
			select {
			case <-ctx.Done():
				watchdog.Stop()
				resp.Body.Close()
				drain(events)
				c.setState(StateClosed)
				return

			case line, ok := <-events:
				if !ok {
					transportErr = <-readErr
					if transportErr == nil {
						transportErr = fmt.Errorf("stream closed by backend")
					}
					break consume
				}
				c.touch()
				switch {
				case line == finishedSignal:
					finished = true
					break consume
				case strings.HasPrefix(line, errorPrefix):
					c.handler.StreamJobError(sessionID, line)
				default:
					c.handler.StreamMessage(sessionID, line)
				}

			case <-watchdog.C:
				if idle := c.idle(); idle > c.opts.KeepAliveTimeout {
					log.Warningf("stream stale conn=%s idle=%s, forcing reconnect", connID, idle)
					c.handler.StreamStale(sessionID, idle)
					stale = true
					break consume
				}
			}
		}

		watchdog.Stop()
		resp.Body.Close()
		drain(events)

		if finished {
			c.handler.StreamFinished(sessionID)
			c.setState(StateClosed)
			return
		}
		if stale {
			// Silent disconnect: reopen immediately, no backoff.
			continue
		}

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		log.Warningf("stream transport error conn=%s: %v", connID, transportErr)
		c.handler.StreamTransportError(sessionID, transportErr)
		c.setState(StateReconnecting)
		if !sleepCtx(ctx, c.opts.ReconnectDelay) {
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Client) connect(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint status=%d", resp.StatusCode)
	}
	return resp, nil
}

// readEvents parses the text/event-stream wire format: data lines accumulate and a
// blank line dispatches the event. Comments and non-data fields are skipped. The
// channel is closed when the body ends, with the cause left on errs.
func readEvents(body io.Reader, events chan<- string, errs chan<- error) {
	defer close(events)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				events <- strings.Join(data, "\n")
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
	}
	if len(data) > 0 {
		events <- strings.Join(data, "\n")
	}
	errs <- scanner.Err()
}

func drain(events <-chan string) {
	for range events {
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
