// Package session tracks in-flight download jobs from the panel's point of view.
// A session exists from the moment the backend acknowledges a start request until a
// terminal stream signal (or an error path) removes it.
package session

import (
	"fmt"
	"sync"
	"time"

	"go-report-download-panel/internal/backend"
)

// Session is one active download job.
type Session struct {
	ID        string
	StartedAt time.Time
	Reports   []backend.ReportSpec
	Expanded  bool
}

// SummaryRow is the rendered header line for one session.
type SummaryRow struct {
	ID        string               `json:"id"`
	StartedAt time.Time            `json:"started_at"`
	Elapsed   string               `json:"elapsed"`
	Expanded  bool                 `json:"expanded"`
	Reports   []backend.ReportSpec `json:"reports"`
}

// RenderFunc receives the rendered rows on every re-render. A nil slice means the
// registry is empty and the "No active downloads." placeholder applies.
type RenderFunc func(rows []SummaryRow)

// Registry is the in-memory collection of active sessions. While at least one
// session exists, a repeating tick re-renders so elapsed times stay live; the tick
// stops when the collection empties.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session

	tickInterval time.Duration
	render       RenderFunc
	stopTick     chan struct{}

	now func() time.Time
}

func NewRegistry(tickInterval time.Duration, render RenderFunc) *Registry {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if render == nil {
		render = func([]SummaryRow) {}
	}
	return &Registry{
		tickInterval: tickInterval,
		render:       render,
		now:          time.Now,
	}
}

// Add appends a new session with the detail row collapsed. The caller guarantees id
// uniqueness (millisecond submission timestamps); no dedup happens here. The first
// session starts the re-render tick.
func (r *Registry) Add(id string, startedAt time.Time, reports []backend.ReportSpec) {
	copied := make([]backend.ReportSpec, len(reports))
	copy(copied, reports)

	r.mu.Lock()
	r.sessions = append(r.sessions, &Session{
		ID:        id,
		StartedAt: startedAt,
		Reports:   copied,
	})
	startTick := r.stopTick == nil
	if startTick {
		r.stopTick = make(chan struct{})
		go r.tickLoop(r.stopTick)
	}
	rows := r.renderLocked()
	r.mu.Unlock()

	r.render(rows)
}

// Remove filters a session out. Removing an unknown id is a no-op. When the last
// session goes, the re-render tick stops.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	r.sessions = kept
	if len(r.sessions) == 0 && r.stopTick != nil {
		close(r.stopTick)
		r.stopTick = nil
	}
	rows := r.renderLocked()
	r.mu.Unlock()

	r.render(rows)
}

// ToggleExpanded flips one session's detail-row flag and re-renders. The flag is
// panel-local UI state only.
func (r *Registry) ToggleExpanded(id string) (expanded, found bool) {
	r.mu.Lock()
	for _, s := range r.sessions {
		if s.ID == id {
			s.Expanded = !s.Expanded
			expanded = s.Expanded
			found = true
			break
		}
	}
	rows := r.renderLocked()
	r.mu.Unlock()

	r.render(rows)
	return expanded, found
}

// Render returns the current rows without waiting for the next tick.
func (r *Registry) Render() []SummaryRow {
	r.mu.Lock()
	rows := r.renderLocked()
	r.mu.Unlock()
	return rows
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the re-render tick regardless of registry contents.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopTick != nil {
		close(r.stopTick)
		r.stopTick = nil
	}
}

func (r *Registry) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			rows := r.renderLocked()
			r.mu.Unlock()
			r.render(rows)
		}
	}
}

func (r *Registry) renderLocked() []SummaryRow {
	if len(r.sessions) == 0 {
		return nil
	}
	now := r.now()
	rows := make([]SummaryRow, 0, len(r.sessions))
	for _, s := range r.sessions {
		rows = append(rows, SummaryRow{
			ID:        s.ID,
			StartedAt: s.StartedAt,
			Elapsed:   FormatElapsed(now.Sub(s.StartedAt)),
			Expanded:  s.Expanded,
			Reports:   s.Reports,
		})
	}
	return rows
}

// FormatElapsed renders a duration as HH:MM:SS. Hours are not capped at 24.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
