package engine

import (
	"context"
	"maps"
	"sort"
	"time"
)

type (
	// Session is the engine-side state of a conversation.
	Session struct {
		ID           string         `json:"id"`
		CreatedAt    time.Time      `json:"createdAt"`
		LastActivity time.Time      `json:"lastActivity"`
		Metadata     map[string]any `json:"metadata"`
		Stats        SessionStats   `json:"stats"`
	}

	// SessionStats tracks per-session usage.
	SessionStats struct {
		MessageCount        int            `json:"messageCount"`
		ToolUsage           map[string]int `json:"toolUsage"`
		AverageResponseTime time.Duration  `json:"averageResponseTime"`
		ErrorCount          int            `json:"errorCount"`
	}

	// Metrics is a snapshot of engine activity.
	Metrics struct {
		TotalSessions       int            `json:"totalSessions"`
		ActiveSessions      int            `json:"activeSessions"`
		TotalMessages       int            `json:"totalMessages"`
		AverageResponseTime time.Duration  `json:"averageResponseTime"`
		ToolUsage           map[string]int `json:"toolUsage"`
		ErrorRate           float64        `json:"errorRate"`
		MemoryUsage         int            `json:"memoryUsage"`
	}
)

// Start sweeps idle sessions every SweepInterval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(e.now()); n > 0 {
				e.logger.Info(ctx, "swept idle sessions", "count", n)
			}
		}
	}
}

// Sweep deletes the sessions idle for longer than SessionTimeout at now and
// returns how many were removed.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, s := range e.sessions {
		if now.Sub(s.LastActivity) > e.sessionTimeout {
			delete(e.sessions, id)
			removed++
		}
	}
	return removed
}

// Session returns a copy of the session with the given id.
func (e *Engine) Session(id string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Sessions returns copies of every session ordered by creation time.
func (e *Engine) Sessions() []Session {
	e.mu.Lock()
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.clone())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ClearSession deletes the session and reports whether it existed.
func (e *Engine) ClearSession(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; !ok {
		return false
	}
	delete(e.sessions, id)
	return true
}

// ActiveSessions counts the sessions active within SessionTimeout.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked(e.now())
}

// Metrics returns a snapshot of engine activity. ErrorRate is the share of
// failed turns among all completed turns.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{
		TotalSessions:  len(e.sessions),
		ActiveSessions: e.activeLocked(e.now()),
		TotalMessages:  e.counters.messages,
		ToolUsage:      maps.Clone(e.counters.toolUsage),
		MemoryUsage:    len(e.sessions),
	}
	if e.counters.messages > 0 {
		m.AverageResponseTime = e.counters.responseTime / time.Duration(e.counters.messages)
	}
	if total := e.counters.messages + e.counters.errors; total > 0 {
		m.ErrorRate = float64(e.counters.errors) / float64(total)
	}
	return m
}

func (e *Engine) activeLocked(now time.Time) int {
	n := 0
	for _, s := range e.sessions {
		if now.Sub(s.LastActivity) < e.sessionTimeout {
			n++
		}
	}
	return n
}

// touch creates or updates the session for a new turn and returns a copy of
// its metadata.
func (e *Engine) touch(id string, ctx map[string]any, now time.Time) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		s = &Session{
			ID:        id,
			CreatedAt: now,
			Metadata:  make(map[string]any),
			Stats:     SessionStats{ToolUsage: make(map[string]int)},
		}
		e.sessions[id] = s
	}
	s.LastActivity = now
	s.Stats.MessageCount++
	maps.Copy(s.Metadata, ctx)
	return maps.Clone(s.Metadata)
}

func (e *Engine) recordSuccess(id string, elapsed time.Duration, used []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.messages++
	e.counters.responseTime += elapsed
	for _, name := range used {
		e.counters.toolUsage[name]++
	}
	s, ok := e.sessions[id]
	if !ok {
		return
	}
	for _, name := range used {
		s.Stats.ToolUsage[name]++
	}
	n := time.Duration(max(s.Stats.MessageCount, 1))
	s.Stats.AverageResponseTime = (s.Stats.AverageResponseTime*(n-1) + elapsed) / n
}

func (e *Engine) recordError(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.errors++
	if s, ok := e.sessions[id]; ok {
		s.Stats.ErrorCount++
	}
}

func (s *Session) clone() Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	c.Stats.ToolUsage = maps.Clone(s.Stats.ToolUsage)
	return c
}
