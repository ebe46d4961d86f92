// Package audit provides an append-only, size-bounded ledger of plugin
// lifecycle, execution, resource-access, and permission events, with
// aggregate statistics and export.
package audit

import (
	"sync"
	"time"
)

// EventType classifies an audit entry.
type EventType string

// Audit event types.
const (
	EventLoaded           EventType = "loaded"
	EventUnloaded         EventType = "unloaded"
	EventEnabled          EventType = "enabled"
	EventDisabled         EventType = "disabled"
	EventActionStarted    EventType = "action_started"
	EventActionCompleted  EventType = "action_completed"
	EventActionFailed     EventType = "action_failed"
	EventResourceAccessed EventType = "resource_accessed"
	EventResourceDenied   EventType = "resource_denied"
	EventPermissionDenied EventType = "permission_denied"
	EventConsentRequested EventType = "consent_requested"
	EventConsentResolved  EventType = "consent_resolved"
	EventInstalled        EventType = "installed"
)

// Entry is one immutable audit record.
type Entry struct {
	Time        time.Time     `json:"time"`
	PluginID    string        `json:"plugin_id"`
	Type        EventType     `json:"type"`
	ActionID    string        `json:"action_id,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Resource    string        `json:"resource,omitempty"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration,omitempty"`
	Details     string        `json:"details,omitempty"`
}

// DefaultMaxEntries bounds the log when no capacity is configured.
const DefaultMaxEntries = 10_000

// Log is a bounded, append-only event ledger. When an append would exceed
// capacity, the oldest tenth of the capacity is dropped in one batch so
// trims stay infrequent.
type Log struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLog creates a log bounded to maxEntries. Non-positive values fall back
// to DefaultMaxEntries.
func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		entries:    make([]Entry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Record appends an entry, stamping the time if unset.
func (l *Log) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxEntries {
		batch := l.maxEntries / 10
		if batch < 1 {
			batch = 1
		}
		l.entries = append(l.entries[:0], l.entries[batch:]...)
	}
	l.entries = append(l.entries, e)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// MaxEntries returns the configured capacity.
func (l *Log) MaxEntries() int {
	return l.maxEntries
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}

// ByType returns all entries with the given event type, oldest first.
func (l *Log) ByType(t EventType) []Entry {
	return l.filter(func(e Entry) bool { return e.Type == t })
}

// ByPlugin returns all entries for the given plugin, oldest first.
func (l *Log) ByPlugin(pluginID string) []Entry {
	return l.filter(func(e Entry) bool { return e.PluginID == pluginID })
}

// Between returns entries with from <= Time < to, oldest first. Zero bounds
// are open.
func (l *Log) Between(from, to time.Time) []Entry {
	return l.filter(func(e Entry) bool {
		if !from.IsZero() && e.Time.Before(from) {
			return false
		}
		if !to.IsZero() && !e.Time.Before(to) {
			return false
		}
		return true
	})
}

// filter returns a copy of the entries matching the predicate.
func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// snapshot returns a copy of all entries, oldest first.
func (l *Log) snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
