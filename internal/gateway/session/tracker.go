package session

import (
	"sort"
)

// Tracker classifies session keys seen on the connection. Parent keys belong
// to the user's own conversations; any other key is a sub-agent, reported
// once. Tracker is not safe for concurrent use; the client guards it.
type Tracker struct {
	primary  string
	parents  map[string]struct{}
	notified map[string]struct{}
	runs     map[string]string // runID -> session key the caller sent with
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		parents:  make(map[string]struct{}),
		notified: make(map[string]struct{}),
		runs:     make(map[string]string),
	}
}

// SetPrimary designates key as the default session and adds it to the
// parent set. An empty key clears the designation only.
func (t *Tracker) SetPrimary(key string) {
	t.primary = key
	if key != "" {
		t.parents[key] = struct{}{}
	}
}

// Primary returns the designated default session key.
func (t *Tracker) Primary() string { return t.primary }

// AddParent marks key as belonging to the user's conversations.
func (t *Tracker) AddParent(key string) {
	if key != "" {
		t.parents[key] = struct{}{}
	}
}

// IsParent reports whether key is in the parent set.
func (t *Tracker) IsParent(key string) bool {
	_, ok := t.parents[key]
	return ok
}

// Parents returns the parent keys, sorted.
func (t *Tracker) Parents() []string {
	keys := make([]string, 0, len(t.parents))
	for k := range t.parents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the key an event belongs to: its own, else the primary,
// else fallback.
func (t *Tracker) Resolve(eventKey, fallback string) string {
	if eventKey != "" {
		return eventKey
	}
	if t.primary != "" {
		return t.primary
	}
	return fallback
}

// ObserveSubagent reports true the first time a non-empty key outside the
// parent set is seen, provided at least one parent is known. Observed keys
// are never added to the parent set.
func (t *Tracker) ObserveSubagent(key string) bool {
	if key == "" || len(t.parents) == 0 {
		return false
	}
	if _, ok := t.parents[key]; ok {
		return false
	}
	if _, ok := t.notified[key]; ok {
		return false
	}
	t.notified[key] = struct{}{}
	return true
}

// ExpectRun records that runID was started by the caller against expected.
func (t *Tracker) ExpectRun(runID, expected string) {
	if runID != "" {
		t.runs[runID] = expected
	}
}

// ResolveRun settles a run started with ExpectRun once the server has named
// its session key. When the key differs from the expected one it is promoted
// into the parent set and promoted is true. Each run resolves at most once.
func (t *Tracker) ResolveRun(runID, key string) (expected string, promoted bool) {
	if runID == "" || key == "" {
		return "", false
	}
	expected, ok := t.runs[runID]
	if !ok {
		return "", false
	}
	delete(t.runs, runID)
	if key == expected {
		return expected, false
	}
	t.parents[key] = struct{}{}
	return expected, true
}

// RenameRun moves an expectation to the run id the server actually assigned.
func (t *Tracker) RenameRun(from, to string) {
	if from == "" || to == "" || from == to {
		return
	}
	expected, ok := t.runs[from]
	if !ok {
		return
	}
	delete(t.runs, from)
	t.runs[to] = expected
}

// ForgetRun drops an expectation, typically after the send failed.
func (t *Tracker) ForgetRun(runID string) { delete(t.runs, runID) }

// PendingRuns reports how many runs await a server-assigned key.
func (t *Tracker) PendingRuns() int { return len(t.runs) }
