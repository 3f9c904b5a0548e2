package mock

import (
	"sort"
	"sync"
	"time"
)

// MainSessionKey is the canonical key the mock assigns to "main".
const MainSessionKey = "agent:main:main"

// CanonicalKey maps the "main" alias onto the canonical main session key the
// way a real gateway does.
func CanonicalKey(key string) string {
	if key == "" || key == "main" {
		return MainSessionKey
	}
	return key
}

type storedMessage struct {
	Role      string `json:"role"`
	Content   []any  `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type sessionRecord struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	Kind          string `json:"kind"`
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
	UpdatedAt     int64  `json:"updatedAt"`

	messages []storedMessage
}

type agentRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji,omitempty"`
	Model string `json:"model,omitempty"`
}

type skillRecord struct {
	Name        string `json:"name"`
	SkillKey    string `json:"skillKey"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Eligible    bool   `json:"eligible"`
	Disabled    bool   `json:"disabled"`
	Installed   bool   `json:"-"`
}

type cronState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
}

type cronRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	AgentID     string         `json:"agentId"`
	Schedule    map[string]any `json:"schedule"`
	State       cronState      `json:"state"`
}

type cronRun struct {
	JobID      string `json:"jobId"`
	TS         int64  `json:"ts"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// store is the mock's in-memory gateway state.
type store struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
	agents   []agentRecord
	skills   []*skillRecord
	jobs     []*cronRecord
	runs     map[string][]cronRun
	aborted  map[string]bool
}

func newStore() *store {
	now := time.Now().UnixMilli()
	st := &store{
		sessions: make(map[string]*sessionRecord),
		agents: []agentRecord{
			{ID: "main", Name: "Main", Emoji: "🦀", Model: "mock/parrot"},
			{ID: "research", Name: "Research", Emoji: "🔭", Model: "mock/parrot"},
		},
		skills: []*skillRecord{
			{Name: "weather", SkillKey: "weather", Description: "Current weather and forecasts", Source: "bundled", Eligible: true},
			{Name: "github", SkillKey: "github", Description: "Issues, pull requests and CI", Source: "bundled", Eligible: true},
			{Name: "summarize", SkillKey: "summarize", Description: "Summarize URLs and files", Source: "managed", Eligible: false},
		},
		jobs: []*cronRecord{
			{
				ID: "job-digest", Name: "Morning digest", Enabled: true, AgentID: "main",
				Schedule: map[string]any{"kind": "cron", "expr": "0 8 * * *"},
				State:    cronState{NextRunAtMs: now + int64(time.Hour/time.Millisecond), LastRunAtMs: now - int64(23*time.Hour/time.Millisecond), LastStatus: "ok"},
			},
			{
				ID: "job-cleanup", Name: "Workspace cleanup", Enabled: false, AgentID: "main",
				Schedule: map[string]any{"kind": "every", "everyMs": int64(24 * time.Hour / time.Millisecond)},
			},
		},
		runs:    make(map[string][]cronRun),
		aborted: make(map[string]bool),
	}
	st.runs["job-digest"] = []cronRun{
		{JobID: "job-digest", TS: now - int64(23*time.Hour/time.Millisecond), Status: "ok", Summary: "3 items", DurationMs: 4200},
	}
	st.sessions[MainSessionKey] = &sessionRecord{Key: MainSessionKey, DisplayName: "Main", Kind: "direct", UpdatedAt: now}
	return st
}

func (st *store) session(key string, create bool) *sessionRecord {
	rec, ok := st.sessions[key]
	if !ok && create {
		rec = &sessionRecord{Key: key, Kind: "direct", UpdatedAt: time.Now().UnixMilli()}
		st.sessions[key] = rec
	}
	return rec
}

func (st *store) listSessions(limit int) []sessionRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]sessionRecord, 0, len(st.sessions))
	for _, rec := range st.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (st *store) appendMessage(key, role, text string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.session(key, true)
	now := time.Now().UnixMilli()
	rec.messages = append(rec.messages, storedMessage{
		Role:      role,
		Content:   []any{map[string]any{"type": "text", "text": text}},
		Timestamp: now,
	})
	rec.UpdatedAt = now
}

func (st *store) history(key string, limit int) []storedMessage {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.session(key, false)
	if rec == nil {
		return []storedMessage{}
	}
	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]storedMessage{}, msgs...)
}

func (st *store) markAborted(runID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.aborted[runID] = true
}

func (st *store) isAborted(runID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.aborted[runID]
}
