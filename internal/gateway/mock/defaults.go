package mock

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

func (s *Server) installDefaults() {
	s.handlers[protocol.MethodChatSend] = s.chatSend
	s.handlers[protocol.MethodChatAbort] = s.chatAbort
	s.handlers[protocol.MethodChatHistory] = s.chatHistory
	s.handlers[protocol.MethodSessionsList] = s.sessionsList
	s.handlers[protocol.MethodSessionsPatch] = s.sessionsPatch
	s.handlers[protocol.MethodSessionsReset] = s.sessionsReset
	s.handlers[protocol.MethodSessionsDelete] = s.sessionsDelete
	s.handlers[protocol.MethodAgentsList] = s.agentsList
	s.handlers[protocol.MethodAgentIdentity] = s.agentIdentity
	s.handlers[protocol.MethodAgentFiles] = s.agentFiles
	s.handlers[protocol.MethodSkillsStatus] = s.skillsStatus
	s.handlers[protocol.MethodSkillsUpdate] = s.skillsUpdate
	s.handlers[protocol.MethodSkillsInstall] = s.skillsInstall
	s.handlers[protocol.MethodCronList] = s.cronList
	s.handlers[protocol.MethodCronUpdate] = s.cronUpdate
	s.handlers[protocol.MethodCronRuns] = s.cronRuns
	s.handlers[protocol.MethodCronStatus] = s.cronStatus
	s.handlers["health"] = func(*Request) (any, error) {
		return map[string]any{"ok": true, "version": Version, "connections": s.Connections()}, nil
	}
}

// --- chat ---

func (s *Server) chatSend(req *Request) (any, error) {
	var params struct {
		SessionKey     string `json:"sessionKey"`
		Message        string `json:"message"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Message) == "" {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "message is required")
	}
	runID := params.IdempotencyKey
	if runID == "" {
		runID = uuid.NewString()
	}
	key := CanonicalKey(params.SessionKey)
	s.state.appendMessage(key, "user", params.Message)

	reply := s.opts.Reply(params.Message)
	req.After(func() { go s.streamReply(key, runID, reply) })
	return map[string]any{"runId": runID, "status": "started"}, nil
}

// streamReply plays one scripted agent turn: lifecycle start, cumulative
// assistant and chat deltas word by word, lifecycle end, then the final
// chat message.
func (s *Server) streamReply(key, runID, reply string) {
	var seq int64
	next := func() int64 { seq++; return seq }
	agent := func(stream string, data map[string]any) {
		s.Emit(protocol.EventAgent, map[string]any{
			"runId": runID, "sessionKey": key, "seq": next(),
			"stream": stream, "ts": time.Now().UnixMilli(), "data": data,
		})
	}
	chat := func(state string, extra map[string]any) {
		payload := map[string]any{"runId": runID, "sessionKey": key, "seq": next(), "state": state}
		for k, v := range extra {
			payload[k] = v
		}
		s.Emit(protocol.EventChat, payload)
	}
	pause := func() bool {
		if s.opts.StreamDelay > 0 {
			select {
			case <-time.After(s.opts.StreamDelay):
			case <-s.ctx.Done():
				return false
			}
		}
		if s.state.isAborted(runID) {
			agent(protocol.AgentStreamLifecycle, map[string]any{"phase": protocol.PhaseEnd})
			chat(protocol.ChatStateAborted, nil)
			return false
		}
		return true
	}

	agent(protocol.AgentStreamLifecycle, map[string]any{"phase": protocol.PhaseStart, "startedAt": time.Now().UnixMilli()})
	var text string
	for _, word := range strings.SplitAfter(reply, " ") {
		if !pause() {
			return
		}
		text += word
		agent(protocol.AgentStreamAssistant, map[string]any{"text": text, "delta": word})
		chat(protocol.ChatStateDelta, map[string]any{"message": assistantMessage(text)})
	}
	if !pause() {
		return
	}
	agent(protocol.AgentStreamLifecycle, map[string]any{"phase": protocol.PhaseEnd, "endedAt": time.Now().UnixMilli()})
	s.state.appendMessage(key, "assistant", reply)
	chat(protocol.ChatStateFinal, map[string]any{"message": assistantMessage(reply)})
}

func assistantMessage(text string) map[string]any {
	return map[string]any{
		"role":      "assistant",
		"content":   []any{map[string]any{"type": "text", "text": text}},
		"timestamp": time.Now().UnixMilli(),
	}
}

func (s *Server) chatAbort(req *Request) (any, error) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		RunID      string `json:"runId"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if params.RunID != "" {
		s.state.markAborted(params.RunID)
	}
	return map[string]any{"ok": true, "aborted": params.RunID != ""}, nil
}

func (s *Server) chatHistory(req *Request) (any, error) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	key := CanonicalKey(params.SessionKey)
	return map[string]any{"sessionKey": key, "messages": s.state.history(key, params.Limit)}, nil
}

// --- sessions ---

func (s *Server) sessionsList(req *Request) (any, error) {
	var params struct {
		Limit int `json:"limit"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	sessions := s.state.listSessions(params.Limit)
	return map[string]any{"ts": time.Now().UnixMilli(), "count": len(sessions), "sessions": sessions}, nil
}

func (s *Server) sessionsPatch(req *Request) (any, error) {
	var params struct {
		Key           string  `json:"key"`
		Label         *string `json:"label"`
		Model         *string `json:"model"`
		ThinkingLevel *string `json:"thinkingLevel"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if params.Key == "" {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "key is required")
	}
	key := CanonicalKey(params.Key)

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	rec := s.state.session(key, true)
	if params.Label != nil {
		rec.Label = *params.Label
	}
	if params.Model != nil {
		rec.Model = *params.Model
	}
	if params.ThinkingLevel != nil {
		rec.ThinkingLevel = *params.ThinkingLevel
	}
	rec.UpdatedAt = time.Now().UnixMilli()
	return map[string]any{"ok": true, "key": key, "entry": *rec}, nil
}

func (s *Server) sessionsReset(req *Request) (any, error) {
	var params struct {
		Key string `json:"key"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	key := CanonicalKey(params.Key)

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	rec := s.state.session(key, false)
	if rec == nil {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "session not found: %s", key)
	}
	rec.messages = nil
	rec.UpdatedAt = time.Now().UnixMilli()
	return map[string]any{"ok": true, "key": key}, nil
}

func (s *Server) sessionsDelete(req *Request) (any, error) {
	var params struct {
		Key string `json:"key"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	key := CanonicalKey(params.Key)
	if key == MainSessionKey {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "cannot delete the main session")
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	_, existed := s.state.sessions[key]
	delete(s.state.sessions, key)
	return map[string]any{"ok": true, "key": key, "deleted": existed}, nil
}

// --- agents ---

func (s *Server) agentsList(*Request) (any, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return map[string]any{
		"defaultId": "main",
		"mainKey":   "main",
		"agents":    append([]agentRecord{}, s.state.agents...),
	}, nil
}

func (s *Server) findAgent(id string) (agentRecord, bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if id == "" {
		id = "main"
	}
	for _, a := range s.state.agents {
		if a.ID == id {
			return a, true
		}
	}
	return agentRecord{}, false
}

func (s *Server) agentIdentity(req *Request) (any, error) {
	var params struct {
		AgentID string `json:"agentId"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	a, ok := s.findAgent(params.AgentID)
	if !ok {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown agent: %s", params.AgentID)
	}
	return map[string]any{"agentId": a.ID, "name": a.Name, "emoji": a.Emoji}, nil
}

func (s *Server) agentFiles(req *Request) (any, error) {
	var params struct {
		AgentID string `json:"agentId"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	a, ok := s.findAgent(params.AgentID)
	if !ok {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown agent: %s", params.AgentID)
	}
	workspace := "~/.openclaw/workspace-" + a.ID
	now := time.Now().UnixMilli()
	return map[string]any{
		"agentId":   a.ID,
		"workspace": workspace,
		"files": []map[string]any{
			{"name": "AGENTS.md", "path": workspace + "/AGENTS.md", "size": 1204, "updatedAt": now},
			{"name": "SOUL.md", "path": workspace + "/SOUL.md", "size": 512, "updatedAt": now},
			{"name": "MEMORY.md", "path": workspace + "/MEMORY.md", "missing": true},
		},
	}, nil
}

// --- skills ---

func (s *Server) skillsStatus(*Request) (any, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	skills := make([]skillRecord, 0, len(s.state.skills))
	for _, sk := range s.state.skills {
		skills = append(skills, *sk)
	}
	return map[string]any{"workspaceDir": "~/.openclaw/workspace", "skills": skills}, nil
}

func (s *Server) findSkill(key string) *skillRecord {
	for _, sk := range s.state.skills {
		if sk.SkillKey == key || sk.Name == key {
			return sk
		}
	}
	return nil
}

func (s *Server) skillsUpdate(req *Request) (any, error) {
	var params struct {
		SkillKey string `json:"skillKey"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	sk := s.findSkill(params.SkillKey)
	if sk == nil {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown skill: %s", params.SkillKey)
	}
	if params.Enabled != nil {
		sk.Disabled = !*params.Enabled
	}
	return map[string]any{"ok": true, "skillKey": sk.SkillKey, "config": map[string]any{"enabled": !sk.Disabled}}, nil
}

func (s *Server) skillsInstall(req *Request) (any, error) {
	var params struct {
		Name      string `json:"name"`
		InstallID string `json:"installId"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	sk := s.findSkill(params.Name)
	if sk == nil {
		return nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown skill: %s", params.Name)
	}
	sk.Installed = true
	sk.Eligible = true
	return map[string]any{"ok": true, "message": "installed " + sk.Name}, nil
}

// --- cron ---

func (s *Server) cronList(req *Request) (any, error) {
	var params struct {
		IncludeDisabled bool `json:"includeDisabled"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	jobs := make([]cronRecord, 0, len(s.state.jobs))
	for _, j := range s.state.jobs {
		if j.Enabled || params.IncludeDisabled {
			jobs = append(jobs, *j)
		}
	}
	return map[string]any{"jobs": jobs}, nil
}

func (s *Server) cronUpdate(req *Request) (any, error) {
	var params struct {
		ID    string `json:"id"`
		Patch struct {
			Enabled *bool   `json:"enabled"`
			Name    *string `json:"name"`
		} `json:"patch"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, j := range s.state.jobs {
		if j.ID != params.ID {
			continue
		}
		if params.Patch.Enabled != nil {
			j.Enabled = *params.Patch.Enabled
		}
		if params.Patch.Name != nil {
			j.Name = *params.Patch.Name
		}
		return *j, nil
	}
	return nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown cron job: %s", params.ID)
}

func (s *Server) cronRuns(req *Request) (any, error) {
	var params struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	runs := append([]cronRun{}, s.state.runs[params.ID]...)
	if params.Limit > 0 && len(runs) > params.Limit {
		runs = runs[len(runs)-params.Limit:]
	}
	return map[string]any{"entries": runs}, nil
}

func (s *Server) cronStatus(*Request) (any, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var next int64
	for _, j := range s.state.jobs {
		if j.Enabled && j.State.NextRunAtMs > 0 && (next == 0 || j.State.NextRunAtMs < next) {
			next = j.State.NextRunAtMs
		}
	}
	return map[string]any{"enabled": true, "jobs": len(s.state.jobs), "nextWakeAtMs": next}, nil
}
