package session

import (
	"strings"
	"testing"
)

func TestObserveSubagentFiresOnce(t *testing.T) {
	tr := NewTracker()
	if tr.ObserveSubagent("agent:sub:1") {
		t.Fatalf("detection must not fire before any parent is known")
	}

	tr.SetPrimary("agent:main:main")
	if !tr.ObserveSubagent("agent:sub:1") {
		t.Fatalf("expected first detection")
	}
	for i := 0; i < 3; i++ {
		if tr.ObserveSubagent("agent:sub:1") {
			t.Fatalf("detection fired again on repeat %d", i)
		}
	}
	if tr.IsParent("agent:sub:1") {
		t.Fatalf("detected key must not join the parent set")
	}
	if tr.ObserveSubagent("agent:main:main") || tr.ObserveSubagent("") {
		t.Fatalf("parent and empty keys are never sub-agents")
	}
}

func TestResolveRunPromotesDifferentKey(t *testing.T) {
	tr := NewTracker()
	tr.SetPrimary("main")
	tr.ExpectRun("run-1", "main")

	expected, promoted := tr.ResolveRun("run-1", "agent:main:main")
	if !promoted || expected != "main" {
		t.Fatalf("got expected=%q promoted=%v", expected, promoted)
	}
	if !tr.IsParent("agent:main:main") {
		t.Fatalf("server key not promoted to parent")
	}
	if _, promoted := tr.ResolveRun("run-1", "agent:other:x"); promoted {
		t.Fatalf("run resolved twice")
	}
	if tr.PendingRuns() != 0 {
		t.Fatalf("pending runs = %d", tr.PendingRuns())
	}
}

func TestResolveRunSameKey(t *testing.T) {
	tr := NewTracker()
	tr.ExpectRun("run-2", "agent:main:main")
	if _, promoted := tr.ResolveRun("run-2", "agent:main:main"); promoted {
		t.Fatalf("matching key should not promote")
	}
	if _, promoted := tr.ResolveRun("unknown", "x"); promoted {
		t.Fatalf("unknown run should not promote")
	}
}

func TestResolveFallbackOrder(t *testing.T) {
	tr := NewTracker()
	if got := tr.Resolve("", "main"); got != "main" {
		t.Fatalf("Resolve = %q", got)
	}
	tr.SetPrimary("agent:main:work")
	if got := tr.Resolve("", "main"); got != "agent:main:work" {
		t.Fatalf("Resolve = %q", got)
	}
	if got := tr.Resolve("agent:x:y", "main"); got != "agent:x:y" {
		t.Fatalf("Resolve = %q", got)
	}
	tr.SetPrimary("")
	if tr.Primary() != "" || !tr.IsParent("agent:main:work") {
		t.Fatalf("clearing primary should keep parent membership")
	}
}

func TestCurrentSessionPersistence(t *testing.T) {
	t.Setenv("PRSM_HOME", t.TempDir())

	if key, err := Current(); err != nil || key != "" {
		t.Fatalf("Current on empty state = %q, %v", key, err)
	}
	if err := SetCurrent("agent:main:work"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	key, err := Current()
	if err != nil || key != "agent:main:work" {
		t.Fatalf("Current = %q, %v", key, err)
	}
	if err := SetCurrent(""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if key, _ := Current(); key != "" {
		t.Fatalf("Current after clear = %q", key)
	}
}

func TestNewKeyAndAgentID(t *testing.T) {
	key := NewKey("coder")
	if !strings.HasPrefix(key, "agent:coder:prsm-") {
		t.Fatalf("unexpected key %q", key)
	}
	if AgentID(key) != "coder" {
		t.Fatalf("AgentID(%q) = %q", key, AgentID(key))
	}
	if AgentID("main") != "main" || AgentID("agent::x") != "main" {
		t.Fatalf("fallback agent id wrong")
	}
	if NewKey("") == NewKey("") {
		t.Fatalf("keys must be unique")
	}
}
