package calllog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if s.DBPath() != filepath.Join(dir, FileName) {
		t.Fatalf("path = %s", s.DBPath())
	}
	if _, err := os.Stat(s.DBPath()); err != nil {
		t.Fatalf("db file: %v", err)
	}
}

func TestLogAndQuery(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	calls := []*Call{
		{Method: "sessions.list", DurationMs: 12},
		{Method: "chat.send", DurationMs: 40},
		{Method: "chat.send", ErrorCode: "UNAVAILABLE", ErrorMessage: "agent busy", DurationMs: 5},
	}
	for i, c := range calls {
		c.CreatedAt = timestamp(base.Add(time.Duration(i) * time.Minute))
		if err := s.Log(c); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if c.ID == 0 {
			t.Fatal("Log must assign an id")
		}
	}
	if calls[0].Status != StatusOK || calls[2].Status != StatusError {
		t.Fatalf("statuses = %s, %s", calls[0].Status, calls[2].Status)
	}

	got, total, err := s.Query(QueryParams{Method: "chat.send"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 2 || len(got) != 2 || got[0].ErrorMessage != "agent busy" {
		t.Fatalf("calls = %+v (total %d)", got, total)
	}

	failed, total, err := s.Query(QueryParams{Status: StatusError})
	if err != nil || total != 1 || failed[0].ErrorCode != "UNAVAILABLE" {
		t.Fatalf("failed = %+v, %d, %v", failed, total, err)
	}

	page, total, err := s.Query(QueryParams{Limit: 1, Offset: 1})
	if err != nil || total != 3 || len(page) != 1 || page[0].ID != calls[1].ID {
		t.Fatalf("page = %+v, %d, %v", page, total, err)
	}

	recent, _, err := s.Query(QueryParams{Since: base.Add(90 * time.Second)})
	if err != nil || len(recent) != 1 || recent[0].ID != calls[2].ID {
		t.Fatalf("recent = %+v, %v", recent, err)
	}
}

func TestMessagesDeduplicateAndFilter(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	msgs := []events.Message{
		{ID: "m1", SessionKey: "agent:main:main", RunID: "r1", Role: "user", Text: "What's the weather?", Timestamp: now.Add(-3 * time.Second)},
		{ID: "m2", SessionKey: "agent:main:main", RunID: "r1", Role: "assistant", Text: "Sunny, 20%_off", Thinking: "check", Timestamp: now.Add(-2 * time.Second)},
		{ID: "m1", SessionKey: "agent:main:main", Role: "user", Text: "duplicate", Timestamp: now},
		{ID: "m1", SessionKey: "agent:research:main", Role: "assistant", Text: "other session", Timestamp: now.Add(-time.Second)},
	}
	for _, m := range msgs {
		if err := s.LogMessage(m); err != nil {
			t.Fatalf("LogMessage: %v", err)
		}
	}

	main, err := s.Messages(MessageQuery{SessionKey: "agent:main:main"})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(main) != 2 || main[0].Content != "What's the weather?" || main[1].Thinking != "check" {
		t.Fatalf("main = %+v", main)
	}

	last, err := s.Messages(MessageQuery{Limit: 1})
	if err != nil || len(last) != 1 || last[0].Content != "other session" {
		t.Fatalf("last = %+v, %v", last, err)
	}

	hits, err := s.Messages(MessageQuery{Search: "20%_"})
	if err != nil || len(hits) != 1 || hits[0].MessageID != "m2" {
		t.Fatalf("hits = %+v, %v", hits, err)
	}
	if hits, _ := s.Messages(MessageQuery{Search: "%"}); len(hits) != 1 {
		t.Fatalf("literal %% search = %+v", hits)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	for _, c := range []*Call{
		{Method: "chat.send", DurationMs: 10},
		{Method: "chat.send", DurationMs: 30, ErrorMessage: "boom"},
		{Method: "cron.list", DurationMs: 20},
	} {
		if err := s.Log(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.LogMessage(events.Message{ID: "m1", SessionKey: "k", Role: "assistant", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 3 || st.FailedCalls != 1 || st.TotalMessages != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByMethod["chat.send"] != 2 || st.ByMethod["cron.list"] != 1 || st.AvgDurationMs != 20 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Earliest == "" || st.Latest < st.Earliest {
		t.Fatalf("range = %q..%q", st.Earliest, st.Latest)
	}
}

func TestCleanup(t *testing.T) {
	s := openTestStore(t)
	old := timestamp(time.Now().AddDate(0, 0, -60))
	if err := s.Log(&Call{Method: "old", CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Log(&Call{Method: "fresh"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.LogMessage(events.Message{ID: "old", Text: "x", Timestamp: time.Now().AddDate(0, 0, -60)}); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.Cleanup(30, 0)
	if err != nil || deleted != 2 {
		t.Fatalf("age cleanup deleted %d, %v", deleted, err)
	}
	deleted, err = s.Cleanup(0, 3)
	if err != nil || deleted != 1 {
		t.Fatalf("count cleanup deleted %d, %v", deleted, err)
	}
	_, total, err := s.Query(QueryParams{})
	if err != nil || total != 3 {
		t.Fatalf("remaining = %d, %v", total, err)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Log(&Call{Method: "x"}); err == nil {
		t.Fatal("Log on a closed store must fail")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
