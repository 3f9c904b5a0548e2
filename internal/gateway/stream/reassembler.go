// Package stream reassembles per-session text streams from a gateway that
// sends either incremental deltas or cumulative snapshots, possibly
// overlapping or duplicated, on two competing upstream channels.
//
// A Reassembler is not safe for concurrent use; the client owns it under its
// state lock.
package stream

import (
	"strings"
)

// Source identifies the upstream channel feeding a session stream.
type Source string

const (
	SourceNone  Source = ""
	SourceChat  Source = "chat"
	SourceAgent Source = "agent"
)

// Mode is the streaming convention detected from the first fragment.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeDelta
	ModeCumulative
)

func (m Mode) String() string {
	switch m {
	case ModeDelta:
		return "delta"
	case ModeCumulative:
		return "cumulative"
	default:
		return "unknown"
	}
}

// BlockSeparator is inserted between content blocks in cumulative mode.
const BlockSeparator = "\n\n"

// DefaultKey is used when neither the event nor the caller names a session.
const DefaultKey = "main"

// Fragment is one raw text increment as it appeared on the wire. HasText
// marks a whole-text field, HasDelta a delta field.
type Fragment struct {
	Text     string
	Delta    string
	HasText  bool
	HasDelta bool
}

// TextFragment builds a cumulative-shaped fragment.
func TextFragment(s string) Fragment { return Fragment{Text: s, HasText: true} }

// DeltaFragment builds a delta-shaped fragment.
func DeltaFragment(s string) Fragment { return Fragment{Delta: s, HasDelta: true} }

// State is the accumulation state of one session's current turn.
type State struct {
	Source      Source
	Text        string
	Mode        Mode
	BlockOffset int
	Started     bool
	RunID       string
}

// OutputKind discriminates reassembler output records.
type OutputKind int

const (
	OutputStart OutputKind = iota
	OutputChunk
	OutputEnd
)

// Output is one record the client turns into a subscriber event.
type Output struct {
	Kind       OutputKind
	SessionKey string
	Source     Source
	RunID      string
	Text       string // chunk text
	Reason     string // end reason: "end", "error", "aborted", "final"
}

// Reassembler holds one State per session key.
type Reassembler struct {
	states map[string]*State
}

// New returns an empty reassembler.
func New() *Reassembler {
	return &Reassembler{states: make(map[string]*State)}
}

func resolveKey(key string) string {
	if key == "" {
		return DefaultKey
	}
	return key
}

func (r *Reassembler) state(key string) *State {
	st, ok := r.states[key]
	if !ok {
		st = &State{}
		r.states[key] = st
	}
	return st
}

// Feed merges one fragment from source into the session's stream and
// returns the records to emit, in order.
func (r *Reassembler) Feed(key string, source Source, frag Fragment, runID string) []Output {
	key = resolveKey(key)
	st := r.state(key)

	if st.Source == SourceNone {
		st.Source = source
	} else if st.Source != source {
		return nil
	}
	if runID != "" && st.RunID == "" {
		st.RunID = runID
	}

	mode := st.Mode
	if mode == ModeUnknown {
		switch {
		case frag.HasText:
			mode = ModeCumulative
		case frag.HasDelta:
			mode = ModeDelta
		default:
			return nil
		}
	}

	value, ok := pick(mode, frag)
	if !ok || value == "" {
		return nil
	}
	st.Mode = mode
	value = ReplaceHeartbeat(value)

	var inc string
	if st.Mode == ModeCumulative {
		inc = st.mergeCumulative(value)
	} else {
		inc = st.mergeDelta(value)
	}
	if inc == "" {
		return nil
	}

	var out []Output
	if !st.Started {
		st.Started = true
		out = append(out, Output{Kind: OutputStart, SessionKey: key, Source: st.Source, RunID: st.RunID})
	}
	return append(out, Output{Kind: OutputChunk, SessionKey: key, Source: st.Source, RunID: st.RunID, Text: inc})
}

// pick selects the fragment value for the stream's mode, falling back to the
// other field when the preferred one is absent.
func pick(mode Mode, f Fragment) (string, bool) {
	if mode == ModeCumulative {
		if f.HasText {
			return f.Text, true
		}
		if f.HasDelta {
			return f.Delta, true
		}
		return "", false
	}
	if f.HasDelta {
		return f.Delta, true
	}
	if f.HasText {
		return f.Text, true
	}
	return "", false
}

// mergeCumulative folds a whole-text-so-far fragment into the state and
// returns the newly appended text.
func (st *State) mergeCumulative(frag string) string {
	acc := st.Text
	switch {
	case acc == "":
		st.Text = frag
		return frag
	case frag == acc:
		return ""
	case strings.HasPrefix(frag, acc):
		st.Text = frag
		return frag[len(acc):]
	case st.BlockOffset > 0 && strings.HasPrefix(frag, acc[st.BlockOffset:]):
		// server restarted its indices at the current block
		st.Text = acc[:st.BlockOffset] + frag
		return st.Text[len(acc):]
	default:
		inc := BlockSeparator + frag
		st.BlockOffset = len(acc) + len(BlockSeparator)
		st.Text = acc + inc
		return inc
	}
}

// mergeDelta folds an increment-only fragment into the state and returns the
// newly appended text.
func (st *State) mergeDelta(frag string) string {
	acc := st.Text
	if acc != "" && strings.HasPrefix(frag, acc) {
		// cumulative-shaped resend
		st.Text = frag
		return frag[len(acc):]
	}
	if strings.HasSuffix(acc, frag) {
		return ""
	}
	for k := min(len(acc), len(frag)); k > 0; k-- {
		if strings.HasSuffix(acc, frag[:k]) {
			inc := frag[k:]
			st.Text = acc + inc
			return inc
		}
	}
	st.Text = acc + frag
	return frag
}

// MarkStarted claims an unclaimed state for source and emits a start record
// if the stream has not started yet. A state owned by the other source is
// left alone.
func (r *Reassembler) MarkStarted(key string, source Source, runID string) []Output {
	key = resolveKey(key)
	st := r.state(key)
	if st.Source == SourceNone {
		st.Source = source
	} else if st.Source != source {
		return nil
	}
	if runID != "" && st.RunID == "" {
		st.RunID = runID
	}
	if st.Started {
		return nil
	}
	st.Started = true
	return []Output{{Kind: OutputStart, SessionKey: key, Source: st.Source, RunID: st.RunID}}
}

// NoteRun records the run id of a turn whose lifecycle has started, without
// claiming the state for either source.
func (r *Reassembler) NoteRun(key, runID string) {
	if runID == "" {
		return
	}
	st := r.state(resolveKey(key))
	if st.RunID == "" {
		st.RunID = runID
	}
}

// End handles a lifecycle end or error signal from source. The state is kept
// so a trailing final event still matches the same turn.
func (r *Reassembler) End(key string, source Source, reason string) []Output {
	key = resolveKey(key)
	st, ok := r.states[key]
	if !ok || st.Source != source || !st.Started {
		return nil
	}
	st.Started = false
	return []Output{{Kind: OutputEnd, SessionKey: key, Source: st.Source, RunID: st.RunID, Reason: reason}}
}

// Finalize removes the session's state. It returns the removed state (nil if
// none existed) and an end record if the stream had started.
func (r *Reassembler) Finalize(key string) (*State, []Output) {
	key = resolveKey(key)
	st, ok := r.states[key]
	if !ok {
		return nil, nil
	}
	delete(r.states, key)
	if !st.Started {
		return st, nil
	}
	st.Started = false
	return st, []Output{{Kind: OutputEnd, SessionKey: key, Source: st.Source, RunID: st.RunID, Reason: "final"}}
}

// Reset drops every session state.
func (r *Reassembler) Reset() {
	clear(r.states)
}

// Get returns a copy of the session's state.
func (r *Reassembler) Get(key string) (State, bool) {
	st, ok := r.states[resolveKey(key)]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Len reports the number of live session states.
func (r *Reassembler) Len() int { return len(r.states) }
