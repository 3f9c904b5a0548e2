package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError reports a frame that could not be parsed. The client swallows
// these at the frame boundary; one garbled frame never tears down a connection.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the flat wire shape shared by all three frame kinds.
type envelope struct {
	Type    FrameKind       `json:"type"`
	Kind    FrameKind       `json:"kind,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// Encode serializes a frame to wire text.
func Encode(f Frame) ([]byte, error) {
	var env envelope
	switch v := f.(type) {
	case *Request:
		if v.Method == "" {
			return nil, fmt.Errorf("encode request: method is required")
		}
		env = envelope{Type: KindRequest, ID: v.ID, Method: v.Method, Params: v.Params}
	case *Response:
		ok := v.OK
		env = envelope{Type: KindResponse, ID: v.ID, OK: &ok}
		if ok {
			env.Payload = v.Payload
		} else {
			env.Error = v.Error
			if env.Error == nil {
				env.Error = &ErrorShape{Code: ErrCodeUnavailable, Message: "request failed"}
			}
		}
	case *Event:
		if v.Name == "" {
			return nil, fmt.Errorf("encode event: name is required")
		}
		env = envelope{Type: KindEvent, Event: v.Name, Payload: v.Payload, Seq: v.Seq}
	default:
		return nil, fmt.Errorf("encode: unsupported frame %T", f)
	}
	return json.Marshal(env)
}

// Decode parses one wire frame. It accepts "kind" as an alias of "type".
func Decode(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	kind := env.Type
	if kind == "" {
		kind = env.Kind
	}

	switch kind {
	case KindRequest:
		if env.Method == "" {
			return nil, &DecodeError{Reason: "request without method"}
		}
		return &Request{ID: env.ID, Method: env.Method, Params: nullToEmpty(env.Params)}, nil
	case KindResponse:
		if env.ID == "" {
			return nil, &DecodeError{Reason: "response without id"}
		}
		resp := &Response{ID: env.ID, OK: env.OK != nil && *env.OK, Error: env.Error}
		if resp.OK {
			resp.Payload = nullToEmpty(env.Payload)
		}
		return resp, nil
	case KindEvent:
		if env.Event == "" {
			return nil, &DecodeError{Reason: "event without name"}
		}
		return &Event{Name: env.Event, Payload: nullToEmpty(env.Payload), Seq: env.Seq}, nil
	case "":
		return nil, &DecodeError{Reason: "missing frame type"}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown frame type %q", kind)}
	}
}

// NewRequest marshals params into a request frame.
func NewRequest(id, method string, params any) (*Request, error) {
	req := &Request{ID: id, Method: method}
	if params == nil {
		return req, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		req.Params = raw
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	req.Params = raw
	return req, nil
}

// NewEvent marshals a payload into an event frame.
func NewEvent(name string, payload any) (*Event, error) {
	ev := &Event{Name: name}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	ev.Payload = raw
	return ev, nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
