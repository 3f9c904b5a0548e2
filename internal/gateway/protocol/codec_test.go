package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeFrameKinds(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FrameKind
	}{
		{"request", `{"type":"req","id":"1","method":"sessions.list","params":{}}`, KindRequest},
		{"response ok", `{"type":"res","id":"1","ok":true,"payload":{"a":1}}`, KindResponse},
		{"response err", `{"type":"res","id":"2","ok":false,"error":{"code":"X","message":"boom"}}`, KindResponse},
		{"event", `{"type":"event","event":"tick","payload":{"ts":1}}`, KindEvent},
		{"kind alias", `{"kind":"event","event":"presence"}`, KindEvent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if f.Kind() != tc.want {
				t.Fatalf("kind = %q; want %q", f.Kind(), tc.want)
			}
		})
	}
}

func TestDecodeResponseError(t *testing.T) {
	f, err := Decode([]byte(`{"type":"res","id":"9","ok":false,"payload":{"ignored":true},"error":{"code":"NOT_PAIRED","message":"pair first","details":{"x":1}}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := f.(*Response)
	if resp.OK {
		t.Fatalf("expected ok=false")
	}
	if resp.Payload != nil {
		t.Fatalf("payload must be dropped on failed response, got %s", resp.Payload)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotPaired || resp.Error.Message != "pair first" {
		t.Fatalf("unexpected error shape: %+v", resp.Error)
	}
	if string(resp.Error.Details) != `{"x":1}` {
		t.Fatalf("details = %s", resp.Error.Details)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	inputs := []string{
		``,
		`not json`,
		`{"id":"1"}`,
		`{"type":"bogus"}`,
		`{"type":"event"}`,
		`{"type":"res","ok":true}`,
		`{"type":"req","id":"1"}`,
	}
	for _, in := range inputs {
		_, err := Decode([]byte(in))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Decode(%q) error = %v; want *DecodeError", in, err)
		}
	}
}

func TestEncodeRequestAndEvent(t *testing.T) {
	req, err := NewRequest("7", MethodChatSend, map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "req" || m["id"] != "7" || m["method"] != "chat.send" {
		t.Fatalf("unexpected request wire form: %s", data)
	}

	ev, _ := NewEvent(EventTick, nil)
	data, err = Encode(ev)
	if err != nil {
		t.Fatalf("Encode event: %v", err)
	}
	if !strings.Contains(string(data), `"event":"tick"`) || strings.Contains(string(data), "payload") {
		t.Fatalf("unexpected event wire form: %s", data)
	}
}

func TestEncodeFailedResponseDefaultsError(t *testing.T) {
	data, err := Encode(&Response{ID: "3", OK: false})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := f.(*Response)
	if resp.Error == nil || resp.Error.Code != ErrCodeUnavailable {
		t.Fatalf("expected default error shape, got %+v", resp.Error)
	}
}

func TestNewConnectParamsAuthShapes(t *testing.T) {
	info := ClientInfo{ID: "prsm", DisplayName: "PRSM", Version: "dev", Platform: "linux", Mode: "cli"}

	p := NewConnectParams(info, AuthModeToken, "tok", "pw", nil)
	if p.Auth == nil || p.Auth.Token != "tok" || p.Auth.Password != "" {
		t.Fatalf("token mode auth = %+v", p.Auth)
	}
	p = NewConnectParams(info, AuthModePassword, "tok", "pw", nil)
	if p.Auth == nil || p.Auth.Password != "pw" || p.Auth.Token != "" {
		t.Fatalf("password mode auth = %+v", p.Auth)
	}
	p = NewConnectParams(info, AuthModeNone, "tok", "pw", nil)
	if p.Auth != nil {
		t.Fatalf("none mode should omit auth, got %+v", p.Auth)
	}
	if p.MinProtocol != 3 || p.MaxProtocol != 3 || p.Role != "operator" {
		t.Fatalf("unexpected protocol bounds: %+v", p)
	}

	raw, _ := json.Marshal(NewConnectParams(info, AuthModeToken, "", "", nil))
	if strings.Contains(string(raw), `"auth"`) {
		t.Fatalf("empty token should omit auth: %s", raw)
	}
}

func TestIsHelloOK(t *testing.T) {
	if _, ok := IsHelloOK(json.RawMessage(`{"type":"hello-ok","protocol":3,"server":{"version":"1.2","connId":"c1"}}`)); !ok {
		t.Fatalf("expected hello-ok")
	}
	if _, ok := IsHelloOK(json.RawMessage(`{"type":"other"}`)); ok {
		t.Fatalf("unexpected hello-ok for other type")
	}
	if _, ok := IsHelloOK(nil); ok {
		t.Fatalf("unexpected hello-ok for empty payload")
	}
}
