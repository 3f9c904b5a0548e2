package mock

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

// Request is one RPC call received by the mock.
type Request struct {
	Conn   *Conn
	ID     string
	Method string
	Params json.RawMessage

	after []func()
}

// Bind decodes the request params into v. Empty params leave v untouched.
func (r *Request) Bind(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return Errorf(protocol.ErrCodeInvalidRequest, "invalid %s params: %v", r.Method, err)
	}
	return nil
}

// After schedules fn to run once the response has been queued, so events it
// emits reach the client after the response.
func (r *Request) After(fn func()) { r.after = append(r.after, fn) }

// HandlerFunc serves one method. A nil error sends ok=true with the payload.
type HandlerFunc func(req *Request) (any, error)

// RPCError is a structured error returned by a handler.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Errorf builds an RPCError.
func Errorf(code, format string, args ...any) error {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func errorShape(err error) *protocol.ErrorShape {
	var rerr *RPCError
	if errors.As(err, &rerr) {
		return &protocol.ErrorShape{Code: rerr.Code, Message: rerr.Message}
	}
	return &protocol.ErrorShape{Code: protocol.ErrCodeUnavailable, Message: err.Error()}
}
