package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

type callResult struct {
	payload json.RawMessage
	err     error
}

// pendingCall is settled exactly once: whoever deletes it from the pending
// table under the lock owns the single send on done.
type pendingCall struct {
	method string
	done   chan callResult
	timer  *time.Timer
	// onOK runs on the reader goroutine, under c.mu, before the caller wakes.
	// Events it returns are published in frame order.
	onOK func(payload json.RawMessage) []events.Event
}

// Call sends one RPC request and waits for its response, the request
// timeout, or ctx. It fails with ErrNotConnected, without sending anything,
// unless the handshake has completed.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.invoke(ctx, method, params, nil)
}

func (c *Client) invoke(ctx context.Context, method string, params any, onOK func(json.RawMessage) []events.Event) (json.RawMessage, error) {
	start := time.Now()
	payload, err := c.call(ctx, method, params, onOK)
	if obs := c.opts.CallObserver; obs != nil {
		obs(CallRecord{Method: method, Duration: time.Since(start), Err: err})
	}
	return payload, err
}

func (c *Client) call(ctx context.Context, method string, params any, onOK func(json.RawMessage) []events.Event) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = b
	}

	c.mu.Lock()
	if c.state != StateAuthenticated || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := c.nextIDLocked()
	data, err := protocol.Encode(&protocol.Request{ID: id, Method: method, Params: raw})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	p := &pendingCall{method: method, done: make(chan callResult, 1), onOK: onOK}
	timeout := c.opts.RequestTimeout
	p.timer = time.AfterFunc(timeout, func() { c.expire(id, p, timeout) })
	c.pending[id] = p
	conn := c.conn
	c.mu.Unlock()

	if err := conn.Write(ctx, data); err != nil {
		if c.take(id, p) {
			return nil, fmt.Errorf("send %s: %w", method, err)
		}
		// already settled by a teardown
		res := <-p.done
		return res.payload, res.err
	}

	select {
	case res := <-p.done:
		return res.payload, res.err
	case <-ctx.Done():
		if c.take(id, p) {
			return nil, ctx.Err()
		}
		res := <-p.done
		return res.payload, res.err
	}
}

// Call is the typed form of Client.Call: it decodes the response payload
// into T. An empty payload yields the zero T.
func Call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

// take removes a still-pending call. It reports false when the call was
// already settled by someone else.
func (c *Client) take(id string, p *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] != p {
		return false
	}
	delete(c.pending, id)
	p.timer.Stop()
	return true
}

func (c *Client) expire(id string, p *pendingCall, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] != p {
		return
	}
	delete(c.pending, id)
	c.logger.Warn("request timed out", "method", p.method, "id", id, "timeout", timeout)
	p.done <- callResult{err: &RequestTimeoutError{Method: p.method, Timeout: timeout}}
}

// settleLocked routes an authenticated-state response to its caller.
// Unmatched ids, typically late replies to expired calls, are dropped.
func (c *Client) settleLocked(resp *protocol.Response) []events.Event {
	p, ok := c.pending[resp.ID]
	if !ok {
		c.logger.Debug("dropping unmatched response", "id", resp.ID)
		return nil
	}
	delete(c.pending, resp.ID)
	p.timer.Stop()

	if resp.OK {
		var evs []events.Event
		if p.onOK != nil {
			evs = p.onOK(resp.Payload)
		}
		p.done <- callResult{payload: resp.Payload}
		return evs
	}
	failed := &RequestFailedError{Method: p.method, Message: "request failed"}
	if resp.Error != nil {
		failed.Code = resp.Error.Code
		failed.Details = resp.Error.Details
		if resp.Error.Message != "" {
			failed.Message = resp.Error.Message
		}
	}
	p.done <- callResult{err: failed}
	return nil
}

func (c *Client) failPendingLocked(cause error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		p.timer.Stop()
		p.done <- callResult{err: cause}
	}
}

// PendingCalls reports how many calls await a response.
func (c *Client) PendingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
