package client

import (
	"encoding/json"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

// challengeLocked answers connect.challenge with the connect request. It
// returns the encoded frame to write once the lock is released, or nil when
// the challenge is not expected.
func (c *Client) challengeLocked(ev *protocol.Event) []byte {
	if c.state != StateAwaitingChallenge {
		c.logger.Debug("ignoring unexpected challenge", "state", c.state)
		return nil
	}
	var ch protocol.Challenge
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &ch)
	}

	params := protocol.NewConnectParams(c.opts.Client, c.opts.Auth.Mode, c.opts.Auth.Token, c.opts.Auth.Password, c.opts.Scopes)
	id := c.nextIDLocked()
	req, err := protocol.NewRequest(id, protocol.MethodConnect, params)
	if err != nil {
		c.logger.Error("building connect request", "error", err)
		return nil
	}
	data, err := protocol.Encode(req)
	if err != nil {
		c.logger.Error("encoding connect request", "error", err)
		return nil
	}
	c.connectID = id
	c.state = StateAuthenticating
	c.logger.Debug("answering challenge", "auth", c.opts.Auth.Mode, "nonceLen", len(ch.Nonce))
	return data
}

// handshakeResponseLocked intercepts every response that arrives before
// authentication. A failure rejects Connect; the hello authenticates it.
func (c *Client) handshakeResponseLocked(resp *protocol.Response) ([]events.Event, *HandshakeError) {
	if !resp.OK {
		herr := &HandshakeError{Message: defaultHandshakeMessage}
		if resp.Error != nil {
			herr.Code = resp.Error.Code
			if resp.Error.Message != "" {
				herr.Message = resp.Error.Message
			}
		}
		c.finishHandshakeLocked(handshakeResult{err: herr})
		return nil, herr
	}

	hello, isHello := protocol.IsHelloOK(resp.Payload)
	if !isHello {
		if c.connectID == "" || resp.ID != c.connectID {
			c.logger.Debug("dropping response before authentication", "id", resp.ID)
			return nil, nil
		}
		hello = &protocol.HelloOK{Type: protocol.HelloOKType}
		if len(resp.Payload) > 0 {
			_ = json.Unmarshal(resp.Payload, hello)
		}
	}

	c.state = StateAuthenticated
	c.hello = hello
	c.connectID = ""
	c.attempts = 0
	c.reconnecting = false
	c.lastErr = nil
	c.stopRetryLocked()
	c.finishHandshakeLocked(handshakeResult{hello: hello})
	return []events.Event{events.Connected{Hello: hello}}, nil
}

func (c *Client) finishHandshakeLocked(res handshakeResult) {
	if c.handshake == nil {
		return
	}
	c.handshake <- res
	c.handshake = nil
}
