package jobclient

import (
	"time"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// pendingTTL bounds how long an unanswered RunJob forward is remembered.
const pendingTTL = 10 * time.Minute

type pendingForward struct {
	target types.Address
	sent   time.Time
}

// trackForward remembers a forward whose answer will arrive as a separate
// response message. Callers hold c.mu.
func (c *Client) trackForward(fwd bus.Message, now time.Time) {
	for id, p := range c.pending {
		if now.Sub(p.sent) > pendingTTL {
			delete(c.pending, id)
		}
	}
	c.pending[fwd.ID] = pendingForward{target: fwd.Target, sent: now}
}

// claimForward accepts a response only if it answers a tracked forward and
// comes from the router the forward was sent to. A claimed forward is
// forgotten, so each answer is applied once.
func (c *Client) claimForward(msg bus.Message, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[msg.ID]
	if !ok || now.Sub(p.sent) > pendingTTL {
		delete(c.pending, msg.ID)
		return errBadRequest("response %q answers no pending request", msg.ID)
	}
	if msg.Source != p.target {
		return forbiddenError{source: msg.Source.String(), why: "response " + msg.ID + " must come from " + p.target.String()}
	}
	delete(c.pending, msg.ID)
	return nil
}
