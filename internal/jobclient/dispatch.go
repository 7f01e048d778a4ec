package jobclient

import (
	"context"
	"time"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// HandleMessage handles one inbound message and returns the reply, if any.
// Requests that decode as admin requests are handled as such; anything else
// must be a public request. Responses are only taken as answers to RunJob
// forwards the router left unanswered.
func (c *Client) HandleMessage(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	start := time.Now()
	kind, reply, err := c.dispatch(ctx, msg)
	observeMessage(kind, err, time.Since(start))
	if err != nil {
		c.mu.Lock()
		c.recordErr(err)
		c.mu.Unlock()
		c.log.Error().Err(err).Str("kind", kind).Str("source", msg.Source.String()).Msg("handle message")
	}
	return reply, err
}

func (c *Client) dispatch(ctx context.Context, msg bus.Message) (string, *bus.Message, error) {
	if msg.IsResponse {
		if err := c.claimForward(msg, time.Now()); err != nil {
			return kindResponse, nil, err
		}
		var pr types.PublicResponse
		if err := msg.DecodeBody(&pr); err != nil {
			return kindResponse, nil, errBadRequest("decode response: %v", err)
		}
		_, err := c.handlePublicResponse(ctx, pr)
		return kindResponse, nil, err
	}
	var admin types.AdminRequest
	if err := msg.DecodeBody(&admin); err == nil {
		reply, err := c.handleAdmin(ctx, msg, admin)
		return kindAdmin, reply, err
	}
	var req types.PublicRequest
	if err := msg.DecodeBody(&req); err != nil {
		return kindUnknown, nil, errBadRequest("decode request: %v", err)
	}
	switch {
	case req.RunJob != nil:
		reply, err := c.handleRunJob(ctx, msg, *req.RunJob)
		return kindRunJob, reply, err
	case req.JobUpdate != nil:
		reply, err := c.handleJobUpdate(ctx, msg, *req.JobUpdate)
		return kindJobUpdate, reply, err
	}
	return kindUnknown, nil, errBadRequest("empty public request")
}
