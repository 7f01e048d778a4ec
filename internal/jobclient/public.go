package jobclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// ImageName is the file name of image n of a job, or of its final image.
func ImageName(jobID uint64, final bool, n uint32) string {
	suffix := strconv.FormatUint(uint64(n), 10)
	if final {
		suffix = "final"
	}
	return strconv.FormatUint(jobID, 10) + "-" + suffix + ".jpg"
}

// handleRunJob forwards the request body unchanged to the first router node
// of the chain state and processes the router's answer.
func (c *Client) handleRunJob(ctx context.Context, msg bus.Message, params types.JobParameters) (*bus.Message, error) {
	if err := params.Validate(); err != nil {
		return nil, badRequestError{msg: err.Error()}
	}
	c.mu.Lock()
	router, seq := c.state.RouterProcess, c.state.RollupSequencer
	routers := append([]string(nil), c.state.OnChainState.Routers...)
	c.mu.Unlock()
	if router == nil {
		return nil, ErrNotConfigured("cannot send job until SetRouterProcess")
	}
	if seq == nil {
		return nil, ErrNotConfigured("cannot send job until SetRollupSequencer")
	}
	if len(routers) == 0 {
		return nil, ErrNotConfigured("rollup state lists no router node; try GetRollupState")
	}

	target := types.Address{Node: routers[0], Process: *router}
	fwd := bus.Message{
		ID:              uuid.NewString(),
		Source:          c.our,
		Target:          target,
		Body:            msg.Body,
		ExpectsResponse: true,
	}
	c.log.Info().Str("workflow", params.Workflow).Str("router", target.String()).Msg("forwarding job")
	sctx, cancel := context.WithTimeout(ctx, c.routerTimeout)
	defer cancel()
	resp, err := c.transport.Send(sctx, fwd)
	if err != nil {
		if bus.IsSendError(err) {
			c.onSendError(ctx, err)
		}
		return nil, upstreamError{op: "forward job", err: err}
	}
	c.mu.Lock()
	c.jobsSubmitted++
	c.mu.Unlock()
	c.publish(EventJobSubmitted, 0, map[string]any{"workflow": params.Workflow, "router": target.String()})

	if resp == nil {
		// The router answers later with a response message.
		c.mu.Lock()
		c.trackForward(fwd, time.Now())
		c.mu.Unlock()
		return nil, nil
	}
	var pr types.PublicResponse
	if err := resp.DecodeBody(&pr); err != nil {
		return nil, upstreamError{op: "decode router response", err: err}
	}
	if pr.RunJob == nil {
		return nil, upstreamError{op: "forward job", err: errors.New("router did not answer RunJob")}
	}
	run, err := c.handlePublicResponse(ctx, pr)
	if err != nil {
		return nil, err
	}
	if !msg.ExpectsResponse {
		return nil, nil
	}
	return msg.Reply(types.PublicResponse{RunJob: run}, nil)
}

// handlePublicResponse applies a router answer. JobQueued makes the job
// current; PaymentRequired and Error are only reported.
func (c *Client) handlePublicResponse(ctx context.Context, pr types.PublicResponse) (*types.RunResponse, error) {
	run := pr.RunJob
	if run == nil {
		return nil, nil
	}
	switch {
	case run.JobQueued != nil:
		id := run.JobQueued.JobID
		c.mu.Lock()
		c.state.CurrentJob = &types.CurrentJob{JobID: id}
		err := c.save(ctx)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		runResponsesTotal.WithLabelValues("queued").Inc()
		c.log.Info().Uint64("job_id", id).Msg("got JobQueued")
		c.publish(EventJobQueued, id, nil)
	case run.PaymentRequired:
		runResponsesTotal.WithLabelValues("payment_required").Inc()
		c.log.Warn().Msg("got PaymentRequired")
		c.publish(EventPaymentRequired, 0, nil)
	case run.Error != nil:
		runResponsesTotal.WithLabelValues("error").Inc()
		c.log.Warn().Str("router_error", *run.Error).Msg("got RunResponse error")
		c.publish(EventJobError, 0, map[string]any{"error": *run.Error})
	}
	return run, nil
}

// onSendError drops the current job: a router that cannot be reached will
// not deliver its images.
func (c *Client) onSendError(ctx context.Context, sendErr error) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	var jobID uint64
	if c.state.CurrentJob != nil {
		jobID = c.state.CurrentJob.JobID
	}
	c.state.CurrentJob = nil
	if err := c.save(ctx); err != nil {
		c.log.Error().Err(err).Msg("save state after send error")
	}
	c.log.Warn().Err(sendErr).Msg("send error; cleared current job")
	c.publish(EventSendError, jobID, map[string]any{"error": sendErr.Error()})
}

// handleJobUpdate stores one image of the current job. An update for a job
// we are not tracking makes that job current first.
func (c *Client) handleJobUpdate(ctx context.Context, msg bus.Message, upd types.JobUpdate) (*bus.Message, error) {
	if upd.Signature.Err != nil {
		c.log.Warn().Uint64("job_id", upd.JobID).Str("signature_error", *upd.Signature.Err).Msg("job update carries a signature error")
	}

	if len(msg.Blob) == 0 {
		return nil, errBadRequest("got JobUpdate with no blob")
	}

	// Reserve the image name and persist the counter under the lock; the
	// upload itself runs unlocked.
	c.mu.Lock()
	cur := c.state.CurrentJob
	if cur == nil || cur.JobID != upd.JobID {
		ev := c.log.Warn().Uint64("job_id", upd.JobID)
		if cur == nil {
			ev.Msg("unexpectedly got JobUpdate with no current job set")
		} else {
			ev.Uint64("current_job_id", cur.JobID).Msg("JobUpdate for another job; switching current job")
		}
		// Numbering restarts at 0 for the adopted job so its images do not
		// continue the previous job's sequence.
		cur = &types.CurrentJob{JobID: upd.JobID}
		c.state.CurrentJob = cur
	}
	name := ImageName(upd.JobID, upd.IsFinal, cur.NextImageNumber)
	cur.NextImageNumber++
	images := cur.NextImageNumber
	if upd.IsFinal {
		c.state.CurrentJob = nil
	}
	err := c.save(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	loc, err := c.images.Put(ctx, name, msg.Blob)
	if err != nil {
		return nil, fmt.Errorf("write image %s: %w", name, err)
	}
	c.mu.Lock()
	c.imagesSaved++
	c.mu.Unlock()
	imagesSavedTotal.Inc()
	c.log.Info().Uint64("job_id", upd.JobID).Str("location", loc).Bool("final", upd.IsFinal).Msg("image saved")
	c.publish(EventImageSaved, upd.JobID, map[string]any{
		"name":     name,
		"location": loc,
		"bytes":    len(msg.Blob),
		"final":    upd.IsFinal,
	})
	if upd.IsFinal {
		c.publish(EventJobFinal, upd.JobID, map[string]any{"location": loc, "images": images})
	}

	if !msg.ExpectsResponse {
		return nil, nil
	}
	return msg.Reply(types.PublicResponse{JobUpdate: true}, nil)
}
