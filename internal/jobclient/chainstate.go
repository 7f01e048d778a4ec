package jobclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// FetchChainState reads the full DAO state from the rollup sequencer and
// stores it. The request and the reply both travel in the message blob.
func (c *Client) FetchChainState(ctx context.Context) error {
	c.mu.Lock()
	var seq types.Address
	if c.state.RollupSequencer != nil {
		seq = *c.state.RollupSequencer
	}
	c.mu.Unlock()
	if seq.IsZero() {
		return ErrNotConfigured("rollup sequencer must be set before chain state can be fetched")
	}

	blob, err := json.Marshal(types.SequencerRequest{Read: types.ReadAll})
	if err != nil {
		return err
	}
	req := bus.Message{
		ID:              uuid.NewString(),
		Source:          c.our,
		Target:          seq,
		Blob:            blob,
		ExpectsResponse: true,
	}
	sctx, cancel := context.WithTimeout(ctx, c.sequencerTimeout)
	defer cancel()
	resp, err := c.transport.Send(sctx, req)
	if err != nil {
		return upstreamError{op: "fetch chain state", err: err}
	}
	if resp == nil || len(resp.Blob) == 0 {
		return upstreamError{op: "fetch chain state", err: errors.New("sequencer reply carried no blob")}
	}
	var sr types.SequencerResponse
	if err := json.Unmarshal(resp.Blob, &sr); err != nil {
		return upstreamError{op: "fetch chain state", err: err}
	}
	if sr.Read == nil || sr.Read.Kind != types.ReadAll || sr.Read.All == nil {
		return upstreamError{op: "fetch chain state", err: errors.New("sequencer returned the wrong response")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.OnChainState = *sr.Read.All
	if err := c.save(ctx); err != nil {
		return err
	}
	c.log.Debug().Strs("routers", sr.Read.All.Routers).Int("members", len(sr.Read.All.Members)).Msg("chain state updated")
	c.publish(EventChainStateUpdated, 0, map[string]any{
		"routers": len(sr.Read.All.Routers),
		"members": len(sr.Read.All.Members),
	})
	return nil
}
