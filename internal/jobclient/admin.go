package jobclient

import (
	"context"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

func (c *Client) handleAdmin(ctx context.Context, msg bus.Message, req types.AdminRequest) (*bus.Message, error) {
	if msg.Source.Node != c.our.Node {
		return nil, forbiddenError{source: msg.Source.String()}
	}
	switch {
	case req.SetRouterProcess != nil:
		pid, err := types.ParseProcessID(req.SetRouterProcess.ProcessID)
		if err != nil {
			return nil, badRequestError{msg: err.Error()}
		}
		if err := c.setRouterProcess(ctx, pid); err != nil {
			return nil, err
		}
	case req.SetRollupSequencer != nil:
		addr, err := types.ParseAddress(req.SetRollupSequencer.Address)
		if err != nil {
			return nil, badRequestError{msg: err.Error()}
		}
		if err := c.setRollupSequencer(ctx, addr); err != nil {
			return nil, err
		}
		if err := c.FetchChainState(ctx); err != nil {
			return nil, err
		}
	case req.GetRollupState:
		c.mu.Lock()
		configured := c.state.RollupSequencer != nil
		c.mu.Unlock()
		if !configured {
			// The sender gets the failure in the reply body as well.
			why := "no rollup sequencer set"
			reply, err := msg.Reply(types.AdminResponse{Op: req.Op(), Err: &why}, nil)
			if err != nil {
				return nil, err
			}
			return reply, ErrNotConfigured(why)
		}
		if err := c.FetchChainState(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, errBadRequest("empty admin request")
	}
	return msg.Reply(types.AdminResponse{Op: req.Op()}, nil)
}

func (c *Client) setRouterProcess(ctx context.Context, pid types.ProcessID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.RouterProcess = &pid
	if err := c.save(ctx); err != nil {
		return err
	}
	c.log.Info().Str("router_process", pid.String()).Msg("router process set")
	c.publish(EventRouterSet, 0, map[string]any{"process_id": pid.String()})
	return nil
}

func (c *Client) setRollupSequencer(ctx context.Context, addr types.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.RollupSequencer = &addr
	if err := c.save(ctx); err != nil {
		return err
	}
	c.log.Info().Str("rollup_sequencer", addr.String()).Msg("rollup sequencer set")
	c.publish(EventSequencerSet, 0, map[string]any{"address": addr.String()})
	return nil
}

// Bootstrap applies initial admin settings from configuration. Empty values
// and values already present in the persisted state are skipped; a failed
// chain state read is logged and left for a later GetRollupState.
func (c *Client) Bootstrap(ctx context.Context, routerProcess, rollupSequencer string) error {
	snap := c.Snapshot()
	if routerProcess != "" && snap.RouterProcess == nil {
		body := types.AdminRequest{SetRouterProcess: &types.SetRouterProcess{ProcessID: routerProcess}}
		if err := c.adminSelf(ctx, body); err != nil {
			return err
		}
	}
	if rollupSequencer != "" && snap.RollupSequencer == nil {
		addr, err := types.ParseAddress(rollupSequencer)
		if err != nil {
			return err
		}
		if err := c.setRollupSequencer(ctx, addr); err != nil {
			return err
		}
	}
	if c.Snapshot().RollupSequencer != nil {
		if err := c.FetchChainState(ctx); err != nil {
			c.log.Warn().Err(err).Msg("initial chain state read failed")
		}
	}
	return nil
}

func (c *Client) adminSelf(ctx context.Context, req types.AdminRequest) error {
	msg, err := bus.NewRequest(c.our, c.our, req)
	if err != nil {
		return err
	}
	_, err = c.HandleMessage(ctx, msg)
	return err
}
