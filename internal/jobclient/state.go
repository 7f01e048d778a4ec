package jobclient

import (
	"context"
	"encoding/json"
	"fmt"
)

func (c *Client) loadState(ctx context.Context) State {
	b, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("load state failed; starting from defaults")
		return State{}
	}
	if len(b) == 0 {
		return State{}
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		c.log.Warn().Err(err).Msg("decode state failed; starting from defaults")
		return State{}
	}
	return s
}

// save persists c.state. Callers hold c.mu.
func (c *Client) save(ctx context.Context) error {
	b, err := json.Marshal(&c.state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := c.store.Save(ctx, b); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
