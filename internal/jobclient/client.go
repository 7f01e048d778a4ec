package jobclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

type Client struct {
	mu    sync.Mutex
	state State

	our       types.Address
	transport bus.Transport
	store     StateStore
	images    ImageSink
	log       zerolog.Logger

	pubMu sync.RWMutex
	pub   EventPublisher

	routerTimeout    time.Duration
	sequencerTimeout time.Duration

	// pending holds RunJob forwards the router has not answered yet, by
	// message ID. Guarded by mu.
	pending map[string]pendingForward

	startTime     time.Time
	jobsSubmitted uint64
	imagesSaved   uint64
	lastErr       string
}

// New constructs a Client and loads its persisted state. A missing or
// unreadable state starts from the default state.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Our.IsZero() {
		return nil, errors.New("jobclient: our address is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("jobclient: transport is required")
	}
	if cfg.StateStore == nil {
		return nil, errors.New("jobclient: state store is required")
	}
	if cfg.Images == nil {
		return nil, errors.New("jobclient: image sink is required")
	}
	c := &Client{
		our:              cfg.Our,
		transport:        cfg.Transport,
		store:            cfg.StateStore,
		images:           cfg.Images,
		pub:              cfg.Publisher,
		log:              cfg.Logger.With().Str("process", cfg.Our.Process.Process).Logger(),
		routerTimeout:    cfg.RouterTimeout,
		sequencerTimeout: cfg.SequencerTimeout,
		startTime:        time.Now(),
		pending:          make(map[string]pendingForward),
	}
	if c.pub == nil {
		c.pub = noopPublisher{}
	}
	if c.routerTimeout <= 0 {
		c.routerTimeout = defaultRouterTimeout
	}
	if c.sequencerTimeout <= 0 {
		c.sequencerTimeout = defaultSequencerTimeout
	}
	c.state = c.loadState(ctx)
	c.log.Info().Str("node", c.our.String()).Msg("begin")
	return c, nil
}

// SetEventPublisher replaces the event publisher; nil restores the no-op.
func (c *Client) SetEventPublisher(p EventPublisher) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	c.pub = p
}

// Our returns the address this client answers as.
func (c *Client) Our() types.Address { return c.our }

// Ready reports whether RunJob can be forwarded: both the router process and
// the rollup sequencer are set.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.RouterProcess != nil && c.state.RollupSequencer != nil
}

// Snapshot returns a read-only view of the client state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot()
}

// Status builds a detailed status response for /status.
func (c *Client) Status() types.StatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.state.snapshot()
	resp := types.StatusResponse{
		Node:               c.our.String(),
		Ready:              snap.RouterProcess != nil && snap.RollupSequencer != nil,
		Routers:            snap.Routers,
		Members:            snap.Members,
		CurrentJob:         snap.CurrentJob,
		LastError:          c.lastErr,
		UptimeSeconds:      int64(time.Since(c.startTime).Seconds()),
		ServerTimeUnix:     time.Now().Unix(),
		JobsSubmittedTotal: c.jobsSubmitted,
		ImagesSavedTotal:   c.imagesSaved,
	}
	if snap.RouterProcess != nil {
		resp.RouterProcess = snap.RouterProcess.String()
	}
	if snap.RollupSequencer != nil {
		resp.RollupSequencer = snap.RollupSequencer.String()
	}
	if resp.Routers == nil {
		resp.Routers = []string{}
	}
	return resp
}

// recordErr remembers the last handler error for Status. Callers hold c.mu.
func (c *Client) recordErr(err error) {
	if err != nil {
		c.lastErr = err.Error()
	}
}
