package jobclient

import "comfyclient/pkg/types"

// State is everything the client persists between restarts.
type State struct {
	CurrentJob      *types.CurrentJob     `json:"current_job"`
	RouterProcess   *types.ProcessID      `json:"router_process"`
	RollupSequencer *types.Address        `json:"rollup_sequencer"`
	OnChainState    types.OnChainDaoState `json:"on_chain_state"`
}

// Snapshot is a read-only copy of the client state.
type Snapshot struct {
	CurrentJob      *types.CurrentJob
	RouterProcess   *types.ProcessID
	RollupSequencer *types.Address
	Routers         []string
	Members         int
}

func (s *State) snapshot() Snapshot {
	out := Snapshot{
		Routers: append([]string(nil), s.OnChainState.Routers...),
		Members: len(s.OnChainState.Members),
	}
	if s.CurrentJob != nil {
		cj := *s.CurrentJob
		out.CurrentJob = &cj
	}
	if s.RouterProcess != nil {
		rp := *s.RouterProcess
		out.RouterProcess = &rp
	}
	if s.RollupSequencer != nil {
		rs := *s.RollupSequencer
		out.RollupSequencer = &rs
	}
	return out
}
