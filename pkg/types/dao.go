package types

import (
	"encoding/json"
)

// OnChainDaoState is the provider DAO state as settled by the rollup.
type OnChainDaoState struct {
	// Router nodes; only the first is used.
	Routers []string `json:"routers"`
	// Member node -> hex-encoded account address.
	Members                     map[string]string             `json:"members"`
	Proposals                   map[uint64]ProposalInProgress `json:"proposals"`
	QueueResponseTimeoutSeconds uint8                         `json:"queue_response_timeout_seconds"`
	ServeTimeoutSeconds         uint16                        `json:"serve_timeout_seconds"`
	MaxOutstandingPayments      uint8                         `json:"max_outstanding_payments"`
	PaymentPeriodHours          uint8                         `json:"payment_period_hours"`
}

// ProposalKind names a DAO proposal variant.
type ProposalKind string

const (
	ProposalChangeRootNode                    ProposalKind = "ChangeRootNode"
	ProposalChangeQueueResponseTimeoutSeconds ProposalKind = "ChangeQueueResponseTimeoutSeconds"
	ProposalChangeMaxOutstandingPayments      ProposalKind = "ChangeMaxOutstandingPayments"
	ProposalChangePaymentPeriodHours          ProposalKind = "ChangePaymentPeriodHours"
	ProposalKick                              ProposalKind = "Kick"
)

// Proposal carries a node name (ChangeRootNode, Kick) or a small value.
type Proposal struct {
	Kind  ProposalKind
	Node  string
	Value uint8
}

func (p Proposal) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ProposalChangeRootNode, ProposalKick:
		return tagged(string(p.Kind), p.Node)
	case ProposalChangeQueueResponseTimeoutSeconds, ProposalChangeMaxOutstandingPayments, ProposalChangePaymentPeriodHours:
		return tagged(string(p.Kind), p.Value)
	}
	return nil, unknownVariantError{enum: "Proposal", tag: string(p.Kind)}
}

func (p *Proposal) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	if err := requirePayload("Proposal", tag, payload); err != nil {
		return err
	}
	*p = Proposal{Kind: ProposalKind(tag)}
	switch p.Kind {
	case ProposalChangeRootNode, ProposalKick:
		return json.Unmarshal(payload, &p.Node)
	case ProposalChangeQueueResponseTimeoutSeconds, ProposalChangeMaxOutstandingPayments, ProposalChangePaymentPeriodHours:
		return json.Unmarshal(payload, &p.Value)
	}
	return unknownVariantError{enum: "Proposal", tag: tag}
}

type ProposalInProgress struct {
	Proposal Proposal              `json:"proposal"`
	Votes    map[string]SignedVote `json:"votes"`
}

type Vote struct {
	ProposalHash uint64 `json:"proposal_hash"`
	IsYea        bool   `json:"is_yea"`
}

type SignedVote struct {
	Vote      Vote   `json:"vote"`
	Signature uint64 `json:"signature"`
}

// ReadKind selects what a sequencer Read returns.
type ReadKind string

const (
	ReadAll        ReadKind = "All"
	ReadDao        ReadKind = "Dao"
	ReadRouters    ReadKind = "Routers"
	ReadMembers    ReadKind = "Members"
	ReadProposals  ReadKind = "Proposals"
	ReadParameters ReadKind = "Parameters"
)

// SequencerRequest is {"Read":"<kind>"}.
type SequencerRequest struct {
	Read ReadKind
}

func (r SequencerRequest) MarshalJSON() ([]byte, error) {
	if r.Read == "" {
		return nil, emptyEnumError{enum: "SequencerRequest"}
	}
	return tagged("Read", string(r.Read))
}

func (r *SequencerRequest) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	if tag != "Read" {
		return unknownVariantError{enum: "SequencerRequest", tag: tag}
	}
	if err := requirePayload("SequencerRequest", tag, payload); err != nil {
		return err
	}
	var kind string
	if err := json.Unmarshal(payload, &kind); err != nil {
		return err
	}
	r.Read = ReadKind(kind)
	return nil
}

// SequencerResponse is {"Read":<ReadResponse>} or "Write".
type SequencerResponse struct {
	Read  *ReadResponse
	Write bool
}

func (r SequencerResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.Read != nil:
		return tagged("Read", r.Read)
	case r.Write:
		return unitVariant("Write")
	}
	return nil, emptyEnumError{enum: "SequencerResponse"}
}

func (r *SequencerResponse) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = SequencerResponse{}
	switch tag {
	case "Read":
		if err := requirePayload("SequencerResponse", tag, payload); err != nil {
			return err
		}
		r.Read = new(ReadResponse)
		return json.Unmarshal(payload, r.Read)
	case "Write":
		r.Write = true
		return nil
	}
	return unknownVariantError{enum: "SequencerResponse", tag: tag}
}

// ReadResponse carries data for All, Routers and Members; the other kinds
// are unit variants.
type ReadResponse struct {
	Kind    ReadKind
	All     *OnChainDaoState
	Routers []string
	Members []string
}

func (r ReadResponse) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ReadAll:
		if r.All == nil {
			return tagged(string(r.Kind), OnChainDaoState{})
		}
		return tagged(string(r.Kind), r.All)
	case ReadRouters:
		return tagged(string(r.Kind), r.Routers)
	case ReadMembers:
		return tagged(string(r.Kind), r.Members)
	case ReadDao, ReadProposals, ReadParameters:
		return unitVariant(string(r.Kind))
	}
	return nil, unknownVariantError{enum: "ReadResponse", tag: string(r.Kind)}
}

func (r *ReadResponse) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = ReadResponse{Kind: ReadKind(tag)}
	switch r.Kind {
	case ReadAll:
		if err := requirePayload("ReadResponse", tag, payload); err != nil {
			return err
		}
		r.All = new(OnChainDaoState)
		return json.Unmarshal(payload, r.All)
	case ReadRouters:
		return json.Unmarshal(payload, &r.Routers)
	case ReadMembers:
		return json.Unmarshal(payload, &r.Members)
	case ReadDao, ReadProposals, ReadParameters:
		return nil
	}
	return unknownVariantError{enum: "ReadResponse", tag: tag}
}
