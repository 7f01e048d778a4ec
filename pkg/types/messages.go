package types

import (
	"encoding/json"
	"fmt"
)

// PublicRequest is accepted from any node. Exactly one field is set.
type PublicRequest struct {
	RunJob *JobParameters
	// Image bytes travel in the message blob.
	JobUpdate *JobUpdate
}

func (r PublicRequest) MarshalJSON() ([]byte, error) {
	switch {
	case r.RunJob != nil:
		return tagged("RunJob", r.RunJob)
	case r.JobUpdate != nil:
		return tagged("JobUpdate", r.JobUpdate)
	}
	return nil, emptyEnumError{enum: "PublicRequest"}
}

func (r *PublicRequest) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = PublicRequest{}
	switch tag {
	case "RunJob":
		if err := requirePayload("PublicRequest", tag, payload); err != nil {
			return err
		}
		r.RunJob = new(JobParameters)
		return json.Unmarshal(payload, r.RunJob)
	case "JobUpdate":
		if err := requirePayload("PublicRequest", tag, payload); err != nil {
			return err
		}
		r.JobUpdate = new(JobUpdate)
		return json.Unmarshal(payload, r.JobUpdate)
	}
	return unknownVariantError{enum: "PublicRequest", tag: tag}
}

// JobUpdate announces one image of a job; IsFinal marks the last one.
type JobUpdate struct {
	JobID     uint64          `json:"job_id"`
	IsFinal   bool            `json:"is_final"`
	Signature SignatureResult `json:"signature"`
}

// SignatureResult is either {"Ok":<u64>} or {"Err":"..."}.
type SignatureResult struct {
	Ok  *uint64
	Err *string
}

func SignatureOk(v uint64) SignatureResult  { return SignatureResult{Ok: &v} }
func SignatureErr(s string) SignatureResult { return SignatureResult{Err: &s} }

func (s SignatureResult) MarshalJSON() ([]byte, error) {
	if s.Err != nil {
		return tagged("Err", *s.Err)
	}
	if s.Ok != nil {
		return tagged("Ok", *s.Ok)
	}
	return nil, emptyEnumError{enum: "SignatureResult"}
}

func (s *SignatureResult) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*s = SignatureResult{}
	if err := requirePayload("SignatureResult", tag, payload); err != nil {
		return err
	}
	switch tag {
	case "Ok":
		s.Ok = new(uint64)
		return json.Unmarshal(payload, s.Ok)
	case "Err":
		s.Err = new(string)
		return json.Unmarshal(payload, s.Err)
	}
	return unknownVariantError{enum: "SignatureResult", tag: tag}
}

// PublicResponse answers a PublicRequest.
type PublicResponse struct {
	RunJob    *RunResponse
	JobUpdate bool
}

func (r PublicResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.RunJob != nil:
		return tagged("RunJob", r.RunJob)
	case r.JobUpdate:
		return unitVariant("JobUpdate")
	}
	return nil, emptyEnumError{enum: "PublicResponse"}
}

func (r *PublicResponse) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = PublicResponse{}
	switch tag {
	case "RunJob":
		if err := requirePayload("PublicResponse", tag, payload); err != nil {
			return err
		}
		r.RunJob = new(RunResponse)
		return json.Unmarshal(payload, r.RunJob)
	case "JobUpdate":
		r.JobUpdate = true
		return nil
	}
	return unknownVariantError{enum: "PublicResponse", tag: tag}
}

// RunResponse is the router's verdict on a RunJob.
type RunResponse struct {
	JobQueued       *JobQueued
	PaymentRequired bool
	Error           *string
}

type JobQueued struct {
	JobID uint64 `json:"job_id"`
}

func RunJobQueued(id uint64) RunResponse { return RunResponse{JobQueued: &JobQueued{JobID: id}} }
func RunError(msg string) RunResponse    { return RunResponse{Error: &msg} }

func (r RunResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.JobQueued != nil:
		return tagged("JobQueued", r.JobQueued)
	case r.PaymentRequired:
		return unitVariant("PaymentRequired")
	case r.Error != nil:
		return tagged("Error", *r.Error)
	}
	return nil, emptyEnumError{enum: "RunResponse"}
}

func (r *RunResponse) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = RunResponse{}
	switch tag {
	case "JobQueued":
		if err := requirePayload("RunResponse", tag, payload); err != nil {
			return err
		}
		r.JobQueued = new(JobQueued)
		return json.Unmarshal(payload, r.JobQueued)
	case "PaymentRequired":
		r.PaymentRequired = true
		return nil
	case "Error":
		if err := requirePayload("RunResponse", tag, payload); err != nil {
			return err
		}
		r.Error = new(string)
		return json.Unmarshal(payload, r.Error)
	}
	return unknownVariantError{enum: "RunResponse", tag: tag}
}

func (r RunResponse) String() string {
	switch {
	case r.JobQueued != nil:
		return fmt.Sprintf("JobQueued(%d)", r.JobQueued.JobID)
	case r.PaymentRequired:
		return "PaymentRequired"
	case r.Error != nil:
		return "Error(" + *r.Error + ")"
	}
	return "RunResponse(empty)"
}

// Admin operation names, shared by requests and responses.
const (
	AdminSetRouterProcess   = "SetRouterProcess"
	AdminSetRollupSequencer = "SetRollupSequencer"
	AdminGetRollupState     = "GetRollupState"
)

// AdminRequest is only honored when it comes from our own node.
type AdminRequest struct {
	SetRouterProcess   *SetRouterProcess
	SetRollupSequencer *SetRollupSequencer
	GetRollupState     bool
}

type SetRouterProcess struct {
	ProcessID string `json:"process_id" example:"provider_dao_router:provider_dao_router:nick1udwig.os"`
}

type SetRollupSequencer struct {
	Address string `json:"address" example:"fake.os@sequencer:provider_dao_rollup:nick1udwig.os"`
}

// Op returns the operation name of the set variant.
func (r AdminRequest) Op() string {
	switch {
	case r.SetRouterProcess != nil:
		return AdminSetRouterProcess
	case r.SetRollupSequencer != nil:
		return AdminSetRollupSequencer
	case r.GetRollupState:
		return AdminGetRollupState
	}
	return ""
}

func (r AdminRequest) MarshalJSON() ([]byte, error) {
	switch {
	case r.SetRouterProcess != nil:
		return tagged(AdminSetRouterProcess, r.SetRouterProcess)
	case r.SetRollupSequencer != nil:
		return tagged(AdminSetRollupSequencer, r.SetRollupSequencer)
	case r.GetRollupState:
		return unitVariant(AdminGetRollupState)
	}
	return nil, emptyEnumError{enum: "AdminRequest"}
}

func (r *AdminRequest) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	*r = AdminRequest{}
	switch tag {
	case AdminSetRouterProcess:
		if err := requirePayload("AdminRequest", tag, payload); err != nil {
			return err
		}
		r.SetRouterProcess = new(SetRouterProcess)
		return json.Unmarshal(payload, r.SetRouterProcess)
	case AdminSetRollupSequencer:
		if err := requirePayload("AdminRequest", tag, payload); err != nil {
			return err
		}
		r.SetRollupSequencer = new(SetRollupSequencer)
		return json.Unmarshal(payload, r.SetRollupSequencer)
	case AdminGetRollupState:
		r.GetRollupState = true
		return nil
	}
	return unknownVariantError{enum: "AdminRequest", tag: tag}
}

// AdminResponse is {"<Op>":{"err":null|"..."}}.
type AdminResponse struct {
	Op  string
	Err *string
}

type adminResult struct {
	Err *string `json:"err"`
}

func (r AdminResponse) MarshalJSON() ([]byte, error) {
	if r.Op == "" {
		return nil, emptyEnumError{enum: "AdminResponse"}
	}
	return tagged(r.Op, adminResult{Err: r.Err})
}

func (r *AdminResponse) UnmarshalJSON(b []byte) error {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return err
	}
	switch tag {
	case AdminSetRouterProcess, AdminSetRollupSequencer, AdminGetRollupState:
	default:
		return unknownVariantError{enum: "AdminResponse", tag: tag}
	}
	if err := requirePayload("AdminResponse", tag, payload); err != nil {
		return err
	}
	var res adminResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return err
	}
	*r = AdminResponse{Op: tag, Err: res.Err}
	return nil
}
