package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JobParameters is the payload of a RunJob request.
type JobParameters struct {
	// Name of the workflow template the provider should run.
	// example: flux_dev
	Workflow string `json:"workflow" example:"flux_dev"`
	// Serialized JSON object with the workflow inputs (see WorkflowParameters).
	Parameters string `json:"parameters"`
}

// CfgScale is a numeric guidance range.
type CfgScale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// WorkflowParameters is the typed view of JobParameters.Parameters.
// Character and Styler are provider-defined identifier objects and are kept
// as free-form maps.
type WorkflowParameters struct {
	Quality        string         `json:"quality,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	Workflow       string         `json:"workflow,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	PositivePrompt string         `json:"positive_prompt,omitempty"`
	CfgScale       *CfgScale      `json:"cfg_scale,omitempty"`
	Character      map[string]any `json:"character,omitempty"`
	Styler         map[string]any `json:"styler,omitempty"`
}

// NewJobParameters serializes p into the Parameters string.
// An empty p.Workflow is filled with workflow.
func NewJobParameters(workflow string, p WorkflowParameters) (JobParameters, error) {
	if p.Workflow == "" {
		p.Workflow = workflow
	}
	b, err := json.Marshal(p)
	if err != nil {
		return JobParameters{}, err
	}
	return JobParameters{Workflow: workflow, Parameters: string(b)}, nil
}

// Decode parses Parameters into a WorkflowParameters.
func (j JobParameters) Decode() (WorkflowParameters, error) {
	var p WorkflowParameters
	if strings.TrimSpace(j.Parameters) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(j.Parameters), &p); err != nil {
		return p, fmt.Errorf("decode parameters: %w", err)
	}
	return p, nil
}

// Validate checks the parts of a job the client can judge on its own:
// a workflow name, well-formed parameters, and an ordered cfg_scale range.
// Anything else is left to the provider.
func (j JobParameters) Validate() error {
	if strings.TrimSpace(j.Workflow) == "" {
		return fmt.Errorf("workflow is required")
	}
	if strings.TrimSpace(j.Parameters) == "" {
		return nil
	}
	if !json.Valid([]byte(j.Parameters)) {
		return fmt.Errorf("parameters must be a JSON document")
	}
	// Bounds are pointers so a missing one is not read as 0.
	var bounds struct {
		CfgScale *struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		} `json:"cfg_scale"`
	}
	if err := json.Unmarshal([]byte(j.Parameters), &bounds); err == nil && bounds.CfgScale != nil {
		lo, hi := bounds.CfgScale.Min, bounds.CfgScale.Max
		if lo != nil && hi != nil && *lo > *hi {
			return fmt.Errorf("cfg_scale min %v exceeds max %v", *lo, *hi)
		}
	}
	return nil
}

// CurrentJob tracks the job whose images are being received.
type CurrentJob struct {
	// example: 42
	JobID uint64 `json:"job_id" example:"42"`
	// example: 3
	NextImageNumber uint32 `json:"next_image_number" example:"3"`
}
