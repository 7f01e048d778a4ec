package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Our own address.
	// example: fake.os@client:comfyui_client:nick1udwig.os
	Node string `json:"node" example:"fake.os@client:comfyui_client:nick1udwig.os"`
	// True once both the router process and the rollup sequencer are set.
	Ready bool `json:"ready"`
	// Configured router process id, empty until SetRouterProcess.
	RouterProcess string `json:"router_process,omitempty"`
	// Configured rollup sequencer address, empty until SetRollupSequencer.
	RollupSequencer string `json:"rollup_sequencer,omitempty"`
	// Router nodes from the last fetched chain state.
	Routers []string `json:"routers"`
	// Number of DAO members in the last fetched chain state.
	// example: 3
	Members int `json:"members" example:"3"`
	// Job whose images are currently being received, if any.
	CurrentJob *CurrentJob `json:"current_job,omitempty"`
	// Last error observed while handling a message.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// RunJob requests forwarded to the router.
	// example: 12
	JobsSubmittedTotal uint64 `json:"jobs_submitted_total" example:"12"`
	// Images written to the image sink.
	// example: 40
	ImagesSavedTotal uint64 `json:"images_saved_total" example:"40"`
}

// EventMessage is one frame of the GET /events stream.
type EventMessage struct {
	// example: image_saved
	Name     string         `json:"name" example:"image_saved"`
	JobID    uint64         `json:"job_id,omitempty" example:"42"`
	Fields   map[string]any `json:"fields,omitempty"`
	TimeUnix int64          `json:"time_unix" example:"1700000000"`
}
