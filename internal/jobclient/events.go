package jobclient

import "time"

// Event represents a client lifecycle event.
// Minimal and stable: name + job ID and optional fields via key/values.
type Event struct {
	Name   string
	JobID  uint64
	Fields map[string]any
	Time   time.Time
}

// Event names.
const (
	EventJobSubmitted      = "job_submitted"
	EventJobQueued         = "job_queued"
	EventPaymentRequired   = "payment_required"
	EventJobError          = "job_error"
	EventImageSaved        = "image_saved"
	EventJobFinal          = "job_final"
	EventRouterSet         = "router_set"
	EventSequencerSet      = "sequencer_set"
	EventChainStateUpdated = "chain_state_updated"
	EventSendError         = "send_error"
)

// EventPublisher receives events from the client. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (c *Client) publish(name string, jobID uint64, fields map[string]any) {
	c.pubMu.RLock()
	p := c.pub
	c.pubMu.RUnlock()
	p.Publish(Event{Name: name, JobID: jobID, Fields: fields, Time: time.Now()})
}
