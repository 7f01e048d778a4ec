// Package notify fans client events out to interested parties: websocket
// subscribers, an AMQP queue, and e-mail on finished jobs.
package notify

import (
	"comfyclient/internal/jobclient"
	"comfyclient/pkg/types"
)

// Multi publishes every event to each of its publishers in order.
type Multi []jobclient.EventPublisher

func (m Multi) Publish(e jobclient.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// ToMessage converts an event to its wire form.
func ToMessage(e jobclient.Event) types.EventMessage {
	return types.EventMessage{
		Name:     e.Name,
		JobID:    e.JobID,
		Fields:   e.Fields,
		TimeUnix: e.Time.Unix(),
	}
}
