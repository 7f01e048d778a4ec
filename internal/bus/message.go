// Package bus carries messages between processes addressed as
// node@process:package:publisher. Requests and responses share one envelope;
// structured data travels in Body and raw bytes (images, sequencer payloads)
// in Blob.
package bus

import (
	"encoding/json"

	"github.com/google/uuid"

	"comfyclient/pkg/types"
)

// Message is the envelope exchanged between nodes.
type Message struct {
	ID              string          `json:"id"`
	Source          types.Address   `json:"source"`
	Target          types.Address   `json:"target"`
	Body            json.RawMessage `json:"body,omitempty"`
	Blob            []byte          `json:"blob,omitempty"`
	ExpectsResponse bool            `json:"expects_response,omitempty"`
	IsResponse      bool            `json:"is_response,omitempty"`
}

// NewRequest builds a request whose body is body encoded as JSON.
// A nil body leaves Body empty.
func NewRequest(source, target types.Address, body any) (Message, error) {
	m := Message{ID: uuid.NewString(), Source: source, Target: target}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Message{}, err
		}
		m.Body = b
	}
	return m, nil
}

// Reply builds the response to m. The response keeps m's ID so the
// requester can correlate it.
func (m Message) Reply(body any, blob []byte) (*Message, error) {
	r := &Message{
		ID:         m.ID,
		Source:     m.Target,
		Target:     m.Source,
		Blob:       blob,
		IsResponse: true,
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r.Body = b
	}
	return r, nil
}

func (m Message) IsRequest() bool { return !m.IsResponse }

// DecodeBody unmarshals Body into v.
func (m Message) DecodeBody(v any) error { return json.Unmarshal(m.Body, v) }
