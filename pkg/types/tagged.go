package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Enums on the wire are externally tagged: a unit variant is a bare string
// ("PaymentRequired") and a data variant is a single-key object
// ({"JobQueued":{"job_id":7}}).

// splitTagged returns the variant tag and, for data variants, its payload.
func splitTagged(b []byte) (string, json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return "", nil, fmt.Errorf("empty enum value")
	}
	if b[0] == '"' {
		var tag string
		if err := json.Unmarshal(b, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("enum object must have exactly one key, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}

func tagged(tag string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: payload})
}

func unitVariant(tag string) ([]byte, error) { return json.Marshal(tag) }

type unknownVariantError struct {
	enum string
	tag  string
}

func (e unknownVariantError) Error() string {
	return fmt.Sprintf("unknown %s variant %q", e.enum, e.tag)
}

type emptyEnumError struct{ enum string }

func (e emptyEnumError) Error() string { return "empty " + e.enum }

// requirePayload rejects a data variant encoded as a bare string.
func requirePayload(enum, tag string, payload json.RawMessage) error {
	if payload == nil {
		return fmt.Errorf("%s variant %q requires a payload", enum, tag)
	}
	return nil
}
