package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"comfyclient/pkg/types"
)

// Transport delivers a message and returns the target's response, if any.
// A nil response with a nil error means the target accepted the message
// without replying.
type Transport interface {
	Send(ctx context.Context, msg Message) (*Message, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) (*Message, error)

func (f TransportFunc) Send(ctx context.Context, msg Message) (*Message, error) { return f(ctx, msg) }

// maxReplyBytes bounds a decoded reply envelope.
const maxReplyBytes = 64 << 20

// HTTPTransport posts envelopes to <base>/messages of the target node.
// Node names resolve through a static table.
type HTTPTransport struct {
	mu     sync.RWMutex
	nodes  map[string]string
	client *http.Client
}

// NewHTTPTransport builds a transport for the given node -> base URL table.
// A nil client uses http.DefaultClient; per-call deadlines come from ctx.
func NewHTTPTransport(nodes map[string]string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &HTTPTransport{nodes: make(map[string]string, len(nodes)), client: client}
	for n, u := range nodes {
		t.nodes[n] = strings.TrimRight(u, "/")
	}
	return t
}

// SetNode adds or replaces the base URL of a node.
func (t *HTTPTransport) SetNode(node, baseURL string) {
	t.mu.Lock()
	t.nodes[node] = strings.TrimRight(baseURL, "/")
	t.mu.Unlock()
}

func (t *HTTPTransport) resolve(node string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.nodes[node]
	return u, ok
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) (*Message, error) {
	base, ok := t.resolve(msg.Target.Node)
	if !ok {
		return nil, &SendError{Kind: SendOffline, Target: msg.Target, Err: fmt.Errorf("unknown node %q", msg.Target.Node)}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/messages", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, msg.Target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, classify(ctx, msg.Target, err)
	}
	if resp.StatusCode/100 != 2 {
		var er types.ErrorResponse
		if json.Unmarshal(body, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(body))
		}
		return nil, &RemoteError{Target: msg.Target, Status: resp.StatusCode, Message: er.Error}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var out Message
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode reply from %s: %w", msg.Target, err)
	}
	return &out, nil
}

func classify(ctx context.Context, target types.Address, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &SendError{Kind: SendTimeout, Target: target, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &SendError{Kind: SendTimeout, Target: target, Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &SendError{Kind: SendOffline, Target: target, Err: err}
}
