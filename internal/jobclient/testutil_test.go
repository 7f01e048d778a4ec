package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

var (
	ourAddr    = types.Address{Node: "client.os", Process: types.ProcessID{Process: "client", Package: "comfyui_provider", Publisher: "nick1udwig.os"}}
	routerPID  = types.ProcessID{Process: "router", Package: "comfyui_provider", Publisher: "nick1udwig.os"}
	seqAddr    = types.Address{Node: "seq.os", Process: types.ProcessID{Process: "sequencer", Package: "comfyui_provider", Publisher: "nick1udwig.os"}}
	routerNode = "router.os"
)

// memStore keeps the serialized state in memory.
type memStore struct {
	mu      sync.Mutex
	b       []byte
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]byte(nil), s.b...), nil
}

func (s *memStore) Save(_ context.Context, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.b = append([]byte(nil), b...)
	s.saves++
	return nil
}

func (s *memStore) state(t *testing.T) State {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var st State
	if err := json.Unmarshal(s.b, &st); err != nil {
		t.Fatalf("decode saved state: %v", err)
	}
	return st
}

// memSink records images by name.
type memSink struct {
	mu     sync.Mutex
	images map[string][]byte
	order  []string
	err    error
	onPut  func()
}

func (s *memSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if s.onPut != nil {
		s.onPut()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.images == nil {
		s.images = map[string][]byte{}
	}
	s.images[name] = append([]byte(nil), data...)
	s.order = append(s.order, name)
	return "mem://" + name, nil
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// fakeNet answers as the sequencer and the router.
type fakeNet struct {
	mu       sync.Mutex
	chain    types.OnChainDaoState
	run      *types.RunResponse // nil: router replies with nothing
	routeErr error
	seqErr   error
	sent     []bus.Message
}

func (n *fakeNet) Send(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	chain, run, routeErr, seqErr := n.chain, n.run, n.routeErr, n.seqErr
	n.mu.Unlock()

	switch {
	case msg.Target == seqAddr:
		if seqErr != nil {
			return nil, seqErr
		}
		var req types.SequencerRequest
		if err := json.Unmarshal(msg.Blob, &req); err != nil {
			return nil, &bus.RemoteError{Target: msg.Target, Status: 400, Message: err.Error()}
		}
		blob, err := json.Marshal(types.SequencerResponse{Read: &types.ReadResponse{Kind: types.ReadAll, All: &chain}})
		if err != nil {
			return nil, err
		}
		return msg.Reply(nil, blob)
	case msg.Target.Process == routerPID:
		if routeErr != nil {
			return nil, routeErr
		}
		if run == nil {
			return nil, nil
		}
		return msg.Reply(types.PublicResponse{RunJob: run}, nil)
	}
	return nil, &bus.SendError{Kind: bus.SendOffline, Target: msg.Target, Err: errors.New("unknown target")}
}

func (n *fakeNet) sentTo(addr types.Address) []bus.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []bus.Message
	for _, m := range n.sent {
		if m.Target == addr {
			out = append(out, m)
		}
	}
	return out
}

// lastForwardID returns the ID of the latest message sent to the router.
func (h *harness) lastForwardID(t *testing.T) string {
	t.Helper()
	sent := h.net.sentTo(types.Address{Node: routerNode, Process: routerPID})
	if len(sent) == 0 {
		t.Fatalf("nothing was forwarded to the router")
	}
	return sent[len(sent)-1].ID
}

// routerResponse builds a RunJob answer carrying JobQueued(jobID).
func routerResponse(t *testing.T, id string, from types.Address, jobID uint64) bus.Message {
	t.Helper()
	queued := types.RunJobQueued(jobID)
	msg := bus.Message{ID: id, Source: from, Target: ourAddr, IsResponse: true}
	body, err := json.Marshal(types.PublicResponse{RunJob: &queued})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg.Body = body
	return msg
}

type harness struct {
	c     *Client
	net   *fakeNet
	store *memStore
	sink  *memSink
	pub   *MemoryPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		net:   &fakeNet{chain: types.OnChainDaoState{Routers: []string{routerNode}, Members: map[string]string{"m1.os": "0xabc"}}},
		store: &memStore{},
		sink:  &memSink{},
		pub:   NewMemoryPublisher(),
	}
	h.c = h.newClient(t)
	return h
}

// newClient builds a client over the harness fakes, reloading saved state.
func (h *harness) newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(testCtx(t), Config{
		Our:              ourAddr,
		Transport:        h.net,
		StateStore:       h.store,
		Images:           h.sink,
		Publisher:        h.pub,
		Logger:           zerolog.Nop(),
		RouterTimeout:    time.Second,
		SequencerTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// configure sets the router process and the rollup sequencer as our node.
func (h *harness) configure(t *testing.T) {
	t.Helper()
	h.admin(t, types.AdminRequest{SetRouterProcess: &types.SetRouterProcess{ProcessID: routerPID.String()}})
	h.admin(t, types.AdminRequest{SetRollupSequencer: &types.SetRollupSequencer{Address: seqAddr.String()}})
}

func (h *harness) admin(t *testing.T, req types.AdminRequest) *bus.Message {
	t.Helper()
	msg, err := bus.NewRequest(ourAddr, ourAddr, req)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	reply, err := h.c.HandleMessage(testCtx(t), msg)
	if err != nil {
		t.Fatalf("admin %s: %v", req.Op(), err)
	}
	return reply
}

func runJobMessage(t *testing.T, from types.Address) bus.Message {
	t.Helper()
	params := types.JobParameters{Workflow: "basic", Parameters: `{"positive_prompt":"a cat"}`}
	msg, err := bus.NewRequest(from, ourAddr, types.PublicRequest{RunJob: &params})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	msg.ExpectsResponse = true
	return msg
}

func jobUpdateMessage(t *testing.T, jobID uint64, final bool, blob []byte) bus.Message {
	t.Helper()
	from := types.Address{Node: routerNode, Process: routerPID}
	upd := types.JobUpdate{JobID: jobID, IsFinal: final, Signature: types.SignatureOk(1)}
	msg, err := bus.NewRequest(from, ourAddr, types.PublicRequest{JobUpdate: &upd})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	msg.Blob = blob
	msg.ExpectsResponse = true
	return msg
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
