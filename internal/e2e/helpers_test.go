package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"comfyclient/internal/bus"
	"comfyclient/internal/httpapi"
	"comfyclient/internal/jobclient"
	"comfyclient/internal/notify"
	"comfyclient/internal/store"
	"comfyclient/pkg/types"
)

const (
	clientNode   = "client.os"
	providerNode = "router.os"
)

var (
	routerPID = types.ProcessID{Process: "router", Package: "comfyui_provider", Publisher: "nick1udwig.os"}
	seqAddr   = types.Address{Node: providerNode, Process: types.ProcessID{Process: "sequencer", Package: "comfyui_provider", Publisher: "nick1udwig.os"}}
	clientPID = types.ProcessID{Process: "client", Package: "comfyui_provider", Publisher: "nick1udwig.os"}
)

// provider plays the router and the rollup sequencer on one node.
type provider struct {
	t      *testing.T
	srv    *httptest.Server
	jobID  uint64
	mu     sync.Mutex
	jobs   []types.JobParameters
	client *bus.HTTPTransport
}

func newProvider(t *testing.T, jobID uint64) *provider {
	t.Helper()
	p := &provider{t: t, jobID: jobID}
	p.srv = httptest.NewServer(http.HandlerFunc(p.messages))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) seenJobs() []types.JobParameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.JobParameters(nil), p.jobs...)
}

func (p *provider) messages(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var reply *bus.Message
	var err error
	switch {
	case msg.Target == seqAddr:
		chain := types.OnChainDaoState{Routers: []string{providerNode}, Members: map[string]string{clientNode: "0x01"}}
		blob, _ := json.Marshal(types.SequencerResponse{Read: &types.ReadResponse{Kind: types.ReadAll, All: &chain}})
		reply, err = msg.Reply(nil, blob)
	case msg.Target.Process == routerPID:
		var req types.PublicRequest
		if derr := msg.DecodeBody(&req); derr != nil || req.RunJob == nil {
			http.Error(w, "expected RunJob", http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.jobs = append(p.jobs, *req.RunJob)
		p.mu.Unlock()
		run := types.RunJobQueued(p.jobID)
		reply, err = msg.Reply(types.PublicResponse{RunJob: &run}, nil)
	default:
		http.Error(w, "unknown process", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

// sendImage delivers one JobUpdate with an image to the client node.
func (p *provider) sendImage(ctx context.Context, jobID uint64, final bool, img []byte) (*bus.Message, error) {
	from := types.Address{Node: providerNode, Process: routerPID}
	to := types.Address{Node: clientNode, Process: clientPID}
	upd := types.JobUpdate{JobID: jobID, IsFinal: final, Signature: types.SignatureOk(42)}
	msg, err := bus.NewRequest(from, to, types.PublicRequest{JobUpdate: &upd})
	if err != nil {
		return nil, err
	}
	msg.Blob = img
	msg.ExpectsResponse = true
	return p.client.Send(ctx, msg)
}

type clientNodeEnv struct {
	srv       *httptest.Server
	client    *jobclient.Client
	hub       *notify.Hub
	imagesDir string
}

func newClientNode(t *testing.T, providerURL string) *clientNodeEnv {
	t.Helper()
	dir := t.TempDir()
	states, err := store.NewFileStore(dir + "/state.json")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	sink, err := store.NewDirSink(dir + "/images")
	if err != nil {
		t.Fatalf("dir sink: %v", err)
	}
	hub := notify.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)
	c, err := jobclient.New(context.Background(), jobclient.Config{
		Our:              types.Address{Node: clientNode, Process: clientPID},
		Transport:        bus.NewHTTPTransport(map[string]string{providerNode: providerURL}, nil),
		StateStore:       states,
		Images:           sink,
		Publisher:        hub,
		Logger:           zerolog.Nop(),
		RouterTimeout:    5 * time.Second,
		SequencerTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("jobclient.New: %v", err)
	}
	httpapi.SetEventStream(hub)
	t.Cleanup(func() { httpapi.SetEventStream(nil) })
	srv := httptest.NewServer(httpapi.NewMux(c))
	t.Cleanup(srv.Close)
	return &clientNodeEnv{srv: srv, client: c, hub: hub, imagesDir: dir + "/images"}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
