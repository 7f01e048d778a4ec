package jobclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

func TestImageName(t *testing.T) {
	cases := []struct {
		id    uint64
		final bool
		n     uint32
		want  string
	}{
		{7, false, 0, "7-0.jpg"},
		{7, false, 12, "7-12.jpg"},
		{7, true, 3, "7-final.jpg"},
	}
	for _, tc := range cases {
		if got := ImageName(tc.id, tc.final, tc.n); got != tc.want {
			t.Fatalf("ImageName(%d,%v,%d) = %q, want %q", tc.id, tc.final, tc.n, got, tc.want)
		}
	}
}

func TestRunJob_NotConfigured(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr))
	if !IsNotConfigured(err) {
		t.Fatalf("want not configured, got %v", err)
	}

	h.admin(t, types.AdminRequest{SetRouterProcess: &types.SetRouterProcess{ProcessID: routerPID.String()}})
	_, err = h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr))
	if !IsNotConfigured(err) {
		t.Fatalf("want not configured without sequencer, got %v", err)
	}
	if len(h.net.sentTo(types.Address{Node: routerNode, Process: routerPID})) != 0 {
		t.Fatalf("nothing may be forwarded before configuration")
	}
}

func TestRunJob_NoRouterInChainState(t *testing.T) {
	h := newHarness(t)
	h.net.chain.Routers = nil
	h.configure(t)
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); !IsNotConfigured(err) {
		t.Fatalf("want not configured with empty router list, got %v", err)
	}
}

func TestRunJob_InvalidParameters(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	params := types.JobParameters{Workflow: "basic", Parameters: "{not json"}
	msg, _ := bus.NewRequest(ourAddr, ourAddr, types.PublicRequest{RunJob: &params})
	if _, err := h.c.HandleMessage(testCtx(t), msg); !IsBadRequest(err) {
		t.Fatalf("want bad request, got %v", err)
	}
}

func TestRunJob_JobQueued(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	queued := types.RunJobQueued(7)
	h.net.run = &queued

	in := runJobMessage(t, ourAddr)
	reply, err := h.c.HandleMessage(testCtx(t), in)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	var pr types.PublicResponse
	if err := reply.DecodeBody(&pr); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if pr.RunJob == nil || pr.RunJob.JobQueued == nil || pr.RunJob.JobQueued.JobID != 7 {
		t.Fatalf("unexpected reply %s", reply.Body)
	}
	if reply.ID != in.ID {
		t.Fatalf("reply must keep the request id")
	}

	router := types.Address{Node: routerNode, Process: routerPID}
	fwd := h.net.sentTo(router)
	if len(fwd) != 1 {
		t.Fatalf("want one forwarded request, got %d", len(fwd))
	}
	if !bytes.Equal(fwd[0].Body, in.Body) || fwd[0].Source != ourAddr || !fwd[0].ExpectsResponse {
		t.Fatalf("forwarded request differs: %+v", fwd[0])
	}

	st := h.store.state(t)
	if st.CurrentJob == nil || st.CurrentJob.JobID != 7 || st.CurrentJob.NextImageNumber != 0 {
		t.Fatalf("current job = %+v", st.CurrentJob)
	}
	if s := h.c.Status(); s.JobsSubmittedTotal != 1 {
		t.Fatalf("jobs submitted = %d", s.JobsSubmittedTotal)
	}
}

func TestRunJob_PaymentRequiredAndError(t *testing.T) {
	h := newHarness(t)
	h.configure(t)

	for _, run := range []types.RunResponse{{PaymentRequired: true}, types.RunError("no capacity")} {
		run := run
		h.net.run = &run
		reply, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr))
		if err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		var pr types.PublicResponse
		if err := reply.DecodeBody(&pr); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if pr.RunJob == nil || pr.RunJob.String() != run.String() {
			t.Fatalf("reply %s, want %s", reply.Body, run.String())
		}
		if h.c.Snapshot().CurrentJob != nil {
			t.Fatalf("%s must not set a current job", run.String())
		}
	}
	names := h.pub.Names()
	var sawPayment, sawError bool
	for _, n := range names {
		sawPayment = sawPayment || n == EventPaymentRequired
		sawError = sawError || n == EventJobError
	}
	if !sawPayment || !sawError {
		t.Fatalf("events = %v", names)
	}
}

func TestRunJob_SendErrorClearsCurrentJob(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	queued := types.RunJobQueued(3)
	h.net.run = &queued
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	h.net.routeErr = &bus.SendError{Kind: bus.SendTimeout, Target: types.Address{Node: routerNode, Process: routerPID}, Err: errors.New("deadline")}
	_, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr))
	if !IsUpstream(err) || !bus.IsTimeout(err) {
		t.Fatalf("want upstream timeout, got %v", err)
	}
	if h.store.state(t).CurrentJob != nil {
		t.Fatalf("send error must clear the persisted current job")
	}
	evts := h.pub.Events()
	last := evts[len(evts)-1]
	if last.Name != EventSendError || last.JobID != 3 {
		t.Fatalf("last event = %+v", last)
	}
}

func TestRunJob_RemoteErrorKeepsCurrentJob(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	queued := types.RunJobQueued(3)
	h.net.run = &queued
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	h.net.routeErr = &bus.RemoteError{Status: 500, Message: "boom"}
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); !IsUpstream(err) {
		t.Fatalf("want upstream error, got %v", err)
	}
	if h.c.Snapshot().CurrentJob == nil {
		t.Fatalf("a remote error is not a send error; job must stay")
	}
}

func TestRunJob_AsyncRouterResponse(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	// Router accepts the request without answering inline.
	reply, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr))
	if err != nil || reply != nil {
		t.Fatalf("want no inline reply, got %v %v", reply, err)
	}

	resp := routerResponse(t, h.lastForwardID(t), types.Address{Node: routerNode, Process: routerPID}, 11)
	if _, err := h.c.HandleMessage(testCtx(t), resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if cj := h.c.Snapshot().CurrentJob; cj == nil || cj.JobID != 11 {
		t.Fatalf("current job = %+v", cj)
	}

	// Each forward is answered once.
	if _, err := h.c.HandleMessage(testCtx(t), resp); !IsBadRequest(err) {
		t.Fatalf("want bad request for a repeated response, got %v", err)
	}
}

func TestRunJob_MalformedRouterResponse(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	resp := routerResponse(t, h.lastForwardID(t), types.Address{Node: routerNode, Process: routerPID}, 11)
	resp.Body = json.RawMessage(`{"Nope":1}`)
	if _, err := h.c.HandleMessage(testCtx(t), resp); !IsBadRequest(err) {
		t.Fatalf("want bad request for a malformed response, got %v", err)
	}
}

func TestRunJob_UnsolicitedResponseRejected(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	queued := types.RunJobQueued(5)
	h.net.run = &queued
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	evil := types.Address{Node: "evil.os", Process: types.ProcessID{Process: "x", Package: "y", Publisher: "z"}}
	resp := routerResponse(t, "never-sent", evil, 999)
	if _, err := h.c.HandleMessage(testCtx(t), resp); !IsBadRequest(err) {
		t.Fatalf("want bad request for a response to nothing, got %v", err)
	}
	if cj := h.c.Snapshot().CurrentJob; cj == nil || cj.JobID != 5 {
		t.Fatalf("current job changed to %+v", cj)
	}
}

func TestRunJob_ResponseFromWrongSource(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	id := h.lastForwardID(t)

	evil := types.Address{Node: "evil.os", Process: routerPID}
	if _, err := h.c.HandleMessage(testCtx(t), routerResponse(t, id, evil, 999)); !IsForbidden(err) {
		t.Fatalf("want forbidden, got %v", err)
	}
	if cj := h.c.Snapshot().CurrentJob; cj != nil {
		t.Fatalf("current job set by a foreign node: %+v", cj)
	}

	// The real router can still answer.
	router := types.Address{Node: routerNode, Process: routerPID}
	if _, err := h.c.HandleMessage(testCtx(t), routerResponse(t, id, router, 11)); err != nil {
		t.Fatalf("router response: %v", err)
	}
	if cj := h.c.Snapshot().CurrentJob; cj == nil || cj.JobID != 11 {
		t.Fatalf("current job = %+v", cj)
	}
}

func TestPendingForwardsExpire(t *testing.T) {
	h := newHarness(t)
	router := types.Address{Node: routerNode, Process: routerPID}
	start := time.Now()

	h.c.mu.Lock()
	h.c.trackForward(bus.Message{ID: "old", Target: router}, start)
	h.c.trackForward(bus.Message{ID: "new", Target: router}, start.Add(pendingTTL))
	h.c.mu.Unlock()

	if err := h.c.claimForward(bus.Message{ID: "old", Source: router}, start.Add(pendingTTL+time.Second)); !IsBadRequest(err) {
		t.Fatalf("want expired forward rejected, got %v", err)
	}
	if err := h.c.claimForward(bus.Message{ID: "new", Source: router}, start.Add(pendingTTL+time.Second)); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestJobUpdate_NamesImagesAndClearsOnFinal(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	queued := types.RunJobQueued(5)
	h.net.run = &queued
	if _, err := h.c.HandleMessage(testCtx(t), runJobMessage(t, ourAddr)); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	for i, final := range []bool{false, false, true} {
		reply, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 5, final, []byte{0xff, 0xd8, byte(i)}))
		if err != nil {
			t.Fatalf("JobUpdate %d: %v", i, err)
		}
		var pr types.PublicResponse
		if err := reply.DecodeBody(&pr); err != nil || !pr.JobUpdate {
			t.Fatalf("JobUpdate %d reply %s (%v)", i, reply.Body, err)
		}
	}
	want := []string{"5-0.jpg", "5-1.jpg", "5-final.jpg"}
	got := h.sink.names()
	if len(got) != len(want) {
		t.Fatalf("images = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("images = %v, want %v", got, want)
		}
	}
	if !bytes.Equal(h.sink.images["5-1.jpg"], []byte{0xff, 0xd8, 1}) {
		t.Fatalf("image bytes not stored verbatim")
	}
	if h.store.state(t).CurrentJob != nil {
		t.Fatalf("final image must clear the current job")
	}
	if s := h.c.Status(); s.ImagesSavedTotal != 3 {
		t.Fatalf("images saved = %d", s.ImagesSavedTotal)
	}
	evts := h.pub.Events()
	last := evts[len(evts)-1]
	if last.Name != EventJobFinal || last.JobID != 5 || last.Fields["location"] != "mem://5-final.jpg" {
		t.Fatalf("last event = %+v", last)
	}
}

func TestJobUpdate_WithoutCurrentJobAdoptsIt(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 9, false, []byte("img"))); err != nil {
		t.Fatalf("JobUpdate: %v", err)
	}
	st := h.store.state(t)
	if st.CurrentJob == nil || st.CurrentJob.JobID != 9 || st.CurrentJob.NextImageNumber != 1 {
		t.Fatalf("current job = %+v", st.CurrentJob)
	}

	// An update for a different job switches to it and restarts numbering.
	if _, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 10, false, []byte("img"))); err != nil {
		t.Fatalf("JobUpdate: %v", err)
	}
	if got := h.sink.names(); got[len(got)-1] != "10-0.jpg" {
		t.Fatalf("images = %v", got)
	}
}

func TestJobUpdate_NoBlob(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 1, false, nil))
	if !IsBadRequest(err) {
		t.Fatalf("want bad request, got %v", err)
	}
	if len(h.sink.names()) != 0 {
		t.Fatalf("no image may be written")
	}
}

func TestJobUpdate_SinkFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("disk full")
	if _, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 1, false, []byte("x"))); err == nil {
		t.Fatalf("want error when the image cannot be stored")
	}
}

func TestJobUpdate_StoresImageWithoutHoldingLock(t *testing.T) {
	h := newHarness(t)
	// A sink that reads client state while storing would block forever if
	// the client lock were held across Put.
	h.sink.onPut = func() { _ = h.c.Status() }
	done := make(chan error, 1)
	go func() {
		_, err := h.c.HandleMessage(testCtx(t), jobUpdateMessage(t, 3, false, []byte("x")))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("JobUpdate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("JobUpdate blocked while storing the image")
	}
	if st := h.c.Status(); st.ImagesSavedTotal != 1 {
		t.Fatalf("images saved = %d", st.ImagesSavedTotal)
	}
}

func TestJobUpdate_NoReplyWhenNotExpected(t *testing.T) {
	h := newHarness(t)
	msg := jobUpdateMessage(t, 2, false, []byte("x"))
	msg.ExpectsResponse = false
	reply, err := h.c.HandleMessage(testCtx(t), msg)
	if err != nil || reply != nil {
		t.Fatalf("want no reply, got %v %v", reply, err)
	}
}

func TestHandleMessage_Unknown(t *testing.T) {
	h := newHarness(t)
	msg := bus.Message{ID: "x", Source: ourAddr, Target: ourAddr, Body: json.RawMessage(`{"Hello":1}`)}
	if _, err := h.c.HandleMessage(testCtx(t), msg); !IsBadRequest(err) {
		t.Fatalf("want bad request, got %v", err)
	}
}
