package hub

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"agenthub/internal/agent"
	"agenthub/internal/agent/mock"
	"agenthub/internal/state"
)

func newTestHub(t *testing.T, adapters ...agent.Adapter) *Hub {
	t.Helper()
	registry, err := agent.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return New(registry, Options{})
}

func snapshot(conversationID string, version int64, doc string) state.Event {
	return state.Event{
		ConversationID: conversationID,
		Version:        version,
		Change:         state.Change{Type: state.ChangeSnapshot, ConversationState: json.RawMessage(doc)},
	}
}

func TestIngestRoutesAndReduces(t *testing.T) {
	backend := mock.New(mock.Options{ID: "codex-local", Enabled: true, Connected: true})
	h := newTestHub(t, backend)

	h.Ingest("codex-local", snapshot("c1", 1, `{"status":"running","turns":[]}`))

	// First observed event registers the thread with its agent.
	agentID, ok := h.Index().Resolve("c1")
	if !ok || agentID != "codex-local" {
		t.Errorf("index resolve = %q, %v", agentID, ok)
	}

	thread := h.ThreadState("c1")
	if thread == nil {
		t.Fatal("no reduced state for c1")
	}
	if got := thread.Conversation.(map[string]any)["status"]; got != "running" {
		t.Errorf("status = %v", got)
	}

	if h.ThreadState("unseen") != nil {
		t.Error("state invented for unseen thread")
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	h := newTestHub(t, mock.New(mock.Options{ID: "a", Enabled: true}))

	_, ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	h.Ingest("a", snapshot("c1", 1, `{"turns":[]}`))

	select {
	case data := <-ch:
		var envelope eventEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if envelope.AgentID != "a" || envelope.ConversationID != "c1" {
			t.Errorf("envelope = %+v", envelope)
		}
	default:
		t.Fatal("no event published")
	}
}

func statusPatch(conversationID string, version int64, status string) state.Event {
	return state.Event{
		ConversationID: conversationID,
		Version:        version,
		Change: state.Change{Type: state.ChangePatches, Patches: []state.Patch{
			{Op: state.OpReplace, Path: []state.Segment{state.Key("status")}, Value: json.RawMessage(`"` + status + `"`)},
		}},
	}
}

// ThreadState hands out a deep copy: ingest rewrites the live document
// in place, so a reader's view must not change under it and must be
// safe to serialize while ingest keeps running.
func TestThreadStateCopyIsIsolated(t *testing.T) {
	h := newTestHub(t, mock.New(mock.Options{ID: "a", Enabled: true}))
	h.Ingest("a", snapshot("c1", 1, `{"status":"idle","turns":[]}`))

	before := h.ThreadState("c1")
	h.Ingest("a", statusPatch("c1", 2, "running"))
	if got := before.Conversation.(map[string]any)["status"]; got != "idle" {
		t.Errorf("reader's copy changed to %v after later ingest", got)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 200; i++ {
			h.Ingest("a", statusPatch("c1", 3+i, "running"))
		}
	}()
	for i := 0; i < 200; i++ {
		thread := h.ThreadState("c1")
		if thread == nil {
			t.Fatal("reduced state vanished")
		}
		if _, err := json.Marshal(thread.Conversation); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	wg.Wait()
}

// A failing Stop aborts the fan-out and leaves that adapter's event
// channel open; Run must still unwind and return the error.
func TestRunReturnsWhenStopFails(t *testing.T) {
	stopErr := errors.New("backend wedged")
	wedged := mock.New(mock.Options{ID: "a", Enabled: true})
	failing := mock.New(mock.Options{ID: "b", Enabled: true,
		OnStop: func(context.Context) error { return stopErr }})
	h := newTestHub(t, wedged, failing)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	wedged.Emit(snapshot("c1", 1, `{"status":"running"}`))
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, stopErr) {
			t.Errorf("Run err = %v, want the stop failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSendMessageResolvesOwner(t *testing.T) {
	backend := mock.New(mock.Options{ID: "a", Enabled: true, Connected: true})
	h := newTestHub(t, backend)
	ctx := context.Background()

	thread, err := h.StartThread(ctx, StartThreadBody{OwnerClientID: "cli_owner"})
	if err != nil {
		t.Fatalf("start thread: %v", err)
	}

	// The recorded owner wins over the override for a mapped thread.
	if err := h.SendMessage(ctx, thread.ID, SendMessageBody{Text: "hi", OwnerClientID: "cli_other"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	calls := backend.Calls()
	last := calls[len(calls)-1]
	if last != "sendMessage:"+thread.ID+":cli_owner" {
		t.Errorf("adapter saw %q, want mapped owner", last)
	}

	// Unknown thread id is a dispatch error.
	err = h.SendMessage(ctx, "nope", SendMessageBody{Text: "hi", OwnerClientID: "x"})
	if !errors.Is(err, ErrUnknownThread) {
		t.Errorf("err = %v, want ErrUnknownThread", err)
	}
}

func TestCapabilityGatedDispatch(t *testing.T) {
	backend := mock.New(mock.Options{ID: "a", Enabled: true, Connected: true})
	h := newTestHub(t, backend)
	ctx := context.Background()

	thread, err := h.StartThread(ctx, StartThreadBody{OwnerClientID: "cli_1"})
	if err != nil {
		t.Fatalf("start thread: %v", err)
	}

	// The mock has no capabilities flagged: the gate must refuse before
	// the adapter is ever invoked.
	err = h.SetCollaborationMode(ctx, thread.ID, SetModeBody{CollaborationMode: "pair"})
	var capErr *agent.ErrCapabilityUnavailable
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want ErrCapabilityUnavailable", err)
	}
	if capErr.Capability != agent.CapSetCollaborationMode {
		t.Errorf("capability = %q", capErr.Capability)
	}
	for _, call := range backend.Calls() {
		if call == "setCollaborationMode:"+thread.ID+":pair" {
			t.Error("adapter invoked despite missing capability")
		}
	}

	var noCapable *ErrNoCapableAgent
	if _, err := h.Models(ctx, 10); !errors.As(err, &noCapable) {
		t.Errorf("Models err = %v, want ErrNoCapableAgent", err)
	}
}

func TestLiveStateFallsBackToAdapter(t *testing.T) {
	backend := mock.New(mock.Options{
		ID: "a", Enabled: true, Connected: true,
		Capabilities: agent.CapabilitySet{ReadLiveState: true},
	})
	h := newTestHub(t, backend)
	ctx := context.Background()

	thread, err := h.StartThread(ctx, StartThreadBody{OwnerClientID: "cli_1"})
	if err != nil {
		t.Fatalf("start thread: %v", err)
	}

	// No broadcast seen yet: the hub proxies read-live-state.
	live, err := h.LiveState(ctx, thread.ID)
	if err != nil {
		t.Fatalf("live state: %v", err)
	}
	if live.Conversation == nil {
		t.Error("no conversation from adapter fallback")
	}

	// After an ingest, the reduced view wins.
	h.Ingest("a", snapshot(thread.ID, 3, `{"status":"reduced"}`))
	live, err = h.LiveState(ctx, thread.ID)
	if err != nil {
		t.Fatalf("live state: %v", err)
	}
	if got := live.Conversation.(map[string]any)["status"]; got != "reduced" {
		t.Errorf("conversation = %v, want reduced view", live.Conversation)
	}
	if live.OwnerClientID != "cli_1" {
		t.Errorf("owner = %q, want cli_1", live.OwnerClientID)
	}
}

func TestTraceReplayMatchesStreaming(t *testing.T) {
	h := newTestHub(t, mock.New(mock.Options{ID: "a", Enabled: true}))

	trace := h.TraceStart(TraceStartBody{Name: "repro"})

	h.Ingest("a", snapshot("c1", 1, `{"turns":[],"requests":[]}`))
	h.Ingest("a", state.Event{
		ConversationID: "c1",
		Version:        2,
		Change: state.Change{Type: state.ChangePatches, Patches: []state.Patch{
			{Op: state.OpAdd, Path: []state.Segment{state.Key("turns"), state.Index(0)}, Value: json.RawMessage(`"t0"`)},
		}},
	})

	if _, err := h.TraceMark(TraceMarkBody{TraceID: trace.ID, Label: "after-patch"}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	replayed, err := h.Replay(ReplayBody{TraceID: trace.ID})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	live := h.ThreadState("c1")
	if !reflect.DeepEqual(replayed["c1"].Conversation, live.Conversation) {
		t.Errorf("replay %v != streaming %v", replayed["c1"].Conversation, live.Conversation)
	}

	if _, err := h.Replay(ReplayBody{TraceID: "trace_missing"}); err == nil {
		t.Error("replay of unknown trace succeeded")
	}
}
