// Package mock provides a scriptable in-memory adapter for exercising
// the registry, dispatch, and hub layers without a real backend.
package mock

import (
	"context"
	"fmt"
	"sync"

	"agenthub/internal/agent"
	"agenthub/internal/state"
)

type Options struct {
	ID           string
	Label        string
	Enabled      bool
	Connected    bool
	Capabilities agent.CapabilitySet
	ProjectDirs  []string

	// Lifecycle hooks run inside Start/Stop; a non-nil return is
	// propagated unchanged.
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

type Adapter struct {
	opts Options

	mu        sync.Mutex
	connected bool
	threads   map[string]agent.Thread
	nextID    int
	calls     []string

	events chan state.Event
}

func New(opts Options) *Adapter {
	return &Adapter{
		opts:      opts,
		connected: opts.Connected,
		threads:   make(map[string]agent.Thread),
		events:    make(chan state.Event, 64),
	}
}

func (a *Adapter) ID() string { return a.opts.ID }

func (a *Adapter) Kind() agent.Kind { return agent.KindMock }

func (a *Adapter) Label() string { return a.opts.Label }

func (a *Adapter) IsEnabled() bool { return a.opts.Enabled }

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) SetConnected(connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = connected
}

func (a *Adapter) Capabilities() agent.CapabilitySet { return a.opts.Capabilities }

func (a *Adapter) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		ID:                 a.opts.ID,
		Kind:               agent.KindMock,
		Label:              a.opts.Label,
		Capabilities:       a.opts.Capabilities,
		ProjectDirectories: a.opts.ProjectDirs,
	}
}

// Calls lists every operation invoked so far, in order.
func (a *Adapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	calls := make([]string, len(a.calls))
	copy(calls, a.calls)
	return calls
}

func (a *Adapter) record(call string) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

// Emit pushes one state-change event onto the adapter's stream.
func (a *Adapter) Emit(event state.Event) { a.events <- event }

func (a *Adapter) Events() <-chan state.Event { return a.events }

func (a *Adapter) Start(ctx context.Context) error {
	a.record("start")
	if a.opts.OnStart != nil {
		if err := a.opts.OnStart(ctx); err != nil {
			return err
		}
	}
	a.SetConnected(true)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.record("stop")
	if a.opts.OnStop != nil {
		if err := a.opts.OnStop(ctx); err != nil {
			return err
		}
	}
	a.SetConnected(false)
	close(a.events)
	return nil
}

func (a *Adapter) ListThreads(_ context.Context, _ agent.ListThreadsOptions) (agent.ListThreadsResult, error) {
	a.record("listThreads")
	a.mu.Lock()
	defer a.mu.Unlock()
	result := agent.ListThreadsResult{}
	for _, thread := range a.threads {
		result.Threads = append(result.Threads, thread)
	}
	return result, nil
}

func (a *Adapter) CreateThread(_ context.Context, opts agent.CreateThreadOptions) (agent.Thread, error) {
	a.record("createThread")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	thread := agent.Thread{
		ID:  fmt.Sprintf("%s-thread-%d", a.opts.ID, a.nextID),
		Cwd: opts.Cwd,
	}
	a.threads[thread.ID] = thread
	return thread, nil
}

func (a *Adapter) ReadThread(_ context.Context, threadID string, _ bool) (agent.Thread, error) {
	a.record("readThread")
	a.mu.Lock()
	defer a.mu.Unlock()
	thread, ok := a.threads[threadID]
	if !ok {
		return agent.Thread{}, fmt.Errorf("mock: no thread %q", threadID)
	}
	return thread, nil
}

func (a *Adapter) SendMessage(_ context.Context, opts agent.SendMessageOptions) error {
	a.record("sendMessage:" + opts.ThreadID + ":" + opts.OwnerClientID)
	return nil
}

func (a *Adapter) Interrupt(_ context.Context, threadID, ownerClientID string) error {
	a.record("interrupt:" + threadID + ":" + ownerClientID)
	return nil
}

func (a *Adapter) ListModels(_ context.Context, _ int) ([]agent.Model, error) {
	a.record("listModels")
	if !a.opts.Capabilities.ListModels {
		return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapListModels}
	}
	return []agent.Model{{ID: a.opts.ID + "-model", Default: true}}, nil
}

func (a *Adapter) ListCollaborationModes(context.Context) ([]agent.CollaborationMode, error) {
	a.record("listCollaborationModes")
	if !a.opts.Capabilities.ListCollaborationModes {
		return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapListCollaborationModes}
	}
	return []agent.CollaborationMode{{ID: "pair"}, {ID: "autonomous"}}, nil
}

func (a *Adapter) SetCollaborationMode(_ context.Context, threadID, mode, _ string) error {
	a.record("setCollaborationMode:" + threadID + ":" + mode)
	if !a.opts.Capabilities.SetCollaborationMode {
		return &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapSetCollaborationMode}
	}
	return nil
}

func (a *Adapter) SubmitUserInput(_ context.Context, opts agent.SubmitUserInputOptions) error {
	a.record("submitUserInput:" + opts.ThreadID + ":" + opts.RequestID)
	if !a.opts.Capabilities.SubmitUserInput {
		return &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapSubmitUserInput}
	}
	return nil
}

func (a *Adapter) ReadLiveState(_ context.Context, threadID string) (*state.ThreadState, error) {
	a.record("readLiveState:" + threadID)
	if !a.opts.Capabilities.ReadLiveState {
		return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapReadLiveState}
	}
	return &state.ThreadState{Conversation: map[string]any{"turns": []any{}, "requests": []any{}}}, nil
}

func (a *Adapter) ReadStreamEvents(_ context.Context, threadID string, _ int) ([]agent.StreamEvent, error) {
	a.record("readStreamEvents:" + threadID)
	if !a.opts.Capabilities.ReadStreamEvents {
		return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapReadStreamEvents}
	}
	return nil, nil
}

func (a *Adapter) ListProjectDirectories(context.Context) ([]string, error) {
	a.record("listProjectDirectories")
	return a.opts.ProjectDirs, nil
}
