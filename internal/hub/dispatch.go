package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agenthub/internal/agent"
	"agenthub/internal/state"
)

const stopTimeout = 10 * time.Second

func newSubscriberID() string { return "sub_" + uuid.NewString() }

// AgentStatus is one adapter's descriptor joined with its live flags.
type AgentStatus struct {
	agent.Descriptor
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

func (h *Hub) Agents() []AgentStatus {
	adapters := h.registry.Adapters()
	statuses := make([]AgentStatus, 0, len(adapters))
	for _, adapter := range adapters {
		statuses = append(statuses, AgentStatus{
			Descriptor: adapter.Descriptor(),
			Enabled:    adapter.IsEnabled(),
			Connected:  adapter.IsConnected(),
		})
	}
	return statuses
}

// agentOrDefault resolves an explicit agent id, or the first enabled
// adapter when none is given.
func (h *Hub) agentOrDefault(agentID string) (agent.Adapter, error) {
	if agentID == "" {
		agentID = h.registry.DefaultAgentID()
		if agentID == "" {
			return nil, fmt.Errorf("%w: no enabled agent", ErrNoAgent)
		}
	}
	adapter := h.registry.Get(agentID)
	if adapter == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoAgent, agentID)
	}
	return adapter, nil
}

// adapterFor resolves the adapter owning a thread through the index.
func (h *Hub) adapterFor(threadID string) (agent.Adapter, error) {
	agentID, ok := h.index.Resolve(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownThread, threadID)
	}
	adapter := h.registry.Get(agentID)
	if adapter == nil {
		return nil, fmt.Errorf("%w: %q (thread %q)", ErrNoAgent, agentID, threadID)
	}
	return adapter, nil
}

// requireCapability enforces the dispatch eligibility rule: the static
// flag must be set and the adapter must be connected right now.
func requireCapability(adapter agent.Adapter, capability agent.Capability) error {
	if !adapter.Capabilities().Has(capability) {
		return &agent.ErrCapabilityUnavailable{AgentID: adapter.ID(), Capability: capability}
	}
	if !adapter.IsConnected() {
		return fmt.Errorf("agent %q: not connected", adapter.ID())
	}
	return nil
}

func (h *Hub) ListThreads(ctx context.Context, agentID string, opts agent.ListThreadsOptions) (agent.ListThreadsResult, error) {
	adapter, err := h.agentOrDefault(agentID)
	if err != nil {
		return agent.ListThreadsResult{}, err
	}
	result, err := adapter.ListThreads(ctx, opts)
	if err != nil {
		return agent.ListThreadsResult{}, err
	}
	for _, thread := range result.Threads {
		h.index.Register(thread.ID, adapter.ID())
	}
	return result, nil
}

func (h *Hub) StartThread(ctx context.Context, body StartThreadBody) (agent.Thread, error) {
	adapter, err := h.agentOrDefault(body.AgentID)
	if err != nil {
		return agent.Thread{}, err
	}
	thread, err := adapter.CreateThread(ctx, agent.CreateThreadOptions{
		Cwd:            body.Cwd,
		Model:          body.Model,
		ModelProvider:  body.ModelProvider,
		Personality:    body.Personality,
		Sandbox:        body.Sandbox,
		ApprovalPolicy: body.ApprovalPolicy,
		Ephemeral:      body.Ephemeral,
	})
	if err != nil {
		return agent.Thread{}, err
	}
	h.index.Register(thread.ID, adapter.ID())
	h.owners.set(thread.ID, body.OwnerClientID)
	return thread, nil
}

func (h *Hub) ReadThread(ctx context.Context, threadID string, includeTurns bool) (agent.Thread, error) {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return agent.Thread{}, err
	}
	return adapter.ReadThread(ctx, threadID, includeTurns)
}

func (h *Hub) SendMessage(ctx context.Context, threadID string, body SendMessageBody) error {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return err
	}
	owner, err := h.owners.resolve(threadID, body.OwnerClientID)
	if err != nil {
		return err
	}
	h.owners.set(threadID, owner)
	return adapter.SendMessage(ctx, agent.SendMessageOptions{
		ThreadID:      threadID,
		Text:          body.Text,
		OwnerClientID: owner,
		Cwd:           body.Cwd,
		IsSteering:    body.IsSteering,
	})
}

func (h *Hub) Interrupt(ctx context.Context, threadID string, body InterruptBody) error {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return err
	}
	owner, err := h.owners.resolve(threadID, body.OwnerClientID)
	if err != nil {
		return err
	}
	return adapter.Interrupt(ctx, threadID, owner)
}

func (h *Hub) SetCollaborationMode(ctx context.Context, threadID string, body SetModeBody) error {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return err
	}
	if err := requireCapability(adapter, agent.CapSetCollaborationMode); err != nil {
		return err
	}
	owner, err := h.owners.resolve(threadID, body.OwnerClientID)
	if err != nil {
		return err
	}
	return adapter.SetCollaborationMode(ctx, threadID, body.CollaborationMode, owner)
}

func (h *Hub) SubmitUserInput(ctx context.Context, threadID string, body SubmitUserInputBody) error {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return err
	}
	if err := requireCapability(adapter, agent.CapSubmitUserInput); err != nil {
		return err
	}
	owner, err := h.owners.resolve(threadID, body.OwnerClientID)
	if err != nil {
		return err
	}
	return adapter.SubmitUserInput(ctx, agent.SubmitUserInputOptions{
		ThreadID:      threadID,
		RequestID:     body.RequestID,
		Response:      body.Response,
		OwnerClientID: owner,
	})
}

// LiveState serves the reduced view when one exists. A thread known to
// the index but not yet seen on the broadcast stream falls back to the
// owning adapter's read-live-state capability.
func (h *Hub) LiveState(ctx context.Context, threadID string) (*state.ThreadState, error) {
	if thread := h.ThreadState(threadID); thread != nil {
		return thread, nil
	}
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(adapter, agent.CapReadLiveState); err != nil {
		return nil, err
	}
	return adapter.ReadLiveState(ctx, threadID)
}

func (h *Hub) StreamEvents(ctx context.Context, threadID string, limit int) ([]agent.StreamEvent, error) {
	adapter, err := h.adapterFor(threadID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(adapter, agent.CapReadStreamEvents); err != nil {
		return nil, err
	}
	return adapter.ReadStreamEvents(ctx, threadID, limit)
}

// Models asks the first enabled, connected, capability-flagged adapter.
func (h *Hub) Models(ctx context.Context, limit int) ([]agent.Model, error) {
	adapter := h.registry.FirstWithCapability(agent.CapListModels)
	if adapter == nil {
		return nil, &ErrNoCapableAgent{Capability: agent.CapListModels}
	}
	return adapter.ListModels(ctx, limit)
}

func (h *Hub) CollaborationModes(ctx context.Context) ([]agent.CollaborationMode, error) {
	adapter := h.registry.FirstWithCapability(agent.CapListCollaborationModes)
	if adapter == nil {
		return nil, &ErrNoCapableAgent{Capability: agent.CapListCollaborationModes}
	}
	return adapter.ListCollaborationModes(ctx)
}

func (h *Hub) TraceStart(body TraceStartBody) *Trace {
	return h.traces.start(body.Name)
}

func (h *Hub) TraceMark(body TraceMarkBody) (*Trace, error) {
	return h.traces.mark(body.TraceID, body.Label)
}

func (h *Hub) Replay(body ReplayBody) (map[string]*state.ThreadState, error) {
	return h.traces.replay(body.TraceID)
}
