package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"agenthub/internal/state"
)

// Kind identifies a backend dialect. The set is closed: adding a backend
// means adding an adapter implementation and a kind constant together.
type Kind string

const (
	KindCodex Kind = "codex"
	KindMCP   Kind = "mcp"
	KindMock  Kind = "mock"
)

// Capability names one optional adapter operation. An adapter that lacks
// a capability returns ErrCapabilityUnavailable from the corresponding
// method; dispatchers check the flag before calling.
type Capability string

const (
	CapListModels             Capability = "list-models"
	CapListCollaborationModes Capability = "list-collaboration-modes"
	CapSetCollaborationMode   Capability = "set-collaboration-mode"
	CapSubmitUserInput        Capability = "submit-user-input"
	CapReadLiveState          Capability = "read-live-state"
	CapReadStreamEvents       Capability = "read-stream-events"
)

// CapabilitySet holds the six optional-operation flags for one adapter.
// A set flag means the backend implements the operation; whether it can
// be dispatched right now additionally requires the adapter to be
// connected.
type CapabilitySet struct {
	ListModels             bool `json:"listModels"`
	ListCollaborationModes bool `json:"listCollaborationModes"`
	SetCollaborationMode   bool `json:"setCollaborationMode"`
	SubmitUserInput        bool `json:"submitUserInput"`
	ReadLiveState          bool `json:"readLiveState"`
	ReadStreamEvents       bool `json:"readStreamEvents"`
}

func (c CapabilitySet) Has(capability Capability) bool {
	switch capability {
	case CapListModels:
		return c.ListModels
	case CapListCollaborationModes:
		return c.ListCollaborationModes
	case CapSetCollaborationMode:
		return c.SetCollaborationMode
	case CapSubmitUserInput:
		return c.SubmitUserInput
	case CapReadLiveState:
		return c.ReadLiveState
	case CapReadStreamEvents:
		return c.ReadStreamEvents
	default:
		return false
	}
}

// AllCapabilities returns a set with every flag raised.
func AllCapabilities() CapabilitySet {
	return CapabilitySet{
		ListModels:             true,
		ListCollaborationModes: true,
		SetCollaborationMode:   true,
		SubmitUserInput:        true,
		ReadLiveState:          true,
		ReadStreamEvents:       true,
	}
}

// ErrCapabilityUnavailable is the typed refusal for an optional
// operation the adapter does not support.
type ErrCapabilityUnavailable struct {
	AgentID    string
	Capability Capability
}

func (e *ErrCapabilityUnavailable) Error() string {
	return fmt.Sprintf("agent %q: capability %q not available", e.AgentID, e.Capability)
}

// Descriptor is the static identity of one adapter. Enabled and
// connected are deliberately absent: connectivity flaps independently of
// configuration, so both are read through the adapter's accessors.
type Descriptor struct {
	ID                 string        `json:"id"`
	Kind               Kind          `json:"kind"`
	Label              string        `json:"label"`
	Capabilities       CapabilitySet `json:"capabilities"`
	ProjectDirectories []string      `json:"projectDirectories,omitempty"`
}

// Thread is one conversation as a backend reports it.
type Thread struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	Cwd       string          `json:"cwd,omitempty"`
	Archived  bool            `json:"archived,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
	Turns     json.RawMessage `json:"turns,omitempty"`
}

// Model is one model a backend can run threads on.
type Model struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Provider string `json:"provider,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// CollaborationMode is one approval/autonomy preset a backend offers.
type CollaborationMode struct {
	ID          string `json:"id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// StreamEvent is one raw entry of a thread's event stream.
type StreamEvent struct {
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type ListThreadsOptions struct {
	Limit    int
	Archived bool
	All      bool
	MaxPages int
	Cursor   string
}

type ListThreadsResult struct {
	Threads    []Thread
	NextCursor string
}

type CreateThreadOptions struct {
	Cwd            string
	Model          string
	ModelProvider  string
	Personality    string
	Sandbox        string
	ApprovalPolicy string
	Ephemeral      bool
}

type SendMessageOptions struct {
	ThreadID      string
	Text          string
	OwnerClientID string
	Cwd           string
	IsSteering    bool
}

type SubmitUserInputOptions struct {
	ThreadID      string
	RequestID     string
	Response      json.RawMessage
	OwnerClientID string
}

// Adapter is the uniform contract over one backend. The registry and
// every dispatcher hold this interface only, never a concrete backend
// type. Mandatory operations must work on every backend; the optional
// block is capability-gated and returns ErrCapabilityUnavailable where
// the flag is down.
type Adapter interface {
	ID() string
	Kind() Kind
	Label() string
	IsEnabled() bool
	IsConnected() bool
	Capabilities() CapabilitySet
	Descriptor() Descriptor

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	ListThreads(ctx context.Context, opts ListThreadsOptions) (ListThreadsResult, error)
	CreateThread(ctx context.Context, opts CreateThreadOptions) (Thread, error)
	ReadThread(ctx context.Context, threadID string, includeTurns bool) (Thread, error)
	SendMessage(ctx context.Context, opts SendMessageOptions) error
	Interrupt(ctx context.Context, threadID, ownerClientID string) error

	ListModels(ctx context.Context, limit int) ([]Model, error)
	ListCollaborationModes(ctx context.Context) ([]CollaborationMode, error)
	SetCollaborationMode(ctx context.Context, threadID, mode, ownerClientID string) error
	SubmitUserInput(ctx context.Context, opts SubmitUserInputOptions) error
	ReadLiveState(ctx context.Context, threadID string) (*state.ThreadState, error)
	ReadStreamEvents(ctx context.Context, threadID string, limit int) ([]StreamEvent, error)
	ListProjectDirectories(ctx context.Context) ([]string, error)

	// Events yields classified broadcasts from the backend. The channel
	// closes when the adapter stops.
	Events() <-chan state.Event
}
