// Package mcptool drives a backend that exposes its thread operations as
// MCP tools over a stdio command transport. The backend owns its child
// process lifecycle; the adapter only opens and closes the session.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agenthub/internal/agent"
	"agenthub/internal/logging"
	"agenthub/internal/state"
)

// Tool names the backend must register.
const (
	toolListThreads  = "list_threads"
	toolCreateThread = "create_thread"
	toolReadThread   = "read_thread"
	toolSendMessage  = "send_message"
	toolInterrupt    = "interrupt"
	toolListModels   = "list_models"
	toolListProjects = "list_project_directories"
)

type Options struct {
	ID                 string
	Label              string
	Command            string
	Args               []string
	Enabled            bool
	ProjectDirectories []string
	Logger             logging.Logger
}

type Adapter struct {
	opts   Options
	logger logging.Logger

	mu      sync.Mutex
	session *mcp.ClientSession

	events chan state.Event
}

func New(opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(nil)
	}
	return &Adapter{
		opts:   opts,
		logger: logger,
		events: make(chan state.Event),
	}
}

func (a *Adapter) ID() string { return a.opts.ID }

func (a *Adapter) Kind() agent.Kind { return agent.KindMCP }

func (a *Adapter) Label() string { return a.opts.Label }

func (a *Adapter) IsEnabled() bool { return a.opts.Enabled }

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// Capabilities: MCP backends answer tool calls but have no broadcast
// channel, so the live-state and collaboration capabilities stay down.
func (a *Adapter) Capabilities() agent.CapabilitySet {
	return agent.CapabilitySet{ListModels: true}
}

func (a *Adapter) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		ID:                 a.opts.ID,
		Kind:               agent.KindMCP,
		Label:              a.opts.Label,
		Capabilities:       a.Capabilities(),
		ProjectDirectories: a.opts.ProjectDirectories,
	}
}

// Events is an always-empty stream: MCP backends push no state
// broadcasts. The channel is closed on Stop.
func (a *Adapter) Events() <-chan state.Event { return a.events }

func (a *Adapter) Start(ctx context.Context) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "agenthub", Version: "1.0.0"}, nil)
	transport := &mcp.CommandTransport{Command: exec.Command(a.opts.Command, a.opts.Args...)}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect mcp backend %q: %w", a.opts.ID, err)
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.logger.Info("mcp backend connected", "agent_id", a.opts.ID, "command", a.opts.Command)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	close(a.events)
	if session == nil {
		return nil
	}
	return session.Close()
}

// callTool invokes one tool and decodes its structured result.
func (a *Adapter) callTool(ctx context.Context, name string, args map[string]any, result any) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return fmt.Errorf("agent %q: not connected", a.opts.ID)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	if res.IsError {
		return fmt.Errorf("tool %s: %s", name, textContent(res))
	}
	if result == nil {
		return nil
	}
	if res.StructuredContent != nil {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, result)
	}
	text := textContent(res)
	if text == "" {
		return errors.New("tool " + name + ": empty result")
	}
	return json.Unmarshal([]byte(text), result)
}

func textContent(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func (a *Adapter) ListThreads(ctx context.Context, opts agent.ListThreadsOptions) (agent.ListThreadsResult, error) {
	args := map[string]any{
		"limit":    opts.Limit,
		"archived": opts.Archived,
		"all":      opts.All,
	}
	if opts.Cursor != "" {
		args["cursor"] = opts.Cursor
	}
	var result struct {
		Threads    []agent.Thread `json:"threads"`
		NextCursor string         `json:"nextCursor,omitempty"`
	}
	if err := a.callTool(ctx, toolListThreads, args, &result); err != nil {
		return agent.ListThreadsResult{}, err
	}
	return agent.ListThreadsResult{Threads: result.Threads, NextCursor: result.NextCursor}, nil
}

func (a *Adapter) CreateThread(ctx context.Context, opts agent.CreateThreadOptions) (agent.Thread, error) {
	args := map[string]any{}
	if opts.Cwd != "" {
		args["cwd"] = opts.Cwd
	}
	if opts.Model != "" {
		args["model"] = opts.Model
	}
	if opts.Ephemeral {
		args["ephemeral"] = true
	}
	var thread agent.Thread
	err := a.callTool(ctx, toolCreateThread, args, &thread)
	return thread, err
}

func (a *Adapter) ReadThread(ctx context.Context, threadID string, includeTurns bool) (agent.Thread, error) {
	var thread agent.Thread
	err := a.callTool(ctx, toolReadThread, map[string]any{
		"threadId":     threadID,
		"includeTurns": includeTurns,
	}, &thread)
	return thread, err
}

func (a *Adapter) SendMessage(ctx context.Context, opts agent.SendMessageOptions) error {
	args := map[string]any{
		"threadId": opts.ThreadID,
		"text":     opts.Text,
	}
	if opts.Cwd != "" {
		args["cwd"] = opts.Cwd
	}
	return a.callTool(ctx, toolSendMessage, args, nil)
}

func (a *Adapter) Interrupt(ctx context.Context, threadID, _ string) error {
	return a.callTool(ctx, toolInterrupt, map[string]any{"threadId": threadID}, nil)
}

func (a *Adapter) ListModels(ctx context.Context, limit int) ([]agent.Model, error) {
	var result struct {
		Models []agent.Model `json:"models"`
	}
	err := a.callTool(ctx, toolListModels, map[string]any{"limit": limit}, &result)
	return result.Models, err
}

func (a *Adapter) ListCollaborationModes(context.Context) ([]agent.CollaborationMode, error) {
	return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapListCollaborationModes}
}

func (a *Adapter) SetCollaborationMode(_ context.Context, _, _, _ string) error {
	return &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapSetCollaborationMode}
}

func (a *Adapter) SubmitUserInput(context.Context, agent.SubmitUserInputOptions) error {
	return &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapSubmitUserInput}
}

func (a *Adapter) ReadLiveState(_ context.Context, _ string) (*state.ThreadState, error) {
	return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapReadLiveState}
}

func (a *Adapter) ReadStreamEvents(_ context.Context, _ string, _ int) ([]agent.StreamEvent, error) {
	return nil, &agent.ErrCapabilityUnavailable{AgentID: a.opts.ID, Capability: agent.CapReadStreamEvents}
}

func (a *Adapter) ListProjectDirectories(ctx context.Context) ([]string, error) {
	var result struct {
		Directories []string `json:"directories"`
	}
	if err := a.callTool(ctx, toolListProjects, nil, &result); err != nil {
		return a.opts.ProjectDirectories, nil
	}
	return result.Directories, nil
}
