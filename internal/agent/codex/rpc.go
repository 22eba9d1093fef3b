package codex

import (
	"context"
	"encoding/json"

	"agenthub/internal/agent"
	"agenthub/internal/state"
)

// defaultMaxPages bounds an unbounded thread/list walk so a backend
// with a cursor bug cannot spin the hub forever.
const defaultMaxPages = 50

// Method names of the codex dialect.
const (
	methodThreadList         = "thread/list"
	methodThreadCreate       = "thread/create"
	methodThreadRead         = "thread/read"
	methodThreadSendMessage  = "thread/sendMessage"
	methodThreadInterrupt    = "thread/interrupt"
	methodThreadSetMode      = "thread/setCollaborationMode"
	methodThreadSubmitInput  = "thread/submitUserInput"
	methodThreadLiveState    = "thread/readLiveState"
	methodThreadStreamEvents = "thread/streamEvents"
	methodModelList          = "model/list"
	methodCollaborationList  = "collaborationMode/list"
	methodProjectListDirs    = "project/listDirectories"
)

type threadPage struct {
	Threads    []agent.Thread `json:"threads"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func (a *Adapter) ListThreads(ctx context.Context, opts agent.ListThreadsOptions) (agent.ListThreadsResult, error) {
	maxPages := 1
	if opts.All {
		maxPages = opts.MaxPages
		if maxPages <= 0 {
			maxPages = defaultMaxPages
		}
	}

	var result agent.ListThreadsResult
	cursor := opts.Cursor
	for page := 0; page < maxPages; page++ {
		params := map[string]any{
			"limit":    opts.Limit,
			"archived": opts.Archived,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var pageResult threadPage
		if err := a.call(ctx, methodThreadList, params, &pageResult); err != nil {
			return agent.ListThreadsResult{}, err
		}
		result.Threads = append(result.Threads, pageResult.Threads...)
		result.NextCursor = pageResult.NextCursor
		if pageResult.NextCursor == "" {
			break
		}
		cursor = pageResult.NextCursor
	}
	return result, nil
}

func (a *Adapter) CreateThread(ctx context.Context, opts agent.CreateThreadOptions) (agent.Thread, error) {
	params := map[string]any{}
	if opts.Cwd != "" {
		params["cwd"] = opts.Cwd
	}
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if opts.ModelProvider != "" {
		params["modelProvider"] = opts.ModelProvider
	}
	if opts.Personality != "" {
		params["personality"] = opts.Personality
	}
	if opts.Sandbox != "" {
		params["sandbox"] = opts.Sandbox
	}
	if opts.ApprovalPolicy != "" {
		params["approvalPolicy"] = opts.ApprovalPolicy
	}
	if opts.Ephemeral {
		params["ephemeral"] = true
	}
	var thread agent.Thread
	if err := a.call(ctx, methodThreadCreate, params, &thread); err != nil {
		return agent.Thread{}, err
	}
	return thread, nil
}

func (a *Adapter) ReadThread(ctx context.Context, threadID string, includeTurns bool) (agent.Thread, error) {
	var thread agent.Thread
	err := a.call(ctx, methodThreadRead, map[string]any{
		"threadId":     threadID,
		"includeTurns": includeTurns,
	}, &thread)
	return thread, err
}

func (a *Adapter) SendMessage(ctx context.Context, opts agent.SendMessageOptions) error {
	params := map[string]any{
		"threadId": opts.ThreadID,
		"text":     opts.Text,
	}
	if opts.OwnerClientID != "" {
		params["ownerClientId"] = opts.OwnerClientID
	}
	if opts.Cwd != "" {
		params["cwd"] = opts.Cwd
	}
	if opts.IsSteering {
		params["isSteering"] = true
	}
	return a.call(ctx, methodThreadSendMessage, params, nil)
}

func (a *Adapter) Interrupt(ctx context.Context, threadID, ownerClientID string) error {
	params := map[string]any{"threadId": threadID}
	if ownerClientID != "" {
		params["ownerClientId"] = ownerClientID
	}
	return a.call(ctx, methodThreadInterrupt, params, nil)
}

func (a *Adapter) ListModels(ctx context.Context, limit int) ([]agent.Model, error) {
	var result struct {
		Models []agent.Model `json:"models"`
	}
	err := a.call(ctx, methodModelList, map[string]any{"limit": limit}, &result)
	return result.Models, err
}

func (a *Adapter) ListCollaborationModes(ctx context.Context) ([]agent.CollaborationMode, error) {
	var result struct {
		Modes []agent.CollaborationMode `json:"modes"`
	}
	err := a.call(ctx, methodCollaborationList, nil, &result)
	return result.Modes, err
}

func (a *Adapter) SetCollaborationMode(ctx context.Context, threadID, mode, ownerClientID string) error {
	params := map[string]any{
		"threadId":          threadID,
		"collaborationMode": mode,
	}
	if ownerClientID != "" {
		params["ownerClientId"] = ownerClientID
	}
	return a.call(ctx, methodThreadSetMode, params, nil)
}

func (a *Adapter) SubmitUserInput(ctx context.Context, opts agent.SubmitUserInputOptions) error {
	params := map[string]any{
		"threadId":  opts.ThreadID,
		"requestId": opts.RequestID,
		"response":  json.RawMessage(opts.Response),
	}
	if opts.OwnerClientID != "" {
		params["ownerClientId"] = opts.OwnerClientID
	}
	return a.call(ctx, methodThreadSubmitInput, params, nil)
}

func (a *Adapter) ReadLiveState(ctx context.Context, threadID string) (*state.ThreadState, error) {
	var result struct {
		ConversationState json.RawMessage `json:"conversationState"`
		Version           int64           `json:"version"`
	}
	if err := a.call(ctx, methodThreadLiveState, map[string]any{"threadId": threadID}, &result); err != nil {
		return nil, err
	}
	var doc any
	if len(result.ConversationState) > 0 {
		if err := json.Unmarshal(result.ConversationState, &doc); err != nil {
			return nil, err
		}
	}
	return &state.ThreadState{Conversation: doc, Version: result.Version}, nil
}

func (a *Adapter) ReadStreamEvents(ctx context.Context, threadID string, limit int) ([]agent.StreamEvent, error) {
	var result struct {
		Events []agent.StreamEvent `json:"events"`
	}
	err := a.call(ctx, methodThreadStreamEvents, map[string]any{
		"threadId": threadID,
		"limit":    limit,
	}, &result)
	return result.Events, err
}

func (a *Adapter) ListProjectDirectories(ctx context.Context) ([]string, error) {
	var result struct {
		Directories []string `json:"directories"`
	}
	err := a.call(ctx, methodProjectListDirs, nil, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Directories) == 0 {
		return a.opts.ProjectDirectories, nil
	}
	return result.Directories, nil
}
