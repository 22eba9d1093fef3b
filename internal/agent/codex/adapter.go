// Package codex drives a backend that speaks the JSON-RPC dialect over a
// websocket: requests are correlated to responses by id, and the backend
// pushes thread state as broadcast envelopes on the same connection.
package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"agenthub/internal/agent"
	"agenthub/internal/logging"
	"agenthub/internal/protocol"
	"agenthub/internal/state"
)

const defaultCallTimeout = 30 * time.Second

type Options struct {
	ID                 string
	Label              string
	URL                string
	Enabled            bool
	ProjectDirectories []string
	Logger             logging.Logger
}

type Adapter struct {
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int64
	pending   map[int64]chan *protocol.Response

	events chan state.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(nil)
	}
	return &Adapter{
		opts:    opts,
		logger:  logger,
		pending: make(map[int64]chan *protocol.Response),
		events:  make(chan state.Event, 128),
	}
}

func (a *Adapter) ID() string { return a.opts.ID }

func (a *Adapter) Kind() agent.Kind { return agent.KindCodex }

func (a *Adapter) Label() string { return a.opts.Label }

func (a *Adapter) IsEnabled() bool { return a.opts.Enabled }

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Capabilities() agent.CapabilitySet {
	return agent.AllCapabilities()
}

func (a *Adapter) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		ID:                 a.opts.ID,
		Kind:               agent.KindCodex,
		Label:              a.opts.Label,
		Capabilities:       a.Capabilities(),
		ProjectDirectories: a.opts.ProjectDirectories,
	}
}

func (a *Adapter) Events() <-chan state.Event { return a.events }

func (a *Adapter) Start(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, a.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.opts.URL, err)
	}
	conn.SetReadLimit(1 << 24)

	loopCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.readLoop(loopCtx, conn)
	a.logger.Info("codex backend connected", "agent_id", a.opts.ID, "url", a.opts.URL)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.connected = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	close(a.events)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(a.done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			a.disconnect()
			return
		}

		if protocol.IsBroadcast(data) {
			broadcast, err := protocol.ClassifyBroadcast(data)
			if err != nil {
				a.logger.Warn("invalid broadcast", "agent_id", a.opts.ID, "err", err.Error())
				continue
			}
			a.handleBroadcast(broadcast)
			continue
		}

		message, err := protocol.ClassifyIncoming(data)
		if err != nil {
			a.logger.Warn("unclassifiable message", "agent_id", a.opts.ID, "err", err.Error())
			continue
		}
		switch m := message.(type) {
		case protocol.Response:
			a.deliver(&m)
		case protocol.Notification:
			a.logger.Debug("backend notification", "agent_id", a.opts.ID, "method", m.Method)
		}
	}
}

func (a *Adapter) handleBroadcast(broadcast *protocol.Broadcast) {
	if broadcast.Method != protocol.MethodThreadStreamStateChanged {
		return
	}
	event, err := state.EventFromParams(broadcast.Params)
	if err != nil {
		a.logger.Warn("invalid state-change broadcast", "agent_id", a.opts.ID, "err", err.Error())
		return
	}
	// Blocking send: dropping an event here would desync the reduced
	// view, since the reducer needs every event exactly once.
	a.events <- event
}

func (a *Adapter) disconnect() {
	a.mu.Lock()
	a.connected = false
	pending := a.pending
	a.pending = make(map[int64]chan *protocol.Response)
	a.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (a *Adapter) deliver(resp *protocol.Response) {
	a.mu.Lock()
	ch, ok := a.pending[resp.ID]
	if ok {
		delete(a.pending, resp.ID)
	}
	a.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// call sends one request and blocks for its correlated response.
func (a *Adapter) call(ctx context.Context, method string, params any, result any) error {
	a.mu.Lock()
	if !a.connected || a.conn == nil {
		a.mu.Unlock()
		return fmt.Errorf("agent %q: not connected", a.opts.ID)
	}
	conn := a.conn
	id := a.nextID
	a.nextID++
	ch := make(chan *protocol.Response, 1)
	a.pending[id] = ch
	a.mu.Unlock()

	request := map[string]any{"id": id, "method": method}
	if params != nil {
		request["params"] = params
	}
	data, err := json.Marshal(request)
	if err != nil {
		a.abandon(id)
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		a.abandon(id)
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		a.abandon(id)
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return errors.New("connection lost awaiting response")
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func (a *Adapter) abandon(id int64) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}
