// Package hub wires the adapter registry, the thread index, and the
// live-state reducer together behind one HTTP surface. Every broadcast
// an adapter surfaces flows through here exactly once, in receipt order.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub/internal/agent"
	"agenthub/internal/logging"
	"agenthub/internal/state"
)

type Options struct {
	Logger logging.Logger

	// Redis mirrors reconciled broadcast events to other processes.
	// Nil disables mirroring.
	Redis          *redis.Client
	RedisKeyPrefix string
}

type Hub struct {
	registry *agent.Registry
	index    *ThreadIndex
	owners   *ownerTable
	traces   *traceRecorder
	logger   logging.Logger

	reduceMu sync.Mutex
	reducer  *state.Reducer

	subsMu sync.Mutex
	subs   map[string]chan []byte

	redis          *redis.Client
	redisKeyPrefix string
}

func New(registry *agent.Registry, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(nil)
	}
	prefix := opts.RedisKeyPrefix
	if prefix == "" {
		prefix = "agenthub:"
	}
	return &Hub{
		registry:       registry,
		index:          NewThreadIndex(),
		owners:         newOwnerTable(),
		traces:         newTraceRecorder(),
		logger:         logger,
		reducer:        state.NewReducer(),
		subs:           make(map[string]chan []byte),
		redis:          opts.Redis,
		redisKeyPrefix: prefix,
	}
}

func (h *Hub) Registry() *agent.Registry { return h.registry }

func (h *Hub) Index() *ThreadIndex { return h.index }

// Run starts every adapter, consumes their event streams until ctx is
// done, then stops them in reverse order.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.registry.StartAll(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, adapter := range h.registry.Adapters() {
		wg.Add(1)
		go func(adapter agent.Adapter) {
			defer wg.Done()
			// Also watch ctx: an adapter whose Stop fails never closes
			// its event channel, and Run must still return.
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-adapter.Events():
					if !ok {
						return
					}
					h.Ingest(adapter.ID(), event)
				}
			}
		}(adapter)
	}

	if h.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.presenceLoop(ctx)
		}()
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := h.registry.StopAll(stopCtx)
	wg.Wait()
	return err
}

// Ingest folds one state-change event into the reduced view and fans it
// out to subscribers. Events for different threads never interact; the
// single mutex only serializes map access, each apply runs to
// completion without suspension.
func (h *Hub) Ingest(agentID string, event state.Event) {
	h.index.Register(event.ConversationID, agentID)

	h.reduceMu.Lock()
	h.reducer.Apply(event)
	h.reduceMu.Unlock()

	h.traces.record(event)
	h.publish(agentID, event)
}

// ThreadState returns the reduced state for a thread, or nil when no
// event for it has been observed. The returned state is a deep copy:
// ingest mutates the live document in place, so handing out an aliased
// view would race with the adapter consumers. The owner client id is
// joined in from the owner table.
func (h *Hub) ThreadState(threadID string) *state.ThreadState {
	h.reduceMu.Lock()
	thread := h.reducer.Thread(threadID)
	if thread == nil {
		h.reduceMu.Unlock()
		return nil
	}
	snapshot := thread.Clone()
	h.reduceMu.Unlock()
	if owner, ok := h.owners.get(threadID); ok {
		snapshot.OwnerClientID = owner
	}
	return snapshot
}

// Subscribe registers an event sink and returns its id with an
// unsubscribe func. Slow subscribers lose events rather than stall the
// ingest path.
func (h *Hub) Subscribe() (string, <-chan []byte, func()) {
	id := newSubscriberID()
	ch := make(chan []byte, 128)
	h.subsMu.Lock()
	h.subs[id] = ch
	h.subsMu.Unlock()
	return id, ch, func() {
		h.subsMu.Lock()
		delete(h.subs, id)
		h.subsMu.Unlock()
	}
}

type eventEnvelope struct {
	AgentID        string       `json:"agentId"`
	ConversationID string       `json:"conversationId"`
	Version        int64        `json:"version"`
	Change         state.Change `json:"change"`
}

func (h *Hub) publish(agentID string, event state.Event) {
	data, err := json.Marshal(eventEnvelope{
		AgentID:        agentID,
		ConversationID: event.ConversationID,
		Version:        event.Version,
		Change:         event.Change,
	})
	if err != nil {
		return
	}

	h.subsMu.Lock()
	for _, ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
	h.subsMu.Unlock()

	h.publishRedis(event.ConversationID, data)
}

const (
	presenceInterval = 15 * time.Second
	presenceTTL      = 45 * time.Second
)

// presenceLoop keeps a TTL'd redis key alive for each connected adapter
// so sibling processes can see which agents this hub is serving. Keys
// lapse on their own when the hub dies.
func (h *Hub) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()
	h.refreshPresence(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refreshPresence(ctx)
		}
	}
}

func (h *Hub) refreshPresence(ctx context.Context) {
	for _, adapter := range h.registry.Adapters() {
		key := h.redisKeyPrefix + "presence:" + adapter.ID()
		if !adapter.IsConnected() {
			_ = h.redis.Del(ctx, key).Err()
			continue
		}
		if err := h.redis.Set(ctx, key, string(adapter.Kind()), presenceTTL).Err(); err != nil {
			h.logger.Warn("presence refresh failed", "agent_id", adapter.ID(), "err", err.Error())
		}
	}
}

func (h *Hub) publishRedis(conversationID string, data []byte) {
	if h.redis == nil {
		return
	}
	ctx := context.Background()
	_ = h.redis.Publish(ctx, h.redisKeyPrefix+"evt", data).Err()
	if conversationID != "" {
		_ = h.redis.Publish(ctx, h.redisKeyPrefix+"evt:thread:"+conversationID, data).Err()
	}
}
