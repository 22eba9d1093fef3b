package state

import "encoding/json"

// ThreadState is the reduced view of one thread. Conversation is nil
// until the first snapshot for the thread has been observed; patches
// arriving before that are buffered and replayed once a snapshot
// establishes the base, rather than applied against nothing.
type ThreadState struct {
	Conversation  any
	OwnerClientID string
	Version       int64

	pending []Patch
}

// Turns returns the conversation's turn sequence, or nil when no
// snapshot has arrived or the document carries none.
func (t *ThreadState) Turns() []any {
	return t.sequence("turns")
}

// PendingRequests returns the conversation's pending request sequence,
// such as outstanding user-input prompts.
func (t *ThreadState) PendingRequests() []any {
	return t.sequence("requests")
}

func (t *ThreadState) sequence(key string) []any {
	doc, ok := t.Conversation.(map[string]any)
	if !ok {
		return nil
	}
	seq, _ := doc[key].([]any)
	return seq
}

// Clone returns a copy whose conversation document shares no structure
// with the receiver. Patch application rewrites the document in place,
// so any reader holding state outside the reducer's serialization must
// read through a clone.
func (t *ThreadState) Clone() *ThreadState {
	clone := *t
	clone.Conversation = cloneValue(t.Conversation)
	clone.pending = nil
	return &clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, child := range val {
			out[key] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}

// Reducer folds state-change events into per-thread states. All methods
// are synchronous and run to completion; the surrounding system provides
// any serialization it needs.
type Reducer struct {
	threads map[string]*ThreadState
}

func NewReducer() *Reducer {
	return &Reducer{threads: make(map[string]*ThreadState)}
}

// Apply folds one event into the state of its thread, creating the
// thread entry on first sight. Events must be fed exactly once each, in
// receipt order; the reducer does not deduplicate by version.
func (r *Reducer) Apply(event Event) {
	thread, ok := r.threads[event.ConversationID]
	if !ok {
		thread = &ThreadState{}
		r.threads[event.ConversationID] = thread
	}

	switch event.Change.Type {
	case ChangeSnapshot:
		// A snapshot is authoritative regardless of version: the backend
		// owns the ordering, so an out-of-order snapshot is applied
		// rather than rejected.
		var doc any
		if err := json.Unmarshal(event.Change.ConversationState, &doc); err != nil {
			return
		}
		thread.Conversation = doc
		// Replay patches that raced ahead of their snapshot. Ones whose
		// paths exist in the new base apply; the rest are no-ops.
		for _, patch := range thread.pending {
			thread.Conversation = applyPatch(thread.Conversation, patch)
		}
		thread.pending = nil
	case ChangePatches:
		if thread.Conversation == nil {
			thread.pending = append(thread.pending, event.Change.Patches...)
			return
		}
		for _, patch := range event.Change.Patches {
			thread.Conversation = applyPatch(thread.Conversation, patch)
		}
	default:
		return
	}
	thread.Version = event.Version
}

// Thread returns the state for a thread id, or nil when no event for it
// has been observed.
func (r *Reducer) Thread(conversationID string) *ThreadState {
	return r.threads[conversationID]
}

// Threads returns the full thread-id to state mapping.
func (r *Reducer) Threads() map[string]*ThreadState {
	return r.threads
}

// Reduce is the pure batch form: folding a sequence of events from
// scratch yields the same mapping as feeding the same sequence through
// an incremental Reducer.
func Reduce(events []Event) map[string]*ThreadState {
	r := NewReducer()
	for _, event := range events {
		r.Apply(event)
	}
	return r.threads
}
