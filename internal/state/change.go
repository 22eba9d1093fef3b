package state

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Change kinds and patch ops as the backends emit them.
const (
	ChangeSnapshot = "snapshot"
	ChangePatches  = "patches"

	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Event is one versioned state-change for a single thread. Versions are
// assigned by the backend and advance monotonically per thread; arrival
// order over the wire is not guaranteed.
type Event struct {
	ConversationID string `json:"conversationId"`
	Version        int64  `json:"version"`
	Change         Change `json:"change"`
}

// Change is the snapshot-or-patches union. A snapshot replaces the
// conversation wholesale; a patches change applies its edits in order.
type Change struct {
	Type              string          `json:"type"`
	ConversationState json.RawMessage `json:"conversationState,omitempty"`
	Patches           []Patch         `json:"patches,omitempty"`
}

// EventFromParams decodes the params object of a
// thread-stream-state-changed broadcast into an Event.
func EventFromParams(params []byte) (Event, error) {
	var p struct {
		ConversationID string `json:"conversationId"`
		Version        int64  `json:"version"`
		Change         Change `json:"change"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return Event{}, fmt.Errorf("decode state-change params: %w", err)
	}
	if p.ConversationID == "" {
		return Event{}, fmt.Errorf("state-change params: missing conversationId")
	}
	return Event{ConversationID: p.ConversationID, Version: p.Version, Change: p.Change}, nil
}

// Patch is one structural edit against the conversation document.
type Patch struct {
	Op    string          `json:"op"`
	Path  []Segment       `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Segment is one step of a patch path: an object key or a sequence index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func Key(k string) Segment { return Segment{Key: k} }

func Index(i int) Segment { return Segment{Index: i, IsIndex: true} }

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		*s = Segment{Key: key}
		return nil
	}
	var index int
	if err := json.Unmarshal(data, &index); err == nil {
		*s = Segment{Index: index, IsIndex: true}
		return nil
	}
	return fmt.Errorf("patch path segment %s: want string or integer", string(data))
}

func (s Segment) MarshalJSON() ([]byte, error) {
	if s.IsIndex {
		return json.Marshal(s.Index)
	}
	return json.Marshal(s.Key)
}
