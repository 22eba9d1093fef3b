package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthub/internal/state"
)

// Trace is a recording of the broadcast stream, used to replay event
// sequences through the pure reducer fold when diagnosing convergence.
type Trace struct {
	ID        string        `json:"traceId"`
	Name      string        `json:"name,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Events    []state.Event `json:"events"`
	Marks     []TraceMark   `json:"marks,omitempty"`
}

// TraceMark labels a position in the recorded event sequence.
type TraceMark struct {
	Label      string    `json:"label"`
	EventIndex int       `json:"eventIndex"`
	At         time.Time `json:"at"`
}

type traceRecorder struct {
	mu     sync.Mutex
	traces map[string]*Trace
}

func newTraceRecorder() *traceRecorder {
	return &traceRecorder{traces: make(map[string]*Trace)}
}

func (t *traceRecorder) start(name string) *Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace := &Trace{
		ID:        "trace_" + uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
	}
	t.traces[trace.ID] = trace
	return trace
}

func (t *traceRecorder) mark(traceID, label string) (*Trace, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[traceID]
	if !ok {
		return nil, fmt.Errorf("unknown trace id %q", traceID)
	}
	trace.Marks = append(trace.Marks, TraceMark{
		Label:      label,
		EventIndex: len(trace.Events),
		At:         time.Now(),
	})
	return trace, nil
}

func (t *traceRecorder) record(event state.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, trace := range t.traces {
		trace.Events = append(trace.Events, event)
	}
}

// replay folds a recorded event sequence from scratch. Batch replay of
// a trace must converge to the same states the streaming path produced.
func (t *traceRecorder) replay(traceID string) (map[string]*state.ThreadState, error) {
	t.mu.Lock()
	trace, ok := t.traces[traceID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("unknown trace id %q", traceID)
	}
	events := make([]state.Event, len(trace.Events))
	copy(events, trace.Events)
	t.mu.Unlock()
	return state.Reduce(events), nil
}
