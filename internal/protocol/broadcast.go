package protocol

import "encoding/json"

// MethodThreadStreamStateChanged is the broadcast method carrying one
// snapshot or patch event for a thread's live state.
const MethodThreadStreamStateChanged = "thread-stream-state-changed"

// Broadcast is the envelope backends use to push state to every attached
// client. Unlike a notification it is self-tagged, so classification keys
// on the explicit type field rather than shape inference.
type Broadcast struct {
	Type           string          `json:"type"`
	Method         string          `json:"method"`
	SourceClientID string          `json:"sourceClientId,omitempty"`
	Version        int64           `json:"version,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`

	raw json.RawMessage
}

func (Broadcast) MessageKind() MessageKind { return KindBroadcast }

func (b Broadcast) Raw() json.RawMessage { return b.raw }

// ClassifyBroadcast validates data against the broadcast envelope shape.
func ClassifyBroadcast(data []byte) (*Broadcast, error) {
	fields, err := decodeFields("broadcast", data)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	var tag string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &tag) != nil || tag != "broadcast" {
		issues = append(issues, Issue{Field: "type", Detail: `must be "broadcast"`})
	}
	method, methodIssues := requireMethod(fields)
	issues = append(issues, methodIssues...)
	if len(issues) > 0 {
		return nil, validationError("broadcast", issues)
	}
	var b Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, validationError("broadcast", []Issue{{Field: "", Detail: err.Error()}})
	}
	b.Method = method
	b.raw = json.RawMessage(data)
	return &b, nil
}

// IsBroadcast reports whether data is self-tagged as a broadcast
// envelope, without fully validating it.
func IsBroadcast(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == "broadcast"
}
