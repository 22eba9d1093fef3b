package hub

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"agenthub/internal/protocol"
)

// First-party request bodies. These are decoded in strict mode: the
// shape is closed and an unknown key is rejected by name, so client
// typos (or use of a since-renamed field) fail loudly instead of being
// silently dropped. Third-party wire traffic never goes through this
// path.

type StartThreadBody struct {
	AgentID        string `json:"agentId,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	Model          string `json:"model,omitempty"`
	ModelProvider  string `json:"modelProvider,omitempty"`
	Personality    string `json:"personality,omitempty"`
	Sandbox        string `json:"sandbox,omitempty"`
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	Ephemeral      bool   `json:"ephemeral,omitempty"`
	OwnerClientID  string `json:"ownerClientId,omitempty"`
}

type SendMessageBody struct {
	Text          string `json:"text"`
	OwnerClientID string `json:"ownerClientId,omitempty"`
	Cwd           string `json:"cwd,omitempty"`
	IsSteering    bool   `json:"isSteering,omitempty"`
}

func (b SendMessageBody) validate() []protocol.Issue {
	if strings.TrimSpace(b.Text) == "" {
		return []protocol.Issue{{Field: "text", Detail: "must be non-empty"}}
	}
	return nil
}

type SetModeBody struct {
	CollaborationMode string `json:"collaborationMode"`
	OwnerClientID     string `json:"ownerClientId,omitempty"`
}

func (b SetModeBody) validate() []protocol.Issue {
	if b.CollaborationMode == "" {
		return []protocol.Issue{{Field: "collaborationMode", Detail: "required"}}
	}
	return nil
}

type SubmitUserInputBody struct {
	RequestID     string          `json:"requestId"`
	Response      json.RawMessage `json:"response"`
	OwnerClientID string          `json:"ownerClientId,omitempty"`
}

func (b SubmitUserInputBody) validate() []protocol.Issue {
	var issues []protocol.Issue
	if b.RequestID == "" {
		issues = append(issues, protocol.Issue{Field: "requestId", Detail: "required"})
	}
	if len(b.Response) == 0 {
		issues = append(issues, protocol.Issue{Field: "response", Detail: "required"})
	}
	return issues
}

type InterruptBody struct {
	OwnerClientID string `json:"ownerClientId,omitempty"`
}

type TraceStartBody struct {
	Name string `json:"name,omitempty"`
}

type TraceMarkBody struct {
	TraceID string `json:"traceId"`
	Label   string `json:"label"`
}

func (b TraceMarkBody) validate() []protocol.Issue {
	var issues []protocol.Issue
	if b.TraceID == "" {
		issues = append(issues, protocol.Issue{Field: "traceId", Detail: "required"})
	}
	if b.Label == "" {
		issues = append(issues, protocol.Issue{Field: "label", Detail: "required"})
	}
	return issues
}

type ReplayBody struct {
	TraceID string `json:"traceId"`
}

func (b ReplayBody) validate() []protocol.Issue {
	if b.TraceID == "" {
		return []protocol.Issue{{Field: "traceId", Detail: "required"}}
	}
	return nil
}

type validatable interface {
	validate() []protocol.Issue
}

// DecodeStrictBody decodes one closed-shape body. Unknown keys and wrong
// primitive types become ValidationErrors naming the offending field.
func DecodeStrictBody(schema string, r io.Reader, body any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(body); err != nil {
		return &protocol.ValidationError{Schema: schema, Issues: []protocol.Issue{decodeIssue(err)}}
	}
	if v, ok := body.(validatable); ok {
		if issues := v.validate(); len(issues) > 0 {
			return &protocol.ValidationError{Schema: schema, Issues: issues}
		}
	}
	return nil
}

func decodeIssue(err error) protocol.Issue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return protocol.Issue{Field: typeErr.Field, Detail: "must be of type " + typeErr.Type.String()}
	}
	// encoding/json reports closed-shape violations as
	// `json: unknown field "name"`; surface the field name directly.
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, `json: unknown field `); ok {
		return protocol.Issue{Field: strings.Trim(rest, `"`), Detail: "unrecognized key"}
	}
	return protocol.Issue{Field: "", Detail: msg}
}
