package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message is the tagged result of classifying one decoded wire value.
type Message interface {
	MessageKind() MessageKind
}

type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindNotification MessageKind = "notification"
	KindBroadcast    MessageKind = "broadcast"
)

// Request is a call expecting a correlated response.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	raw json.RawMessage
}

func (Request) MessageKind() MessageKind { return KindRequest }

// Response correlates to a request by id and carries exactly one of
// Result or Error.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`

	raw json.RawMessage
}

func (Response) MessageKind() MessageKind { return KindResponse }

type ResponseError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// Notification is a method call with no id and no expected reply.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	raw json.RawMessage
}

func (Notification) MessageKind() MessageKind { return KindNotification }

// Raw returns the original wire bytes, extra fields included. Third-party
// traffic is never re-serialized from the typed view, so nothing a backend
// sends is lost in transit.
func (r Request) Raw() json.RawMessage      { return r.raw }
func (r Response) Raw() json.RawMessage     { return r.raw }
func (n Notification) Raw() json.RawMessage { return n.raw }

// Issue is one field-level validation failure.
type Issue struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ValidationError names the schema a value failed against and lists every
// field-level issue found.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Detail)
	}
	return fmt.Sprintf("invalid %s: %s", e.Schema, strings.Join(parts, "; "))
}

func validationError(schema string, issues []Issue) *ValidationError {
	return &ValidationError{Schema: schema, Issues: issues}
}

// ClassifyRequest validates data against the request shape.
func ClassifyRequest(data []byte) (*Request, error) {
	fields, err := decodeFields("request", data)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	id, idIssues := requireID(fields)
	issues = append(issues, idIssues...)
	method, methodIssues := requireMethod(fields)
	issues = append(issues, methodIssues...)
	if len(issues) > 0 {
		return nil, validationError("request", issues)
	}
	return &Request{
		ID:     id,
		Method: method,
		Params: fields["params"],
		raw:    json.RawMessage(data),
	}, nil
}

// ClassifyResponse validates data against the response shape: a
// non-negative integer id and exactly one of result/error. Both present
// or both absent is a validation failure.
func ClassifyResponse(data []byte) (*Response, error) {
	fields, err := decodeFields("response", data)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	id, idIssues := requireID(fields)
	issues = append(issues, idIssues...)

	resultRaw, hasResult := fields["result"]
	errorRaw, hasError := fields["error"]
	var respErr *ResponseError
	switch {
	case hasResult && hasError:
		issues = append(issues, Issue{Field: "result", Detail: "result and error are mutually exclusive"})
	case !hasResult && !hasError:
		issues = append(issues, Issue{Field: "result", Detail: "one of result or error is required"})
	case hasError:
		respErr = &ResponseError{}
		if err := json.Unmarshal(errorRaw, respErr); err != nil {
			issues = append(issues, Issue{Field: "error", Detail: "must be an object with integer code and string message"})
		} else if respErr.Message == "" {
			issues = append(issues, Issue{Field: "error.message", Detail: "must be a non-empty string"})
		}
	}
	if len(issues) > 0 {
		return nil, validationError("response", issues)
	}
	return &Response{
		ID:     id,
		Result: resultRaw,
		Error:  respErr,
		raw:    json.RawMessage(data),
	}, nil
}

// ClassifyNotification validates data against the notification shape: a
// non-empty method and no id.
func ClassifyNotification(data []byte) (*Notification, error) {
	fields, err := decodeFields("notification", data)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if _, hasID := fields["id"]; hasID {
		issues = append(issues, Issue{Field: "id", Detail: "notifications carry no id"})
	}
	method, methodIssues := requireMethod(fields)
	issues = append(issues, methodIssues...)
	if len(issues) > 0 {
		return nil, validationError("notification", issues)
	}
	return &Notification{
		Method: method,
		Params: fields["params"],
		raw:    json.RawMessage(data),
	}, nil
}

// ClassifyIncoming classifies traffic whose direction is ambiguous:
// response shape is tried first, then notification. When neither matches,
// the returned error carries the issues from BOTH attempts so the caller
// can see which shape the sender intended.
func ClassifyIncoming(data []byte) (Message, error) {
	resp, respErr := ClassifyResponse(data)
	if respErr == nil {
		return *resp, nil
	}
	notif, notifErr := ClassifyNotification(data)
	if notifErr == nil {
		return *notif, nil
	}
	var issues []Issue
	var ve *ValidationError
	if errors.As(respErr, &ve) {
		issues = append(issues, ve.Issues...)
	}
	if errors.As(notifErr, &ve) {
		issues = append(issues, ve.Issues...)
	}
	if len(issues) == 0 {
		return nil, respErr
	}
	return nil, validationError("incoming message", issues)
}

func decodeFields(schema string, data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, validationError(schema, []Issue{{Field: "", Detail: "not a JSON object"}})
	}
	return fields, nil
}

func requireID(fields map[string]json.RawMessage) (int64, []Issue) {
	raw, ok := fields["id"]
	if !ok {
		return 0, []Issue{{Field: "id", Detail: "required"}}
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, []Issue{{Field: "id", Detail: "must be an integer"}}
	}
	if id < 0 {
		return 0, []Issue{{Field: "id", Detail: "must be non-negative"}}
	}
	return id, nil
}

func requireMethod(fields map[string]json.RawMessage) (string, []Issue) {
	raw, ok := fields["method"]
	if !ok {
		return "", []Issue{{Field: "method", Detail: "required"}}
	}
	var method string
	if err := json.Unmarshal(raw, &method); err != nil {
		return "", []Issue{{Field: "method", Detail: "must be a string"}}
	}
	if strings.TrimSpace(method) == "" {
		return "", []Issue{{Field: "method", Detail: "must be non-empty"}}
	}
	return method, nil
}
