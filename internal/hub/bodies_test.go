package hub

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"agenthub/internal/protocol"
)

func TestDecodeStrictBody(t *testing.T) {
	var body SendMessageBody
	err := DecodeStrictBody("send-message", strings.NewReader(
		`{"text":"hello","ownerClientId":"cli_1","isSteering":true}`), &body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Text != "hello" || body.OwnerClientID != "cli_1" || !body.IsSteering {
		t.Errorf("body = %+v", body)
	}

	// Round-trip preserves every recognized field.
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again SendMessageBody
	if err := DecodeStrictBody("send-message", strings.NewReader(string(data)), &again); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if again != body {
		t.Errorf("round-trip %+v != %+v", again, body)
	}
}

// The closed shape rejects unknown keys by name, catching client typos
// and since-renamed fields.
func TestDecodeStrictBodyNamesUnknownKey(t *testing.T) {
	var body SendMessageBody
	err := DecodeStrictBody("send-message", strings.NewReader(
		`{"text":"hello","owner_client_id":"cli_1"}`), &body)
	if err == nil {
		t.Fatal("unknown key accepted")
	}
	var ve *protocol.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type %T, want *protocol.ValidationError", err)
	}
	if ve.Schema != "send-message" {
		t.Errorf("schema = %q", ve.Schema)
	}
	if len(ve.Issues) != 1 || ve.Issues[0].Field != "owner_client_id" {
		t.Errorf("issues = %+v, want the unknown key named", ve.Issues)
	}
}

func TestDecodeStrictBodyRejectsWrongType(t *testing.T) {
	var body SendMessageBody
	err := DecodeStrictBody("send-message", strings.NewReader(`{"text":12}`), &body)
	if err == nil {
		t.Fatal("wrong primitive type accepted")
	}
	var ve *protocol.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type %T", err)
	}
	if len(ve.Issues) != 1 || ve.Issues[0].Field != "text" {
		t.Errorf("issues = %+v", ve.Issues)
	}
}

func TestBodyFieldValidation(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		body   any
		data   string
		field  string
	}{
		{"empty text", "send-message", &SendMessageBody{}, `{"text":"  "}`, "text"},
		{"missing mode", "set-mode", &SetModeBody{}, `{}`, "collaborationMode"},
		{"missing request id", "submit-user-input", &SubmitUserInputBody{}, `{"response":{}}`, "requestId"},
		{"missing trace id", "replay", &ReplayBody{}, `{}`, "traceId"},
		{"mark without label", "trace-mark", &TraceMarkBody{}, `{"traceId":"tr_1"}`, "label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DecodeStrictBody(tt.schema, strings.NewReader(tt.data), tt.body)
			var ve *protocol.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want validation error", err)
			}
			found := false
			for _, issue := range ve.Issues {
				if issue.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("issues = %+v, want field %q flagged", ve.Issues, tt.field)
			}
		})
	}
}
