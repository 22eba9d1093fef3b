package protocol

import (
	"strings"
	"testing"
)

func TestClassifyRequest(t *testing.T) {
	req, err := ClassifyRequest([]byte(`{"id":7,"method":"thread/list","params":{"limit":5}}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if req.ID != 7 || req.Method != "thread/list" {
		t.Errorf("got id=%d method=%q", req.ID, req.Method)
	}

	if _, err := ClassifyRequest([]byte(`{"id":-1,"method":"x"}`)); err == nil {
		t.Error("negative id accepted")
	}
	if _, err := ClassifyRequest([]byte(`{"id":1,"method":"  "}`)); err == nil {
		t.Error("blank method accepted")
	}
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"result only", `{"id":1,"result":{"ok":true}}`, false},
		{"error only", `{"id":1,"error":{"code":-32600,"message":"bad"}}`, false},
		{"null result counts as present", `{"id":1,"result":null}`, false},
		{"both present", `{"id":1,"result":{},"error":{"code":1,"message":"x"}}`, true},
		{"both absent", `{"id":1}`, true},
		{"missing id", `{"result":{}}`, true},
		{"float id", `{"id":1.5,"result":{}}`, true},
		{"negative id", `{"id":-2,"result":{}}`, true},
		{"error without message", `{"id":1,"error":{"code":4}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ClassifyResponse([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassifyNotification(t *testing.T) {
	notif, err := ClassifyNotification([]byte(`{"method":"thread/started","params":{"threadId":"t1"}}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if notif.Method != "thread/started" {
		t.Errorf("method = %q", notif.Method)
	}

	if _, err := ClassifyNotification([]byte(`{"id":3,"method":"x"}`)); err == nil {
		t.Error("notification with id accepted")
	}
}

func TestClassifyIncoming(t *testing.T) {
	message, err := ClassifyIncoming([]byte(`{"id":1,"result":{}}`))
	if err != nil {
		t.Fatalf("classify response: %v", err)
	}
	if message.MessageKind() != KindResponse {
		t.Errorf("kind = %v, want response", message.MessageKind())
	}

	message, err = ClassifyIncoming([]byte(`{"method":"turn/delta"}`))
	if err != nil {
		t.Fatalf("classify notification: %v", err)
	}
	if message.MessageKind() != KindNotification {
		t.Errorf("kind = %v, want notification", message.MessageKind())
	}
}

// When a value matches neither shape, the failure must carry the issues
// from both attempts so the caller can tell which shape was intended.
func TestClassifyIncomingConcatenatesIssues(t *testing.T) {
	_, err := ClassifyIncoming([]byte(`{"id":-1}`))
	if err == nil {
		t.Fatal("expected classification failure")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type %T, want *ValidationError", err)
	}
	var sawResponseIssue, sawNotificationIssue bool
	for _, issue := range ve.Issues {
		if issue.Field == "id" || issue.Field == "result" {
			sawResponseIssue = true
		}
		if issue.Field == "method" {
			sawNotificationIssue = true
		}
	}
	if !sawResponseIssue || !sawNotificationIssue {
		t.Errorf("issues = %+v, want failures from both shapes", ve.Issues)
	}
}

// Unrecognized extra fields are preserved on the raw view, never
// rejected: third-party backends are free to extend their dialects.
func TestExtraFieldsPreserved(t *testing.T) {
	data := `{"id":1,"result":{},"x-vendor-hint":"keepme"}`
	resp, err := ClassifyResponse([]byte(data))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(string(resp.Raw()), "x-vendor-hint") {
		t.Error("extra field lost from raw view")
	}
}

func TestClassifyBroadcast(t *testing.T) {
	data := `{"type":"broadcast","method":"thread-stream-state-changed","sourceClientId":"cli_1","version":4,"params":{"conversationId":"c1"}}`
	b, err := ClassifyBroadcast([]byte(data))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if b.Method != MethodThreadStreamStateChanged || b.Version != 4 {
		t.Errorf("got method=%q version=%d", b.Method, b.Version)
	}
	if !IsBroadcast([]byte(data)) {
		t.Error("IsBroadcast = false")
	}
	if IsBroadcast([]byte(`{"id":1,"result":{}}`)) {
		t.Error("IsBroadcast = true for a response")
	}

	if _, err := ClassifyBroadcast([]byte(`{"type":"broadcast"}`)); err == nil {
		t.Error("broadcast without method accepted")
	}
}
