package state

import (
	"encoding/json"
	"reflect"
	"testing"
)

func snapshotEvent(conversationID string, version int64, doc string) Event {
	return Event{
		ConversationID: conversationID,
		Version:        version,
		Change:         Change{Type: ChangeSnapshot, ConversationState: json.RawMessage(doc)},
	}
}

func patchEvent(conversationID string, version int64, patches ...Patch) Event {
	return Event{
		ConversationID: conversationID,
		Version:        version,
		Change:         Change{Type: ChangePatches, Patches: patches},
	}
}

func patch(op string, path []Segment, value string) Patch {
	p := Patch{Op: op, Path: path}
	if value != "" {
		p.Value = json.RawMessage(value)
	}
	return p
}

func TestSnapshotThenPatches(t *testing.T) {
	events := []Event{
		snapshotEvent("c1", 1, `{"status":"idle","turns":[],"requests":[]}`),
		patchEvent("c1", 2,
			patch(OpReplace, []Segment{Key("status")}, `"running"`),
			patch(OpAdd, []Segment{Key("turns"), Index(0)}, `{"role":"user","text":"hi"}`),
		),
	}
	threads := Reduce(events)

	thread := threads["c1"]
	if thread == nil {
		t.Fatal("thread c1 not created")
	}
	doc := thread.Conversation.(map[string]any)
	if doc["status"] != "running" {
		t.Errorf("status = %v, want running", doc["status"])
	}
	turns := thread.Turns()
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].(map[string]any)["text"] != "hi" {
		t.Errorf("turn text = %v", turns[0])
	}
	if thread.Version != 2 {
		t.Errorf("version = %d, want 2", thread.Version)
	}
}

// A patch arriving before any snapshot must not crash and must leave no
// partial structure behind; once the snapshot lands, the state equals
// reducing the snapshot alone (the early patch targeted paths that do
// not exist in the eventual base).
func TestPatchBeforeSnapshotConverges(t *testing.T) {
	early := patchEvent("c1", 2,
		patch(OpReplace, []Segment{Key("status")}, `"running"`),
	)
	snapshot := snapshotEvent("c1", 3, `{"turns":[],"requests":[]}`)

	outOfOrder := Reduce([]Event{early, snapshot})
	snapshotOnly := Reduce([]Event{snapshot})

	if !reflect.DeepEqual(outOfOrder["c1"].Conversation, snapshotOnly["c1"].Conversation) {
		t.Errorf("out-of-order state %v != snapshot-only state %v",
			outOfOrder["c1"].Conversation, snapshotOnly["c1"].Conversation)
	}
}

// When the patch's paths exist in the snapshot, both arrival orders must
// contain all patch effects on top of the snapshot.
func TestSnapshotAndPatchEitherOrder(t *testing.T) {
	snapshot := snapshotEvent("c1", 1, `{"status":"idle","requests":[]}`)
	patches := patchEvent("c1", 2,
		patch(OpReplace, []Segment{Key("status")}, `"done"`),
	)

	forward := Reduce([]Event{snapshot, patches})
	doc := forward["c1"].Conversation.(map[string]any)
	if doc["status"] != "done" {
		t.Errorf("forward order: status = %v, want done", doc["status"])
	}

	// Reversed arrival: the early patch is buffered and replayed once
	// the snapshot establishes the base. Its path exists there, so both
	// orders converge to the same state.
	reversed := Reduce([]Event{patches, snapshot})
	doc = reversed["c1"].Conversation.(map[string]any)
	if doc["status"] != "done" {
		t.Errorf("reversed order: status = %v, want done", doc["status"])
	}
	if !reflect.DeepEqual(forward["c1"].Conversation, reversed["c1"].Conversation) {
		t.Errorf("orders diverged: %v vs %v", forward["c1"].Conversation, reversed["c1"].Conversation)
	}
}

func TestStreamingEqualsBatch(t *testing.T) {
	events := []Event{
		snapshotEvent("c1", 1, `{"turns":[],"requests":[]}`),
		patchEvent("c1", 2, patch(OpAdd, []Segment{Key("turns"), Index(0)}, `"t0"`)),
		patchEvent("c1", 3, patch(OpAdd, []Segment{Key("turns"), Index(1)}, `"t1"`)),
		snapshotEvent("c2", 1, `{"turns":["x"]}`),
		patchEvent("c2", 2, patch(OpRemove, []Segment{Key("turns"), Index(0)}, "")),
	}

	batch := Reduce(events)

	streaming := NewReducer()
	for _, event := range events {
		streaming.Apply(event)
	}

	if !reflect.DeepEqual(batch, streaming.Threads()) {
		t.Errorf("batch %+v != streaming %+v", batch, streaming.Threads())
	}
}

func TestThreadsAreIndependent(t *testing.T) {
	threads := Reduce([]Event{
		snapshotEvent("c1", 1, `{"status":"a"}`),
		snapshotEvent("c2", 1, `{"status":"b"}`),
		patchEvent("c1", 2, patch(OpReplace, []Segment{Key("status")}, `"a2"`)),
	})
	if got := threads["c1"].Conversation.(map[string]any)["status"]; got != "a2" {
		t.Errorf("c1 status = %v", got)
	}
	if got := threads["c2"].Conversation.(map[string]any)["status"]; got != "b" {
		t.Errorf("c2 status = %v (c1's patch leaked)", got)
	}
}

// An out-of-order snapshot is applied, not rejected: snapshots are
// authoritative regardless of version.
func TestSnapshotNotVersionGated(t *testing.T) {
	threads := Reduce([]Event{
		snapshotEvent("c1", 5, `{"status":"late"}`),
		snapshotEvent("c1", 3, `{"status":"early"}`),
	})
	if got := threads["c1"].Conversation.(map[string]any)["status"]; got != "early" {
		t.Errorf("status = %v, want early (snapshot must win unconditionally)", got)
	}
}

func TestPatchOps(t *testing.T) {
	base := `{"requests":[{"id":"r1"},{"id":"r2"}],"meta":{"model":"m1"}}`

	tests := []struct {
		name  string
		patch Patch
		check func(t *testing.T, doc map[string]any)
	}{
		{
			name:  "add into sequence shifts elements",
			patch: patch(OpAdd, []Segment{Key("requests"), Index(1)}, `{"id":"r1.5"}`),
			check: func(t *testing.T, doc map[string]any) {
				requests := doc["requests"].([]any)
				if len(requests) != 3 {
					t.Fatalf("len = %d, want 3", len(requests))
				}
				if requests[1].(map[string]any)["id"] != "r1.5" {
					t.Errorf("requests[1] = %v", requests[1])
				}
				if requests[2].(map[string]any)["id"] != "r2" {
					t.Errorf("requests[2] = %v (not shifted)", requests[2])
				}
			},
		},
		{
			name:  "replace nested field",
			patch: patch(OpReplace, []Segment{Key("meta"), Key("model")}, `"m2"`),
			check: func(t *testing.T, doc map[string]any) {
				if got := doc["meta"].(map[string]any)["model"]; got != "m2" {
					t.Errorf("model = %v", got)
				}
			},
		},
		{
			name:  "replace whole array",
			patch: patch(OpReplace, []Segment{Key("requests")}, `[]`),
			check: func(t *testing.T, doc map[string]any) {
				if got := len(doc["requests"].([]any)); got != 0 {
					t.Errorf("len(requests) = %d, want 0", got)
				}
			},
		},
		{
			name:  "remove sequence element",
			patch: patch(OpRemove, []Segment{Key("requests"), Index(0)}, ""),
			check: func(t *testing.T, doc map[string]any) {
				requests := doc["requests"].([]any)
				if len(requests) != 1 {
					t.Fatalf("len = %d, want 1", len(requests))
				}
				if requests[0].(map[string]any)["id"] != "r2" {
					t.Errorf("requests[0] = %v", requests[0])
				}
			},
		},
		{
			name:  "remove object key",
			patch: patch(OpRemove, []Segment{Key("meta")}, ""),
			check: func(t *testing.T, doc map[string]any) {
				if _, ok := doc["meta"]; ok {
					t.Error("meta still present")
				}
			},
		},
		{
			name:  "missing path is a no-op",
			patch: patch(OpReplace, []Segment{Key("absent"), Key("deep")}, `1`),
			check: func(t *testing.T, doc map[string]any) {
				if _, ok := doc["absent"]; ok {
					t.Error("missing path created a partial structure")
				}
			},
		},
		{
			name:  "index out of range is a no-op",
			patch: patch(OpReplace, []Segment{Key("requests"), Index(9)}, `1`),
			check: func(t *testing.T, doc map[string]any) {
				if got := len(doc["requests"].([]any)); got != 2 {
					t.Errorf("len(requests) = %d, want 2", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads := Reduce([]Event{
				snapshotEvent("c1", 1, base),
				patchEvent("c1", 2, tt.patch),
			})
			tt.check(t, threads["c1"].Conversation.(map[string]any))
		})
	}
}

func TestReplaceRemoveIdempotent(t *testing.T) {
	replace := patch(OpReplace, []Segment{Key("status")}, `"done"`)
	remove := patch(OpRemove, []Segment{Key("extra")}, "")

	once := Reduce([]Event{
		snapshotEvent("c1", 1, `{"status":"idle","extra":1}`),
		patchEvent("c1", 2, replace, remove),
	})
	twice := Reduce([]Event{
		snapshotEvent("c1", 1, `{"status":"idle","extra":1}`),
		patchEvent("c1", 2, replace, remove),
		patchEvent("c1", 2, replace, remove),
	})
	if !reflect.DeepEqual(once["c1"].Conversation, twice["c1"].Conversation) {
		t.Errorf("replay changed state: %v vs %v", once["c1"].Conversation, twice["c1"].Conversation)
	}
}

func TestCloneSharesNoStructure(t *testing.T) {
	threads := Reduce([]Event{
		snapshotEvent("c1", 1, `{"status":"idle","turns":[{"text":"hi"}],"meta":{"model":"m1"}}`),
	})
	original := threads["c1"]
	clone := original.Clone()

	if !reflect.DeepEqual(clone.Conversation, original.Conversation) {
		t.Fatalf("clone %v != original %v", clone.Conversation, original.Conversation)
	}

	// Mutating the original through patch application must not show
	// through the clone, at any depth.
	doc := original.Conversation.(map[string]any)
	doc["status"] = "running"
	doc["meta"].(map[string]any)["model"] = "m2"
	doc["turns"].([]any)[0].(map[string]any)["text"] = "changed"

	cloneDoc := clone.Conversation.(map[string]any)
	if cloneDoc["status"] != "idle" {
		t.Errorf("status = %v, clone aliases the original map", cloneDoc["status"])
	}
	if cloneDoc["meta"].(map[string]any)["model"] != "m1" {
		t.Error("nested map shared between clone and original")
	}
	if cloneDoc["turns"].([]any)[0].(map[string]any)["text"] != "hi" {
		t.Error("sequence element shared between clone and original")
	}
}

func TestSegmentJSON(t *testing.T) {
	var p Patch
	if err := json.Unmarshal([]byte(`{"op":"add","path":["turns",2,"text"],"value":"x"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []Segment{Key("turns"), Index(2), Key("text")}
	if !reflect.DeepEqual(p.Path, want) {
		t.Errorf("path = %+v, want %+v", p.Path, want)
	}

	data, err := json.Marshal(p.Path)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["turns",2,"text"]` {
		t.Errorf("round-trip = %s", data)
	}
}
