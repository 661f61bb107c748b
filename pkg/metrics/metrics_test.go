package metrics

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLObserverWritesTagsAndFields(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	Record(obs, EventPresentationEnded, 42, map[string]string{"session_id": "s1"}, map[string]any{"words": 120})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["name"] != EventPresentationEnded {
		t.Fatalf("unexpected name %v", line["name"])
	}
	if line["session_id"] != "s1" {
		t.Fatalf("expected tag in line")
	}
	if line["words"] != float64(120) {
		t.Fatalf("expected field in line, got %v", line["words"])
	}
}

func TestOpenJSONLFileCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.jsonl")
	obs, err := OpenJSONLFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	Record(obs, EventConversationCreated, 12, nil, nil)
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAsyncObserverForwards(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 4)
	Record(async, EventSpeechRestarted, 1, nil, nil)

	deadline := time.Now().Add(time.Second)
	for len(mem.Named(EventSpeechRestarted)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	async.Close()
	Record(async, EventSpeechRestarted, 1, nil, nil)
}

func TestRecordNilObserver(t *testing.T) {
	Record(nil, EventHandoffRejected, 0, nil, nil)
}
