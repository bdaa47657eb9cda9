package core

import (
	"encoding/json"
	"testing"
)

func TestMetadataIsComplete(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{}`, false},
		{`{"is_complete":true}`, true},
		{`{"is_complete":false}`, false},
		{`{"is_complete":null}`, false},
		{`{"is_complete":1}`, true},
		{`{"is_complete":0}`, false},
		{`{"is_complete":"yes"}`, true},
		{`{"is_complete":""}`, false},
		{`{"is_complete":{}}`, true},
		{`[]`, false},
		{`"text"`, false},
		{``, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Metadata(tt.raw).IsComplete(); got != tt.want {
				t.Errorf("IsComplete(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestChunkJSON(t *testing.T) {
	var c Chunk
	if err := json.Unmarshal([]byte(`{"content":"hi","metadata":{"is_complete":true,"exit_code":2}}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.Content != "hi" {
		t.Errorf("content: got %q", c.Content)
	}
	if !c.Metadata.IsComplete() {
		t.Error("expected is_complete")
	}
	if code := c.Metadata.Get("exit_code").Int(); code != 2 {
		t.Errorf("exit_code: got %d, want 2", code)
	}

	out, err := json.Marshal(Chunk{Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"content":"x","metadata":{}}` {
		t.Errorf("marshal: got %s", out)
	}
}

func TestNewStreamIDUnique(t *testing.T) {
	seen := make(map[StreamID]bool)
	for i := 0; i < 100; i++ {
		id := NewStreamID()
		if id == "" {
			t.Fatal("empty stream id")
		}
		if seen[id] {
			t.Fatalf("duplicate stream id %q", id)
		}
		seen[id] = true
	}
}

func TestLogEntryStreamed(t *testing.T) {
	if (LogEntry{Kind: KindOutput}).Streamed() {
		t.Error("entry without id should not be streamed")
	}
	if !(LogEntry{Kind: KindOutput, ID: "s1"}).Streamed() {
		t.Error("entry with id should be streamed")
	}
}
