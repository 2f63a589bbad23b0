package protocol

import (
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	raw, err := Marshal(EventTextUpdate, TextUpdate{Text: "hello", Session: "1"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if env.Type != EventTextUpdate {
		t.Errorf("Expected type %q, got %q", EventTextUpdate, env.Type)
	}

	var payload TextUpdate
	if err := Decode(env, &payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if payload.Text != "hello" || payload.Session != "1" {
		t.Errorf("Payload mismatch: %+v", payload)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"not json", []byte("not json at all")},
		{"missing type", []byte(`{"data":{"text":"x"}}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.raw); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestDecodeToleratesMissingPayload(t *testing.T) {
	env, err := Parse([]byte(`{"type":"text-update"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var payload TextUpdate
	if err := Decode(env, &payload); err != nil {
		t.Fatalf("Decode of absent payload should not fail: %v", err)
	}
	if payload.Text != "" {
		t.Errorf("Missing text should decode as empty, got %q", payload.Text)
	}
}

func TestDecodeToleratesMissingFields(t *testing.T) {
	env, err := Parse([]byte(`{"type":"gallery-mode","data":{"isActive":true}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var payload GalleryMode
	if err := Decode(env, &payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !payload.IsActive {
		t.Error("isActive should be true")
	}
	if payload.PromptIndex != 0 || payload.Session != "" {
		t.Errorf("Absent fields should be zero-valued: %+v", payload)
	}
}
