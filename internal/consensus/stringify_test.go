package consensus

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/gohive/internal/history"
)

func TestStringify(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"text part", history.Part{Type: "text", Text: "note"}, "note"},
		{"image part", history.Part{Type: "image", Data: "AAAA", MimeType: "image/png"}, "[Image]"},
		{"image url part", history.Part{Type: "image", URL: "https://x/y.png"}, "[Image: https://x/y.png]"},
		{
			"typed map parts",
			[]any{
				map[string]any{"type": "text", "text": "before"},
				map[string]any{"type": "image", "data": "AAAA"},
			},
			"before\n[Image]",
		},
		{"text-keyed map", map[string]any{"text": "inner"}, "inner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringifyNeverEmitsBase64(t *testing.T) {
	const b64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJ"
	inputs := []any{
		history.Part{Type: "image", Data: b64, MimeType: "image/png"},
		[]history.Part{{Type: "image", Data: b64}},
		map[string]any{"type": "image", "data": b64},
	}
	for _, in := range inputs {
		if got := Stringify(in); strings.Contains(got, b64) {
			t.Errorf("base64 leaked: %q", got)
		}
	}
}

func TestFormatTruncatesOversizedResults(t *testing.T) {
	huge := strings.Repeat("a", maxFormattedLen*2)
	got := FormatActionResult("act-1", "shell", huge)
	if len(got) > maxFormattedLen+100 {
		t.Errorf("formatted length = %d, not bounded", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Error("truncation marker missing")
	}
	if !strings.HasPrefix(got, "<action_result>") {
		t.Errorf("tag missing: %q", got[:40])
	}
}

func TestFormatAgentMessage(t *testing.T) {
	got := FormatAgentMessage("agent-2", "status update")
	for _, want := range []string{"<agent_message>", "agent-2", "status update"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestDetectImage(t *testing.T) {
	tests := []struct {
		name   string
		result any
		ok     bool
		parts  int
	}{
		{"plain string", "stdout text", false, 0},
		{"map without image", map[string]any{"type": "text", "text": "x"}, false, 0},
		{
			"direct image map",
			map[string]any{"type": "image", "data": "AAAA", "mimeType": "image/jpeg"},
			true, 1,
		},
		{
			"nested under result",
			map[string]any{"result": map[string]any{"type": "image", "url": "https://x/y.png"}},
			true, 1,
		},
		{
			"content list mixing text and image",
			map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "caption"},
				map[string]any{"type": "image", "data": "AAAA"},
			}},
			true, 2,
		},
		{"image map without payload", map[string]any{"type": "image"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, ok := DetectImage(tt.result)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(parts) != tt.parts {
				t.Errorf("parts = %d, want %d", len(parts), tt.parts)
			}
		})
	}
}
