package llm

import "testing"

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "no tags",
			input: `{"multi_steps": false}`,
			want:  `{"multi_steps": false}`,
		},
		{
			name:  "single think block",
			input: "<think>pondering</think>{\"ok\": true}",
			want:  `{"ok": true}`,
		},
		{
			name:  "multiple think blocks",
			input: "<think>a</think>result<think>b</think>",
			want:  "result",
		},
		{
			name:  "nested think blocks",
			input: "<think>outer<think>inner</think>still outer</think>answer",
			want:  "answer",
		},
		{
			name:  "case insensitive",
			input: "<THINK>loud</THINK>answer",
			want:  "answer",
		},
		{
			name:  "unclosed block strips to end",
			input: "answer<think>never stops",
			want:  "answer",
		},
		{
			name:  "redacted reasoning",
			input: "<redacted_reasoning>hidden</redacted_reasoning>answer",
			want:  "answer",
		},
		{
			name:  "redacted reasoning closed by think tag",
			input: "<redacted_reasoning>chain of thought</think>{\"multi_steps\": false}",
			want:  `{"multi_steps": false}`,
		},
		{
			name:  "redacted reasoning think closer then plain think block",
			input: "<redacted_reasoning>a</think>keep<think>b</think>also",
			want:  "keepalso",
		},
		{
			name:  "mixed tags",
			input: "<think>a</think><redacted_reasoning>b</redacted_reasoning>answer",
			want:  "answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoning(tt.input); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	input := "```json\n{\"multi_steps\": true}\n```"
	want := `{"multi_steps": true}`
	if got := StripFences(input); got != want {
		t.Errorf("StripFences = %q, want %q", got, want)
	}

	// Fenced output preceded by reasoning.
	input = "<think>format</think>\n```json\n{\"a\": 1}\n```"
	want = `{"a": 1}`
	if got := StripFences(input); got != want {
		t.Errorf("StripFences with reasoning = %q, want %q", got, want)
	}

	// Plain output passes through.
	if got := StripFences("  plain  "); got != "plain" {
		t.Errorf("StripFences plain = %q, want %q", got, "plain")
	}
}
