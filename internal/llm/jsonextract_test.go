package llm

import (
	"strings"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "clean object",
			input: `{"type":"click","label":"Login"}`,
			want:  `{"type":"click","label":"Login"}`,
		},
		{
			name:  "surrounded by prose",
			input: "Here is the next step:\n```json\n{\"type\":\"goto\",\"url\":\"https://x.test\"}\n```\nDone.",
			want:  `{"type":"goto","url":"https://x.test"}`,
		},
		{
			name:  "braces inside string literal",
			input: `{"reasoning":"click the {menu} button","type":"click"}`,
			want:  `{"reasoning":"click the {menu} button","type":"click"}`,
		},
		{
			name:  "escaped quote in string",
			input: `{"label":"say \"hi\"","type":"click"}`,
			want:  `{"label":"say \"hi\"","type":"click"}`,
		},
		{
			name:  "trailing comma trimmed",
			input: `{"type":"click","label":"Next",}`,
			want:  `{"type":"click","label":"Next"}`,
		},
		{
			name:  "duplicate commas collapsed",
			input: `{"type":"click",,"label":"Next"}`,
			want:  `{"type":"click","label":"Next"}`,
		},
		{
			name:  "nested object",
			input: `{"step":{"type":"click"},"confidence":0.9}`,
			want:  `{"step":{"type":"click"},"confidence":0.9}`,
		},
		{
			name:    "no object at all",
			input:   "I could not decide on a next step.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"type":"click"`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSONObject failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSONObjectRepairsQuotes(t *testing.T) {
	// Single-quoted JSON is invalid; the jsonrepair fallback normalizes it.
	got, err := ExtractJSONObject(`{'type': 'click', 'label': 'Login'}`)
	if err != nil {
		t.Fatalf("ExtractJSONObject failed: %v", err)
	}
	if !strings.Contains(got, `"click"`) {
		t.Fatalf("repair did not normalize quotes: %q", got)
	}
}
