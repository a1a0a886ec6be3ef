package retrieval

import (
	"testing"
)

func TestParseStringArray(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    []string
		wantErr bool
	}{
		{
			name:  "plain array",
			input: `["first query", "second query"]`,
			max:   5,
			want:  []string{"first query", "second query"},
		},
		{
			name:  "fenced json",
			input: "```json\n[\"a\", \"b\"]\n```",
			max:   5,
			want:  []string{"a", "b"},
		},
		{
			name:  "prose around the array",
			input: `Here are your queries: ["one", "two"] hope that helps`,
			max:   5,
			want:  []string{"one", "two"},
		},
		{
			name:  "dedupes case insensitively",
			input: `["Query", "query", "other"]`,
			max:   5,
			want:  []string{"Query", "other"},
		},
		{
			name:  "caps at max",
			input: `["a", "b", "c", "d"]`,
			max:   2,
			want:  []string{"a", "b"},
		},
		{
			name:    "not json",
			input:   "sorry, I cannot help with that",
			max:     5,
			wantErr: true,
		},
		{
			name:    "only blanks",
			input:   `["", "  "]`,
			max:     5,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStringArray(tt.input, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
