package classifier

import (
	"errors"
	"testing"
)

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"yes", true, false},
		{"Yes", true, false},
		{"  YES.  ", true, false},
		{`"yes"`, true, false},
		{"yes, it continues the conversation", true, false},
		{"no", false, false},
		{"No.", false, false},
		{"no, different topic", false, false},
		{"maybe", false, true},
		{"", false, true},
		{"the answer is yes", false, true},
		{"nope", false, true},
		{"yesterday", false, true},
	}
	for _, tt := range tests {
		got, err := ParseYesNo(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnparseable) {
				t.Errorf("ParseYesNo(%q) error = %v, want ErrUnparseable", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseYesNo(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseYesNo(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	type out struct {
		A string  `json:"a"`
		N float64 `json:"n"`
	}

	tests := []struct {
		name    string
		in      string
		want    out
		wantErr bool
	}{
		{
			name: "bare object",
			in:   `{"a":"x","n":0.5}`,
			want: out{A: "x", N: 0.5},
		},
		{
			name: "fenced code block",
			in:   "```json\n{\"a\":\"x\",\"n\":1}\n```",
			want: out{A: "x", N: 1},
		},
		{
			name: "leading prose",
			in:   `Here is the classification: {"a":"y","n":0.25} hope that helps`,
			want: out{A: "y", N: 0.25},
		},
		{
			name: "braces inside string values",
			in:   `{"a":"curly } brace","n":2}`,
			want: out{A: "curly } brace", N: 2},
		},
		{
			name: "nested object",
			in:   `{"a":"x","n":3,"extra":{"deep":true}}`,
			want: out{A: "x", N: 3},
		},
		{
			name:    "no object at all",
			in:      "I cannot classify that.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			in:      `{"a":"x"`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			in:      `{a: x}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got out
			err := ExtractJSON(tt.in, &got)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparseable) {
					t.Fatalf("ExtractJSON error = %v, want ErrUnparseable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ExtractJSON = %+v, want %+v", got, tt.want)
			}
		})
	}
}

