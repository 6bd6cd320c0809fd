package cmd

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short unchanged", "vacation.jpg", 40, "vacation.jpg"},
		{"exact length unchanged", "abcde", 5, "abcde"},
		{"long ascii", "a-very-long-filename.jpg", 10, "a-very-..."},
		{"long multibyte", strings.Repeat("日", 20), 10, strings.Repeat("日", 7) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}
