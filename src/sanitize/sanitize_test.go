package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "color codes",
			input:    "\x1b[31mERROR\x1b[0m: something failed",
			expected: "ERROR: something failed",
		},
		{
			name:     "no ANSI",
			input:    "plain text message",
			expected: "plain text message",
		},
		{
			name:     "multiple codes",
			input:    "\x1b[1m\x1b[31mbold red\x1b[0m normal",
			expected: "bold red normal",
		},
		{
			name:     "carriage returns",
			input:    "line1\r\nline2\r",
			expected: "line1\nline2",
		},
		{
			name:     "tabs survive, bell does not",
			input:    "a\tb\x07c",
			expected: "a\tbc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Text(tt.input)
			if result != tt.expected {
				t.Errorf("Text(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{"short", "  not found\n", 20, "not found"},
		{"cut", "abcdefghij", 4, "abcd…"},
		{"multibyte", "ééééé", 3, "ééé…"},
		{"no limit", "abcdefghij", 0, "abcdefghij"},
		{"colored", "\x1b[31mNo valid crumb\x1b[0m", 100, "No valid crumb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Excerpt(tt.input, tt.limit)
			if result != tt.expected {
				t.Errorf("Excerpt(%q, %d) = %q, expected %q", tt.input, tt.limit, result, tt.expected)
			}
		})
	}
}
