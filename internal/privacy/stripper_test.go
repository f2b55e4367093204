package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrivateTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags",
			input:    "just a regular comment",
			expected: "just a regular comment",
		},
		{
			name:     "single tag",
			input:    "visible <private>hidden</private> more",
			expected: "visible  more",
		},
		{
			name:     "multiple tags",
			input:    "<private>a</private>keep<private>b</private>",
			expected: "keep",
		},
		{
			name:     "multiline tag",
			input:    "start <private>line1\nline2</private> end",
			expected: "start  end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripPrivateTags(tt.input))
		})
	}
}

func TestIsEntirelyPrivate(t *testing.T) {
	assert.True(t, IsEntirelyPrivate("<private>secret</private>"))
	assert.True(t, IsEntirelyPrivate("  <private>a</private>  <private>b</private> "))
	assert.False(t, IsEntirelyPrivate("public <private>secret</private>"))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "hello", Clean("  hello <private>token=abc</private>  "))
}
