package urlkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/site2md/engine/pkg/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "basic URL",
			input:    "https://example.com/path",
			expected: "https://example.com/path",
		},
		{
			name:     "uppercase scheme and host",
			input:    "HTTPS://EXAMPLE.COM/Path",
			expected: "https://example.com/Path",
		},
		{
			name:     "default https port removal",
			input:    "https://example.com:443/path",
			expected: "https://example.com/path",
		},
		{
			name:     "default http port removal",
			input:    "http://example.com:80/path",
			expected: "http://example.com/path",
		},
		{
			name:     "non-default port preserved",
			input:    "http://example.com:8080/path",
			expected: "http://example.com:8080/path",
		},
		{
			name:     "query parameter sorting",
			input:    "https://example.com/path?c=3&a=1&b=2",
			expected: "https://example.com/path?a=1&b=2&c=3",
		},
		{
			name:     "duplicate slashes",
			input:    "https://example.com//path//to//resource",
			expected: "https://example.com/path/to/resource",
		},
		{
			name:     "relative path resolution",
			input:    "https://example.com/path/../other/./final",
			expected: "https://example.com/other/final",
		},
		{
			name:     "fragment removal",
			input:    "https://example.com/path#fragment",
			expected: "https://example.com/path",
		},
		{
			name:     "empty path normalization",
			input:    "https://example.com",
			expected: "https://example.com/",
		},
		{
			name:     "trailing dot host",
			input:    "https://example.com./path",
			expected: "https://example.com/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNormalizeRejectsInvalidURLs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not a url", input: "not a url"},
		{name: "missing scheme", input: "example.com/path"},
		{name: "unsupported scheme", input: "ftp://example.com/file"},
		{name: "missing host", input: "https:///path"},
		{name: "empty", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func TestKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t,
			Key("https://example.com/", types.FormatMarkdown),
			Key("https://example.com/", types.FormatMarkdown))
	})

	t.Run("format is part of the key", func(t *testing.T) {
		assert.NotEqual(t,
			Key("https://example.com/", types.FormatMarkdown),
			Key("https://example.com/", types.FormatJSON))
	})

	t.Run("different urls give different keys", func(t *testing.T) {
		assert.NotEqual(t,
			Key("https://example.com/a", types.FormatMarkdown),
			Key("https://example.com/b", types.FormatMarkdown))
	})

	t.Run("normalized variants share a key", func(t *testing.T) {
		a, err := Normalize("https://example.com/path?b=2&a=1")
		require.NoError(t, err)
		b, err := Normalize("HTTPS://EXAMPLE.COM:443/path?a=1&b=2")
		require.NoError(t, err)
		assert.Equal(t, Key(a, types.FormatMarkdown), Key(b, types.FormatMarkdown))
	})
}
