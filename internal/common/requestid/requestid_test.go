package requestid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("empty input falls back to uuid", func(t *testing.T) {
		id := New("")
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	})

	t.Run("custom id is preserved", func(t *testing.T) {
		assert.Equal(t, "trace-123", New("trace-123"))
	})

	t.Run("invalid characters are stripped", func(t *testing.T) {
		assert.Equal(t, "abc-def", New("abc def!@#"))
	})

	t.Run("only invalid characters falls back to uuid", func(t *testing.T) {
		id := New("!!!###")
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	})

	t.Run("long ids are truncated", func(t *testing.T) {
		long := make([]byte, 100)
		for i := range long {
			long[i] = 'a'
		}
		assert.Len(t, New(string(long)), MaxLength)
	})
}
