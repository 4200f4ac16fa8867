package skills

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = orig })

	skill, ok := Lookup("current_time")
	require.True(t, ok)

	t.Run("defaults to UTC", func(t *testing.T) {
		out, err := skill.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "2026-08-24T10:30:00Z", out)
	})

	t.Run("honors timezone", func(t *testing.T) {
		out, err := skill.Run(context.Background(), map[string]any{"timezone": "America/New_York"})
		require.NoError(t, err)
		assert.Equal(t, "2026-08-24T06:30:00-04:00", out)
	})

	t.Run("rejects unknown timezone", func(t *testing.T) {
		_, err := skill.Run(context.Background(), map[string]any{"timezone": "Mars/Olympus"})
		require.Error(t, err)
	})
}

func TestGenerateUUID(t *testing.T) {
	t.Parallel()

	skill, ok := Lookup("generate_uuid")
	require.True(t, ok)

	out, err := skill.Run(context.Background(), nil)
	require.NoError(t, err)
	_, err = uuid.Parse(out)
	assert.NoError(t, err)
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	_, ok := Lookup("not_a_skill")
	assert.False(t, ok)
}

func TestPromptSection(t *testing.T) {
	t.Parallel()

	section := PromptSection()
	assert.Contains(t, section, "current_time")
	assert.Contains(t, section, "generate_uuid")
}
