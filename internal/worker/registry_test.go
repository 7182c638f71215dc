package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	RegisterRuntime("registry-test", func(config map[string]string) (Runtime, error) {
		return &fakeRuntime{}, nil
	})

	assert.Contains(t, Providers(), "claude")
	assert.Contains(t, Providers(), "registry-test")

	rt, err := NewRuntime("registry-test", nil)
	require.NoError(t, err)
	res, err := rt.Run(context.Background(), &Call{})
	require.NoError(t, err)
	assert.Equal(t, StopEnd, res.StopReason)

	_, err = NewRuntime("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownRuntime)

	assert.Panics(t, func() {
		RegisterRuntime("registry-test", func(map[string]string) (Runtime, error) { return nil, nil })
	})
}

func TestClaudeFactory(t *testing.T) {
	rt, err := NewRuntime("claude", map[string]string{"binary": "/opt/claude", "max_turns": "7"})
	require.NoError(t, err)
	c, ok := rt.(*Claude)
	require.True(t, ok)
	assert.Equal(t, "/opt/claude", c.Binary)
	assert.Equal(t, 7, c.MaxTurns)

	_, err = NewRuntime("claude", map[string]string{"max_turns": "many"})
	assert.Error(t, err)
}
