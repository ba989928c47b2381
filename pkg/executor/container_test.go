package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContainerExecutorFactory_MissingImage(t *testing.T) {
	factory := NewContainerExecutorFactory(nil)
	_, err := factory(map[string]any{})
	assert.Error(t, err)
}

func TestNewContainerExecutorFactory_BuildsWithImage(t *testing.T) {
	factory := NewContainerExecutorFactory(nil)
	ex, err := factory(map[string]any{"image": "alpine:3.19"})
	require.NoError(t, err)
	assert.NotNil(t, ex)
}

func TestNewContainerExecutorFactory_EntrypointAndEnv(t *testing.T) {
	factory := NewContainerExecutorFactory(nil)
	ex, err := factory(map[string]any{
		"image":      "alpine:3.19",
		"entrypoint": []string{"/bin/sh", "-c"},
		"env":        map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)

	ce, ok := ex.(*ContainerExecutor)
	require.True(t, ok)
	assert.Equal(t, []string{"/bin/sh", "-c"}, ce.entrypoint)
	assert.Equal(t, "bar", ce.env["FOO"])
}
