package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioSource_SpawnFailureReportsResolveError(t *testing.T) {
	src := NewStdioSource("sub", StdioConfig{Command: "/nonexistent/toolmesh-mcp-server"})

	_, err := src.GetDescriptors(t.Context())
	require.Error(t, err)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "sub", resolveErr.SourceID)

	// GetTool hits the same lazy connect and fails the same way.
	_, ok, err := src.GetTool(t.Context(), "sub:anything")
	assert.False(t, ok)
	require.ErrorAs(t, err, &resolveErr)
}

func TestStdioSource_CloseBeforeConnectIsNoop(t *testing.T) {
	src := NewStdioSource("sub", StdioConfig{Command: "/nonexistent/toolmesh-mcp-server"})
	assert.NoError(t, src.Close())
}

func TestEnvSlice(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	assert.ElementsMatch(t,
		[]string{"A=1", "B=two"},
		envSlice(map[string]string{"A": "1", "B": "two"}))
}

func TestMarshalInputSchema(t *testing.T) {
	raw := marshalInputSchema(mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{"title": map[string]any{"type": "string"}},
		Required:   []string{"title"},
	})
	require.NotNil(t, raw)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "object", decoded["type"])
}
