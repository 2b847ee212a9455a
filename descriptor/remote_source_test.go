package descriptor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryhq/toolmesh/internal/httpclient"
)

func newFakeRemoteServer(t *testing.T, listCalls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "tools/list":
			if listCalls != nil {
				atomic.AddInt64(listCalls, 1)
			}
			result, _ := json.Marshal(remoteListResult{Tools: []remoteDescriptorWire{
				{Name: "create_pr", Description: "Create a pull request"},
			}})
			_ = json.NewEncoder(w).Encode(remoteResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		case "tools/call":
			result, _ := json.Marshal(remoteCallResult{Content: "done"})
			_ = json.NewEncoder(w).Encode(remoteResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		default:
			_ = json.NewEncoder(w).Encode(remoteResponse{JSONRPC: "2.0", ID: req.ID, Error: &remoteError{Code: -32601, Message: "unknown method"}})
		}
	}))
}

func TestRemoteSource_ListMemoizes(t *testing.T) {
	var listCalls int64
	srv := newFakeRemoteServer(t, &listCalls)
	defer srv.Close()

	src := NewRemoteSource("gh", srv.URL)

	for i := 0; i < 3; i++ {
		descriptors, err := src.GetDescriptors(t.Context())
		require.NoError(t, err)
		require.Len(t, descriptors, 1)
		assert.Equal(t, "gh:create_pr", descriptors[0].ID)
	}
	assert.Equal(t, int64(1), listCalls, "GetDescriptors must memoize the remote list call")
}

func TestRemoteSource_ExecuteForwardsCall(t *testing.T) {
	srv := newFakeRemoteServer(t, nil)
	defer srv.Close()

	src := NewRemoteSource("gh", srv.URL)

	exec, ok, err := src.GetTool(t.Context(), "gh:create_pr")
	require.NoError(t, err)
	require.True(t, ok)

	result, err := exec.Execute(t.Context(), map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)
	assert.False(t, result.IsError)
}

func TestRemoteSource_UnknownToolAbsent(t *testing.T) {
	srv := newFakeRemoteServer(t, nil)
	defer srv.Close()

	src := NewRemoteSource("gh", srv.URL)
	exec, ok, err := src.GetTool(t.Context(), "gh:does_not_exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, exec)
}

func TestRemoteSource_WithTLSConfigStillReachesServer(t *testing.T) {
	srv := newFakeRemoteServer(t, nil)
	defer srv.Close()

	// The fake server is plain HTTP, so InsecureSkipVerify has no effect on
	// this particular transport, but constructing the source through the
	// option must still produce a working client.
	src := NewRemoteSource("gh", srv.URL, WithTLSConfig(&httpclient.TLSConfig{InsecureSkipVerify: true}))

	descriptors, err := src.GetDescriptors(t.Context())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "gh:create_pr", descriptors[0].ID)
}
