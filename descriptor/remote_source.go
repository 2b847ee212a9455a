package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discoveryhq/toolmesh/internal/httpclient"
)

// remoteRequest / remoteResponse mirror a minimal JSON-RPC envelope used by
// the reference remote tool-serving process. Each call gets a fresh uuid so
// concurrent in-flight calls over the same source remain distinguishable in
// server-side logs.
type remoteRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type remoteResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *remoteError    `json:"error,omitempty"`
}

type remoteDescriptorWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Categories  []string        `json:"categories,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
}

type remoteListResult struct {
	Tools []remoteDescriptorWire `json:"tools"`
}

type remoteCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type remoteCallResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RemoteSource is a thin client over an external tool-serving process
// reachable over HTTP. GetDescriptors performs one remote list call and
// memoizes the result; GetTool returns a wrapper that forwards invocations
// and maps the remote error envelope to *ExecutionError.
type RemoteSource struct {
	id  string
	url string

	client *httpclient.Client

	mu       sync.RWMutex
	listed   bool
	snapshot []Descriptor

	refresh *RefreshChannel
}

// RemoteSourceOption configures a RemoteSource's underlying httpclient.Client
// at construction time.
type RemoteSourceOption func(*remoteSourceConfig)

type remoteSourceConfig struct {
	tls *httpclient.TLSConfig
}

// WithTLSConfig pins the RemoteSource's HTTP transport to cfg, for a
// tool-serving process reachable only through a corporate proxy, or one
// presenting a self-signed certificate.
func WithTLSConfig(cfg *httpclient.TLSConfig) RemoteSourceOption {
	return func(c *remoteSourceConfig) {
		c.tls = cfg
	}
}

// NewRemoteSource creates a remote source identified by id, talking to the
// tool-serving process at url.
func NewRemoteSource(id, url string, opts ...RemoteSourceOption) *RemoteSource {
	cfg := &remoteSourceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(500 * time.Millisecond),
	}
	if cfg.tls != nil {
		clientOpts = append(clientOpts, httpclient.WithTLSConfig(cfg.tls))
	}

	return &RemoteSource{
		id:      id,
		url:     url,
		client:  httpclient.New(clientOpts...),
		refresh: NewRefreshChannel(id),
	}
}

func (s *RemoteSource) ID() string { return s.id }

// Refresh exposes the event channel the catalog subscribes to when this
// source is registered.
func (s *RemoteSource) Refresh() *RefreshChannel { return s.refresh }

// Invalidate clears the memoized descriptor list and publishes the new
// snapshot on Refresh, as if the remote process pushed an update.
func (s *RemoteSource) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.listed = false
	s.mu.Unlock()

	descriptors, err := s.GetDescriptors(ctx)
	if err != nil {
		return err
	}
	s.refresh.Emit(ctx, RefreshEvent{Descriptors: descriptors})
	return nil
}

func (s *RemoteSource) GetDescriptors(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	if s.listed {
		defer s.mu.RUnlock()
		out := make([]Descriptor, len(s.snapshot))
		for i, d := range s.snapshot {
			out[i] = d.Clone()
		}
		return out, nil
	}
	s.mu.RUnlock()

	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, &ResolveError{SourceID: s.id, Reason: "tools/list", Err: err}
	}

	var listResult remoteListResult
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, &ResolveError{SourceID: s.id, Reason: "decode tools/list", Err: err}
	}

	descriptors := make([]Descriptor, 0, len(listResult.Tools))
	for _, w := range listResult.Tools {
		descriptors = append(descriptors, Descriptor{
			ID:          fmt.Sprintf("%s:%s", s.id, w.Name),
			Name:        w.Name,
			Description: w.Description,
			Parameters:  w.Parameters,
			Categories:  w.Categories,
			Keywords:    w.Keywords,
			SourceKind:  SourceKindRemote,
			SourceID:    s.id,
		})
	}

	s.mu.Lock()
	s.snapshot = descriptors
	s.listed = true
	s.mu.Unlock()

	out := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s *RemoteSource) GetTool(ctx context.Context, id string) (Executable, bool, error) {
	localName, ok := s.localName(ctx, id)
	if !ok {
		return nil, false, nil
	}
	return &remoteExecutable{source: s, name: localName}, true, nil
}

// localName resolves either a globally-qualified "<sourceId>:<name>" id or
// a bare local name to the local tool name, consulting the memoized list.
func (s *RemoteSource) localName(ctx context.Context, id string) (string, bool) {
	prefix := s.id + ":"
	name := id
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		name = id[len(prefix):]
	}

	descriptors, err := s.GetDescriptors(ctx)
	if err != nil {
		return "", false
	}
	for _, d := range descriptors {
		if d.Name == name {
			return name, true
		}
	}
	return "", false
}

func (s *RemoteSource) call(ctx context.Context, method string, params any) (*remoteResponse, error) {
	body, err := json.Marshal(remoteRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp remoteResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("remote error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

type remoteExecutable struct {
	source *RemoteSource
	name   string
}

func (e *remoteExecutable) Execute(ctx context.Context, args map[string]any) (Result, error) {
	resp, err := e.source.call(ctx, "tools/call", remoteCallParams{Name: e.name, Arguments: args})
	if err != nil {
		wrapped := &ExecutionError{ToolID: e.name, Err: err}
		slog.Debug("remote tool execution failed", "source", e.source.id, "tool", e.name, "error", err)
		return Result{}, wrapped
	}

	var callResult remoteCallResult
	if err := json.Unmarshal(resp.Result, &callResult); err != nil {
		return Result{}, &ExecutionError{ToolID: e.name, Err: err}
	}

	return Result{
		Content:  callResult.Content,
		IsError:  callResult.IsError,
		Metadata: callResult.Metadata,
	}, nil
}
