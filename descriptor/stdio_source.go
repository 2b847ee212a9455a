package descriptor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// StdioConfig configures the subprocess a StdioSource spawns.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StdioSource serves tools from an MCP server spawned as a subprocess and
// spoken to over stdio. This covers tool-serving processes that expose no
// HTTP endpoint, the one remote transport RemoteSource cannot reach. The
// subprocess is spawned lazily on first use; GetDescriptors memoizes the
// listed tools until Invalidate.
type StdioSource struct {
	id  string
	cfg StdioConfig

	mu        sync.Mutex
	client    *mcpclient.Client
	connected bool
	snapshot  []Descriptor

	refresh *RefreshChannel
}

// NewStdioSource creates a stdio source identified by id. The subprocess is
// not spawned until the source is first asked for descriptors or a tool.
func NewStdioSource(id string, cfg StdioConfig) *StdioSource {
	return &StdioSource{
		id:      id,
		cfg:     cfg,
		refresh: NewRefreshChannel(id),
	}
}

func (s *StdioSource) ID() string { return s.id }

// Refresh exposes the event channel the catalog subscribes to when this
// source is registered.
func (s *StdioSource) Refresh() *RefreshChannel { return s.refresh }

// connectLocked spawns the subprocess, initializes the MCP session, and
// lists its tools. The caller holds s.mu.
func (s *StdioSource) connectLocked(ctx context.Context) error {
	cli, err := mcpclient.NewStdioMCPClient(s.cfg.Command, envSlice(s.cfg.Env), s.cfg.Args...)
	if err != nil {
		return &ResolveError{SourceID: s.id, Reason: "spawn tool server", Err: err}
	}

	if err := cli.Start(ctx); err != nil {
		cli.Close()
		return &ResolveError{SourceID: s.id, Reason: "start tool server", Err: err}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "toolmesh", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return &ResolveError{SourceID: s.id, Reason: "initialize session", Err: err}
	}

	listResp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return &ResolveError{SourceID: s.id, Reason: "tools/list", Err: err}
	}

	descriptors := make([]Descriptor, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		descriptors = append(descriptors, Descriptor{
			ID:          fmt.Sprintf("%s:%s", s.id, t.Name),
			Name:        t.Name,
			Description: t.Description,
			Parameters:  marshalInputSchema(t.InputSchema),
			SourceKind:  SourceKindRemote,
			SourceID:    s.id,
		})
	}

	s.client = cli
	s.connected = true
	s.snapshot = descriptors

	slog.Info("connected to stdio tool server",
		"source_id", s.id,
		"command", s.cfg.Command,
		"tools", len(descriptors),
	)
	return nil
}

func (s *StdioSource) GetDescriptors(ctx context.Context) ([]Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]Descriptor, len(s.snapshot))
	for i, d := range s.snapshot {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s *StdioSource) GetTool(ctx context.Context, id string) (Executable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connectLocked(ctx); err != nil {
			return nil, false, err
		}
	}

	prefix := s.id + ":"
	name := id
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		name = id[len(prefix):]
	}
	for _, d := range s.snapshot {
		if d.Name == name {
			return &stdioExecutable{source: s, name: name}, true, nil
		}
	}
	return nil, false, nil
}

// Invalidate tears down the current connection, re-spawns the subprocess,
// and publishes the fresh descriptor list on Refresh.
func (s *StdioSource) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = nil
	s.connected = false
	s.snapshot = nil
	err := s.connectLocked(ctx)
	var descriptors []Descriptor
	if err == nil {
		descriptors = make([]Descriptor, len(s.snapshot))
		for i, d := range s.snapshot {
			descriptors[i] = d.Clone()
		}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.refresh.Emit(ctx, RefreshEvent{Descriptors: descriptors})
	return nil
}

// Close terminates the subprocess. The source reconnects on next use.
func (s *StdioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.connected = false
	s.snapshot = nil
	return err
}

type stdioExecutable struct {
	source *StdioSource
	name   string
}

func (e *stdioExecutable) Execute(ctx context.Context, args map[string]any) (Result, error) {
	e.source.mu.Lock()
	cli := e.source.client
	e.source.mu.Unlock()

	if cli == nil {
		return Result{}, &ExecutionError{ToolID: e.name, Err: fmt.Errorf("stdio tool server not connected")}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = e.name
	req.Params.Arguments = args

	resp, err := cli.CallTool(ctx, req)
	if err != nil {
		slog.Debug("stdio tool execution failed", "source", e.source.id, "tool", e.name, "error", err)
		return Result{}, &ExecutionError{ToolID: e.name, Err: err}
	}

	var content string
	for _, c := range resp.Content {
		if text, ok := c.(mcp.TextContent); ok {
			if content != "" {
				content += "\n"
			}
			content += text.Text
		}
	}
	return Result{Content: content, IsError: resp.IsError}, nil
}

// envSlice converts an env map to the "KEY=VALUE" slice form the subprocess
// spawner takes.
func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// marshalInputSchema flattens an MCP tool's input schema into the opaque
// JSON form a Descriptor carries.
func marshalInputSchema(schema mcp.ToolInputSchema) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return data
}
