package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/discoveryhq/toolmesh/catalog"
	"github.com/discoveryhq/toolmesh/descriptor"
	"github.com/discoveryhq/toolmesh/internal/observability"
	"github.com/discoveryhq/toolmesh/internal/registry"
	"github.com/discoveryhq/toolmesh/loader"
	"github.com/discoveryhq/toolmesh/search"
)

const defaultSearchLimit = 5

// RunConfig configures a single discovery Run.
type RunConfig struct {
	LLM         LLM
	Sources     []descriptor.Source
	SearchIndex *search.Index
	PinnedTools []PinnedTool

	// SystemPrompt, if non-empty, is prepended to the transcript iff it
	// does not already begin with a system message.
	SystemPrompt string

	// SearchLimit bounds how many results each "search" call returns.
	// Defaults to 5.
	SearchLimit int
	// CacheSize configures the Loader's LRU capacity. Defaults to 100.
	CacheSize int

	// Tracing configures the OpenTelemetry tracer provider used for the
	// "discovery.run" span and every span nested under it (loader loads,
	// catalog refreshes, search calls). Zero value disables tracing; Run
	// installs the resulting provider as the process-wide default, so it
	// should be set once by the process embedding the controller rather
	// than varied from call to call.
	Tracing observability.TracerConfig
}

// searchToolSpec is the built-in meta-tool every model step is bound with.
func searchToolSpec() ToolSpec {
	return ToolSpec{
		Name:        SearchToolName,
		Description: "Search the tool catalog for tools relevant to a natural-language query.",
		Parameters:  []byte(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}
}

// Run drives the three-node state machine (model/search/execute) to
// completion or cancellation.
func Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	cfg.SearchLimit = orDefault(cfg.SearchLimit, defaultSearchLimit)
	cacheSize := orDefault(cfg.CacheSize, 100)

	cat := catalog.New()
	for _, src := range cfg.Sources {
		if err := cat.Register(ctx, src); err != nil {
			return nil, fmt.Errorf("discovery: register source %s: %w", src.ID(), err)
		}
	}

	ld, err := loader.New(cat, loader.Config{Capacity: cacheSize})
	if err != nil {
		return nil, fmt.Errorf("discovery: create loader: %w", err)
	}
	defer ld.Close()

	if cfg.Tracing.Enabled {
		if _, err := observability.InitGlobalTracer(ctx, cfg.Tracing); err != nil {
			return nil, fmt.Errorf("discovery: init tracer: %w", err)
		}
	}

	tracer := observability.GetTracer("toolmesh.discovery")
	ctx, span := tracer.Start(ctx, observability.SpanDiscoveryRun)
	defer span.End()

	pinned := registry.NewBaseRegistry[PinnedTool]()
	for _, p := range cfg.PinnedTools {
		if err := pinned.Register(p.Spec.Name, p); err != nil {
			return nil, fmt.Errorf("discovery: register pinned tool %q: %w", p.Spec.Name, err)
		}
	}

	c := &controller{
		cfg:     cfg,
		catalog: cat,
		loader:  ld,
		pinned:  pinned,
	}
	result := c.run(ctx)
	span.SetAttributes(attribute.String(observability.AttrDiscoveryState, string(result.Status)))
	return result, nil
}

func orDefault(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

type controller struct {
	cfg     RunConfig
	catalog *catalog.Catalog
	loader  *loader.Loader
	pinned  *registry.BaseRegistry[PinnedTool]

	messages      []Message
	selectedIDs   map[string]struct{}
	searchHistory []SearchRecord

	// names maps a descriptor's model-visible Name back to its
	// globally-qualified id, as bound in the most recent stepModel call.
	// The model calls tools by Name; stepExecute resolves through this map
	// before asking the Loader for the id.
	names map[string]string
}

func (c *controller) run(ctx context.Context) *RunResult {
	c.selectedIDs = make(map[string]struct{})

	var pendingSearch, pendingOther []ToolCall
	node := "model"

	for {
		if cancelled(ctx) {
			return c.result(StatusCancelledByCaller)
		}

		switch node {
		case "model":
			reply, err := c.stepModel(ctx)
			if err != nil {
				if cancelled(ctx) {
					return c.result(StatusCancelledByCaller)
				}
				c.messages = append(c.messages, Message{
					Role:    RoleAssistant,
					Content: fmt.Sprintf("model invocation failed: %v", err),
				})
				return c.result(StatusDone)
			}
			c.messages = append(c.messages, reply)

			pendingSearch, pendingOther = splitCalls(reply.ToolCalls)
			switch {
			case len(pendingSearch) > 0:
				node = "search"
			case len(pendingOther) > 0:
				node = "execute"
			default:
				node = "done"
			}

		case "search":
			if cancelled(ctx) {
				return c.result(StatusCancelledByCaller)
			}
			c.stepSearch(ctx, pendingSearch)
			if len(pendingOther) > 0 {
				node = "execute"
			} else {
				node = "model"
			}

		case "execute":
			if cancelled(ctx) {
				return c.result(StatusCancelledByCaller)
			}
			c.stepExecute(ctx, pendingOther)
			pendingOther = nil
			node = "model"

		case "done":
			return c.result(StatusDone)
		}
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func splitCalls(calls []ToolCall) (searchCalls, otherCalls []ToolCall) {
	for _, call := range calls {
		if call.Name == SearchToolName {
			searchCalls = append(searchCalls, call)
		} else {
			otherCalls = append(otherCalls, call)
		}
	}
	return searchCalls, otherCalls
}

// stepModel binds the search meta-tool, the pinned tools, and every
// currently selected descriptor (loaded via the Loader; failed loads are
// silently dropped for this step but the id stays in selectedIds for future
// turns), then invokes the model.
func (c *controller) stepModel(ctx context.Context) (Message, error) {
	tools := []ToolSpec{searchToolSpec()}
	for _, p := range c.cfg.PinnedTools {
		tools = append(tools, p.Spec)
	}

	ids := make([]string, 0, len(c.selectedIDs))
	for id := range c.selectedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if cancelled(ctx) {
			return Message{}, ctx.Err()
		}
		d, ok := c.catalog.GetDescriptor(id)
		if !ok {
			continue
		}
		if _, err := c.loader.Load(ctx, id); err != nil {
			continue
		}
		tools = append(tools, ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		names[d.Name] = id
	}
	c.names = names

	bound, err := c.cfg.LLM.BindTools(tools)
	if err != nil {
		return Message{}, fmt.Errorf("bind tools: %w", err)
	}

	messages := c.messages
	if c.cfg.SystemPrompt != "" && (len(messages) == 0 || messages[0].Role != RoleSystem) {
		messages = append([]Message{{Role: RoleSystem, Content: c.cfg.SystemPrompt}}, messages...)
	}

	reply, err := bound.Invoke(ctx, messages)
	if err != nil {
		return Message{}, fmt.Errorf("invoke: %w", err)
	}
	return reply, nil
}

// stepSearch runs every "search" call through the search index, accumulates
// result ids into selectedIds (set union), and appends one tool-result
// message per call.
func (c *controller) stepSearch(ctx context.Context, calls []ToolCall) {
	for _, call := range calls {
		if cancelled(ctx) {
			return
		}
		query, _ := call.Arguments["query"].(string)

		results, err := c.cfg.SearchIndex.Search(ctx, query, search.Options{Limit: c.cfg.SearchLimit})
		if err != nil {
			c.messages = append(c.messages, Message{
				Role:       RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("search failed: %v", err),
				IsError:    true,
			})
			continue
		}

		ids := make([]string, 0, len(results))
		for _, r := range results {
			c.selectedIDs[r.ToolID] = struct{}{}
			ids = append(ids, r.ToolID)
		}

		c.searchHistory = append(c.searchHistory, SearchRecord{Query: query, ResultIDs: ids, Timestamp: time.Now()})

		c.messages = append(c.messages, Message{
			Role:       RoleTool,
			ToolCallID: call.ID,
			Content:    formatSearchResults(results),
		})
	}
}

func formatSearchResults(results []search.Result) string {
	if len(results) == 0 {
		return "no tools found"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s: %s\n", r.Descriptor.Name, r.Descriptor.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stepExecute resolves every non-"search" call (pinned tools trivially, the
// rest via the Loader), invokes it, and appends one tool-result message per
// call. A resolution or invocation failure becomes an error tool-result; it
// never aborts the turn.
func (c *controller) stepExecute(ctx context.Context, calls []ToolCall) {
	for _, call := range calls {
		if cancelled(ctx) {
			return
		}

		tool, ok := c.pinnedTool(call.Name)
		if !ok {
			id, known := c.names[call.Name]
			if !known {
				c.messages = append(c.messages, Message{
					Role: RoleTool, ToolCallID: call.ID,
					Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true,
				})
				continue
			}
			loaded, err := c.loader.Load(ctx, id)
			if err != nil {
				c.messages = append(c.messages, Message{
					Role: RoleTool, ToolCallID: call.ID,
					Content: fmt.Sprintf("load failed: %v", err), IsError: true,
				})
				continue
			}
			tool = loaded
		}

		res, err := tool.Execute(ctx, call.Arguments)
		if err != nil {
			c.messages = append(c.messages, Message{
				Role: RoleTool, ToolCallID: call.ID,
				Content: fmt.Sprintf("execution failed: %v", err), IsError: true,
			})
			continue
		}
		c.messages = append(c.messages, Message{
			Role: RoleTool, ToolCallID: call.ID,
			Content: res.Content, IsError: res.IsError,
		})
	}
}

func (c *controller) pinnedTool(name string) (descriptor.Executable, bool) {
	p, ok := c.pinned.Get(name)
	if !ok {
		return nil, false
	}
	return p.Tool, true
}

func (c *controller) result(status Status) *RunResult {
	ids := make([]string, 0, len(c.selectedIDs))
	for id := range c.selectedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &RunResult{
		FinalMessages: c.messages,
		SelectedIDs:   ids,
		SearchHistory: c.searchHistory,
		Status:        status,
	}
}
