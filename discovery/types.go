// Package discovery implements the Discovery Controller: a three-node state
// machine that interleaves model invocation, tool search, and tool
// execution over a turn state of (messages, selectedIds, searchHistory).
// The model provider is an injected dependency behind the narrow LLM
// interface; this package owns only turn-scoped state.
package discovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/discoveryhq/toolmesh/descriptor"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SearchToolName is the built-in meta-tool name the controller always binds
// alongside pinned and selected tools.
const SearchToolName = "search"

// ToolCall is a single invocation the model's reply requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one entry in the append-only conversation transcript.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on an assistant reply that requests one or more
	// calls.
	ToolCalls []ToolCall

	// ToolCallID, IsError are set on a tool-result message answering a
	// specific ToolCall.ID.
	ToolCallID string
	IsError    bool
}

// ToolSpec is the schema a tool is bound to the model under.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// BoundLLM is an LLM with a fixed tool list bound for the remainder of a
// model step.
type BoundLLM interface {
	Invoke(ctx context.Context, messages []Message) (Message, error)
}

// LLM is the only dependency the controller requires of a model provider.
// The core defines this interface; callers implement it. No concrete
// provider ships in this repository; see discoverytest for a scripted
// fake used by this package's own tests.
type LLM interface {
	BindTools(tools []ToolSpec) (BoundLLM, error)
}

// PinnedTool is a caller-designated always-available tool, resolved
// trivially (never through the Loader).
type PinnedTool struct {
	Spec ToolSpec
	Tool descriptor.Executable
}

// SearchRecord is one entry in the append-only search history.
type SearchRecord struct {
	Query     string
	ResultIDs []string
	Timestamp time.Time
}

// Status is the terminal state of a Run.
type Status string

const (
	StatusDone              Status = "done"
	StatusCancelledByCaller Status = "cancelled_by_caller"
)

// RunResult is what Run returns: the final transcript, the set of
// descriptor ids exposed to the model over the run, and the search history.
type RunResult struct {
	FinalMessages []Message
	SelectedIDs   []string
	SearchHistory []SearchRecord
	Status        Status
}
