// Package discoverytest provides a scripted fake discovery.LLM for tests:
// a fixed sequence of replies played back one per Invoke call, regardless
// of which tools were bound. The fake records every bound tool list so
// tests can assert on what each model step saw.
package discoverytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/discoveryhq/toolmesh/discovery"
)

// Script is a fixed sequence of replies a ScriptedLLM plays back in order.
type Script []discovery.Message

// ScriptedLLM implements discovery.LLM, returning the next scripted reply on
// each Invoke call. BindTools is a no-op recorder; it never fails and
// returns itself as the bound LLM.
type ScriptedLLM struct {
	mu       sync.Mutex
	script   Script
	position int

	// BoundToolNames records, per Invoke call, the tool names the
	// controller bound at that step, useful for asserting which tools
	// were exposed at a given turn.
	BoundToolNames [][]string
}

// New creates a ScriptedLLM that plays back script in order.
func New(script Script) *ScriptedLLM {
	return &ScriptedLLM{script: script}
}

// BindTools records the bound tool names and returns the same fake as the
// bound invocable.
func (f *ScriptedLLM) BindTools(tools []discovery.ToolSpec) (discovery.BoundLLM, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	f.mu.Lock()
	f.BoundToolNames = append(f.BoundToolNames, names)
	f.mu.Unlock()
	return f, nil
}

// Invoke returns the next scripted reply, ignoring the supplied messages.
func (f *ScriptedLLM) Invoke(ctx context.Context, messages []discovery.Message) (discovery.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position >= len(f.script) {
		return discovery.Message{}, fmt.Errorf("discoverytest: script exhausted after %d turns", f.position)
	}
	reply := f.script[f.position]
	f.position++
	return reply, nil
}

// Calls reports how many Invoke calls have been served so far.
func (f *ScriptedLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}
