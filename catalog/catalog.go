// Package catalog aggregates tool sources into a single reactive registry:
// it owns the descriptor-id -> descriptor and descriptor-id -> source
// mappings and broadcasts ToolsChanged whenever a source is registered,
// unregistered, or pushes a refresh.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/discoveryhq/toolmesh/descriptor"
	"github.com/discoveryhq/toolmesh/events"
	"github.com/discoveryhq/toolmesh/internal/observability"
)

// Change describes the delta a single ToolsChanged emission carries.
type Change struct {
	Added   []string
	Removed []string
}

// AlreadyRegisteredError is returned by Register when source.ID() collides
// with an already-registered source.
type AlreadyRegisteredError struct {
	SourceID string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("source %q already registered", e.SourceID)
}

type sourceEntry struct {
	source      descriptor.Source
	descriptors map[string]descriptor.Descriptor
	unsubscribe events.Unsubscribe
}

// Catalog aggregates descriptor-producing sources into a single namespace.
// All mutating operations are serialized by mu; registering a source is
// atomic with respect to observers: ToolsChanged subscribers see either
// the pre- or post-register state, never a partial one.
type Catalog struct {
	mu sync.RWMutex

	sources     map[string]*sourceEntry
	byID        map[string]descriptor.Descriptor
	toolsChange *events.Channel[Change]
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		sources:     make(map[string]*sourceEntry),
		byID:        make(map[string]descriptor.Descriptor),
		toolsChange: events.New[Change]("catalog"),
	}
}

// ToolsChanged is the event channel subscribers observe register/unregister
// and refresh-driven descriptor deltas on.
func (c *Catalog) ToolsChanged() *events.Channel[Change] {
	return c.toolsChange
}

// Register fetches source's descriptors, inserts them, subscribes to its
// refresh channel if it has one, and emits ToolsChanged{Added: ids}. If the
// initial listing fails, no state is observable; the source is not
// registered.
func (c *Catalog) Register(ctx context.Context, source descriptor.Source) error {
	ctx, span := observability.GetTracer("toolmesh.catalog").Start(ctx, observability.SpanCatalogRegister,
		trace.WithAttributes(attribute.String(observability.AttrSourceID, source.ID())))
	defer span.End()

	id := source.ID()
	if id == "" {
		err := fmt.Errorf("source id cannot be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.mu.Lock()
	if _, exists := c.sources[id]; exists {
		c.mu.Unlock()
		err := &AlreadyRegisteredError{SourceID: id}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.mu.Unlock()

	descriptors, err := source.GetDescriptors(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("list descriptors for source %s: %w", id, err)
	}

	entry := &sourceEntry{
		source:      source,
		descriptors: make(map[string]descriptor.Descriptor, len(descriptors)),
	}
	added := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		entry.descriptors[d.ID] = d
		added = append(added, d.ID)
	}

	c.mu.Lock()
	if _, exists := c.sources[id]; exists {
		c.mu.Unlock()
		err := &AlreadyRegisteredError{SourceID: id}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.sources[id] = entry
	for _, d := range descriptors {
		c.byID[d.ID] = d
	}

	if refreshable, ok := source.(descriptor.Refreshable); ok {
		if ch := refreshable.Refresh(); ch != nil {
			entry.unsubscribe = ch.Subscribe(func(ctx context.Context, ev descriptor.RefreshEvent) error {
				c.handleRefresh(ctx, id, ev.Descriptors)
				return nil
			})
		}
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("catalog.added", len(added)))
	c.toolsChange.Emit(ctx, Change{Added: added})
	return nil
}

// Unregister removes every descriptor belonging to sourceID, detaches its
// refresh subscription, and emits ToolsChanged{Removed: ids}. A no-op if
// sourceID is absent.
func (c *Catalog) Unregister(ctx context.Context, sourceID string) {
	ctx, span := observability.GetTracer("toolmesh.catalog").Start(ctx, observability.SpanCatalogUnregister,
		trace.WithAttributes(attribute.String(observability.AttrSourceID, sourceID)))
	defer span.End()

	c.mu.Lock()
	entry, exists := c.sources[sourceID]
	if !exists {
		c.mu.Unlock()
		return
	}
	delete(c.sources, sourceID)

	removed := make([]string, 0, len(entry.descriptors))
	for id := range entry.descriptors {
		delete(c.byID, id)
		removed = append(removed, id)
	}
	if entry.unsubscribe != nil {
		entry.unsubscribe()
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("catalog.removed", len(removed)))
	c.toolsChange.Emit(ctx, Change{Removed: removed})
}

// handleRefresh diffs a source's newly pushed descriptor list against what
// the catalog currently holds for it and emits ToolsChanged iff the diff is
// non-empty. Descriptors present in both lists are overwritten so updated
// text/schemas take effect.
func (c *Catalog) handleRefresh(ctx context.Context, sourceID string, next []descriptor.Descriptor) {
	ctx, span := observability.GetTracer("toolmesh.catalog").Start(ctx, observability.SpanCatalogRefresh,
		trace.WithAttributes(attribute.String(observability.AttrSourceID, sourceID)))
	defer span.End()

	c.mu.Lock()
	entry, exists := c.sources[sourceID]
	if !exists {
		c.mu.Unlock()
		return
	}

	nextByID := make(map[string]descriptor.Descriptor, len(next))
	for _, d := range next {
		nextByID[d.ID] = d
	}

	var added, removed []string
	for id := range entry.descriptors {
		if _, still := nextByID[id]; !still {
			removed = append(removed, id)
			delete(c.byID, id)
		}
	}
	for id, d := range nextByID {
		if _, existed := entry.descriptors[id]; !existed {
			added = append(added, id)
		}
		c.byID[id] = d
	}
	entry.descriptors = nextByID
	c.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	c.toolsChange.Emit(ctx, Change{Added: added, Removed: removed})
}

// GetAllDescriptors returns a stable snapshot of every descriptor currently
// in the catalog.
func (c *Catalog) GetAllDescriptors() []descriptor.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]descriptor.Descriptor, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d.Clone())
	}
	return out
}

// GetDescriptor looks up a single descriptor by its globally-qualified id.
func (c *Catalog) GetDescriptor(id string) (descriptor.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// GetSource looks up a registered source by its id.
func (c *Catalog) GetSource(sourceID string) (descriptor.Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sources[sourceID]
	if !ok {
		return nil, false
	}
	return entry.source, true
}

// DescriptorsBySource returns the descriptors currently attributed to
// sourceID.
func (c *Catalog) DescriptorsBySource(sourceID string) []descriptor.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.sources[sourceID]
	if !ok {
		return nil
	}
	out := make([]descriptor.Descriptor, 0, len(entry.descriptors))
	for _, d := range entry.descriptors {
		out = append(out, d.Clone())
	}
	return out
}
