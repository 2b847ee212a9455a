// Package loader implements the Loader component: it resolves a descriptor
// id to an executable, caches the result in an LRU (with optional TTL), and
// coalesces concurrent loads of the same id onto a single underlying
// resolution. The cache fronts the catalog's live descriptor/source
// lookups; entries for unregistered sources are evicted via the catalog's
// change feed.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/discoveryhq/toolmesh/catalog"
	"github.com/discoveryhq/toolmesh/descriptor"
	"github.com/discoveryhq/toolmesh/internal/observability"
)

// ToolNotFoundError is returned when id has no known descriptor, or its
// source resolves it to nothing.
type ToolNotFoundError struct {
	ID     string
	Reason string
}

func (e *ToolNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tool not found: %s (%s)", e.ID, e.Reason)
	}
	return fmt.Sprintf("tool not found: %s", e.ID)
}

// SourceNotFoundError is returned when a descriptor names a sourceId the
// catalog no longer has registered.
type SourceNotFoundError struct {
	SourceID string
	ToolID   string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found: %s (for tool %s)", e.SourceID, e.ToolID)
}

// Stats is a point-in-time snapshot of loader cache occupancy.
type Stats struct {
	CachedCount   int
	InFlightCount int
	Capacity      int
}

type cacheEntry struct {
	tool      descriptor.Executable
	expiresAt time.Time
}

// future is a single in-flight load, shared by every concurrent caller for
// the same id.
type future struct {
	done chan struct{}
	tool descriptor.Executable
	err  error
}

// Config configures a Loader.
type Config struct {
	// Capacity bounds the LRU cache size. Defaults to 100.
	Capacity int
	// TTL, if non-zero, expires cache entries after this duration.
	TTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 100
	}
}

// Loader is the Loader component: a catalog-backed, LRU-cached, coalescing
// resolver from descriptor id to Executable.
type Loader struct {
	cfg     Config
	catalog *catalog.Catalog

	cache *lru.Cache[string, cacheEntry]

	mu       sync.Mutex
	inFlight map[string]*future

	unsubscribe func()
}

// New creates a Loader backed by cat. The returned Loader subscribes to
// cat.ToolsChanged() to evict entries for removed descriptors; callers
// should call Close when done to detach that subscription.
func New(cat *catalog.Catalog, cfg Config) (*Loader, error) {
	cfg.setDefaults()
	cache, err := lru.New[string, cacheEntry](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("loader: create LRU cache: %w", err)
	}

	l := &Loader{
		cfg:      cfg,
		catalog:  cat,
		cache:    cache,
		inFlight: make(map[string]*future),
	}
	l.unsubscribe = cat.ToolsChanged().Subscribe(func(ctx context.Context, change catalog.Change) error {
		for _, id := range change.Removed {
			l.Evict(id)
		}
		return nil
	})
	return l, nil
}

// Close detaches the loader's catalog subscription. Safe to call once.
func (l *Loader) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

// Load resolves id to an Executable: an LRU hit short
// circuits; an in-flight load is joined rather than duplicated; otherwise
// the descriptor and its owning source are looked up and the source is
// asked to resolve the tool.
func (l *Loader) Load(ctx context.Context, id string) (descriptor.Executable, error) {
	tracer := observability.GetTracer("toolmesh.loader")
	ctx, span := tracer.Start(ctx, observability.SpanLoaderLoad, trace.WithAttributes(attribute.String(observability.AttrToolID, id)))
	defer span.End()

	if tool, ok := l.cacheGet(id); ok {
		span.SetAttributes(attribute.Bool(observability.AttrCacheHit, true))
		return tool, nil
	}
	span.SetAttributes(attribute.Bool(observability.AttrCacheHit, false))

	l.mu.Lock()
	if f, ok := l.inFlight[id]; ok {
		l.mu.Unlock()
		return l.await(ctx, f)
	}

	f := &future{done: make(chan struct{})}
	l.inFlight[id] = f
	l.mu.Unlock()

	// The initiating caller's ctx drives the single underlying resolution;
	// if it cancels, every co-awaiter observes the same cancellation error
	// through f.err rather than just the initiator.
	go l.resolve(ctx, id, f)

	tool, err := l.await(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return tool, err
}

// resolve performs the actual catalog/source lookup for id and publishes
// the outcome to f, then removes the in-flight entry unconditionally.
func (l *Loader) resolve(ctx context.Context, id string, f *future) {
	defer func() {
		l.mu.Lock()
		delete(l.inFlight, id)
		l.mu.Unlock()
		close(f.done)
	}()

	d, ok := l.catalog.GetDescriptor(id)
	if !ok {
		f.err = &ToolNotFoundError{ID: id}
		return
	}
	source, ok := l.catalog.GetSource(d.SourceID)
	if !ok {
		f.err = &SourceNotFoundError{SourceID: d.SourceID, ToolID: id}
		return
	}
	tool, found, err := source.GetTool(ctx, id)
	if err != nil {
		f.err = err
		return
	}
	if !found || tool == nil {
		f.err = &ToolNotFoundError{ID: id, Reason: "source returned empty"}
		return
	}

	entry := cacheEntry{tool: tool}
	if l.cfg.TTL > 0 {
		entry.expiresAt = time.Now().Add(l.cfg.TTL)
	}
	l.cache.Add(id, entry)
	f.tool = tool
}

// await blocks on f.done, honoring ctx cancellation without disturbing the
// in-flight future for other co-awaiters.
func (l *Loader) await(ctx context.Context, f *future) (descriptor.Executable, error) {
	select {
	case <-f.done:
		return f.tool, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) cacheGet(id string) (descriptor.Executable, bool) {
	entry, ok := l.cache.Get(id)
	if !ok {
		return nil, false
	}
	if l.cfg.TTL > 0 && time.Now().After(entry.expiresAt) {
		l.cache.Remove(id)
		return nil, false
	}
	return entry.tool, true
}

// Warmup loads every id in parallel and awaits all; individual failures are
// swallowed (best-effort pre-warm).
func (l *Loader) Warmup(ctx context.Context, ids []string) {
	tracer := observability.GetTracer("toolmesh.loader")
	ctx, span := tracer.Start(ctx, observability.SpanLoaderWarmup, trace.WithAttributes(attribute.Int("loader.warmup_count", len(ids))))
	defer span.End()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, _ = l.Load(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Evict removes id from both the LRU cache and the in-flight map; a
// subsequent Load restarts resolution from scratch.
func (l *Loader) Evict(id string) {
	l.cache.Remove(id)
	l.mu.Lock()
	delete(l.inFlight, id)
	l.mu.Unlock()
}

// Clear removes every cached and in-flight entry.
func (l *Loader) Clear() {
	l.cache.Purge()
	l.mu.Lock()
	l.inFlight = make(map[string]*future)
	l.mu.Unlock()
}

// Stats reports current cache/in-flight occupancy.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	inFlight := len(l.inFlight)
	l.mu.Unlock()
	return Stats{CachedCount: l.cache.Len(), InFlightCount: inFlight, Capacity: l.cfg.Capacity}
}
