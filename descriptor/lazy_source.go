package descriptor

import (
	"context"
	"sync"
)

// Resolver materializes the executable behind a lazily-loaded descriptor.
// It is invoked at most once per call to GetTool (the Loader is what
// provides caching/coalescing across calls).
type Resolver func(ctx context.Context, id string) (Executable, error)

// LazySource supplies descriptor metadata upfront but defers constructing
// the executable to a user-supplied Resolver, invoked on GetTool.
type LazySource struct {
	id string

	mu          sync.RWMutex
	descriptors map[string]Descriptor
	resolvers   map[string]Resolver
}

// NewLazySource creates an empty lazy source identified by id.
func NewLazySource(id string) *LazySource {
	return &LazySource{
		id:          id,
		descriptors: make(map[string]Descriptor),
		resolvers:   make(map[string]Resolver),
	}
}

// Add registers a descriptor with the resolver used to materialize it.
func (s *LazySource) Add(desc Descriptor, resolve Resolver) {
	desc.SourceID = s.id
	desc.SourceKind = SourceKindLazy

	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[desc.ID] = desc
	s.resolvers[desc.ID] = resolve
}

func (s *LazySource) ID() string { return s.id }

func (s *LazySource) GetDescriptors(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *LazySource) GetTool(ctx context.Context, id string) (Executable, bool, error) {
	s.mu.RLock()
	resolve, ok := s.resolvers[id]
	if !ok {
		// Accept a bare local name.
		for descID, d := range s.descriptors {
			if d.Name == id {
				resolve = s.resolvers[descID]
				ok = true
				break
			}
		}
	}
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	exec, err := resolve(ctx, id)
	if err != nil {
		return nil, false, &ResolveError{SourceID: s.id, ToolID: id, Err: err}
	}
	return exec, true, nil
}
