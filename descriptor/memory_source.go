package descriptor

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource is the in-memory reference Source: descriptors and their
// executables are supplied upfront by the caller. GetDescriptors returns the
// precomputed list; GetTool is a map lookup.
type MemorySource struct {
	id string

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	descriptor Descriptor
	executable Executable
}

// NewMemorySource creates an empty in-memory source identified by id.
func NewMemorySource(id string) *MemorySource {
	return &MemorySource{
		id:      id,
		entries: make(map[string]memoryEntry),
	}
}

// Add registers a descriptor and its executable. desc.SourceID and
// desc.SourceKind are always set to this source's id/kind, replacing any
// values the caller supplied. Add fails if desc.ID is empty or already
// registered.
func (s *MemorySource) Add(desc Descriptor, exec Executable) error {
	if desc.ID == "" {
		return fmt.Errorf("descriptor id cannot be empty")
	}
	desc.SourceID = s.id
	desc.SourceKind = SourceKindMemory

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[desc.ID]; exists {
		return fmt.Errorf("descriptor %s already registered in source %s", desc.ID, s.id)
	}
	s.entries[desc.ID] = memoryEntry{descriptor: desc, executable: exec}
	return nil
}

// Remove deletes a previously added descriptor. It is a no-op if absent.
func (s *MemorySource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *MemorySource) ID() string { return s.id }

func (s *MemorySource) GetDescriptors(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.descriptor.Clone())
	}
	return out, nil
}

func (s *MemorySource) GetTool(ctx context.Context, id string) (Executable, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[id]; ok {
		return e.executable, true, nil
	}
	// Accept a bare local name in addition to the qualified id.
	for _, e := range s.entries {
		if e.descriptor.Name == id {
			return e.executable, true, nil
		}
	}
	return nil, false, nil
}
