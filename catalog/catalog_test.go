package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryhq/toolmesh/descriptor"
)

func descAt(sourceID, name string) descriptor.Descriptor {
	return descriptor.Descriptor{
		ID:   sourceID + ":" + name,
		Name: name,
	}
}

// TestCatalog_Coherence: every descriptor returned by
// GetAllDescriptors has a non-absent source and an identical GetDescriptor
// entry.
func TestCatalog_Coherence(t *testing.T) {
	c := New()
	src := descriptor.NewMemorySource("local")
	require.NoError(t, src.Add(descAt("local", "a"), &fakeExec{}))
	require.NoError(t, src.Add(descAt("local", "b"), &fakeExec{}))
	require.NoError(t, c.Register(t.Context(), src))

	all := c.GetAllDescriptors()
	require.Len(t, all, 2)
	for _, d := range all {
		_, ok := c.GetSource(d.SourceID)
		assert.True(t, ok, "source %s must be resolvable", d.SourceID)

		got, ok := c.GetDescriptor(d.ID)
		require.True(t, ok)
		assert.Equal(t, d, got)
	}
}

// TestCatalog_RegisterUnregisterSymmetry: unregistering a source
// returns the catalog to its prior state, and the removed set mirrors what
// was added.
func TestCatalog_RegisterUnregisterSymmetry(t *testing.T) {
	c := New()
	src := descriptor.NewMemorySource("local")
	require.NoError(t, src.Add(descAt("local", "a"), &fakeExec{}))
	require.NoError(t, src.Add(descAt("local", "b"), &fakeExec{}))

	var added, removed []string
	unsub := c.ToolsChanged().Subscribe(func(ctx context.Context, ch Change) error {
		if len(ch.Added) > 0 {
			added = ch.Added
		}
		if len(ch.Removed) > 0 {
			removed = ch.Removed
		}
		return nil
	})
	defer unsub()

	require.NoError(t, c.Register(t.Context(), src))
	require.Len(t, c.GetAllDescriptors(), 2)

	c.Unregister(t.Context(), "local")
	assert.Empty(t, c.GetAllDescriptors())

	_, ok := c.GetSource("local")
	assert.False(t, ok)

	assert.ElementsMatch(t, added, removed)
}

// TestCatalog_DuplicateSourceRejected ensures a second Register with the
// same source id fails and leaves the first registration untouched.
func TestCatalog_DuplicateSourceRejected(t *testing.T) {
	c := New()
	src1 := descriptor.NewMemorySource("dup")
	require.NoError(t, src1.Add(descAt("dup", "a"), &fakeExec{}))
	require.NoError(t, c.Register(t.Context(), src1))

	src2 := descriptor.NewMemorySource("dup")
	err := c.Register(t.Context(), src2)
	require.Error(t, err)
	var already *AlreadyRegisteredError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "dup", already.SourceID)

	assert.Len(t, c.GetAllDescriptors(), 1)
}

// TestCatalog_DisjointSourcesRoundTrip: registering disjoint sources then
// unregistering one leaves exactly the other's descriptors.
func TestCatalog_DisjointSourcesRoundTrip(t *testing.T) {
	c := New()
	srcA := descriptor.NewMemorySource("a")
	require.NoError(t, srcA.Add(descAt("a", "x"), &fakeExec{}))
	require.NoError(t, srcA.Add(descAt("a", "y"), &fakeExec{}))

	srcB := descriptor.NewMemorySource("b")
	require.NoError(t, srcB.Add(descAt("b", "z"), &fakeExec{}))

	require.NoError(t, c.Register(t.Context(), srcA))
	require.NoError(t, c.Register(t.Context(), srcB))
	assert.Len(t, c.GetAllDescriptors(), 3)

	c.Unregister(t.Context(), "a")

	remaining := c.GetAllDescriptors()
	require.Len(t, remaining, 1)
	assert.Equal(t, "b:z", remaining[0].ID)
}

// TestCatalog_RefreshDiff: a refreshable source emitting [a,b,c] then
// [b,c,d] produces {added:[d], removed:[a]} and the catalog forgets the
// removed descriptor.
func TestCatalog_RefreshDiff(t *testing.T) {
	c := New()
	src := newFakeRefreshableSource("src", []descriptor.Descriptor{
		descAt("src", "a"), descAt("src", "b"), descAt("src", "c"),
	})

	var got Change
	unsub := c.ToolsChanged().Subscribe(func(ctx context.Context, ch Change) error {
		got = ch
		return nil
	})
	defer unsub()

	require.NoError(t, c.Register(t.Context(), src))

	src.push([]descriptor.Descriptor{
		descAt("src", "b"), descAt("src", "c"), descAt("src", "d"),
	})

	assert.Equal(t, []string{"src:d"}, got.Added)
	assert.Equal(t, []string{"src:a"}, got.Removed)

	_, ok := c.GetDescriptor("src:a")
	assert.False(t, ok)
	_, ok = c.GetDescriptor("src:d")
	assert.True(t, ok)
}

type fakeExec struct{}

func (f *fakeExec) Execute(ctx context.Context, args map[string]any) (descriptor.Result, error) {
	return descriptor.Result{}, nil
}

// fakeRefreshableSource is a minimal descriptor.Source + descriptor.Refreshable
// test double that lets tests push new descriptor snapshots synchronously.
type fakeRefreshableSource struct {
	id          string
	descriptors []descriptor.Descriptor
	refresh     *descriptor.RefreshChannel
}

func newFakeRefreshableSource(id string, initial []descriptor.Descriptor) *fakeRefreshableSource {
	return &fakeRefreshableSource{id: id, descriptors: initial, refresh: descriptor.NewRefreshChannel(id)}
}

func (s *fakeRefreshableSource) ID() string { return s.id }

func (s *fakeRefreshableSource) GetDescriptors(ctx context.Context) ([]descriptor.Descriptor, error) {
	out := make([]descriptor.Descriptor, len(s.descriptors))
	copy(out, s.descriptors)
	return out, nil
}

func (s *fakeRefreshableSource) GetTool(ctx context.Context, id string) (descriptor.Executable, bool, error) {
	return nil, false, nil
}

func (s *fakeRefreshableSource) Refresh() *descriptor.RefreshChannel { return s.refresh }

func (s *fakeRefreshableSource) push(next []descriptor.Descriptor) {
	s.descriptors = next
	s.refresh.Emit(context.Background(), descriptor.RefreshEvent{Descriptors: next})
}
