package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func populatedMemory(t *testing.T) *memory.Store {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := memory.New(memory.Config{}, memory.WithClock(func() time.Time { return now }))
	a := m.Encode("rivers carry water toward the ocean", 0.9, map[string]any{"source": "test", "depth": 3})
	b := m.Encode("oceans hold most of the planet's water", 0.4, nil)
	c := m.Encode("mountains gather snow through the winter months", 0.2, nil)
	m.Associate(a.ID, b.ID, 0.8)
	m.Associate(b.ID, c.ID, 0.3)
	m.Compress(c.ID)
	return m
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := populatedMemory(t)
	want := mem.Export()

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Content, g.Content)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
		assert.True(t, w.LastAccessedAt.Equal(g.LastAccessedAt))
		assert.Equal(t, w.Importance, g.Importance)
		assert.Equal(t, w.Spiral, g.Spiral)
		assert.Equal(t, w.Resonance, g.Resonance)
		assert.Equal(t, w.Compressed, g.Compressed)
		assert.Equal(t, w.Essence, g.Essence)
		assert.Equal(t, w.Associations, g.Associations)
	}
	// JSON numbers come back as float64
	assert.Equal(t, "test", got[0].Context["source"])
	assert.Equal(t, 3.0, got[0].Context["depth"])
	assert.Nil(t, got[1].Context)
}

func TestSaveReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := populatedMemory(t)
	require.NoError(t, s.Save(ctx, mem.Export()))

	other := memory.New(memory.Config{})
	only := other.Encode("a single remaining thought", 0.5, nil)
	require.NoError(t, s.Save(ctx, other.Export()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, only.ID, got[0].ID)
	assert.Empty(t, got[0].Associations)
}

func TestSaveSkipsDanglingAssociations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	items := []model.MemoryItem{{
		ID:           "A",
		Content:      "alone",
		Associations: []model.Association{{ID: "Z", Strength: 0.5}},
	}}
	require.NoError(t, s.Save(ctx, items))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Associations)
}

func TestRestoreIntoMemory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := populatedMemory(t)
	require.NoError(t, s.Save(ctx, mem.Export()))

	items, err := s.Load(ctx)
	require.NoError(t, err)
	restored := memory.New(memory.Config{})
	assert.Equal(t, 3, restored.Import(items))

	assert.Equal(t, mem.Stats().Associations, restored.Stats().Associations)
	assert.Equal(t, mem.Stats().Compressed, restored.Stats().Compressed)

	next := restored.Encode("a fresh thought after restore", 0.5, nil)
	assert.Equal(t, 3, next.Spiral.Index)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Items)
	assert.Nil(t, st.SavedAt)

	require.NoError(t, s.Save(ctx, populatedMemory(t).Export()))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Items)
	assert.Equal(t, 1, st.Compressed)
	assert.Equal(t, 2, st.Associations)
	assert.NotNil(t, st.SavedAt)
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}
