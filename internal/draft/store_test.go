package draft

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "drafts.db"), "report-table")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRequiresPathAndName(t *testing.T) {
	_, err := NewSQLiteStore("", "report-table")
	assert.Error(t, err)

	_, err = NewSQLiteStore(filepath.Join(t.TempDir(), "drafts.db"), "  ")
	assert.Error(t, err)
}

func TestStoreSaveRestoreClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, exists, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	payload := `{"email":"a@b.c","reports":[{"report_type":"sales"}]}`
	require.NoError(t, s.Save(ctx, payload))

	got, exists, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, payload, got)

	require.NoError(t, s.Clear(ctx))
	_, exists, err = s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, "first"))
	require.NoError(t, s.Save(ctx, "second"))

	got, exists, err := s.Restore(ctx)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "second", got)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
}

func TestStoresWithDifferentNamesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drafts.db")

	a, err := NewSQLiteStore(path, "report-table")
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Save(ctx, "table draft"))
	require.NoError(t, a.Close())

	b, err := NewSQLiteStore(path, "other-form")
	require.NoError(t, err)
	defer b.Close()

	_, exists, err := b.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}
