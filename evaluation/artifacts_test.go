package evaluation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileSystemArtifactStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	store := NewFileSystemArtifactStore(zap.NewNop(), dir)
	assert.Equal(t, dir, store.BasePath())

	chart, err := store.Store(ctx, "run-1", "qq.svg", ArtifactChart, []byte("<svg/>"))
	require.NoError(t, err)
	assert.Equal(t, "qq.svg", chart.ID)
	assert.Equal(t, int64(6), chart.Size)
	assert.Len(t, chart.Checksum, 16)

	_, err = store.Store(ctx, "run-1", "report.json", ArtifactReport, []byte(`{"runId":"run-1"}`))
	require.NoError(t, err)

	got, data, err := store.Retrieve(ctx, "qq.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))
	assert.Equal(t, chart.Checksum, got.Checksum)

	all, err := store.List(ctx, ArtifactFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	reports, err := store.List(ctx, ArtifactFilters{Type: ArtifactReport})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "report.json", reports[0].ID)

	none, err := store.List(ctx, ArtifactFilters{RunID: "run-2"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// The index is plain JSON next to the artifacts.
	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	var index []Artifact
	require.NoError(t, json.Unmarshal(raw, &index))
	assert.Len(t, index, 2)
}

func TestFileSystemArtifactStoreReplace(t *testing.T) {
	ctx := context.Background()
	store := NewFileSystemArtifactStore(zap.NewNop(), t.TempDir())

	_, err := store.Store(ctx, "run-1", "report.json", ArtifactReport, []byte("first"))
	require.NoError(t, err)
	_, err = store.Store(ctx, "run-2", "report.json", ArtifactReport, []byte("second"))
	require.NoError(t, err)

	all, err := store.List(ctx, ArtifactFilters{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "run-2", all[0].RunID)

	_, data, err := store.Retrieve(ctx, "report.json")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFileSystemArtifactStoreDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemArtifactStore(zap.NewNop(), dir)

	_, err := store.Store(ctx, "run-1", "residuals.png", ArtifactChart, []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "residuals.png"))

	_, err = os.Stat(filepath.Join(dir, "residuals.png"))
	assert.True(t, os.IsNotExist(err))
	_, _, err = store.Retrieve(ctx, "residuals.png")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "residuals.png"), ErrArtifactNotFound)
}

func TestFileSystemArtifactStoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemArtifactStore(zap.NewNop(), dir)

	_, err := store.Store(ctx, "run-1", "report.json", ArtifactReport, []byte(`{"a":1}`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.json"), []byte(`{"a":2}`), 0644))

	_, _, err = store.Retrieve(ctx, "report.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestFileSystemArtifactStoreRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	store := NewFileSystemArtifactStore(zap.NewNop(), t.TempDir())

	for _, name := range []string{"", "index.json", "../escape.png", `dir\file.png`} {
		_, err := store.Store(ctx, "run-1", name, ArtifactChart, []byte("x"))
		assert.Error(t, err, name)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := store.Store(cancelled, "run-1", "qq.png", ArtifactChart, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
