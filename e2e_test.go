package fsearch_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsearch/fsearch/internal/config"
	"github.com/fsearch/fsearch/internal/index"
	"github.com/fsearch/fsearch/internal/observability"
	"github.com/fsearch/fsearch/internal/searcher"
)

// =============================================================================
// End-to-End Integration Tests
//
// These tests drive the full stack — config store, filesystem scanner,
// index store, and facade — against a real temp directory tree and a real
// on-disk SQLite database.
// =============================================================================

// projectTree builds the fixture filesystem used by the e2e tests.
func projectTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"car_front.ma":       "front geometry",
		"sub/car_rear.mb":    "rear geometry",
		"sub/readme.txt":     "not indexed",
		"props/barrel.ma":    "barrel",
		"props/Barrel_v2.MA": "barrel v2",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newSession(t *testing.T, cfg *config.Config) *searcher.Searcher {
	t.Helper()
	store := config.NewStore(t.TempDir(), "")
	require.NoError(t, store.Save(cfg))

	s, err := searcher.New(store, observability.NewLogger("e2e", io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestE2E_IndexAndQuery(t *testing.T) {
	root := projectTree(t)
	s := newSession(t, &config.Config{
		Roots:          []string{root},
		FileExtensions: []string{"ma", ".mb"}, // One without a dot on purpose.
		IncludeFolders: true,
		MaxResults:     200,
	})
	ctx := context.Background()

	count, err := s.Rebuild(ctx, nil)
	require.NoError(t, err)
	// 4 files (.txt filtered out) + 2 directories.
	assert.Equal(t, 6, count)

	// Tokenized ranked search.
	results, err := s.Search(ctx, "car front", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "car_front.ma", results[0].Filename)
	assert.Equal(t, index.SourceRanked, results[0].Source)

	// Case-insensitive: both barrels regardless of query case.
	upper, err := s.Search(ctx, "BARREL", 0)
	require.NoError(t, err)
	lower, err := s.Search(ctx, "barrel", 0)
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
	assert.Len(t, lower, 2)

	// Directory entries surface with is_dir and zero size.
	results, err = s.Search(ctx, "props", 0)
	require.NoError(t, err)
	var dirSeen bool
	for _, r := range results {
		if r.IsDir {
			dirSeen = true
			assert.Equal(t, int64(0), r.Size)
		}
	}
	assert.True(t, dirSeen)

	// Regex search bypasses the full-text structure.
	results, err = s.RegexSearch(ctx, `car_.*\.(ma|mb)$`, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Path < results[1].Path, "regex results ordered by path")

	// Stats reflect the rebuild.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalItems)
	assert.NotNil(t, stats.LastIndexTime)
	assert.Greater(t, stats.StorageSizeBytes, int64(0))
}

func TestE2E_RebuildReflectsFilesystemChanges(t *testing.T) {
	root := projectTree(t)
	s := newSession(t, &config.Config{
		Roots:          []string{root},
		FileExtensions: []string{".ma", ".mb"},
		MaxResults:     200,
	})
	ctx := context.Background()

	first, err := s.Rebuild(ctx, nil)
	require.NoError(t, err)

	// Add one file and delete another, then rebuild wholesale.
	require.NoError(t, os.WriteFile(filepath.Join(root, "new_asset.mb"), []byte("x"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "car_front.ma")))

	second, err := s.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	results, err := s.Search(ctx, "new asset", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = s.Search(ctx, "car front", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestE2E_QueriesSurviveLocationSwitch(t *testing.T) {
	root := projectTree(t)
	dataDir := t.TempDir()
	store := config.NewStore(dataDir, "")
	require.NoError(t, store.Save(&config.Config{
		Roots:          []string{root},
		FileExtensions: []string{".ma", ".mb"},
		MaxResults:     200,
		DBPath:         "first.db",
	}))

	s, err := searcher.New(store, observability.NewLogger("e2e", io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	_, err = s.Rebuild(ctx, nil)
	require.NoError(t, err)

	// Redirect the session to a fresh database.
	cfg, err := store.Load()
	require.NoError(t, err)
	cfg.DBPath = "second.db"
	require.NoError(t, store.Save(cfg))
	require.NoError(t, s.RefreshConfig())

	indexed, err := s.IsIndexed(ctx)
	require.NoError(t, err)
	assert.False(t, indexed, "fresh location starts empty")

	_, err = s.Rebuild(ctx, nil)
	require.NoError(t, err)
	results, err := s.Search(ctx, "barrel", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
