package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSearcher_DefaultsUnderDataDir(t *testing.T) {
	// Point to an empty temp dir so a real ~/.fsearch/config.json is not read.
	dataDir := t.TempDir()
	t.Setenv("FSEARCH_DATA", dataDir)

	s, err := newSearcher("")
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "fsearch.db"), stats.Location)
	assert.Equal(t, 0, stats.TotalItems)
}

func TestNewSearcher_ExplicitConfigPath(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("FSEARCH_DATA", dataDir)

	cfgPath := filepath.Join(t.TempDir(), "alt.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"db_path": "alt.db", "max_results": 5}`), 0o644))

	s, err := newSearcher(cfgPath)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 5, s.Config().MaxResults)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "alt.db"), stats.Location)
}

func TestAutoRebuild(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "scene.ma"), []byte("x"), 0o644))

	dataDir := t.TempDir()
	t.Setenv("FSEARCH_DATA", dataDir)
	rootJSON, err := json.Marshal(root)
	require.NoError(t, err)
	cfgPath := filepath.Join(dataDir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath,
		[]byte(fmt.Sprintf(`{"roots": [%s], "auto_rebuild_on_launch": true}`, rootJSON)), 0o644))

	s, err := newSearcher(cfgPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, autoRebuild(ctx, s))

	indexed, err := s.IsIndexed(ctx)
	require.NoError(t, err)
	assert.True(t, indexed)

	// Already indexed: a second call is a no-op rather than a rescan.
	require.NoError(t, autoRebuild(ctx, s))
}
