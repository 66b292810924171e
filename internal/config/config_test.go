package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Load_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "")

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{".ma", ".mb"}, cfg.FileExtensions)
	assert.Equal(t, 200, cfg.MaxResults)
	assert.False(t, cfg.IncludeFolders)

	// The defaults should have been persisted.
	_, err = os.Stat(filepath.Join(dir, "config.json"))
	assert.NoError(t, err)
}

func TestStore_Load_MergesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"roots": ["/projects"],
		"file_extensions": [".obj"],
		"max_results": 50
	}`), 0o644))

	cfg, err := NewStore(dir, path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/projects"}, cfg.Roots)
	assert.Equal(t, []string{".obj"}, cfg.FileExtensions)
	assert.Equal(t, 50, cfg.MaxResults)
	// Field absent from the file keeps its default.
	assert.Equal(t, "fsearch.db", cfg.DBPath)
}

func TestStore_Load_CorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	cfg, err := NewStore(dir, path).Load()
	require.NoError(t, err)
	assert.Equal(t, Default().MaxResults, cfg.MaxResults)

	// The corrupt file must not be overwritten.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(data))
}

func TestStore_Load_LegacyKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"index_on_import": true}`), 0o644))

	cfg, err := NewStore(dir, path).Load()
	require.NoError(t, err)
	assert.True(t, cfg.AutoRebuildOnLaunch)
}

func TestStore_Load_LegacyKeyIgnoredWhenNewKeyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"index_on_import": true, "auto_rebuild_on_launch": false}`), 0o644))

	cfg, err := NewStore(dir, path).Load()
	require.NoError(t, err)
	assert.False(t, cfg.AutoRebuildOnLaunch)
}

func TestStore_Load_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FSEARCH_MAX_RESULTS", "25")
	t.Setenv("FSEARCH_DB_PATH", "override.db")

	cfg, err := NewStore(dir, "").Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.MaxResults)
	assert.Equal(t, "override.db", cfg.DBPath)
}

func TestStore_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "")

	want := &Config{
		Roots:          []string{"/a", "/b"},
		FileExtensions: []string{".fbx"},
		IncludeFolders: true,
		MaxResults:     10,
		DBPath:         "x.db",
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConfig_NormalizedExtensions(t *testing.T) {
	cfg := &Config{FileExtensions: []string{"MA", ".Mb", " fbx ", "", "  "}}
	assert.Equal(t, []string{".ma", ".mb", ".fbx"}, cfg.NormalizedExtensions())
}

func TestStore_ResolveDBPath(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "")

	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	assert.Equal(t, abs, s.ResolveDBPath(&Config{DBPath: abs}))

	assert.Equal(t, filepath.Join(dir, "rel.db"), s.ResolveDBPath(&Config{DBPath: "rel.db"}))
	// Relative paths are flattened to their base name under the data dir.
	assert.Equal(t, filepath.Join(dir, "rel.db"), s.ResolveDBPath(&Config{DBPath: "sub/rel.db"}))
	assert.Equal(t, filepath.Join(dir, "fsearch.db"), s.ResolveDBPath(&Config{}))
}
