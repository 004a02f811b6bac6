// calltips/helpers_config_test.go
package calltips

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromPathWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calltips", "config.json")

	cfg, err := LoadConfigFromPath(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DisplayTimeoutMs, cfg.DisplayTimeoutMs)
	assert.True(t, cfg.Enabled)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "a default config file is written")
	var written FileConfig
	require.NoError(t, json.Unmarshal(data, &written))
	require.NotNil(t, written.DebounceWindowMs)
	assert.Equal(t, defaultDebounceWindowMs, *written.DebounceWindowMs)
}

func TestLoadConfigFromPathMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "enabled": false,
  "custom_annotation_patterns": ["@note"],
  "display_timeout_ms": 3000
}`), 0o600))

	cfg, err := LoadConfigFromPath(path, discardLogger())
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{"@note"}, cfg.CustomAnnotationPatterns)
	assert.Equal(t, 3*time.Second, cfg.DisplayTimeout())
	assert.Equal(t, defaultDebounceWindowMs, cfg.DebounceWindowMs, "unset fields keep defaults")
}

func TestLoadConfigFromPathInvalid(t *testing.T) {
	dir := t.TempDir()

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte(`{"enabled": `), 0o600))
	cfg, err := LoadConfigFromPath(badJSON, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, errors.Is(err, errConfigParse))
	assert.Equal(t, DefaultConfig().Workers, cfg.Workers, "defaults are still usable")

	badValues := filepath.Join(dir, "values.json")
	require.NoError(t, os.WriteFile(badValues, []byte(`{"debounce_window_ms": -5, "log_level": "loud"}`), 0o600))
	cfg, err = LoadConfigFromPath(badValues, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, defaultDebounceWindowMs, cfg.DebounceWindowMs)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestConfigMergeCountsFields(t *testing.T) {
	enabled := false
	window := 250
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.Merge(FileConfig{Enabled: &enabled, DebounceWindowMs: &window}))
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, 0, cfg.Merge(FileConfig{}))
}

func TestConfigStoreCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomAnnotationPatterns = []string{"note"}
	store := NewConfigStore(cfg)

	got := store.Get()
	got.CustomAnnotationPatterns[0] = "mutated"
	assert.Equal(t, []string{"note"}, store.GetCustomAnnotationPatterns())

	patterns := store.GetCustomAnnotationPatterns()
	patterns[0] = "mutated"
	assert.Equal(t, []string{"note"}, store.Get().CustomAnnotationPatterns)

	cfg.Enabled = false
	store.Set(cfg)
	assert.False(t, store.IsPluginEnabled())
}

func TestConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true}`), 0o600))

	var reloaded atomic.Pointer[Config]
	watcher := NewConfigWatcher(path, nil, func(cfg Config) { reloaded.Store(&cfg) }, discardLogger())
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": false, "custom_annotation_patterns": ["hint"]}`), 0o600))

	require.Eventually(t, func() bool { return reloaded.Load() != nil }, 5*time.Second, 20*time.Millisecond)
	cfg := reloaded.Load()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{"hint"}, cfg.CustomAnnotationPatterns)
}

func TestConfigWatcherMergesOverLiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true}`), 0o600))

	live := DefaultConfig()
	live.CustomAnnotationPatterns = []string{"@pushed"}
	live.DisplayTimeoutMs = 3000
	store := NewConfigStore(live)

	var reloaded atomic.Pointer[Config]
	watcher := NewConfigWatcher(path, store.Get, func(cfg Config) { reloaded.Store(&cfg) }, discardLogger())
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": false, "debounce_window_ms": 250}`), 0o600))

	require.Eventually(t, func() bool { return reloaded.Load() != nil }, 5*time.Second, 20*time.Millisecond)
	cfg := reloaded.Load()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 250, cfg.DebounceWindowMs)
	assert.Equal(t, []string{"@pushed"}, cfg.CustomAnnotationPatterns, "client settings the file leaves unset survive")
	assert.Equal(t, 3*time.Second, cfg.DisplayTimeout())
}
