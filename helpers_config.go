// calltips/helpers_config.go
// Contains configuration loading, the live config store and the config file watcher.
package calltips

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Config Source
// =============================================================================

// ConfigSource is the settings surface the pipeline reads on every trigger.
type ConfigSource interface {
	IsPluginEnabled() bool
	GetCustomAnnotationPatterns() []string
}

// ConfigStore holds the live configuration. Safe for concurrent use.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

// NewConfigStore creates a store holding cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.CustomAnnotationPatterns = append([]string(nil), s.cfg.CustomAnnotationPatterns...)
	return cfg
}

// Set replaces the configuration.
func (s *ConfigStore) Set(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// IsPluginEnabled implements ConfigSource.
func (s *ConfigStore) IsPluginEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// GetCustomAnnotationPatterns implements ConfigSource.
func (s *ConfigStore) GetCustomAnnotationPatterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cfg.CustomAnnotationPatterns...)
}

// =============================================================================
// Configuration Loading
// =============================================================================

var errConfigParse = errors.New("parsing config file JSON")

// GetConfigPath returns the config file path under the XDG config directory,
// creating parent directories as needed.
func GetConfigPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join(configDirName, defaultConfigFileName))
	if err != nil {
		return "", fmt.Errorf("%w: resolving config path: %w", ErrConfig, err)
	}
	return path, nil
}

// LoadConfig loads the config file from the XDG location, writing a default one if
// none exists. A usable Config is always returned; the error reports what went wrong.
func LoadConfig(logger *slog.Logger) (Config, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := GetConfigPath()
	if err != nil {
		logger.Warn("Could not determine config path, using defaults", "error", err)
		cfg := getDefaultConfig()
		return cfg, "", err
	}
	cfg, err := LoadConfigFromPath(path, logger)
	return cfg, path, err
}

// LoadConfigFromPath merges the file at path over the defaults and validates the result.
func LoadConfigFromPath(path string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := getDefaultConfig()
	var loadErrors []error

	loaded, loadErr := LoadAndMergeConfig(path, &cfg, logger)
	switch {
	case loadErr != nil:
		loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", path, loadErr))
		logger.Warn("Failed to load or merge config, using defaults", "path", path, "error", loadErr)
		cfg = getDefaultConfig()
	case !loaded:
		logger.Info("No config file found. Writing default.", "path", path)
		if err := WriteDefaultConfig(path, getDefaultConfig(), logger); err != nil {
			logger.Warn("Failed to write default config", "path", path, "error", err)
			loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
		}
	default:
		logger.Info("Loaded config", "path", path)
	}

	if err := cfg.Validate(logger); err != nil {
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
	}
	if len(loadErrors) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return cfg, nil
}

// LoadAndMergeConfig merges the JSON file at path into cfg. It reports false without
// error when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("Config file is empty, ignoring", "path", path)
		return true, nil
	}
	var fileCfg FileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return false, fmt.Errorf("%w: %w", errConfigParse, err)
	}
	merged := cfg.Merge(fileCfg)
	logger.Debug("Merged config file", "path", path, "fields", merged)
	return true, nil
}

// WriteDefaultConfig writes cfg as indented JSON to path, creating parent directories.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	logger.Info("Wrote default config", "path", path)
	return nil
}

// =============================================================================
// Config Watcher
// =============================================================================

// ConfigWatcher reloads the config file when it changes on disk. Bursts of events
// (editors saving via temp file and rename) collapse into one reload.
type ConfigWatcher struct {
	path     string
	base     func() Config
	onChange func(Config)
	logger   *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	debounce func(f func())
	wg       sync.WaitGroup
}

// NewConfigWatcher creates a watcher for path. On each change the file is merged over
// base(), usually the live configuration, so settings pushed by the client survive
// keys the file does not set. A nil base merges over the defaults. onChange receives
// each validated reload.
func NewConfigWatcher(path string, base func() Config, onChange func(Config), logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = getDefaultConfig
	}
	return &ConfigWatcher{
		path:     path,
		base:     base,
		onChange: onChange,
		logger:   logger.With("component", "ConfigWatcher", "path", path),
		debounce: debounce.New(configReloadDebounceDuration),
	}
}

// Start begins watching. The parent directory is watched so atomic saves are seen.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating watcher: %w", ErrConfig, err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: watching %s: %w", ErrConfig, filepath.Dir(w.path), err)
	}
	w.watcher = watcher
	w.stopChan = make(chan struct{})
	w.wg.Add(1)
	go w.watchLoop(watcher, w.stopChan)
	w.logger.Debug("Started watching config file")
	return nil
}

// Stop ends watching. Safe to call when not started.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *ConfigWatcher) watchLoop(watcher *fsnotify.Watcher, stop chan struct{}) {
	defer w.wg.Done()
	target := filepath.Clean(w.path)
	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce(w.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg := w.base()
	loaded, err := LoadAndMergeConfig(w.path, &cfg, w.logger)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping current configuration", "error", err)
		return
	}
	if !loaded {
		return
	}
	if err := cfg.Validate(w.logger); err != nil {
		w.logger.Warn("Reloaded config had invalid values, defaults applied", "error", err)
	}
	w.logger.Info("Config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
