// calltips/calltips_types.go
// Contains core type definitions used throughout the calltips package.
package calltips

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	stdslog "log/slog"
	"runtime"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	// DefaultTagName is the documentation marker that is always recognised.
	DefaultTagName = "tips"

	// CallCompletionChar is the character whose insertion completes a call expression.
	CallCompletionChar = ')'

	languageGo = "go"

	defaultDebounceWindowMs      = 500
	defaultDebounceOffsetWindow  = 1
	defaultDisplayTimeoutMs      = 8000
	defaultLatencyBudgetMs       = 500
	defaultPipelineTimeoutMs     = 5000
	defaultLogLevel              = "info"
	defaultMemoryCacheTTLSecs    = 300
	defaultConfigFileName        = "config.json"
	configDirName                = "calltips"
	maxWorkers                   = 8
	maxReadAttempts              = 3
	configReloadDebounceDuration = 250 * time.Millisecond
)

// Config holds the active configuration for the tips service.
type Config struct {
	Enabled                  bool          `json:"enabled"`
	CustomAnnotationPatterns []string      `json:"custom_annotation_patterns"` // Extra markers, optionally prefixed with '@'.
	LogLevel                 string        `json:"log_level"`                  // Log level (debug, info, warn, error).
	DebounceWindowMs         int           `json:"debounce_window_ms"`         // Duplicate-trigger time window.
	DebounceOffsetWindow     int           `json:"debounce_offset_window"`     // Duplicate-trigger offset window (bytes).
	DisplayTimeoutMs         int           `json:"display_timeout_ms"`         // Auto-dismiss delay for a shown tip.
	LatencyBudgetMs          int           `json:"latency_budget_ms"`          // Soft trigger-to-display target, logged when exceeded.
	PipelineTimeoutMs        int           `json:"pipeline_timeout_ms"`        // Hard limit for one resolution+extraction run.
	Workers                  int           `json:"workers"`                    // Concurrent pipeline runs.
	MemoryCacheTTLSeconds    int           `json:"memory_cache_ttl_seconds"`   // TTL for parsed declaration files.
	MemoryCacheTTL           time.Duration `json:"-"`                          // Derived duration, not from file.
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	Enabled                  *bool     `json:"enabled"`
	CustomAnnotationPatterns *[]string `json:"custom_annotation_patterns"`
	LogLevel                 *string   `json:"log_level"`
	DebounceWindowMs         *int      `json:"debounce_window_ms"`
	DebounceOffsetWindow     *int      `json:"debounce_offset_window"`
	DisplayTimeoutMs         *int      `json:"display_timeout_ms"`
	LatencyBudgetMs          *int      `json:"latency_budget_ms"`
	PipelineTimeoutMs        *int      `json:"pipeline_timeout_ms"`
	Workers                  *int      `json:"workers"`
	MemoryCacheTTLSeconds    *int      `json:"memory_cache_ttl_seconds"`
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return Config{
		Enabled:                  true,
		CustomAnnotationPatterns: []string{},
		LogLevel:                 defaultLogLevel,
		DebounceWindowMs:         defaultDebounceWindowMs,
		DebounceOffsetWindow:     defaultDebounceOffsetWindow,
		DisplayTimeoutMs:         defaultDisplayTimeoutMs,
		LatencyBudgetMs:          defaultLatencyBudgetMs,
		PipelineTimeoutMs:        defaultPipelineTimeoutMs,
		Workers:                  workers,
		MemoryCacheTTLSeconds:    defaultMemoryCacheTTLSecs,
		MemoryCacheTTL:           time.Duration(defaultMemoryCacheTTLSecs) * time.Second,
	}
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return getDefaultConfig() }

// Merge applies every non-nil field of fc onto c and reports how many fields were set.
func (c *Config) Merge(fc FileConfig) int {
	merged := 0
	if fc.Enabled != nil {
		c.Enabled = *fc.Enabled
		merged++
	}
	if fc.CustomAnnotationPatterns != nil {
		c.CustomAnnotationPatterns = append([]string(nil), (*fc.CustomAnnotationPatterns)...)
		merged++
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
		merged++
	}
	if fc.DebounceWindowMs != nil {
		c.DebounceWindowMs = *fc.DebounceWindowMs
		merged++
	}
	if fc.DebounceOffsetWindow != nil {
		c.DebounceOffsetWindow = *fc.DebounceOffsetWindow
		merged++
	}
	if fc.DisplayTimeoutMs != nil {
		c.DisplayTimeoutMs = *fc.DisplayTimeoutMs
		merged++
	}
	if fc.LatencyBudgetMs != nil {
		c.LatencyBudgetMs = *fc.LatencyBudgetMs
		merged++
	}
	if fc.PipelineTimeoutMs != nil {
		c.PipelineTimeoutMs = *fc.PipelineTimeoutMs
		merged++
	}
	if fc.Workers != nil {
		c.Workers = *fc.Workers
		merged++
	}
	if fc.MemoryCacheTTLSeconds != nil {
		c.MemoryCacheTTLSeconds = *fc.MemoryCacheTTLSeconds
		merged++
	}
	return merged
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if c.DebounceWindowMs < 0 {
		logger.Warn("Config validation: debounce_window_ms is negative, applying default.", "configured_value", c.DebounceWindowMs, "default", tempDefault.DebounceWindowMs)
		validationErrors = append(validationErrors, fmt.Errorf("debounce_window_ms %d must be >= 0", c.DebounceWindowMs))
		c.DebounceWindowMs = tempDefault.DebounceWindowMs
	}
	if c.DebounceOffsetWindow < 0 {
		logger.Warn("Config validation: debounce_offset_window is negative, applying default.", "configured_value", c.DebounceOffsetWindow, "default", tempDefault.DebounceOffsetWindow)
		validationErrors = append(validationErrors, fmt.Errorf("debounce_offset_window %d must be >= 0", c.DebounceOffsetWindow))
		c.DebounceOffsetWindow = tempDefault.DebounceOffsetWindow
	}
	if c.DisplayTimeoutMs <= 0 {
		logger.Warn("Config validation: display_timeout_ms is not positive, applying default.", "configured_value", c.DisplayTimeoutMs, "default", tempDefault.DisplayTimeoutMs)
		c.DisplayTimeoutMs = tempDefault.DisplayTimeoutMs
	}
	if c.LatencyBudgetMs <= 0 {
		logger.Warn("Config validation: latency_budget_ms is not positive, applying default.", "configured_value", c.LatencyBudgetMs, "default", tempDefault.LatencyBudgetMs)
		c.LatencyBudgetMs = tempDefault.LatencyBudgetMs
	}
	if c.PipelineTimeoutMs <= 0 {
		logger.Warn("Config validation: pipeline_timeout_ms is not positive, applying default.", "configured_value", c.PipelineTimeoutMs, "default", tempDefault.PipelineTimeoutMs)
		c.PipelineTimeoutMs = tempDefault.PipelineTimeoutMs
	}
	if c.Workers <= 0 {
		logger.Warn("Config validation: workers is not positive, applying default.", "configured_value", c.Workers, "default", tempDefault.Workers)
		c.Workers = tempDefault.Workers
	}
	if c.MemoryCacheTTLSeconds <= 0 {
		logger.Warn("Config validation: memory_cache_ttl_seconds is not positive, applying default.", "configured_value", c.MemoryCacheTTLSeconds, "default", tempDefault.MemoryCacheTTLSeconds)
		c.MemoryCacheTTLSeconds = tempDefault.MemoryCacheTTLSeconds
	}
	c.MemoryCacheTTL = time.Duration(c.MemoryCacheTTLSeconds) * time.Second

	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
		c.LogLevel = defaultLogLevel
	}
	if c.CustomAnnotationPatterns == nil {
		c.CustomAnnotationPatterns = []string{}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// DebounceWindow returns the duplicate-trigger time window.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMs) * time.Millisecond
}

// DisplayTimeout returns the auto-dismiss delay.
func (c Config) DisplayTimeout() time.Duration {
	return time.Duration(c.DisplayTimeoutMs) * time.Millisecond
}

// LatencyBudget returns the soft trigger-to-display target.
func (c Config) LatencyBudget() time.Duration {
	return time.Duration(c.LatencyBudgetMs) * time.Millisecond
}

// PipelineTimeout returns the hard limit for one pipeline run.
func (c Config) PipelineTimeout() time.Duration {
	return time.Duration(c.PipelineTimeoutMs) * time.Millisecond
}

// =============================================================================
// Pipeline Types
// =============================================================================

// SessionID identifies one editor session. The LSP binding uses the document URI.
type SessionID string

// TriggerEvent is an admitted (or candidate) call-completion keystroke.
type TriggerEvent struct {
	Session   SessionID
	Offset    int // 0-based byte offset of the caret after the typed character.
	Timestamp time.Time
}

// DeclarationRef points at the declaration a call-site binds to.
type DeclarationRef struct {
	Object   *types.Func       // Resolved function or method.
	Node     ast.Node          // *ast.FuncDecl, or *ast.Field for interface methods.
	Doc      *ast.CommentGroup // Attached documentation block, nil if none.
	Fset     *token.FileSet    // FileSet that Node and Doc positions belong to.
	Filename string            // File declaring the function.
	Language string            // Source language of the declaration ("go").
}

// MethodCallInfo is the result of one successful call resolution.
type MethodCallInfo struct {
	CalleeName                 string
	DeclaringTypeQualifiedName string
	Signature                  string // types.ObjectString of the callee, for diagnostics.
	Target                     *DeclarationRef
}

// TipsAnnotation is one tag occurrence inside a documentation block.
type TipsAnnotation struct {
	Marker  string // Tag name without '@'.
	Content string
	Ordinal int // 1-based within the tag-name group.
}

// TipsFormat tells the presenter how to render tip content.
type TipsFormat string

const (
	FormatPlainText TipsFormat = "plaintext"
	FormatMarkup    TipsFormat = "markup"
)

// TipsContent is the merged result of every annotation of one declaration.
// Content is never blank.
type TipsContent struct {
	Content string     `json:"content"`
	Format  TipsFormat `json:"format"`
}

// DisplayState is the per-session record of the currently visible tip.
type DisplayState struct {
	Shown   *TipsContent
	ShownAt time.Time
	Anchor  *LSPPosition
}

// Showing reports whether a tip is on screen.
func (d DisplayState) Showing() bool { return d.Shown != nil }

// HideReason records why a visible tip was dismissed.
type HideReason string

const (
	HideCaretMoved    HideReason = "caret_moved"
	HideFocusLost     HideReason = "focus_lost"
	HideEditorChanged HideReason = "editor_changed"
	HideFileClosed    HideReason = "file_closed"
	HideTimeout       HideReason = "timeout"
	HideReplaced      HideReason = "replaced"
	HideExplicit      HideReason = "explicit"
)
