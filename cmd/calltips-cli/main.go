package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehackedyou/calltips"
)

// Set at build time
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "calltips-cli",
	Short:         "Inspect @tips annotations of Go calls offline",
	Long:          `calltips-cli resolves the call before a position and prints the @tips of its declaration, without an editor.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve FILE",
	Short: "Resolve the call closed at --line/--col and print its tips",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Print the tips of a declaration in FILE (--func Name or Type.Method)",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Print the recognised tag names",
	Args:  cobra.NoArgs,
	RunE:  runTags,
}

func main() {
	rootCmd.Version = version

	resolveCmd.Flags().Int("line", 0, "line number (1-based)")
	resolveCmd.Flags().Int("col", 0, "byte column just after the closing ')' (1-based)")
	resolveCmd.Flags().Duration("timeout", 10*time.Second, "resolution timeout")
	_ = resolveCmd.MarkFlagRequired("line")
	_ = resolveCmd.MarkFlagRequired("col")

	extractCmd.Flags().String("func", "", "function or Type.Method name")
	_ = extractCmd.MarkFlagRequired("func")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(tagsCmd)

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error) - overrides config")
	rootCmd.PersistentFlags().StringSlice("pattern", nil, "extra annotation pattern, repeatable (e.g. @note)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies global flags and installs the logger.
func setup(cmd *cobra.Command) (calltips.Config, *slog.Logger, error) {
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, _, err := calltips.LoadConfig(tempLogger)
	if err != nil {
		if !errors.Is(err, calltips.ErrConfig) {
			return cfg, nil, err
		}
		tempLogger.Warn("Configuration loaded with warnings", "error", err)
	}

	levelStr := cfg.LogLevel
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		levelStr = flagLevel
	}
	level, parseErr := calltips.ParseLogLevel(levelStr)
	if parseErr != nil {
		tempLogger.Warn("Invalid log level, using 'warn'", "level", levelStr, "error", parseErr)
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if patterns, _ := cmd.Flags().GetStringSlice("pattern"); len(patterns) > 0 {
		cfg.CustomAnnotationPatterns = append(cfg.CustomAnnotationPatterns, patterns...)
	}
	return cfg, logger, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	line, _ := cmd.Flags().GetInt("line")
	col, _ := cmd.Flags().GetInt("col")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("cannot resolve path %q: %w", args[0], err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", absPath, err)
	}
	offset, err := calltips.LineColToOffset(content, line, col)
	if err != nil {
		return err
	}
	caret, err := calltips.OffsetToLSPPosition(content, offset)
	if err != nil {
		return err
	}
	uri, err := calltips.PathToURI(absPath)
	if err != nil {
		return err
	}

	service := calltips.NewTipService(cfg, nil, logger)
	defer service.Close()
	service.OpenDocument(calltips.DocumentURI(uri), absPath, 1, content)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	start := time.Now()
	info, tip, err := service.ResolveTip(ctx, calltips.DocumentURI(uri), caret)
	if err != nil {
		return err
	}
	logger.Debug("Resolution finished", "duration", time.Since(start))

	out := cmd.OutOrStdout()
	if info == nil {
		fmt.Fprintln(out, "No resolvable call at this position.")
		return nil
	}
	fmt.Fprintf(out, "Callee:    %s\n", info.CalleeName)
	fmt.Fprintf(out, "Declared:  %s\n", info.DeclaringTypeQualifiedName)
	if info.Signature != "" {
		fmt.Fprintf(out, "Signature: %s\n", info.Signature)
	}
	if info.Target != nil {
		fmt.Fprintf(out, "Location:  %s\n", info.Target.Filename)
	}
	printTip(out, tip)
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("func")
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", args[0], err)
	}
	tip, err := calltips.ExtractFromSource(args[0], content, name, calltips.NewConfigStore(cfg), logger)
	if err != nil {
		return err
	}
	printTip(cmd.OutOrStdout(), tip)
	return nil
}

func runTags(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	for _, name := range calltips.TagNames(cfg.CustomAnnotationPatterns) {
		fmt.Fprintf(cmd.OutOrStdout(), "@%s\n", name)
	}
	return nil
}

func printTip(out io.Writer, tip *calltips.TipsContent) {
	if tip == nil {
		fmt.Fprintln(out, "No tips.")
		return
	}
	fmt.Fprintf(out, "--- tips (%s) ---\n%s\n", tip.Format, tip.Content)
}
