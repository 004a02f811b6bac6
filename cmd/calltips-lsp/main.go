package main

import (
	"errors"
	"expvar"
	"flag"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/adrg/xdg"

	"github.com/shehackedyou/calltips"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	debugAddr := flag.String("debug-addr", "localhost:6061", "Listen address for pprof/expvar (empty disables)")
	flag.Parse()

	logPath, err := xdg.StateFile("calltips/calltips-lsp.log")
	if err != nil {
		logPath = "calltips-lsp.log"
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	// stdout carries the protocol; logs go to the file and stderr.
	logWriter := io.MultiWriter(os.Stderr, logFile)

	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, configPath, cfgErr := calltips.LoadConfig(tempLogger)
	if cfgErr != nil && !errors.Is(cfgErr, calltips.ErrConfig) {
		tempLogger.Error("Failed to load configuration", "error", cfgErr)
		os.Exit(1)
	}

	levelVar := new(slog.LevelVar)
	logLevel, parseLevelErr := calltips.ParseLogLevel(cfg.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", cfg.LogLevel, "error", parseLevelErr)
	}
	levelVar.Set(logLevel)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: levelVar, AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("calltips LSP server starting...", "version", appVersion, "log_level", logLevel.String(), "config_path", configPath)
	if cfgErr != nil {
		slog.Warn("Configuration loaded with warnings", "error", cfgErr)
	}

	lspServer := calltips.NewServer(cfg, logger, levelVar, appVersion)
	defer func() {
		slog.Info("Closing tip service...")
		if err := lspServer.Service().Close(); err != nil {
			slog.Error("Error closing tip service", "error", err)
		}
	}()

	if configPath != "" {
		watcher := calltips.NewConfigWatcher(configPath, lspServer.Service().Config().Get, lspServer.ApplyConfig, logger)
		if err := watcher.Start(); err != nil {
			slog.Warn("Config file watching disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	calltips.PublishExpvarMetrics(lspServer)
	if *debugAddr != "" {
		startDebugServer(*debugAddr)
	}

	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down gracefully.")
}

// startDebugServer starts the HTTP server for pprof and expvar.
func startDebugServer(addr string) {
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", addr)
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
		if err := http.ListenAndServe(addr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
