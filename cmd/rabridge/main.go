// Package main is the entry point for the rabridge MCP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/rabridge/internal/bridge"
	"github.com/dshills/rabridge/internal/config"
	"github.com/dshills/rabridge/internal/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build information, injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configPath string
	workspace  string
	logLevel   string
	analyzer   string
)

var rootCmd = &cobra.Command{
	Use:   "rabridge",
	Short: "MCP server exposing rust-analyzer to AI assistants",
	Long: `rabridge bridges rust-analyzer to MCP clients over stdio.

It supervises a rust-analyzer child process, speaks the LSP base
protocol to it, and exposes hover, definitions, diagnostics, failed
trait obligations and other analysis as MCP tools. The MCP protocol
runs on stdin/stdout; all logging goes to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rabridge %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	rootCmd.Flags().StringVar(&workspace, "workspace", "", "Rust workspace root (defaults to current directory)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&analyzer, "analyzer", "", "rust-analyzer binary to launch")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rabridge: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if analyzer != "" {
		cfg.Command = analyzer
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(bridge.Options{
		Workspace:      cfg.Workspace,
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.Env,
		RequestTimeout: cfg.RequestTimeout.Std(),
		StrictDecode:   cfg.StrictDecode,
		Logger:         logger,
	})

	srv := mcp.NewServer("rabridge", version, os.Stdin, os.Stdout, logger)
	b.RegisterTools(srv)

	logger.Info("rabridge starting",
		zap.String("version", version),
		zap.String("workspace", b.Workspace()),
		zap.String("analyzer", cfg.Command))

	runErr := srv.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		// A signal stopped the server; that is a clean shutdown.
		runErr = nil
	}

	if err := b.Shutdown(cmd.Context()); err != nil {
		logger.Warn("analyzer shutdown", zap.Error(err))
	}
	return runErr
}

// buildLogger writes human-readable logs to stderr. Stdout carries the
// MCP protocol and must stay clean.
func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
