// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// relay-mcp is an MCP (Model Context Protocol) server that orchestrates
// multiple LLM backends for a single local client. It communicates over
// stdio (JSON-RPC) and exposes multi-AI workflow tools: ask, council,
// dual_iterate, parallel_agents, spawn_subagent, and check_backend_health.
//
// Usage:
//
//	relay-mcp --config backends.json
//
// Claude Desktop configuration (claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "relay": {
//	      "command": "/path/to/relay-mcp",
//	      "args": ["--config", "/path/to/backends.json"]
//	    }
//	  }
//	}
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teradata-labs/relay/internal/version"
	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/config"
	"github.com/teradata-labs/relay/pkg/learning"
	"github.com/teradata-labs/relay/pkg/mcp/server"
	"github.com/teradata-labs/relay/pkg/mcp/transport"
	"github.com/teradata-labs/relay/pkg/patterns"
	"github.com/teradata-labs/relay/pkg/routing"
	"github.com/teradata-labs/relay/pkg/scheduler"
	"github.com/teradata-labs/relay/pkg/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serverName = "relay-mcp"

func main() {
	var (
		configPath string
		logFile    string
		logLevel   string
		watch      bool
	)

	rootCmd := &cobra.Command{
		Use:          serverName,
		Short:        "MCP server orchestrating multiple LLM backends over stdio",
		Version:      version.Get(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath, logFile, logLevel, watch)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "backends.json", "Path to the backends configuration file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (defaults to stderr)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&watch, "watch-config", true, "Hot-reload council topics when the config file changes")

	if err := rootCmd.Execute(); err != nil {
		// Startup failures exit nonzero; once serving, tool errors are
		// structured responses, never exits.
		os.Exit(1)
	}
}

func run(configPath, logFile, logLevel string, watch bool) error {
	// CRITICAL: never write to stdout -- that's the MCP transport.
	logger, err := buildLogger(logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting relay-mcp server",
		zap.String("config", configPath),
		zap.String("version", version.Get()),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return err
	}

	registry, err := backend.NewRegistry(cfg.Backends, cfg.Breaker, logger)
	if err != nil {
		logger.Error("registry init failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := backend.NewMonitor(registry, logger)
	go monitor.Start(ctx)

	learner := learning.NewEngine(cfg.Learning, logger)
	router := routing.NewRouter(registry, learner, cfg.Rules, logger)
	store := patterns.NewStore(cfg.Patterns, logger)
	store.StartDecayLoop(ctx, 24*time.Hour)
	sched := scheduler.NewManager(cfg.MaxConcurrent, logger)
	defer sched.Close()

	env := &workflow.Env{
		Registry:  registry,
		Router:    router,
		Monitor:   monitor,
		Patterns:  store,
		Scheduler: sched,
		Logger:    logger,
	}

	roles := workflow.DefaultRoles()
	council := workflow.NewCouncilHandler(env, cfg.CouncilTopics)
	dualIterate := workflow.NewDualIterateHandler(env, cfg.DualIterate)
	dispatcher, err := workflow.NewDispatcher(logger,
		workflow.NewAskHandler(env),
		council,
		dualIterate,
		workflow.NewParallelAgentsHandler(env, roles),
		workflow.NewSubagentHandler(env, roles),
		workflow.NewHealthHandler(env),
	)
	if err != nil {
		logger.Error("dispatcher init failed", zap.Error(err))
		return err
	}

	if watch {
		watcher, werr := config.NewWatcher(configPath, func(fresh *config.Config) {
			council.SetTopics(fresh.CouncilTopics)
			dualIterate.SetConfig(fresh.DualIterate)
		}, logger)
		if werr != nil {
			logger.Warn("config watcher unavailable", zap.Error(werr))
		} else if werr := watcher.Start(ctx); werr != nil {
			logger.Warn("config watcher start failed", zap.Error(werr))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	mcpServer := server.NewMCPServer(serverName, version.Get(), logger,
		server.WithToolProvider(dispatcher),
	)
	stdioTransport := transport.NewStdioTransport(os.Stdin, os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("MCP server ready, awaiting client on stdio",
		zap.Strings("backends", registry.Names()),
	)
	if err := mcpServer.Serve(ctx, stdioTransport); err != nil {
		if ctx.Err() != nil {
			logger.Info("server stopped gracefully")
			if serr := learner.Save(); serr != nil {
				logger.Warn("final learning save failed", zap.Error(serr))
			}
			return nil
		}
		logger.Error("server error", zap.Error(err))
		return err
	}
	return nil
}

// buildLogger creates a zap logger that writes to a file, or stderr when no
// file is given. It must never write to stdout because stdout carries the
// MCP stdio transport.
func buildLogger(logFile, logLevel string) (*zap.Logger, error) {
	level := parseLogLevel(logLevel)

	var output zapcore.WriteSyncer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- log file path from CLI flag
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", logFile, err)
		}
		output = zapcore.AddSync(f)
	} else {
		output = zapcore.AddSync(os.Stderr)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		output,
		level,
	)

	return zap.New(core), nil
}

// parseLogLevel converts a string log level to a zapcore.Level.
func parseLogLevel(logLevel string) zapcore.Level {
	switch logLevel {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
