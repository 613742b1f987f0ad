package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/memgraph-mcp/internal/admin"
	"github.com/xiy/memgraph-mcp/internal/bootstrap"
	"github.com/xiy/memgraph-mcp/internal/config"
	"github.com/xiy/memgraph-mcp/internal/embeddings"
	"github.com/xiy/memgraph-mcp/internal/federation"
	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/internal/mcp"
	"github.com/xiy/memgraph-mcp/internal/orchestrator"
	"github.com/xiy/memgraph-mcp/internal/reasoning"
	"github.com/xiy/memgraph-mcp/internal/source"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "bootstrap-clis":
		if err := runBootstrap(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "admin":
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println("memgraph-mcp v0.1.0")
	default:
		usage()
		os.Exit(2)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "config/memgraph-mcp.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportCaller: false, Prefix: cfg.ServerName})
	setLogLevel(logger, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder := embeddings.NewLocal(0)

	var store graph.Store
	switch cfg.GraphBackend {
	case "memory":
		store = graph.NewMemStore(embedder)
	default:
		primary, err := graph.OpenSQLite(ctx, cfg.GraphDBPath, embedder, logger)
		if err != nil {
			logger.Warn("sqlite graph unavailable; starting on in-memory fallback", "error", err)
			store = graph.NewMemStore(embedder)
		} else {
			store = graph.NewFailover(primary, graph.NewMemStore(embedder), logger)
		}
	}
	defer store.Close()

	graphSrc := source.NewGraphSource(store, logger)
	patternSrc := source.NewPatternSource(cfg.PatternDBPath, logger)
	docSrc := source.NewDocSource(cfg.DocStorePath, embedder, logger)
	reasoner := reasoning.NewEngine(store, reasoning.Config{
		DecayFactor:    cfg.DecayFactor,
		TemporalWindow: time.Duration(cfg.TemporalWindowSeconds) * time.Second,
		MinScore:       cfg.MinScore,
		MaxHopsCap:     cfg.MaxHopsCap,
	}, logger)

	bus := federation.NewBus(federation.Options{
		QueryTimeout:       time.Duration(cfg.QueryTimeoutMS) * time.Millisecond,
		BreakerMinRequests: uint32(cfg.BreakerMinRequests),
	}, logger)
	bus.Register(graphSrc)
	bus.Register(patternSrc)
	bus.Register(docSrc)
	bus.Register(reasoner)

	orch, err := orchestrator.New(bus, orchestrator.Options{
		CacheTTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		CacheMaxEntries: int64(cfg.CacheMaxEntries),
		DefaultLimit:    cfg.DefaultLimit,
		DefaultTokens:   cfg.DefaultTokens,
		MinScore:        cfg.MinScore,
	}, logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	if err := orch.Initialize(ctx); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(*configPath, cfg, logger)
	if err != nil {
		logger.Warn("config watcher disabled", "error", err)
	}
	if watcher != nil {
		watcher.OnChange(func(next config.Config) {
			setLogLevel(logger, next.LogLevel)
			logger.Info("config reloaded", "path", *configPath)
		})
		defer watcher.Close()
	}

	var sink mcp.RequestLogSink
	if sg, ok := requestLogStore(store); ok {
		sink = sg
	}

	server := mcp.NewServer(orch, graphSrc, cfg.ServerName, logger, sink)
	logger.Info("starting MCP stdio server", "graph_db", cfg.GraphDBPath, "backend", cfg.GraphBackend)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// requestLogStore unwraps the configured store down to the SQLite
// layer that persists request logs, when there is one.
func requestLogStore(store graph.Store) (*graph.SQLiteGraph, bool) {
	switch s := store.(type) {
	case *graph.SQLiteGraph:
		return s, true
	case *graph.Failover:
		return requestLogStore(s.Primary())
	}
	return nil, false
}

func runBootstrap(args []string) error {
	fs := flag.NewFlagSet("bootstrap-clis", flag.ContinueOnError)
	configPath := fs.String("config", "config/memgraph-mcp.yaml", "Path to config file")
	scope := fs.String("scope", "user", "Config scope: user or project")
	serverName := fs.String("server-name", "memgraph", "MCP server registration name")
	serveCmd := fs.String("serve-command", "memgraph-mcp serve", "Command used by MCP clients to launch the stdio server")
	all := fs.Bool("all", false, "Configure all available CLIs")
	codex := fs.Bool("codex", false, "Configure Codex CLI")
	claude := fs.Bool("claude", false, "Configure Claude CLI")
	gemini := fs.Bool("gemini", false, "Configure Gemini CLI")
	dryRun := fs.Bool("dry-run", false, "Print intended commands without executing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := log.New(os.Stderr)
	return bootstrap.Bootstrap(logger, bootstrap.Options{
		ConfigPath: *configPath,
		Scope:      *scope,
		ServerName: *serverName,
		ServeCmd:   *serveCmd,
		All:        *all,
		Codex:      *codex,
		Claude:     *claude,
		Gemini:     *gemini,
		DryRun:     *dryRun,
	}, nil)
}

func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	configPath := fs.String("config", "config/memgraph-mcp.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.New(os.Stderr)
	embedder := embeddings.NewLocal(0)
	st, err := graph.OpenSQLite(context.Background(), cfg.GraphDBPath, embedder, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The dashboard runs out of process from serve, so it sees the same
	// stores but builds its own bus for per-source stats. Disconnect
	// closes the underlying stores.
	bus := federation.NewBus(federation.Options{
		QueryTimeout:       time.Duration(cfg.QueryTimeoutMS) * time.Millisecond,
		BreakerMinRequests: uint32(cfg.BreakerMinRequests),
	}, logger)
	bus.Register(source.NewGraphSource(st, logger))
	bus.Register(source.NewPatternSource(cfg.PatternDBPath, logger))
	bus.Register(source.NewDocSource(cfg.DocStorePath, embedder, logger))
	bus.Initialize(ctx)
	defer bus.Disconnect()

	return admin.Run(ctx, st, bus)
}

func setLogLevel(logger *log.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func usage() {
	fmt.Print(`memgraph-mcp

Usage:
  memgraph-mcp serve [--config path]
  memgraph-mcp bootstrap-clis [--config path] [--all|--codex --claude --gemini] [--scope user|project]
  memgraph-mcp admin [--config path]
  memgraph-mcp version
`)
}
