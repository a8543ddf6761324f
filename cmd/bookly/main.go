// Bookly is a customer support agent for an online bookstore.
//
// It drives a bounded tool-calling loop against a hosted completion
// API, with a hot-reloadable tool/policy registry and conversation
// analytics. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	bookly init [dir]        Write starter config and policy files
//	bookly serve             Start the API server
//	bookly ask <question>    Ask a single question (for testing)
//	bookly version           Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/matchagon/bookly-agent/internal/agent"
	"github.com/matchagon/bookly-agent/internal/api"
	"github.com/matchagon/bookly-agent/internal/buildinfo"
	"github.com/matchagon/bookly-agent/internal/config"
	"github.com/matchagon/bookly-agent/internal/llm"
	"github.com/matchagon/bookly-agent/internal/metrics"
	"github.com/matchagon/bookly-agent/internal/orders"
	"github.com/matchagon/bookly-agent/internal/registry"
	"github.com/matchagon/bookly-agent/internal/session"
	"github.com/matchagon/bookly-agent/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, and our surface is small
// enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("-config requires a path")
			}
			i++
			configPath = args[i]
		default:
			command = args[i]
			cmdArgs = args[i+1:]
			i = len(args)
		}
	}

	switch command {
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve", "ask":
		// Handled below; both need the full component wiring.
	case "":
		return fmt.Errorf("usage: bookly [-config path] init|serve|ask|version")
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	path, err := config.FindConfig(configPath)
	var cfg *config.Config
	if err != nil {
		if configPath != "" {
			// An explicitly named config file must exist.
			return err
		}
		// No config file is fine for local use; defaults plus
		// environment variables cover the ask/serve happy path.
		cfg = config.Default()
		cfg.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	logger.Info("starting", "build", buildinfo.String())

	components, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer components.sessions.Close()

	switch command {
	case "serve":
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return components.server.Start(ctx)

	case "ask":
		question := strings.TrimSpace(strings.Join(cmdArgs, " "))
		if question == "" {
			return fmt.Errorf("usage: bookly ask <question>")
		}
		askCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		reply, err := components.loop.HandleTurn(askCtx, "cli", question)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	return nil
}

// components holds the wired application graph.
type components struct {
	sessions *session.Store
	loop     *agent.Loop
	server   *api.Server
}

// wire constructs the component graph from configuration.
func wire(cfg *config.Config, logger *slog.Logger) (*components, error) {
	dbPath := filepath.Join(cfg.DataDir, "bookly.db")
	sessions, err := session.Open(dbPath,
		time.Duration(cfg.Agent.StaleAfterMin)*time.Minute, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	regStore, err := registry.NewStore(sessions.DB())
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("open registry store: %w", err)
	}

	seedPolicy := registry.DefaultPolicy
	if data, err := os.ReadFile(cfg.PolicyFile); err == nil {
		seedPolicy = string(data)
	}

	reg, err := registry.New(logger, regStore, tools.IsBuiltin, tools.Builtins(), seedPolicy)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	executor := tools.NewExecutor(orders.NewFixtureStore(), logger)
	client := llm.NewOpenAIClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model, logger)

	loop := agent.New(logger, client, reg, sessions, executor, agent.Options{
		MaxToolCycles: cfg.Agent.MaxToolCycles,
		MaxRetries:    cfg.Agent.MaxRetries,
		RetryBase:     time.Duration(cfg.Agent.RetryBackoffMS) * time.Millisecond,
	})

	aggregator := metrics.NewAggregator(sessions)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, reg, sessions, aggregator, logger)

	return &components{sessions: sessions, loop: loop, server: server}, nil
}
