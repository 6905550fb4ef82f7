package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/everydev1618/vegaflow"
	"github.com/everydev1618/vegaflow/agents"
	"github.com/everydev1618/vegaflow/internal/config"
	"github.com/everydev1618/vegaflow/internal/logging"
	"github.com/everydev1618/vegaflow/internal/telemetry"
	"github.com/everydev1618/vegaflow/llm"
	"github.com/everydev1618/vegaflow/store"
	"github.com/everydev1618/vegaflow/tools"
)

var version = "dev"

// app holds what the commands share: configuration, the logger and the
// resources opened on demand.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// Execute runs the CLI with signal handling.
func Execute(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "vegaflow",
		Short: "Run event-driven workflows described by JSON documents",
		Long: `vegaflow validates and runs workflow documents whose steps are JavaScript
arrow functions bound to event types. Steps call tools and LLM agents by name.

Documents may be JSON or YAML (.yaml, .yml).`,
		PersistentPreRunE: a.load,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./vegaflow.yaml or ~/.vegaflow/vegaflow.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newValidateCmd(a),
		newRunCmd(a),
		newGenerateCmd(a),
		newWorkflowCmd(a),
		newRunsCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and installs the logger before any command runs.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

type serviceOptions struct {
	store   bool
	echo    bool
	timeout time.Duration
}

// service builds a workflow service from the configuration.
func (a *app) service(ctx context.Context, opts serviceOptions) (*vegaflow.Service, error) {
	cfg := a.cfg

	tp, shutdown := telemetry.Setup(cfg.Tracing.Enabled, a.logger)
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	var catalog tools.Catalog = reg
	if len(cfg.MCP.Servers) > 0 {
		mcpCat := tools.NewMCPCatalog(a.logger)
		a.closers = append(a.closers, mcpCat.Close)
		if err := mcpCat.Connect(ctx, cfg.MCP.Servers...); err != nil {
			a.logger.Warn("some MCP servers are unavailable", "error", err)
		}
		catalog = tools.Chain(reg, mcpCat)
	}

	model := a.model()
	var factory agents.Factory = agents.NewLLMFactory(model,
		agents.WithTools(catalog),
		agents.WithLogger(a.logger),
	)
	if opts.echo {
		factory = agents.EchoFactory{}
	}

	timeout := cfg.RunTimeout
	if opts.timeout > 0 {
		timeout = opts.timeout
	}

	svcOpts := []vegaflow.Option{
		vegaflow.WithCatalog(catalog),
		vegaflow.WithAgentFactory(factory),
		vegaflow.WithLLM(model),
		vegaflow.WithRunTimeout(timeout),
		vegaflow.WithMaxSteps(cfg.MaxSteps),
		vegaflow.WithLogger(a.logger),
		vegaflow.WithTracer(tp.Tracer("github.com/everydev1618/vegaflow")),
	}

	if cfg.ToolTimeout > 0 {
		svcOpts = append(svcOpts, vegaflow.WithToolMiddleware(tools.Timeout(cfg.ToolTimeout)))
	}

	if opts.store {
		st, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, vegaflow.WithStore(st))
	}

	return vegaflow.New(svcOpts...), nil
}

func (a *app) model() *llm.AnthropicLLM {
	var opts []llm.AnthropicOption
	if a.cfg.LLM.APIKey != "" {
		opts = append(opts, llm.WithAPIKey(a.cfg.LLM.APIKey))
	}
	if a.cfg.LLM.Model != "" {
		opts = append(opts, llm.WithModel(a.cfg.LLM.Model))
	}
	if a.cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(a.cfg.LLM.BaseURL))
	}
	if a.cfg.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(a.cfg.LLM.MaxTokens))
	}
	return llm.NewAnthropic(opts...)
}

func (a *app) openStore(ctx context.Context) (*store.SQLiteStore, error) {
	path := a.cfg.DatabasePath
	if err := config.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	a.closers = append(a.closers, st.Close)
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	return st, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "vegaflow %s\n", version)
			return nil
		},
	}
}
