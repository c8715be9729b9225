package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hession/toolgate/internal/cache"
	"github.com/hession/toolgate/internal/cli"
	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/dispatch"
	"github.com/hession/toolgate/internal/llm"
	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/server"
	"github.com/hession/toolgate/internal/tools"
	"github.com/hession/toolgate/internal/tracer"
)

var (
	version = server.Version
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

// newApp loads configuration and wires logger, tracer, cache, tools and model.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	prompts, err := config.LoadPromptConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, closers: []func() error{closeLog}}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(shutCtx)
	})

	var store cache.Store
	if cfg.Cache.Enabled {
		s, err := cache.NewSQLiteStore(cfg.Cache.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open tool cache: %w", err)
		}
		store = s
		a.closers = append(a.closers, s.Close)

		entries, err := s.Len(ctx)
		if err != nil {
			log.Warn("tool cache unreadable", "path", cfg.Cache.DBPath, "error", err)
		}
		log.Info("tool cache opened", "path", cfg.Cache.DBPath, "entries", entries)
	}

	registry, err := tools.NewDefaultRegistry(cfg, store, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Debug("tools registered", "count", registry.Len())

	var model llm.Completer = llm.NewFromConfig(cfg.Model)
	if cfg.Model.Breaker.Enabled {
		model = llm.NewBreaker(model, cfg.Model.Breaker, log)
	}

	a.dispatcher = dispatch.New(model, registry, prompts.GetPrompts(),
		dispatch.WithLogger(log),
		dispatch.WithModelName(cfg.Model.Model),
	)

	logConfigInfo(log, cfg)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
	a.closers = nil
}

// logConfigInfo logs the effective configuration without secrets.
func logConfigInfo(log *slog.Logger, cfg *config.Config) {
	keyStatus := "missing"
	if cfg.IsAPIKeyConfigured() {
		keyStatus = "configured"
	}
	log.Info("configuration loaded",
		"model", cfg.Model.Model,
		"endpoint", cfg.Model.Endpoint,
		"api_key", keyStatus,
		"breaker", cfg.Model.Breaker.Enabled,
		"validate_parameters", cfg.Dispatch.ValidateParameters,
		"cache", cfg.Cache.Enabled,
		"tracing", cfg.Tracer.Enabled,
	)
	if !cfg.IsAPIKeyConfigured() {
		log.Warn("QWEN_API_KEY is not set; chat requests will return error envelopes")
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "toolgate",
		Short: "toolgate - LLM tool-dispatch service",
		Long: `toolgate routes natural-language requests either to a direct model answer
or to a registered tool whose result the model turns into a reply.

Built-in tools:
  • get_weather       current weather for a city
  • search_wikipedia  encyclopedia summary
  • calculate_math    evaluate a math expression

Without a subcommand the HTTP server is started.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				config.SetConfigFile(configFile)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config/config.yaml)")

	serveCmd := newServeCmd()
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd, newChatCmd(), newToolsCmd(), newInvokeCmd(), newConfigCmd(), newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srvCfg := a.cfg.Server
			if cmd.Flags().Changed("host") {
				srvCfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				srvCfg.Port = port
			}

			return server.NewServer(a.dispatcher, srvCfg, a.log).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return cli.Run(cmd.Context(), a.dispatcher, a.cfg, version)
		},
	}
}

func newToolsCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			listings := a.dispatcher.Tools()
			if plain {
				for _, l := range listings {
					fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", l.Name, l.Description)
				}
				return nil
			}
			return printJSON(cmd, map[string]any{"tools": listings, "count": len(listings)})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print one tool per line instead of JSON")
	return cmd
}

func newInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <tool> [json]",
		Short: "Run a tool directly without the model",
		Args:  cobra.RangeArgs(1, 2),
		Example: `  toolgate invoke calculate_math '{"expression": "sqrt(16) + 2^3"}'
  toolgate invoke get_weather '{"city": "Beijing"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			params, err := cli.ParseParams(raw)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.dispatcher.Invoke(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return printJSON(cmd, dispatch.BuildInvokeResponse(args[0], result, a.dispatcher.Now()))
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())

			path, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig file path: %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolgate v%s\n", version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
