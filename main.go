package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/scipunch/updatesbot/config"
	"github.com/scipunch/updatesbot/fetcher"
	"github.com/scipunch/updatesbot/metrics"
	"github.com/scipunch/updatesbot/store"
	"github.com/scipunch/updatesbot/webhook"
	"github.com/scipunch/updatesbot/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("updatesbot failed", "error", err)
		os.Exit(1)
	}
}

func rootApp() *cli.App {
	return &cli.App{
		Name:  "updatesbot",
		Usage: "Announce new feed entries to chat webhooks",
		Description: `Polls FeedBurner Atom and Google Blog RSS feeds, detects entries
		that were not seen during the previous fetch and posts a card for each
		of them to every webhook subscribed to the feed.

		Flags can generally be set via environment variables, e.g.:

		--config => UPDATESBOT_CONFIG=/etc/updatesbot.toml
		--log-level => UPDATESBOT_LOG_LEVEL=debug
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config (defaults to $XDG_CONFIG_HOME/updatesbot/config.toml)",
				EnvVars: []string{"UPDATESBOT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error; overrides log_level from the config",
				EnvVars: []string{"UPDATESBOT_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "json-logs",
				Usage:   "emit logs as JSON",
				EnvVars: []string{"UPDATESBOT_JSON_LOGS"},
			},
		},
		Commands: []*cli.Command{
			initCmd(),
			executeCmd(),
			runCmd(),
			dumpCmd(),
			configCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return cli.ShowAppHelp(ctx)
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Reset stored state and run a bootstrap cycle",
		Description: `Forgets every feed, runs a cycle that ignores the notification
		window and announces at most max_init_updates entries per feed, then
		logs the stored state.`,
		Action: func(cCtx *cli.Context) error {
			return withOrchestrator(cCtx, func(orch *workflow.Orchestrator, _ config.Config) error {
				report, err := orch.Initialize(cCtx.Context)
				logReport(report)
				return err
			})
		},
	}
}

func executeCmd() *cli.Command {
	return &cli.Command{
		Name:  "execute",
		Usage: "Run a single regular cycle",
		Action: func(cCtx *cli.Context) error {
			return withOrchestrator(cCtx, func(orch *workflow.Orchestrator, _ config.Config) error {
				report, err := orch.Execute(cCtx.Context, false)
				logReport(report)
				return err
			})
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a regular cycle every trigger_interval_hours",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "init",
				Usage: "reset state and run a bootstrap cycle before scheduling",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve Prometheus metrics on this address, e.g. :9090",
				EnvVars: []string{"UPDATESBOT_METRICS_ADDR"},
			},
		},
		Action: func(cCtx *cli.Context) error {
			return withOrchestrator(cCtx, func(orch *workflow.Orchestrator, conf config.Config) error {
				ctx, cancel := context.WithCancel(cCtx.Context)
				defer cancel()

				metricsErr := make(chan error, 1)
				if addr := cCtx.String("metrics-addr"); addr != "" {
					go func() {
						metricsErr <- metrics.Serve(ctx, addr)
					}()
				}

				err := orch.Run(ctx, conf.TriggerInterval(), cCtx.Bool("init"))
				cancel()
				if addr := cCtx.String("metrics-addr"); addr != "" {
					err = errors.Join(err, <-metricsErr)
				}
				return err
			})
		},
	}
}

func dumpCmd() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Print the stored update ids of every feed",
		Action: func(cCtx *cli.Context) error {
			return withOrchestrator(cCtx, func(orch *workflow.Orchestrator, _ config.Config) error {
				state, err := orch.State(cCtx.Context)
				if err != nil {
					return err
				}
				for _, feedID := range slices.Sorted(maps.Keys(state)) {
					fmt.Fprintf(cCtx.App.Writer, "%s: [%s]\n", feedID, strings.Join(state[feedID], ", "))
				}
				return nil
			})
		},
	}
}

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Write the default config when it is missing",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing config",
			},
		},
		Action: func(cCtx *cli.Context) error {
			setupLogging(cCtx, "")
			cfgPath := configPath(cCtx)
			if _, err := os.Stat(cfgPath); err == nil && !cCtx.Bool("force") {
				slog.Info("config already exists", "at", cfgPath)
				return nil
			}
			return config.Write(cfgPath, config.Default())
		},
	}
}

// withOrchestrator loads the config, wires every component and closes the
// store once fn returns.
func withOrchestrator(cCtx *cli.Context, fn func(*workflow.Orchestrator, config.Config) error) error {
	conf, err := loadConfig(cCtx)
	if err != nil {
		return err
	}

	kv, err := store.Open(cCtx.Context, conf.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s store with %w", conf.Store.Backend, err)
	}
	defer kv.Close()

	orch, err := newOrchestrator(conf, kv)
	if err != nil {
		return err
	}
	return fn(orch, conf)
}

func newOrchestrator(conf config.Config, kv store.KV) (*workflow.Orchestrator, error) {
	feeds, err := conf.Feeds()
	if err != nil {
		return nil, err
	}
	gate, err := conf.Gate()
	if err != nil {
		return nil, err
	}

	return workflow.New(
		fetcher.NewHTTP(conf.FetcherOptions()),
		store.NewDedup(kv),
		webhook.NewDispatcher(nil, conf.HTTPTimeout()),
		workflow.Settings{
			Feeds:          feeds,
			Gate:           gate,
			MaxInitUpdates: conf.MaxInitUpdates,
			Concurrency:    conf.Concurrency,
		},
	), nil
}

// loadConfig reads and validates the config, creating the default one
// when the default path does not exist yet.
func loadConfig(cCtx *cli.Context) (config.Config, error) {
	cfgPath := configPath(cCtx)

	conf, err := config.Read(cfgPath)
	if errors.Is(err, os.ErrNotExist) && !cCtx.IsSet("config") {
		conf = config.Default()
		if err := config.Write(cfgPath, conf); err != nil {
			return conf, fmt.Errorf("failed to write default config with %w", err)
		}
	} else if err != nil {
		return conf, fmt.Errorf("failed to read config with %w", err)
	}

	setupLogging(cCtx, conf.LogLevel)
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid config at %s:\n%w", cfgPath, err)
	}
	slog.Debug("config loaded", "at", cfgPath, "feeds", len(conf.Feeds), "store", conf.Store.Backend)
	return conf, nil
}

func configPath(cCtx *cli.Context) string {
	if p := cCtx.String("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// setupLogging picks the level from DEBUG, then --log-level, then the config.
func setupLogging(cCtx *cli.Context, configLevel string) {
	level := slog.LevelInfo
	if l, err := config.ParseLogLevel(configLevel); err == nil {
		level = l
	}
	if flagLevel := cCtx.String("log-level"); flagLevel != "" {
		if l, err := config.ParseLogLevel(flagLevel); err == nil {
			level = l
		} else {
			slog.Warn("ignoring log level flag", "error", err)
		}
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cCtx.Bool("json-logs") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func logReport(report workflow.Report) {
	if report.Gated {
		slog.Info("cycle skipped outside the notification window")
		return
	}
	for _, f := range report.Feeds {
		attrs := []any{
			"feed", f.Feed,
			"fetched", f.Fetched,
			"new", f.New,
			"dispatched", f.Dispatched,
			"committed", f.Committed,
		}
		if f.Err != nil {
			slog.Warn("feed finished with errors", append(attrs, "error", f.Err)...)
			continue
		}
		slog.Info("feed finished", attrs...)
	}
}
