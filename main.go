package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/biu/cmd"
	"github.com/smazurov/biu/internal/api"
	"github.com/smazurov/biu/internal/config"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/metrics/collectors"
	"github.com/smazurov/biu/internal/metrics/exporters"
	"github.com/smazurov/biu/internal/nats"
	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/process"
	"github.com/smazurov/biu/internal/supervisor"
	"github.com/smazurov/biu/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"biu.toml"`

	// Tasks settings
	Tasks      string `help:"Task definitions file (.json, .toml, .yaml)" short:"t" default:"tasks.json" toml:"tasks.file" env:"TASKS_FILE"`
	TasksWatch bool   `help:"Reload task definitions when the file changes" default:"true" toml:"tasks.watch" env:"TASKS_WATCH"`

	// Supervisor settings
	StopTimeout        string `help:"Force kill after a stop has waited this long (0 disables)" default:"5s" toml:"supervisor.stop_timeout" env:"SUPERVISOR_STOP_TIMEOUT"`
	MatcherLineLength  int    `help:"Longest output line fed to problem matchers" default:"65536" toml:"problems.max_line_length" env:"PROBLEMS_MAX_LINE_LENGTH"`
	MatcherMaxLoop     int    `help:"Max lines one loop pattern may consume" default:"10000" toml:"problems.max_loop_iterations" env:"PROBLEMS_MAX_LOOP_ITERATIONS"`
	MatcherMaxProblems int    `help:"Max diagnostics kept per task" default:"10000" toml:"problems.max_diagnostics" env:"PROBLEMS_MAX_DIAGNOSTICS"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// NATS settings
	NATSEnabled bool   `help:"Run the embedded NATS server and bridge" default:"true" toml:"nats.enabled" env:"NATS_ENABLED"`
	NATSHost    string `help:"NATS listen host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NATSPort    int    `help:"NATS listen port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Metrics settings
	MetricsEnabled bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json, pretty)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func (o *Options) limits() problems.Limits {
	return problems.Limits{
		MaxLineLength:     o.MatcherLineLength,
		MaxLoopIterations: o.MatcherMaxLoop,
		MaxDiagnostics:    o.MatcherMaxProblems,
	}
}

func (o *Options) stopTimeout() time.Duration {
	d, err := time.ParseDuration(o.StopTimeout)
	if err != nil {
		slog.Warn("Invalid stop timeout, using default", "value", o.StopTimeout, "error", err)
		return supervisor.DefaultStopTimeout
	}
	return d
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Module levels come from [logging.modules]; level and format
		// follow flag > env > file precedence.
		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEntryEvent(entry))
		})

		catalog, err := config.LoadTasks(opts.Tasks)
		if err != nil {
			logger.Error("Failed to load tasks", "file", opts.Tasks, "error", err)
			os.Exit(1)
		}
		logger.Info("Loaded tasks", "file", opts.Tasks, "count", len(catalog.Tasks))

		registry := supervisor.New(supervisor.Options{
			Catalog:     catalog,
			Bus:         eventBus,
			Resolver:    process.NewResolver(),
			StopTimeout: opts.stopTimeout(),
			Limits:      opts.limits(),
			Logger:      logging.GetLogger("supervisor"),
		})

		var watcher *config.Watcher[supervisor.Catalog]
		if opts.TasksWatch {
			watcher = config.NewConfigWatcher(opts.Tasks, config.LoadTasks, logging.GetLogger("config"))
			watcher.OnReload(registry.Reload)
		}

		var natsServer *nats.Server
		var bridge *nats.Bridge
		if opts.NATSEnabled {
			natsServer = nats.NewServer(nats.ServerOptions{
				Host:   opts.NATSHost,
				Port:   opts.NATSPort,
				Logger: logging.GetLogger("nats"),
			})
		}

		collector := collectors.NewSupervisorCollector(registry)

		apiOpts := &api.Options{
			Supervisor: registry,
			EventBus:   eventBus,
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			registry.Start()
			collector.Start(ctx)

			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Failed to start tasks watcher, hot-reload disabled", "error", startErr)
				}
			}

			if natsServer != nil {
				if startErr := natsServer.Start(); startErr != nil {
					logger.Error("Failed to start NATS server", "error", startErr)
					os.Exit(1)
				}
				bridge = nats.NewBridge(natsServer.ClientURL(), registry, logging.GetLogger("nats"))
				if startErr := bridge.Start(); startErr != nil {
					logger.Error("Failed to start NATS bridge", "error", startErr)
					os.Exit(1)
				}
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "version", version.String())
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if stopErr := server.Stop(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if bridge != nil {
				bridge.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}
			if watcher != nil {
				_ = watcher.Stop()
			}

			// Stop all task processes after viewers are gone
			if stopErr := registry.Shutdown(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping tasks", "error", stopErr)
			}
			collector.Stop()
			cancel()
		})
	})

	cli.Root().Use = "biu"
	cli.Root().Short = "Task supervisor with live output and problem matching"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateValidateCmd())
	cli.Root().AddCommand(cmd.CreateCtlCmd())

	// Run the CLI
	cli.Run()
}
