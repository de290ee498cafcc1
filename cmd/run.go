package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/biu/internal/config"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/process"
	"github.com/smazurov/biu/internal/supervisor"
	"github.com/spf13/cobra"
)

// ErrInterrupted is returned when a headless run is cancelled.
var ErrInterrupted = errors.New("run interrupted")

// RunOptions configures a headless run.
type RunOptions struct {
	Names       []string
	Echo        bool
	StopTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      logging.Logger
}

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var tasksFile string
	var group string
	var echo bool
	var stopTimeout time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run tasks headless and print the problems report",
		Long: `Creates one instance per named task, streams their output, waits for all of them to stop ` +
			`and prints the problems report. Exits non-zero if any task failed to spawn or exited non-zero.`,
		Run: func(_ *cobra.Command, args []string) {
			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("run")

			catalog, err := config.LoadTasks(tasksFile)
			if err != nil {
				logger.Error("Failed to load tasks", "file", tasksFile, "error", err)
				os.Exit(2)
			}

			names := args
			if group != "" {
				groupTasks, ok := GroupNames(catalog.Groups, group)
				if !ok {
					logger.Error("Unknown group", "group", group)
					os.Exit(2)
				}
				names = append(names, groupTasks...)
			}
			if len(names) == 0 {
				logger.Error("No tasks to run")
				os.Exit(2)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed, err := RunTasks(ctx, catalog, RunOptions{
				Names:       names,
				Echo:        echo,
				StopTimeout: stopTimeout,
				Stdout:      os.Stdout,
				Stderr:      os.Stderr,
				Logger:      logger,
			})
			if err != nil {
				logger.Error("Run failed", "error", err)
				os.Exit(2)
			}
			if failed {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&tasksFile, "tasks", "t", "tasks.json", "Task definitions file")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Also run every task of this group")
	cmd.Flags().BoolVar(&echo, "echo", true, "Echo task output regardless of task settings")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", supervisor.DefaultStopTimeout, "Force kill after a stop has waited this long")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	return cmd
}

// RunTasks creates the named instances, waits until all have stopped and
// writes the final problems report to opts.Stdout. It reports whether any
// task failed.
func RunTasks(ctx context.Context, catalog supervisor.Catalog, opts RunOptions) (bool, error) {
	if opts.Echo {
		catalog = echoAll(catalog)
	}

	reg := supervisor.New(supervisor.Options{
		Catalog:     catalog,
		Resolver:    process.NewResolver(),
		StopTimeout: opts.StopTimeout,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
		Report:      io.Discard,
		Logger:      opts.Logger,
	})
	reg.Start()

	// Subscribe before creating so no event is missed.
	sub := events.SubscribeMessages(reg.Bus())
	defer sub.Close()

	ids, err := reg.Create(ctx, opts.Names, false)
	if err != nil {
		_ = reg.Shutdown(context.Background())
		return false, err
	}

	failed, waitErr := waitStopped(ctx, sub, ids)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.StopTimeout+5*time.Second)
	defer cancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		opts.Logger.Warn("Shutdown incomplete", "error", err)
	}

	report := reg.Problems()
	if err := report.Render(opts.Stdout, report.Owners()); err != nil {
		return true, fmt.Errorf("write report: %w", err)
	}
	if waitErr != nil {
		return true, waitErr
	}
	return failed, nil
}

func waitStopped(ctx context.Context, sub *events.Subscription, ids []string) (bool, error) {
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	failed := false
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return true, ErrInterrupted
		case msg := <-sub.C:
			switch data := msg.Data.(type) {
			case events.ErrorData:
				if _, ok := pending[data.ID]; ok {
					failed = true
				}
			case events.ExitData:
				if _, ok := pending[data.ID]; ok && (data.Code == nil || *data.Code != 0) {
					failed = true
				}
			case events.IDData:
				if msg.Kind == events.KindStop {
					delete(pending, data.ID)
				}
			}
		}
	}
	return failed, nil
}

func echoAll(catalog supervisor.Catalog) supervisor.Catalog {
	tasks := make(map[string]supervisor.TaskSpec, len(catalog.Tasks))
	for name, spec := range catalog.Tasks {
		spec.Definition.EchoStdout = true
		spec.Definition.EchoStderr = true
		tasks[name] = spec
	}
	return supervisor.Catalog{Tasks: tasks, Groups: catalog.Groups}
}

// GroupNames returns the task names of a group from the free-form groups
// value of a tasks file. Groups may be an object of name lists or a list
// of {"name","tasks"} objects.
func GroupNames(groups any, group string) ([]string, bool) {
	switch g := groups.(type) {
	case map[string][]string:
		names, ok := g[group]
		return names, ok
	case map[string]any:
		list, ok := g[group]
		if !ok {
			return nil, false
		}
		return stringList(list)
	case []any:
		for _, item := range g {
			obj, ok := item.(map[string]any)
			if !ok || obj["name"] != group {
				continue
			}
			return stringList(obj["tasks"])
		}
	}
	return nil, false
}

func stringList(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		names = append(names, s)
	}
	return names, true
}
