package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/nats"
	"github.com/spf13/cobra"
)

// CreateCtlCmd creates the ctl command, a NATS client for a running server.
func CreateCtlCmd() *cobra.Command {
	var url string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running biu server over NATS",
	}
	root.PersistentFlags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	// withClient dials, runs fn and exits non-zero on error.
	withClient := func(fn func(ctx context.Context, c *nats.Client) error) {
		client, err := nats.Dial(url, timeout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer client.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := fn(ctx, client); err != nil {
			fmt.Fprintln(os.Stderr, err)
			client.Close()
			os.Exit(1)
		}
	}

	send := func(cmd control.Command) func(*cobra.Command, []string) {
		return func(_ *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *nats.Client) error {
				if cmd.Type == control.CommandCreate {
					cmd.Names = args
				} else if len(args) == 1 {
					cmd.ID = args[0]
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				reply, err := c.Send(ctx, cmd)
				if err != nil {
					return err
				}
				for _, id := range reply.IDs {
					fmt.Println(id)
				}
				return nil
			})
		}
	}

	var closeAll bool
	create := &cobra.Command{
		Use:   "create NAME...",
		Short: "Create task instances",
		Args:  cobra.MinimumNArgs(1),
		Run: func(c *cobra.Command, args []string) {
			send(control.Command{Type: control.CommandCreate, CloseAll: closeAll})(c, args)
		},
	}
	create.Flags().BoolVar(&closeAll, "close-all", false, "Close every live instance first")

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List task definitions and live instances",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				withClient(func(ctx context.Context, c *nats.Client) error {
					ctx, cancel := context.WithTimeout(ctx, timeout)
					defer cancel()
					snapshot, err := c.Initialize(ctx)
					if err != nil {
						return err
					}
					return printSnapshot(os.Stdout, snapshot)
				})
			},
		},
		create,
		idCommand("close", "Stop and remove an instance", send(control.Command{Type: control.CommandClose})),
		idCommand("start", "Start an idle instance", send(control.Command{Type: control.CommandStart})),
		idCommand("stop", "Stop a running instance", send(control.Command{Type: control.CommandStop})),
		idCommand("restart", "Restart an instance", send(control.Command{Type: control.CommandRestart})),
		&cobra.Command{
			Use:   "close-all",
			Short: "Close every live instance",
			Args:  cobra.NoArgs,
			Run:   send(control.Command{Type: control.CommandCloseAll}),
		},
		&cobra.Command{
			Use:   "watch [type...]",
			Short: "Print events as JSON lines until interrupted",
			Run: func(_ *cobra.Command, args []string) {
				withClient(func(ctx context.Context, c *nats.Client) error {
					enc := json.NewEncoder(os.Stdout)
					envs := make(chan nats.Envelope, 256)
					if err := c.Subscribe(func(e nats.Envelope) { envs <- e }, args...); err != nil {
						return err
					}
					for {
						select {
						case <-ctx.Done():
							return nil
						case e := <-envs:
							if err := enc.Encode(e); err != nil {
								return err
							}
						}
					}
				})
			},
		},
	)

	return root
}

func idCommand(use, short string, run func(*cobra.Command, []string)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run:   run,
	}
}

func printSnapshot(w io.Writer, snapshot events.InitializeData) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTASK\tSTATE\tCOMMAND")
	for _, info := range snapshot.CreatedTasks {
		state := "idle"
		if info.Running {
			state = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.ID, info.Name, state, info.Line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ndefinitions: %v\n", snapshot.TaskNames)
	return err
}
