package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/smazurov/biu/internal/config"
	"github.com/smazurov/biu/internal/process"
	"github.com/spf13/cobra"
)

// CreateValidateCmd creates the validate command.
func CreateValidateCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate [tasks-file]",
		Short: "Validate a task definitions file",
		Long:  `Loads the task definitions file, compiles every problem matcher and resolves executables.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			path := "tasks.json"
			if len(args) == 1 {
				path = args[0]
			}
			out := io.Writer(os.Stdout)
			if quiet {
				out = io.Discard
			}
			if err := Validate(path, out); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report errors")
	return cmd
}

// Validate loads path and writes one row per task to w.
func Validate(path string, w io.Writer) error {
	catalog, err := config.LoadTasks(path)
	if err != nil {
		return err
	}

	resolver := process.NewResolver()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCOMMAND\tMATCHER\tEXECUTABLE")
	for _, name := range catalog.Names() {
		spec := catalog.Tasks[name]
		def := spec.Definition

		matcher := "-"
		if spec.Matcher != nil {
			matcher = spec.Matcher.Owner()
		}
		// Unresolved names come back unchanged and fail at start time.
		resolved := resolver.Resolve(def.Executable, def.Dir)
		if !filepath.IsAbs(resolved) {
			resolved = "(not found)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, process.DisplayLine(def.Executable, def.Args), matcher, resolved)
	}
	return tw.Flush()
}
