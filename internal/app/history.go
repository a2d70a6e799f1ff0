package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/output"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history [name]",
		Short: "Show recent check and update events",
		Long: `Display the update activity log, newest first. With a package name,
only that package's events are shown.`,
		Example: `  # Recent activity across all packages
  pkgtrack history

  # Just firefox
  pkgtrack history firefox --limit 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 25, "maximum number of events to show")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	paths, err := appPaths()
	if err != nil {
		return err
	}

	log, err := openHistory(paths)
	if err != nil {
		return err
	}
	defer log.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	events, err := log.Recent(name, historyLimit)
	if err != nil {
		return err
	}
	fmt.Print(output.RenderHistoryTable(events))
	return nil
}
