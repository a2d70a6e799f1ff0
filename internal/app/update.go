package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/output"
	"github.com/blackwell-systems/pkgtrack/internal/service"
)

var (
	updateCheckOnly       bool
	updateAllowUnverified bool

	updateCmd = &cobra.Command{
		Use:   "update [names...]",
		Short: "Check tracked packages for updates and apply them",
		Long: `Run one update pass over all tracked packages, or over the named subset.

With --check-only no command is executed: packages with a newer version
are reported as pending. Without it, updates are downloaded (verified
against the backend's checksum where available), validated, and installed.

Artifacts whose backend supplies no checksum are refused unless
--allow-unverified is given. A failure for one package never aborts the
rest of the batch; the run always ends with a summary.`,
		Example: `  # Check everything without installing
  pkgtrack update --check-only

  # Update two specific packages
  pkgtrack update firefox ripgrep`,
		RunE: runUpdate,
	}
)

func init() {
	updateCmd.Flags().BoolVar(&updateCheckOnly, "check-only", false, "report pending updates without installing")
	updateCmd.Flags().BoolVar(&updateAllowUnverified, "allow-unverified", false, "install artifacts that have no backend checksum")

	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	paths, err := appPaths()
	if err != nil {
		return err
	}

	log, err := openHistory(paths)
	if err != nil {
		return err
	}
	defer log.Close()

	spinner := output.NewSpinner("Checking tracked packages")
	spinner.Start()

	opts := []service.Option{}
	if output.IsTTY() {
		opts = append(opts, service.WithProgress(func(description string) func(downloaded, total int64) {
			bar := output.NewProgress(-1, description)
			return func(downloaded, total int64) {
				bar.Update(downloaded, total)
				if total > 0 && downloaded >= total {
					bar.Finish()
				}
			}
		}))
	}

	s := service.New(paths, registry, log, opts...)
	summary := s.RunCycle(context.Background(), args, updateCheckOnly, updateAllowUnverified)

	spinner.Stop()

	fmt.Print(output.RenderCycleResults(summary.Results))
	fmt.Println(output.RenderCycleSummary(summary))

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d packages failed", summary.Failed, summary.Checked)
	}
	return nil
}
