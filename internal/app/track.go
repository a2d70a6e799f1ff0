package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
	"github.com/blackwell-systems/pkgtrack/internal/output"
	"github.com/blackwell-systems/pkgtrack/internal/track"
)

var (
	trackSource  string
	trackVersion string
	trackCommand string

	trackCmd = &cobra.Command{
		Use:   "track <name>",
		Short: "Start tracking an installed package",
		Long: `Record an installed package so the update engine checks it for newer
versions. The source and currently installed version are required; the
install command is optional and used when re-installation is needed.

Tracking the same name and source again updates the recorded version and
command but keeps the original tracking date and check history.`,
		Example: `  # Track firefox installed from apt
  pkgtrack track firefox --source apt --version 128.0.2

  # Track an AUR package with its install command
  pkgtrack track yay --source aur --version 12.3.5 --command "yay -S yay"`,
		Args: cobra.ExactArgs(1),
		RunE: runTrack,
	}

	untrackSource string

	untrackCmd = &cobra.Command{
		Use:   "untrack <name>",
		Short: "Stop tracking a package",
		Example: `  # Stop tracking firefox
  pkgtrack untrack firefox --source apt`,
		Args: cobra.ExactArgs(1),
		RunE: runUntrack,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List tracked packages",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
)

func init() {
	trackCmd.Flags().StringVar(&trackSource, "source", "", "package source (pacman, aur, apt, dnf, flatpak, snap)")
	trackCmd.Flags().StringVar(&trackVersion, "version", "", "currently installed version")
	trackCmd.Flags().StringVar(&trackCommand, "command", "", "install command (optional)")
	trackCmd.MarkFlagRequired("source")
	trackCmd.MarkFlagRequired("version")

	untrackCmd.Flags().StringVar(&untrackSource, "source", "", "package source (pacman, aur, apt, dnf, flatpak, snap)")
	untrackCmd.MarkFlagRequired("source")

	RootCmd.AddCommand(trackCmd)
	RootCmd.AddCommand(untrackCmd)
	RootCmd.AddCommand(listCmd)
}

func trackedStore() (*track.Store, error) {
	paths, err := appPaths()
	if err != nil {
		return nil, err
	}
	return track.NewStore(paths.TrackedFile), nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	source, err := backend.ParseSource(trackSource)
	if err != nil {
		return err
	}

	store, err := trackedStore()
	if err != nil {
		return err
	}

	pkg := track.TrackedPackage{
		Name:             args[0],
		Source:           source,
		InstalledVersion: trackVersion,
		InstallCommand:   trackCommand,
		TrackedAt:        time.Now(),
	}
	if err := store.Upsert(pkg); err != nil {
		return err
	}

	fmt.Printf("Tracking %s %s (%s)\n", pkg.Name, pkg.InstalledVersion, pkg.Source)
	if source == backend.SourceAUR {
		fmt.Println("Note: AUR packages are user-contributed; review updates before trusting them.")
	}
	return nil
}

func runUntrack(cmd *cobra.Command, args []string) error {
	source, err := backend.ParseSource(untrackSource)
	if err != nil {
		return err
	}

	store, err := trackedStore()
	if err != nil {
		return err
	}

	if err := store.Remove(source, args[0]); err != nil {
		return err
	}
	fmt.Printf("No longer tracking %s (%s)\n", args[0], source)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := trackedStore()
	if err != nil {
		return err
	}

	pkgs, err := store.ListAll()
	if err != nil {
		return err
	}
	fmt.Print(output.RenderTrackedTable(pkgs))
	return nil
}
