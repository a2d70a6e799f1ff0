package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/output"
	"github.com/blackwell-systems/pkgtrack/internal/service"
)

var (
	serviceForeground  bool
	serviceDaemonChild bool

	serviceCmd = &cobra.Command{
		Use:   "service",
		Short: "Manage the background update service",
		Long: `Control the long-running update service.

The service wakes at the configured interval, checks every tracked
package for a newer version, and applies updates when auto-install is
enabled. Exactly one instance runs per state directory, enforced by a
lock file; a lock left behind by a crashed service is reclaimed
automatically.

Stopping is cooperative: the service finishes the package it is working
on before exiting, so a system change is never interrupted halfway.`,
		Example: `  # Start in the background
  pkgtrack service start

  # Check what it is doing
  pkgtrack service status

  # Stop it
  pkgtrack service stop`,
	}

	serviceStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the update service",
		Args:  cobra.NoArgs,
		RunE:  runServiceStart,
	}

	serviceStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the update service",
		Args:  cobra.NoArgs,
		RunE:  runServiceStop,
	}

	serviceStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show service state and pending updates",
		Args:  cobra.NoArgs,
		RunE:  runServiceStatus,
	}
)

func init() {
	serviceStartCmd.Flags().BoolVar(&serviceForeground, "foreground", false, "run in the foreground instead of daemonizing")
	serviceStartCmd.Flags().BoolVar(&serviceDaemonChild, "daemon-child", false, "internal flag for the daemon child process")
	serviceStartCmd.Flags().MarkHidden("daemon-child")

	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	RootCmd.AddCommand(serviceCmd)
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	paths, err := appPaths()
	if err != nil {
		return err
	}

	if serviceForeground || serviceDaemonChild {
		log, err := openHistory(paths)
		if err != nil {
			return err
		}
		defer log.Close()

		s := service.New(paths, registry, log)
		return service.RunService(context.Background(), s, paths)
	}

	if err := service.StartDaemon(paths); err != nil {
		return err
	}
	fmt.Println("Update service started.")
	fmt.Printf("Log file: %s\n", paths.LogFile)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	paths, err := appPaths()
	if err != nil {
		return err
	}

	fmt.Println("Stopping update service (waits for the current package to finish)...")
	if err := service.StopDaemon(paths, 30*time.Second); err != nil {
		return err
	}
	fmt.Println("Update service stopped.")
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	paths, err := appPaths()
	if err != nil {
		return err
	}

	status, err := service.CurrentStatus(paths)
	if err != nil {
		return err
	}

	fmt.Print(output.RenderServiceStatus(status))
	if len(status.PendingUpdates) > 0 {
		fmt.Println()
		fmt.Print(output.RenderPendingTable(status.PendingUpdates))
	}
	return nil
}
