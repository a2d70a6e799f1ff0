package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/config"
	"github.com/blackwell-systems/pkgtrack/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write pkgtrack configuration",
	Long: `Manage the pkgtrack configuration file.

Configuration keys:
  auto_update_enabled          run background update checks (true/false)
  auto_install_updates         install updates automatically (true/false)
  update_check_interval_hours  hours between background checks (positive integer)
  max_concurrent_downloads     parallel artifact downloads (positive integer)

Every write is validated first and applied atomically: an invalid value
leaves the file exactly as it was. The background service picks up changes
without a restart.`,
	Example: `  # Show all settings
  pkgtrack config list

  # Enable background checks every 12 hours
  pkgtrack config set auto_update_enabled true
  pkgtrack config set update_check_interval_hours 12`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	RootCmd.AddCommand(configCmd)
}

func configStore() (*config.Store, error) {
	paths, err := appPaths()
	if err != nil {
		return nil, err
	}
	return config.NewStore(paths.ConfigFile), nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	store, err := configStore()
	if err != nil {
		return err
	}

	value, err := store.Get(args[0])
	if err != nil {
		return knownKeysHint(err)
	}
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	store, err := configStore()
	if err != nil {
		return err
	}

	if err := store.Set(args[0], args[1]); err != nil {
		return knownKeysHint(err)
	}
	fmt.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func runConfigList(cmd *cobra.Command, args []string) error {
	store, err := configStore()
	if err != nil {
		return err
	}

	entries, err := store.List()
	if err != nil {
		return err
	}
	fmt.Print(output.RenderConfigList(entries))
	return nil
}

// knownKeysHint appends the valid key list to unknown-key errors so the
// user does not have to open the docs for a typo.
func knownKeysHint(err error) error {
	if errors.Is(err, config.ErrUnknownKey) {
		return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.Keys(), ", "))
	}
	return err
}
