package commands

import (
	"fmt"

	"github.com/datashield/vault/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample vault configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/vault/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  vault init

  # Initialize with custom path
  vault init --config /etc/vault/config.yaml

  # Force overwrite existing config
  vault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file and point it at your object store")
	fmt.Println("  2. Start the server with: vault start")
	fmt.Printf("  3. Or specify custom config: vault start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The config file carries object store credentials and is written 0600.")
	fmt.Println("  For production, prefer environment variables:")
	fmt.Println("    export VAULT_STORE_ACCESS_KEY_ID=...")
	fmt.Println("    export VAULT_STORE_SECRET_ACCESS_KEY=...")

	return nil
}
