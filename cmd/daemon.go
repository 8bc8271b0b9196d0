package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gantry/internal/config"
	"gantry/internal/daemon"
	"gantry/internal/logger"
)

var (
	daemonConfigPath string
	daemonDebugFlag  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the gantry daemon",
	Long: `Start the gantry daemon. It opens the configured listen sockets,
registers connecting clients and routes responses and callbacks from the
internal packet bus back to them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.New()

		// Create a default config when none exists yet
		if _, err := os.Stat(daemonConfigPath); os.IsNotExist(err) {
			defaultConfig := config.NewDefaultConfig()
			if err := defaultConfig.Save(daemonConfigPath); err != nil {
				log.Error().Err(err).Msg("Failed to create default config file")
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", daemonConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		d, err := daemon.New(daemonConfigPath, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create daemon")
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		// Flags override the level configured in the file
		if daemonDebugFlag || verbose {
			logger.SetLevel(logger.LOG_DEBUG)
		}

		// Start daemon (blocks until shutdown)
		if err := d.Start(); err != nil {
			log.Error().Err(err).Msg("Daemon stopped with error")
			return fmt.Errorf("daemon error: %w", err)
		}

		return nil
	},
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon configuration",
	Long:  `Generate or validate daemon configuration files.`,
}

var daemonConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := daemonConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		defaultConfig := config.NewDefaultConfig()
		if err := defaultConfig.Save(configPath); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", configPath)
		return nil
	},
}

var daemonConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := daemonConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", configPath)
		cmd.Printf("Listen address: %s\n", cfg.Listen.Address)
		cmd.Printf("Plain port: %d\n", cfg.Listen.PlainPort)
		if cfg.Listen.WebSocketPort != 0 {
			cmd.Printf("WebSocket port: %d\n", cfg.Listen.WebSocketPort)
		} else {
			cmd.Println("WebSocket listener: disabled")
		}
		cmd.Printf("Authentication: %t\n", cfg.Authentication.Enabled())

		return nil
	},
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonConfigPath, "config", "c", "gantry.yml", "Path to daemon configuration file")
	daemonCmd.Flags().BoolVarP(&daemonDebugFlag, "debug", "d", false, "Enable debug logging")

	daemonCmd.AddCommand(daemonConfigCmd)
	daemonConfigCmd.AddCommand(daemonConfigGenerateCmd)
	daemonConfigCmd.AddCommand(daemonConfigValidateCmd)

	daemonConfigGenerateCmd.Flags().StringVarP(&daemonConfigPath, "config", "c", "gantry.yml", "Path for generated configuration file")
	daemonConfigValidateCmd.Flags().StringVarP(&daemonConfigPath, "config", "c", "gantry.yml", "Path to configuration file to validate")
}
