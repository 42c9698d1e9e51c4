package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sdejongh/salvage/pkg/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the salvage configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if raw {
				return yaml.NewEncoder(os.Stdout).Encode(cfg)
			}

			fmt.Printf("Collections:\n")
			if len(cfg.Collections) == 0 {
				fmt.Printf("  (none, pass --collections)\n")
			}
			for _, c := range cfg.Collections {
				if c.Names {
					fmt.Printf("  %d  %s (names)\n", c.Priority, c.Root)
					continue
				}
				fmt.Printf("  %d  %s\n", c.Priority, c.Root)
			}
			fmt.Printf("Size Tables: %v\n", cfg.SizeTables)
			fmt.Printf("Hash Workers: %d\n", cfg.Hashing.Workers)
			fmt.Printf("Hash Retries: %d\n", cfg.Hashing.Retries)
			fmt.Printf("Bandwidth Limit: %d B/s\n", cfg.Hashing.BandwidthLimit)
			fmt.Printf("Use Manifests: %t\n", cfg.Hashing.UseManifests)
			fmt.Printf("Damaged Suffix: %s\n", cfg.Scan.DamagedSuffix)
			fmt.Printf("Exclude: %v\n", cfg.Scan.Exclude)
			fmt.Printf("Min Delete Bytes: %d\n", cfg.Dedup.MinDeleteBytes)
			fmt.Printf("Verify Deletes: %t\n", cfg.Dedup.Verify)
			fmt.Printf("Require Same Extension: %t\n", cfg.Match.RequireSameExtension)
			fmt.Printf("Output Format: %s\n", cfg.Output.Format)
			fmt.Printf("Log Format: %s\n", cfg.Logging.Format)
			fmt.Printf("Log Level: %s\n", cfg.Logging.Level)

			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "yaml", false, "print the configuration as YAML")

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Printf("Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")

	return cmd
}
