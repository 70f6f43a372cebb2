package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage termit configuration",
		Long: `Manage termit configuration.

Configuration is read from ~/.termit/config.yaml (TERMIT_CONFIG_DIR overrides
the directory), then from .env files and TERMIT_* environment variables.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Display the configuration after files, environment and flags are applied. Secrets are not shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			shown := redacted(cfg)
			return writeOutput(deps.Out, cfg.OutputFormat, shown, func(w io.Writer) error {
				return printConfig(w, shown)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Long:  `Create a new configuration file with default values if one doesn't exist.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(deps.Out, "Configuration file already exists: %s\n", configPath)
				fmt.Fprintln(deps.Out, "Use 'termit config show' to view current settings.")
				return nil
			}

			defaultCfg := config.DefaultConfig()
			if err := config.SaveConfig(defaultCfg); err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}

			fmt.Fprintf(deps.Out, "Created configuration file: %s\n", configPath)
			return nil
		},
	})

	return cmd
}

func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	if out.Storage.S3.SecretKey != "" {
		out.Storage.S3.SecretKey = "********"
	}
	return &out
}

func printConfig(w io.Writer, cfg *config.Config) error {
	configPath, _ := config.ConfigPath()
	valueOr := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintf(w, "  Config file:    %s\n", configPath)
	fmt.Fprintf(w, "  Output format:  %s\n", cfg.OutputFormat)
	fmt.Fprintf(w, "  Store:          %s\n", cfg.Store)
	if cfg.Store == config.StorePostgres {
		fmt.Fprintf(w, "  Database:       %s@%s:%d/%s\n", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	}
	fmt.Fprintf(w, "  Redis:          %s\n", valueOr(cfg.Redis.Addr, "(disabled)"))
	fmt.Fprintf(w, "  Text analysis:  %s\n", valueOr(cfg.TextAnalysis.URL, "(not set)"))
	fmt.Fprintf(w, "  Storage:        %s", cfg.Storage.Backend)
	if cfg.Storage.Backend == config.StorageS3 {
		fmt.Fprintf(w, " (%s/%s)\n", cfg.Storage.S3.Endpoint, cfg.Storage.S3.Bucket)
	} else {
		fmt.Fprintf(w, " (%s)\n", cfg.Storage.Root)
	}
	fmt.Fprintf(w, "  Content cache:  %d\n", cfg.Cache.Size)
	fmt.Fprintf(w, "  Min score:      %.2f\n", cfg.Annotation.MinScore)
	fmt.Fprintf(w, "  Log level:      %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Metrics:        %s\n", valueOr(cfg.Metrics.Addr, "(disabled)"))
	return nil
}
