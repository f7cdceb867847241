package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccproxy-go/ccproxy/internal/config"
)

func newConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect gateway configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the fully resolved configuration (file + env + defaults), with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return exitError("loading config: %w", err)
			}

			redacted := *cfg
			redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
			for name, p := range cfg.Providers {
				if p.APIKey != "" {
					p.APIKey = "********"
				}
				redacted.Providers[name] = p
			}
			if redacted.Auth.Token != "" {
				redacted.Auth.Token = "********"
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(redacted)
		},
	}
	show.Flags().StringVar(&configPath, "config", "config.yaml", "config file path")
	cmd.AddCommand(show)

	return cmd
}
