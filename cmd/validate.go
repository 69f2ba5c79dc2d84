package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/nvrlite/internal/config"
)

// CreateValidateCmd returns the validate command, which parses and
// validates a configuration file without starting anything. Exits non-zero
// on any configuration error.
func CreateValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long:  `Parse and validate an NVRLite JSON configuration file, reporting the effective stream set, without starting any pipeline.`,
		Run: func(cmd *cobra.Command, _ []string) {
			path, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("configuration OK: %d stream(s), http port %d, recordings in %s\n",
				len(cfg.Streams), cfg.HTTPPort, cfg.RecBaseFolder)
			for _, s := range cfg.Streams {
				fmt.Printf("  %s -> %s\n", s.ID, s.URL)
			}
		},
	}

	cmd.Flags().StringP("config", "c", "config.json", "Path to configuration file")
	return cmd
}
