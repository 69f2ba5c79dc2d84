package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/nvrlite/internal/updater"
	"github.com/smazurov/nvrlite/internal/version"
)

// CreateUpdateCmd returns the update command, which checks GitHub releases
// for a newer nvrlite build and optionally swaps the binary in place.
func CreateUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Self-update the nvrlite binary",
		Long:  `Check the GitHub releases of the configured repository for a newer nvrlite build, and optionally download and apply it. A running recorder picks the new binary up on its next restart.`,
		Run: func(cmd *cobra.Command, _ []string) {
			repo, _ := cmd.Flags().GetString("repository")
			checkOnly, _ := cmd.Flags().GetBool("check")
			prerelease, _ := cmd.Flags().GetBool("prerelease")

			u, err := updater.New(repo, prerelease)
			if err != nil {
				fmt.Fprintf(os.Stderr, "updater unavailable: %v\n", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			rel, err := u.Check(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "update check failed: %v\n", err)
				os.Exit(1)
			}

			if !rel.Available {
				fmt.Printf("already up to date (%s)\n", version.String())
				return
			}

			fmt.Printf("update available: %s -> %s\n", rel.CurrentVersion, rel.LatestVersion)
			if checkOnly {
				return
			}

			if err := u.Apply(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("update applied")
		},
	}

	cmd.Flags().String("repository", "smazurov/nvrlite", "GitHub repository slug to update from")
	cmd.Flags().Bool("check", false, "Only check for an update, do not apply it")
	cmd.Flags().Bool("prerelease", false, "Include prereleases")
	return cmd
}
