package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the schema for the configured store. Opening a sqlite or
postgres store runs its idempotent migration, so this is safe to repeat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		_, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		logger.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date")
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Database.Driver)
		return nil
	},
}
