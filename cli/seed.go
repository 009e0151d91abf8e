package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/loyalty-engine/api"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolP("list", "l", false, "List scenarios instead of loading one")
}

var seedCmd = &cobra.Command{
	Use:   "seed [SCENARIO]",
	Short: "Reset the store and load a demo scenario",
	Long: `Reset the configured store and load one of the demo scenarios.
All existing data is deleted. Use --list to see the scenarios.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if list, _ := cmd.Flags().GetBool("list"); list || len(args) == 0 {
		for _, s := range api.Scenarios() {
			fmt.Fprintf(out, "%-20s %s\n", s.ID, s.Description)
		}
		return nil
	}

	ctx, cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := newHandler(st, cfg, nil).Load(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "loaded scenario %s\n", args[0])
	return nil
}
