package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/rewards"
)

func init() {
	rootCmd.AddCommand(promotionCmd)
	promotionCmd.AddCommand(promotionCreateCmd)
	promotionCmd.AddCommand(promotionListCmd)

	promotionCreateCmd.Flags().StringP("file", "f", "", "Path to a promotion JSON document")
}

var promotionCmd = &cobra.Command{
	Use:   "promotion",
	Short: "Manage the promotion catalog",
}

// ─── promotion create ───────────────────────────────────────────────────────

var promotionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a promotion from a JSON document",
	Long: `Create a promotion from the same JSON accepted by POST /api/promotions.
The usual rules apply: startTime must not be in the past and endTime
must follow it.`,
	RunE: runPromotionCreate,
}

func runPromotionCreate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return fmt.Errorf("promotion JSON file required: loyalty promotion create -f <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read promotion file: %w", err)
	}
	var pj factory.PromotionJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
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

	p, err := rewards.NewCatalog(st).Create(ctx, operator, pj)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created promotion %d %q (%s)\n", p.ID, p.Name, p.Kind)
	return nil
}

// ─── promotion list ─────────────────────────────────────────────────────────

var promotionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all promotions, newest start first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		page, err := rewards.NewCatalog(st).List(ctx, operator, rewards.PromotionQuery{Limit: 100})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range page.Results {
			fmt.Fprintf(out, "%4d  %-10s %-30s %s .. %s\n",
				p.ID, p.Kind, p.Name, p.StartTime.Format("2006-01-02 15:04"), p.EndTime.Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(out, "%d promotion(s)\n", page.Count)
		return nil
	},
}
