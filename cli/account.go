package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/loyalty-engine/generic"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountVerifyCmd)

	accountCreateCmd.Flags().StringP("name", "n", "", "Display name")
	accountCreateCmd.Flags().StringP("role", "r", string(generic.RoleRegular), "regular, cashier, manager or superuser")
	accountCreateCmd.Flags().Bool("suspicious", false, "Create the account flagged as suspicious")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage member accounts",
	Long: `Account records normally come from the user-management service.
These commands exist for bootstrapping staff accounts and for support.`,
}

// ─── account create ─────────────────────────────────────────────────────────

var accountCreateCmd = &cobra.Command{
	Use:   "create UTORID",
	Short: "Create an account with a zero balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountCreate,
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")
	suspicious, _ := cmd.Flags().GetBool("suspicious")

	acc := generic.Account{
		Utorid:     args[0],
		Name:       name,
		Role:       generic.Role(role),
		Suspicious: suspicious,
	}
	if !acc.Role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	ctx, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := st.CreateAccount(ctx, &acc); err != nil {
		return err
	}
	logger.Info().Str("utorid", acc.Utorid).Str("role", role).Msg("account created")
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%d\n", acc.Utorid, acc.Role, acc.ID)
	return nil
}

// ─── account show ───────────────────────────────────────────────────────────

var accountShowCmd = &cobra.Command{
	Use:   "show UTORID",
	Short: "Show an account's balance and consumed promotions",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	ctx, cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := newHandler(st, cfg, nil).Ledger.AccountSummary(ctx, operator, args[0])
	if err != nil {
		return err
	}
	acc := summary.Account
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "utorid:     %s\n", acc.Utorid)
	fmt.Fprintf(out, "name:       %s\n", acc.Name)
	fmt.Fprintf(out, "role:       %s\n", acc.Role)
	fmt.Fprintf(out, "suspicious: %t\n", acc.Suspicious)
	fmt.Fprintf(out, "points:     %d\n", acc.Points)
	fmt.Fprintf(out, "consumed:   %v\n", summary.ConsumedPromotions)
	return nil
}

// ─── account verify ─────────────────────────────────────────────────────────

var accountVerifyCmd = &cobra.Command{
	Use:   "verify UTORID",
	Short: "Recompute a balance from its transactions and report drift",
	Long: `Recompute a balance from its transactions and report drift.

Exits non-zero when the stored balance does not match the sum of the
account's clean transactions.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountVerify,
}

func runAccountVerify(cmd *cobra.Command, args []string) error {
	ctx, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	r, err := newHandler(st, cfg, nil).Ledger.Reconcile(ctx, operator, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "utorid:       %s\n", r.Utorid)
	fmt.Fprintf(out, "transactions: %d (%d held)\n", r.Transactions, r.HeldCount)
	fmt.Fprintf(out, "stored:       %d\n", r.Stored)
	fmt.Fprintf(out, "computed:     %d\n", r.Computed)
	fmt.Fprintf(out, "held:         %d\n", r.Held)

	if !r.Balanced() {
		logger.Error().Str("utorid", r.Utorid).Int64("drift", int64(r.Drift())).Msg("balance does not match history")
		return fmt.Errorf("balance drift of %d points", r.Drift())
	}
	return nil
}
