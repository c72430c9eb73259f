package cmd

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	cfgpkg "github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

const statusListLimit = 10

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display settlement status",
	Long:  `Display how many transaction records sit in each settlement status, and the oldest open ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadOfflineConfig(config)
		if err != nil {
			return err
		}
		return runStatus(cmd, c)
	},
}

func runStatus(cmd *cobra.Command, c *cfgpkg.Config) error {
	out := cmd.OutOrStdout()

	_, store, closeAll, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeAll()

	fmt.Fprintf(out, "Settlement Status Report\n")
	fmt.Fprintf(out, "========================\n\n")
	fmt.Fprintf(out, "Storage: %s (%s)\n\n", c.Storage.Driver, c.DbPath)

	recs, err := store.ListByStatus(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	counts := lo.CountValuesBy(recs, func(r *model.TransactionRecord) model.SettlementStatus {
		return r.Settlement
	})
	for _, status := range model.SettlementStatuses {
		fmt.Fprintf(out, "  %-16s %d\n", status, counts[status])
	}
	fmt.Fprintf(out, "  %-16s %d\n\n", "total", len(recs))

	open := lo.Filter(recs, func(r *model.TransactionRecord, _ int) bool {
		return !r.Settlement.IsTerminal()
	})
	if len(open) == 0 {
		fmt.Fprintf(out, "No open transactions\n")
		return nil
	}

	fmt.Fprintf(out, "Oldest open transactions:\n")
	for i, r := range open {
		if i >= statusListLimit {
			fmt.Fprintf(out, "  ... and %d more\n", len(open)-statusListLimit)
			break
		}
		fmt.Fprintf(out, "  %d. %s  %s  %d%%  %s\n", i+1, r.ID, r.Settlement, r.Percent(), r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
