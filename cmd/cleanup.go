package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/gateway"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/settlement"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove settled transactions past the retention age",
	Long: `Remove completed, failed and cancelled transactions that have not changed for longer than
settlement.retention_age, then compact the database. The running engine does this on
settlement.cleanup_interval; this command runs it once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadOfflineConfig(config)
		if err != nil {
			return err
		}
		return runCleanup(cmd, c)
	},
}

func runCleanup(cmd *cobra.Command, c *cfgpkg.Config) error {
	db, store, closeAll, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeAll()

	// cleanup never talks to the gateway
	processor, err := settlement.NewProcessor(c.Settlement, store,
		gateway.NewClient(c.Gateway, c.Orchestrator.FiatCurrency, nil),
		settlement.WithCompaction(db.Vacuum),
	)
	if err != nil {
		return err
	}

	stats, err := processor.Cleanup(commandContext(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d records, removed %d, failed %d in %s\n",
		stats.Scanned, stats.Removed, stats.Failed, stats.Duration)
	return nil
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
