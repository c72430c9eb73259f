package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the payment engine",
	Long: `Initialize and run the orchestrator, the settlement processor and the HTTP API.

Use --config=path-to-your-config-file. default is=./config/cppay.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunWithConfig(config)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
