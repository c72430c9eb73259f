package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	config  = "./config/cppay.yaml"
	rootCmd = &cobra.Command{
		Use:   "cppay",
		Short: "cppay crypto to fiat payment engine",
		Long: `cppay turns smart account payments into bank transfers and bill payments.

Run the engine with "cppay run", or use the maintenance commands against its database.
`,
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", config, "Path to config file")
}
