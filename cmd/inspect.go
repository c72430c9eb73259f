package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	cfgpkg "github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

var (
	inspectNoColor bool

	inspectCmd = &cobra.Command{
		Use:   "inspect <transaction-id>",
		Short: "Print a transaction record",
		Long: `Print a stored transaction record with its full progress log.

Reads the database named in --config, so stop the engine first when it uses the embedded store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadOfflineConfig(config)
			if err != nil {
				return err
			}
			return runInspect(cmd, c, args[0], !inspectNoColor)
		},
	}
)

func runInspect(cmd *cobra.Command, c *cfgpkg.Config, id string, color bool) error {
	_, store, closeAll, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeAll()

	rec, err := store.Get(commandContext(cmd), id)
	if err != nil {
		return err
	}

	printer := pp.New()
	printer.SetOutput(cmd.OutOrStdout())
	printer.SetColoringEnabled(color)
	printer.SetExportedOnly(true)
	if _, err := printer.Println(rec); err != nil {
		return err
	}

	return printProgress(cmd.OutOrStdout(), rec.Progress)
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectNoColor, "no-color", false, "Disable colored output")
	rootCmd.AddCommand(inspectCmd)
}

func printProgress(w io.Writer, entries []model.ProgressEntry) error {
	fmt.Fprintf(w, "\nProgress:\n")
	for _, e := range entries {
		_, err := fmt.Fprintf(w, "  %3d%%  %-24s %s  %s\n", e.Percent, e.Stage, e.Timestamp.UTC().Format(time.RFC3339), e.Message)
		if err != nil {
			return err
		}
	}
	return nil
}
