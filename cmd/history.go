package cmd

import (
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded backup runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := newRunContext(cmd)
		if err != nil {
			return err
		}
		defer rc.Close()

		ctx, stop := signalContext()
		defer stop()
		return rc.ShowHistory(ctx, historyLimit, historyAll)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "show runs of every database")
	rootCmd.AddCommand(historyCmd)
}
