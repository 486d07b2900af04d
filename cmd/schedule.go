package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on a cron schedule until interrupted",
	Example: `  # Nightly at 02:30, metrics on :9090
  db-backup-utility schedule --db ecom_db --cron "30 2 * * *" --listen :9090 --keep 14`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := newRunContext(cmd)
		if err != nil {
			return err
		}
		defer rc.Close()

		spec := rc.Config.Backup.Schedule
		if spec == "" {
			return fmt.Errorf("a schedule is required: pass --cron or set backup.schedule")
		}

		ctx, stop := signalContext()
		defer stop()
		return rc.Schedule(ctx, spec)
	},
}

func init() {
	scheduleCmd.Flags().String("cron", "", "cron expression or descriptor such as @daily")
	scheduleCmd.Flags().String("listen", ":9090", "address serving /metrics and /health (empty disables)")
	rootCmd.AddCommand(scheduleCmd)
}
