package cli

import (
	"github.com/spf13/cobra"

	"github.com/commonassist/casehub/internal/clientsync/app"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduled auditor until interrupted",
		Long: `Run clientsync as a long-lived process: the consistency auditor on its
configured interval (CLIENTSYNC_AUDIT_INTERVAL, CLIENTSYNC_AUDIT_POLICY) and,
when CLIENTSYNC_METRICS_ADDR is set, a Prometheus /metrics listener.
Shuts down cleanly on SIGINT/SIGTERM, waiting for any in-progress audit.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(app.LoadConfig())
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
}
