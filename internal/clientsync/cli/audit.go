package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commonassist/casehub/internal/clientsync/app"
	"github.com/commonassist/casehub/internal/clientsync/domain"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Policy   string
	Watch    bool
	Interval time.Duration
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Scan every store for consistency violations, optionally repairing them",
		Long: `Run a consistency audit across all registered stores: orphaned
references, duplicate client ids and missing required columns. With a
destructive policy the affected stores are snapshotted first, each repair is
re-verified under the client's lock, and a re-scan reports what remains.

Policies:
  skip            report only, touch nothing (default)
  delete-orphan   delete rows whose reference target is gone
  null-reference  null dangling reference columns where the schema allows

Example:
  clientsync audit
  clientsync audit --policy delete-orphan
  clientsync audit --watch --interval 1h --policy skip`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "skip", "repair policy (skip|delete-orphan|null-reference)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep auditing on an interval until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Hour, "audit interval in watch mode")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	policy, err := domain.ParseRepairPolicy(opts.Policy)
	if err != nil {
		return err
	}

	cfg := app.LoadConfig()
	cfg.AuditPolicy = opts.Policy
	if opts.Watch {
		cfg.AuditInterval = opts.Interval
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	if opts.Watch {
		// Daemon loop owns the connections and closes them on shutdown.
		return application.Run()
	}
	defer func() { _ = application.Close() }()

	report, err := application.Audit().Run(cmd.Context(), policy)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := formatter.AuditReport(report); err != nil {
		return err
	}
	if report.ViolationsRemaining > 0 {
		return fmt.Errorf("%d violations remaining", report.ViolationsRemaining)
	}
	return nil
}
